package comments

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"verse/api/internal/store"
)

func setupTestService(t *testing.T) (*Service, store.Client) {
	s := miniredis.RunT(t)
	st, err := store.NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewService(st), st
}

func TestAddAndList(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	id, err := svc.Add(ctx, "p1", "u1", "Ada", "  First!  ")
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty comment id")
	}

	thread, err := svc.List(ctx, "p1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(thread) != 1 {
		t.Fatalf("expected 1 comment, got %d", len(thread))
	}
	comment := thread[0]
	if comment.ID != id {
		t.Errorf("expected id %s, got %s", id, comment.ID)
	}
	if comment.Text != "First!" {
		t.Errorf("expected trimmed text, got %q", comment.Text)
	}
	if comment.AuthorID != "u1" || comment.AuthorName != "Ada" {
		t.Errorf("unexpected author: %s/%s", comment.AuthorID, comment.AuthorName)
	}
	if comment.CreatedAt == 0 {
		t.Error("expected non-zero createdAt")
	}
}

func TestAddEmptyTextIsNoOp(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := context.Background()

	for _, text := range []string{"", "   ", "\n\t"} {
		id, err := svc.Add(ctx, "p1", "u1", "Ada", text)
		if err != nil {
			t.Fatalf("Add(%q) failed: %v", text, err)
		}
		if id != "" {
			t.Errorf("Add(%q) returned id %q, want empty", text, id)
		}
	}

	value, err := st.Read(ctx, "comments/p1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if value != nil {
		t.Errorf("expected no store writes, got %v", value)
	}
}

func TestAddRequiresAuth(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, "p1", "", "Ghost", "hello")
	if err != ErrAuthRequired {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}

	value, err := st.Read(ctx, "comments/p1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if value != nil {
		t.Errorf("expected no store writes, got %v", value)
	}
}

func TestThreadOrderedByTimestamp(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	// Inject a clock that runs backwards so insertion order and
	// timestamp order disagree.
	stamps := []int64{300, 100, 200}
	svc.now = func() int64 {
		next := stamps[0]
		stamps = stamps[1:]
		return next
	}

	for _, text := range []string{"third", "first", "second"} {
		if _, err := svc.Add(ctx, "p1", "u1", "Ada", text); err != nil {
			t.Fatalf("Add %q failed: %v", text, err)
		}
	}

	thread, err := svc.List(ctx, "p1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(thread) != 3 {
		t.Fatalf("expected 3 comments, got %d", len(thread))
	}
	for i, want := range []string{"first", "second", "third"} {
		if thread[i].Text != want {
			t.Errorf("position %d: got %q, want %q", i, thread[i].Text, want)
		}
	}
}

func TestNormalizeDefaults(t *testing.T) {
	comment := Normalize("c1", nil)
	if comment.ID != "c1" {
		t.Errorf("expected id c1, got %q", comment.ID)
	}
	if comment.AuthorName != "Unknown" {
		t.Errorf("expected Unknown fallback, got %q", comment.AuthorName)
	}
	if comment.Text != "" || comment.AuthorID != "" || comment.CreatedAt != 0 {
		t.Errorf("expected zero values, got %+v", comment)
	}
}

func TestNormalizeThreadEmpty(t *testing.T) {
	if thread := NormalizeThread(nil); len(thread) != 0 {
		t.Errorf("expected empty thread, got %v", thread)
	}
}

func TestWatchDeliversChanges(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	updates := make(chan []Comment, 4)
	cancel, err := svc.Watch(ctx, "p1", func(thread []Comment) { updates <- thread })
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer cancel()

	// Initial empty snapshot.
	thread := <-updates
	if len(thread) != 0 {
		t.Errorf("expected empty initial thread, got %v", thread)
	}

	if _, err := svc.Add(ctx, "p1", "u1", "Ada", "hi"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	select {
	case thread := <-updates:
		if len(thread) != 1 || thread[0].Text != "hi" {
			t.Errorf("unexpected thread: %v", thread)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for thread update")
	}
}
