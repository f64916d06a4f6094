package posts

import (
	"context"
	"testing"
	"time"
)

func TestFeedInitialSnapshot(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if err := st.WriteAt(ctx, "posts/p1", map[string]any{"title": "One", "createdAt": float64(100)}); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if err := st.WriteAt(ctx, "posts/p2", map[string]any{"title": "Two", "createdAt": float64(200)}); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}

	feed, err := NewFeed(ctx, st)
	if err != nil {
		t.Fatalf("NewFeed failed: %v", err)
	}
	defer feed.Close()

	list := feed.Posts()
	if len(list) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(list))
	}
	if list[0].ID != "p2" || list[1].ID != "p1" {
		t.Errorf("expected newest first [p2 p1], got [%s %s]", list[0].ID, list[1].ID)
	}
}

func TestFeedSeesNewPosts(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	feed, err := NewFeed(ctx, st)
	if err != nil {
		t.Fatalf("NewFeed failed: %v", err)
	}
	defer feed.Close()

	updates := make(chan []Post, 4)
	stop := feed.Listen(func(list []Post) { updates <- list })
	defer stop()

	if err := st.WriteAt(ctx, "posts/p1", map[string]any{"title": "Fresh", "createdAt": float64(100)}); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}

	select {
	case list := <-updates:
		if len(list) != 1 || list[0].Title != "Fresh" {
			t.Errorf("unexpected snapshot: %v", list)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for feed update")
	}

	list := feed.Posts()
	if len(list) != 1 || list[0].ID != "p1" {
		t.Errorf("expected cached snapshot [p1], got %v", list)
	}
}

func TestFeedListenerRemoval(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	feed, err := NewFeed(ctx, st)
	if err != nil {
		t.Fatalf("NewFeed failed: %v", err)
	}
	defer feed.Close()

	updates := make(chan []Post, 4)
	stop := feed.Listen(func(list []Post) { updates <- list })
	stop()

	if err := st.WriteAt(ctx, "posts/p1", map[string]any{"title": "One"}); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}

	select {
	case <-updates:
		t.Error("expected no update after listener removal")
	case <-time.After(200 * time.Millisecond):
	}
}
