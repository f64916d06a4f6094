package likes

import (
	"context"
	"fmt"
	"testing"

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

func seedPost(t *testing.T, st store.Client, postID string, likeCount int) {
	t.Helper()
	err := st.WriteAt(context.Background(), "posts/"+postID, map[string]any{
		"title":     "Seed",
		"content":   "seed",
		"likeCount": float64(likeCount),
	})
	if err != nil {
		t.Fatalf("seed post failed: %v", err)
	}
}

func likeCount(t *testing.T, st store.Client, postID string) int64 {
	t.Helper()
	value, err := st.Read(context.Background(), "posts/"+postID+"/likeCount")
	if err != nil {
		t.Fatalf("read likeCount failed: %v", err)
	}
	n, _ := value.(float64)
	return int64(n)
}

func TestToggleLikeThenUnlike(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := context.Background()
	seedPost(t, st, "p1", 0)

	result, err := svc.Toggle(ctx, "p1", "u1")
	if err != nil {
		t.Fatalf("first toggle failed: %v", err)
	}
	if !result.Committed || !result.Liked || result.Delta != 1 {
		t.Errorf("unexpected first toggle result: %+v", result)
	}
	if n := likeCount(t, st, "p1"); n != 1 {
		t.Errorf("expected count 1 after like, got %d", n)
	}

	liked, err := svc.Liked(ctx, "p1", "u1")
	if err != nil {
		t.Fatalf("Liked failed: %v", err)
	}
	if !liked {
		t.Error("expected edge to exist after like")
	}

	result, err = svc.Toggle(ctx, "p1", "u1")
	if err != nil {
		t.Fatalf("second toggle failed: %v", err)
	}
	if !result.Committed || result.Liked || result.Delta != -1 {
		t.Errorf("unexpected second toggle result: %+v", result)
	}
	if n := likeCount(t, st, "p1"); n != 0 {
		t.Errorf("expected count back to 0 after unlike, got %d", n)
	}

	liked, err = svc.Liked(ctx, "p1", "u1")
	if err != nil {
		t.Fatalf("Liked failed: %v", err)
	}
	if liked {
		t.Error("expected edge removed after unlike")
	}
}

func TestToggleDistinctUsersEachCountOnce(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := context.Background()
	seedPost(t, st, "p1", 0)

	const users = 5
	for i := 0; i < users; i++ {
		result, err := svc.Toggle(ctx, "p1", fmt.Sprintf("u%d", i))
		if err != nil {
			t.Fatalf("toggle u%d failed: %v", i, err)
		}
		if !result.Liked {
			t.Errorf("expected u%d to land a like", i)
		}
	}

	if n := likeCount(t, st, "p1"); n != users {
		t.Errorf("expected count %d, got %d", users, n)
	}

	// One user flips back, the other edges are untouched.
	if _, err := svc.Toggle(ctx, "p1", "u0"); err != nil {
		t.Fatalf("unlike u0 failed: %v", err)
	}
	if n := likeCount(t, st, "p1"); n != users-1 {
		t.Errorf("expected count %d, got %d", users-1, n)
	}
	liked, err := svc.Liked(ctx, "p1", "u1")
	if err != nil {
		t.Fatalf("Liked failed: %v", err)
	}
	if !liked {
		t.Error("expected u1 edge to survive u0's unlike")
	}
}

func TestToggleCounterNeverNegative(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := context.Background()
	seedPost(t, st, "p1", 0)

	// Edge exists but the counter is already at zero, as after a
	// partial earlier failure. The unlike clamps instead of going
	// negative.
	if err := st.WriteAt(ctx, "likes/p1/u1", true); err != nil {
		t.Fatalf("seed edge failed: %v", err)
	}

	result, err := svc.Toggle(ctx, "p1", "u1")
	if err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if result.Liked || result.Delta != -1 {
		t.Errorf("unexpected result: %+v", result)
	}
	if n := likeCount(t, st, "p1"); n != 0 {
		t.Errorf("expected clamped count 0, got %d", n)
	}
}

func TestToggleMissingPostWritesNothing(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := context.Background()
	seedPost(t, st, "p1", 0)

	_, err := svc.Toggle(ctx, "ghost", "u1")
	if err != ErrPostNotFound {
		t.Fatalf("expected ErrPostNotFound, got %v", err)
	}

	// Neither a likeCount fragment under posts/ nor an edge may
	// appear; the feed must keep exactly the seeded post.
	value, err := st.Read(ctx, "posts")
	if err != nil {
		t.Fatalf("read posts failed: %v", err)
	}
	tree, ok := value.(map[string]any)
	if !ok || len(tree) != 1 {
		t.Fatalf("expected feed with only p1, got %v", value)
	}
	if _, ok := tree["ghost"]; ok {
		t.Error("phantom entry appeared in the feed")
	}

	value, err = st.Read(ctx, "likes/ghost")
	if err != nil {
		t.Fatalf("read edges failed: %v", err)
	}
	if value != nil {
		t.Errorf("expected no edge writes, got %v", value)
	}
}

func TestToggleRequiresAuth(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := context.Background()
	seedPost(t, st, "p1", 0)

	_, err := svc.Toggle(ctx, "p1", "")
	if err != ErrAuthRequired {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}

	if n := likeCount(t, st, "p1"); n != 0 {
		t.Errorf("expected no counter change, got %d", n)
	}
	value, err := st.Read(ctx, "likes/p1")
	if err != nil {
		t.Fatalf("read edges failed: %v", err)
	}
	if value != nil {
		t.Errorf("expected no edge writes, got %v", value)
	}
}

func TestLikedUnauthenticated(t *testing.T) {
	svc, _ := setupTestService(t)

	liked, err := svc.Liked(context.Background(), "p1", "")
	if err != nil {
		t.Fatalf("Liked failed: %v", err)
	}
	if liked {
		t.Error("expected false for unauthenticated caller")
	}
}
