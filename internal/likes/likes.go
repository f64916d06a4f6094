// Package likes keeps per-user like edges and the aggregate counter
// on each post consistent under concurrent toggles.
package likes

import (
	"context"
	"errors"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"

	"verse/api/internal/store"
)

// ErrAuthRequired is returned when an unauthenticated caller attempts
// a toggle. No store mutation happens in that case; the caller should
// direct the user to sign in.
var ErrAuthRequired = errors.New("sign in required to like posts")

// ErrPostNotFound is returned when the toggled post has no document.
// Without this check a toggle would write a standalone likeCount key
// under posts/, which the feed would assemble into a phantom entry.
var ErrPostNotFound = errors.New("post not found")

// Result reports the outcome of a toggle.
type Result struct {
	// Committed is false when the edge flip lost its store-level
	// conflict retries; the whole operation is then a no-op.
	Committed bool
	// Liked is the resulting edge state after a committed flip.
	Liked bool
	// Delta is the contribution applied to the aggregate counter,
	// +1 or -1. Callers may apply the same delta to a local display
	// counter pending the authoritative live update.
	Delta int64
}

// Service toggles like edges through the store's atomic conditional
// update primitive.
type Service struct {
	store store.Client
}

func NewService(st store.Client) *Service {
	return &Service{store: st}
}

func edgePath(postID, userID string) string {
	return "likes/" + postID + "/" + userID
}

// Toggle flips the (postID, userID) like edge and reconciles the
// post's aggregate counter. The flip decides the delta from the
// actual true/false transition at commit time, never from a cached
// count, so concurrent toggles by distinct users each land exactly
// once. A crash between the two updates leaves the edge correct and
// the counter transiently stale; the next successful toggle heals it.
func (s *Service) Toggle(ctx context.Context, postID, userID string) (Result, error) {
	if userID == "" {
		return Result{}, ErrAuthRequired
	}

	post, err := s.store.Read(ctx, "posts/"+postID)
	if err != nil {
		return Result{}, fmt.Errorf("read post %s: %w", postID, err)
	}
	if post == nil {
		return Result{}, ErrPostNotFound
	}

	flip, err := s.store.AtomicUpdate(ctx, edgePath(postID, userID), func(current any) (any, bool) {
		if current == true {
			return nil, true
		}
		return true, true
	})
	if err != nil {
		return Result{}, fmt.Errorf("toggle like %s: %w", postID, err)
	}
	if !flip.Committed {
		return Result{}, nil
	}

	liked := flip.Value == true
	var delta int64 = 1
	if !liked {
		delta = -1
	}

	count, err := s.store.AtomicUpdate(ctx, "posts/"+postID+"/likeCount", func(current any) (any, bool) {
		n, _ := current.(float64)
		return int64(math.Max(0, n+float64(delta))), true
	})
	if err != nil {
		return Result{}, fmt.Errorf("adjust like count %s: %w", postID, err)
	}
	if !count.Committed {
		// Edge is correct, counter is stale until the next toggle.
		log.Warnf("likes: counter update for %s did not commit", postID)
	}

	return Result{Committed: true, Liked: liked, Delta: delta}, nil
}

// Liked reports the current edge state.
func (s *Service) Liked(ctx context.Context, postID, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	value, err := s.store.Read(ctx, edgePath(postID, userID))
	if err != nil {
		return false, fmt.Errorf("read like %s: %w", postID, err)
	}
	return value == true, nil
}

// Watch subscribes to the caller's own edge, firing on every change.
// The returned func cancels the subscription.
func (s *Service) Watch(ctx context.Context, postID, userID string, fn func(liked bool)) (func(), error) {
	return s.store.Subscribe(ctx, edgePath(postID, userID), func(value any) {
		fn(value == true)
	})
}
