// Package comments appends and reads ordered comment threads per
// post. Author identity is captured at write time and never
// re-resolved.
package comments

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"verse/api/internal/store"
)

// ErrAuthRequired is returned when an unauthenticated caller attempts
// to comment. No store write happens.
var ErrAuthRequired = errors.New("sign in required to comment")

// Comment is a normalized thread entry.
type Comment struct {
	ID         string `json:"id"`
	AuthorID   string `json:"authorId"`
	AuthorName string `json:"authorName"`
	Text       string `json:"text"`
	CreatedAt  int64  `json:"createdAt"`
}

// Service appends comments and exposes the normalized read path. The
// live subscription is the sole read path; Add never waits for its
// write to appear anywhere.
type Service struct {
	store store.Client
	now   func() int64
}

func NewService(st store.Client) *Service {
	return &Service{store: st, now: func() int64 { return time.Now().UnixMilli() }}
}

func threadPath(postID string) string {
	return "comments/" + postID
}

// Add appends a comment with a store-assigned id and the current
// timestamp. Empty or whitespace-only text is a no-op with no store
// write; the returned id is empty in that case.
func (s *Service) Add(ctx context.Context, postID, authorID, authorName, text string) (string, error) {
	if authorID == "" {
		return "", ErrAuthRequired
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", nil
	}

	id, err := s.store.WriteNew(ctx, threadPath(postID), map[string]any{
		"authorId":   authorID,
		"authorName": authorName,
		"text":       trimmed,
		"createdAt":  s.now(),
	})
	if err != nil {
		return "", fmt.Errorf("add comment to %s: %w", postID, err)
	}
	return id, nil
}

// Normalize converts a raw comment value into a well-formed record.
// Malformed fields default to "", "Unknown", "" and 0.
func Normalize(id string, raw any) Comment {
	source, _ := raw.(map[string]any)

	authorName, _ := source["authorName"].(string)
	if authorName == "" {
		authorName = "Unknown"
	}
	authorID, _ := source["authorId"].(string)
	text, _ := source["text"].(string)

	var createdAt int64
	if n, ok := source["createdAt"].(float64); ok && !math.IsNaN(n) && !math.IsInf(n, 0) {
		createdAt = int64(n)
	}

	return Comment{
		ID:         id,
		AuthorID:   authorID,
		AuthorName: authorName,
		Text:       text,
		CreatedAt:  createdAt,
	}
}

// NormalizeThread converts a raw thread snapshot into comments sorted
// ascending by createdAt.
func NormalizeThread(data any) []Comment {
	source, ok := data.(map[string]any)
	if !ok || len(source) == 0 {
		return []Comment{}
	}

	ids := make([]string, 0, len(source))
	for id := range source {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := make([]Comment, 0, len(ids))
	for _, id := range ids {
		result = append(result, Normalize(id, source[id]))
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt < result[j].CreatedAt
	})
	return result
}

// List reads the current thread once. Prefer Watch for anything
// long-lived.
func (s *Service) List(ctx context.Context, postID string) ([]Comment, error) {
	value, err := s.store.Read(ctx, threadPath(postID))
	if err != nil {
		return nil, fmt.Errorf("read comments for %s: %w", postID, err)
	}
	return NormalizeThread(value), nil
}

// Watch subscribes to a post's thread, delivering the full normalized
// list on every change. The returned func cancels the subscription.
func (s *Service) Watch(ctx context.Context, postID string, fn func([]Comment)) (func(), error) {
	return s.store.Subscribe(ctx, threadPath(postID), func(value any) {
		fn(NormalizeThread(value))
	})
}
