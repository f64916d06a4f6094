// Package posts holds the post domain record and the normalization
// boundary between raw store values and the rest of the system.
// Nothing outside this package reads a raw post document directly.
package posts

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

// UnknownWriter is the display fallback for posts with no usable
// author name.
const UnknownWriter = "Unknown writer"

// Post is the validated post record. Every field honors the
// normalization invariants: keywords is always a lowercase token set
// and LikeCount is never negative.
type Post struct {
	ID         string   `json:"id"`
	AuthorID   string   `json:"authorId"`
	AuthorName string   `json:"authorName"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	CreatedAt  int64    `json:"createdAt"`
	Keywords   []string `json:"keywords"`
	LikeCount  int64    `json:"likeCount"`
}

// Tokenize turns free text into a deduplicated set of lowercase
// [a-z0-9]+ tokens, preserving first-seen order. Pure and total.
func Tokenize(value string) []string {
	lowered := strings.ToLower(value)
	tokens := strings.FieldsFunc(lowered, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})

	seen := make(map[string]struct{}, len(tokens))
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		result = append(result, token)
	}
	return result
}

func safeString(value any) string {
	s, _ := value.(string)
	return s
}

func safeNumber(value any) float64 {
	switch n := value.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// keywordList accepts a stored keywords value only when every element
// is a string; anything else fails so the caller recomputes.
func keywordList(value any) ([]string, bool) {
	switch list := value.(type) {
	case []string:
		result := make([]string, len(list))
		for i, keyword := range list {
			result[i] = strings.ToLower(keyword)
		}
		return result, true
	case []any:
		result := make([]string, len(list))
		for i, element := range list {
			keyword, ok := element.(string)
			if !ok {
				return nil, false
			}
			result[i] = strings.ToLower(keyword)
		}
		return result, true
	default:
		return nil, false
	}
}

// Normalize converts a raw store value into a well-formed Post. Raw
// data may omit fields, use legacy names (userName, userId) or wrong
// types; Normalize never fails and backfills everything, including
// recomputing keywords for documents that predate tokenized search.
func Normalize(id string, raw any) Post {
	source, _ := raw.(map[string]any)

	authorName := safeString(source["authorName"])
	if authorName == "" {
		authorName = safeString(source["userName"])
	}
	if authorName == "" {
		authorName = UnknownWriter
	}

	authorID := safeString(source["authorId"])
	if authorID == "" {
		authorID = safeString(source["userId"])
	}

	title := safeString(source["title"])
	if title == "" {
		title = "Untitled"
	}
	content := safeString(source["content"])

	keywords, ok := keywordList(source["keywords"])
	if !ok {
		keywords = Tokenize(title + " " + content)
	}

	return Post{
		ID:         id,
		AuthorID:   authorID,
		AuthorName: authorName,
		Title:      title,
		Content:    content,
		CreatedAt:  int64(safeNumber(source["createdAt"])),
		Keywords:   keywords,
		LikeCount:  int64(math.Max(0, safeNumber(source["likeCount"]))),
	}
}

// NormalizeMap converts a raw posts collection snapshot into records.
// Entries are visited in sorted-key order so repeated passes over the
// same snapshot produce the same slice.
func NormalizeMap(data any) []Post {
	source, ok := data.(map[string]any)
	if !ok || len(source) == 0 {
		return []Post{}
	}

	ids := make([]string, 0, len(source))
	for id := range source {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := make([]Post, 0, len(ids))
	for _, id := range ids {
		result = append(result, Normalize(id, source[id]))
	}
	return result
}

// SortNewestFirst returns a copy sorted by CreatedAt descending. Ties
// keep their incoming order.
func SortNewestFirst(list []Post) []Post {
	sorted := make([]Post, len(list))
	copy(sorted, list)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt > sorted[j].CreatedAt
	})
	return sorted
}

// Author identifies the publishing user as captured at write time.
type Author struct {
	ID   string
	Name string
}

// ErrEmptyPost rejects publishes with a blank title or content before
// any store write.
var ErrEmptyPost = errors.New("title and content are required")

// Publish writes a new post document with precomputed keywords and a
// zero like counter, returning the store-assigned id.
func Publish(ctx context.Context, st store.Client, author Author, title, content string) (string, error) {
	title = strings.TrimSpace(title)
	content = strings.TrimSpace(content)
	if title == "" || content == "" {
		return "", ErrEmptyPost
	}

	id, err := st.WriteNew(ctx, "posts", map[string]any{
		"authorId":   author.ID,
		"authorName": author.Name,
		"title":      title,
		"content":    content,
		"createdAt":  time.Now().UnixMilli(),
		"keywords":   Tokenize(title + " " + content),
		"likeCount":  0,
	})
	if err != nil {
		return "", fmt.Errorf("publish post: %w", err)
	}
	return id, nil
}
