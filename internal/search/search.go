// Package search filters the live post list by title, author and
// keyword tokens, and aggregates matching writers.
package search

import (
	"strings"

	"verse/api/internal/posts"
)

// Writer is a distinct author surfaced by a query.
type Writer struct {
	AuthorID   string `json:"authorId"`
	AuthorName string `json:"authorName"`
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Posts   []posts.Post `json:"posts"`
	Writers []Writer     `json:"writers"`
	Query   string       `json:"query"`
}

// FilterPosts returns the posts matching query. The whole
// trimmed-lowercased query is used for title and author substring
// tests; keyword matching requires every whitespace-separated query
// token to be a substring of at least one post keyword. An empty
// query bypasses filtering entirely.
func FilterPosts(query string, list []posts.Post) []posts.Post {
	normalized := strings.ToLower(strings.TrimSpace(query))
	if normalized == "" {
		return list
	}
	tokens := strings.Fields(normalized)

	matched := make([]posts.Post, 0, len(list))
	for _, post := range list {
		if matches(post, normalized, tokens) {
			matched = append(matched, post)
		}
	}
	return matched
}

func matches(post posts.Post, query string, tokens []string) bool {
	if strings.Contains(strings.ToLower(post.Title), query) {
		return true
	}
	if strings.Contains(strings.ToLower(post.AuthorName), query) {
		return true
	}
	for _, token := range tokens {
		if !anyKeywordContains(post.Keywords, token) {
			return false
		}
	}
	return true
}

func anyKeywordContains(keywords []string, token string) bool {
	for _, keyword := range keywords {
		if strings.Contains(keyword, token) {
			return true
		}
	}
	return false
}

// MatchWriters collects distinct authors whose name contains the
// query, deduplicated by author id (lowercased name when the id is
// absent), preserving first-seen order. An empty query matches
// nobody.
func MatchWriters(query string, list []posts.Post) []Writer {
	normalized := strings.ToLower(strings.TrimSpace(query))
	if normalized == "" {
		return []Writer{}
	}

	seen := make(map[string]struct{})
	writers := make([]Writer, 0)
	for _, post := range list {
		if !strings.Contains(strings.ToLower(post.AuthorName), normalized) {
			continue
		}
		key := post.AuthorID
		if key == "" {
			key = strings.ToLower(post.AuthorName)
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		writers = append(writers, Writer{AuthorID: post.AuthorID, AuthorName: post.AuthorName})
	}
	return writers
}
