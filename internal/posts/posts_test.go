package posts

import (
	"context"
	"math"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"verse/api/internal/store"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"punctuation and digits", "Hello, World! 2024", []string{"hello", "world", "2024"}},
		{"duplicates keep first position", "Go go GO gopher", []string{"go", "gopher"}},
		{"empty input", "", []string{}},
		{"only separators", "--- ... !!!", []string{}},
		{"mixed case", "Love STORY love", []string{"love", "story"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeDefaults(t *testing.T) {
	post := Normalize("p1", nil)

	if post.ID != "p1" {
		t.Errorf("expected id p1, got %q", post.ID)
	}
	if post.AuthorName != UnknownWriter {
		t.Errorf("expected fallback author name, got %q", post.AuthorName)
	}
	if post.AuthorID != "" {
		t.Errorf("expected empty author id, got %q", post.AuthorID)
	}
	if post.Title != "Untitled" {
		t.Errorf("expected fallback title, got %q", post.Title)
	}
	if post.CreatedAt != 0 {
		t.Errorf("expected zero createdAt, got %d", post.CreatedAt)
	}
	if post.LikeCount != 0 {
		t.Errorf("expected zero likeCount, got %d", post.LikeCount)
	}
}

func TestNormalizeLegacyFieldNames(t *testing.T) {
	post := Normalize("p1", map[string]any{
		"userName": "Ada",
		"userId":   "u-legacy",
		"title":    "Old Post",
		"content":  "body",
	})

	if post.AuthorName != "Ada" {
		t.Errorf("expected legacy userName fallback, got %q", post.AuthorName)
	}
	if post.AuthorID != "u-legacy" {
		t.Errorf("expected legacy userId fallback, got %q", post.AuthorID)
	}
}

func TestNormalizePrefersCurrentFieldNames(t *testing.T) {
	post := Normalize("p1", map[string]any{
		"authorName": "Grace",
		"userName":   "Ada",
		"authorId":   "u-new",
		"userId":     "u-old",
	})

	if post.AuthorName != "Grace" {
		t.Errorf("expected authorName to win, got %q", post.AuthorName)
	}
	if post.AuthorID != "u-new" {
		t.Errorf("expected authorId to win, got %q", post.AuthorID)
	}
}

func TestNormalizeKeywords(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want []string
	}{
		{
			"valid keywords kept lowercased",
			map[string]any{"title": "X", "content": "Y", "keywords": []any{"Go", "redis"}},
			[]string{"go", "redis"},
		},
		{
			"non-string element forces recompute",
			map[string]any{"title": "Love Story", "content": "a tale", "keywords": []any{"go", float64(7)}},
			[]string{"love", "story", "a", "tale"},
		},
		{
			"missing keywords recomputed from title and content",
			map[string]any{"title": "Hello World", "content": "again hello"},
			[]string{"hello", "world", "again"},
		},
		{
			"scalar keywords recomputed",
			map[string]any{"title": "One", "content": "two", "keywords": "one,two"},
			[]string{"one", "two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			post := Normalize("p1", tt.raw)
			if !reflect.DeepEqual(post.Keywords, tt.want) {
				t.Errorf("keywords = %v, want %v", post.Keywords, tt.want)
			}
		})
	}
}

func TestNormalizeLikeCount(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want int64
	}{
		{"positive", float64(5), 5},
		{"negative clamped", float64(-3), 0},
		{"missing", nil, 0},
		{"non-numeric", "many", 0},
		{"nan", math.NaN(), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			post := Normalize("p1", map[string]any{"likeCount": tt.raw})
			if post.LikeCount != tt.want {
				t.Errorf("likeCount = %d, want %d", post.LikeCount, tt.want)
			}
		})
	}
}

func TestNormalizeMapAndSort(t *testing.T) {
	snapshot := map[string]any{
		"a": map[string]any{"title": "Older", "createdAt": float64(100)},
		"b": map[string]any{"title": "Newer", "createdAt": float64(200)},
	}

	list := SortNewestFirst(NormalizeMap(snapshot))
	if len(list) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(list))
	}
	if list[0].ID != "b" || list[1].ID != "a" {
		t.Errorf("expected newest first [b a], got [%s %s]", list[0].ID, list[1].ID)
	}
}

func TestNormalizeMapEmpty(t *testing.T) {
	if list := NormalizeMap(nil); len(list) != 0 {
		t.Errorf("expected empty slice for nil snapshot, got %v", list)
	}
	if list := NormalizeMap("garbage"); len(list) != 0 {
		t.Errorf("expected empty slice for scalar snapshot, got %v", list)
	}
}

func TestSortNewestFirstStableTies(t *testing.T) {
	list := []Post{
		{ID: "x", CreatedAt: 100},
		{ID: "y", CreatedAt: 100},
		{ID: "z", CreatedAt: 300},
	}

	sorted := SortNewestFirst(list)
	if sorted[0].ID != "z" {
		t.Errorf("expected z first, got %s", sorted[0].ID)
	}
	if sorted[1].ID != "x" || sorted[2].ID != "y" {
		t.Errorf("expected tied posts to keep order [x y], got [%s %s]", sorted[1].ID, sorted[2].ID)
	}
	if list[0].ID != "x" {
		t.Error("expected input slice to be left untouched")
	}
}

func setupTestStore(t *testing.T) store.Client {
	s := miniredis.RunT(t)
	st, err := store.NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestPublish(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	id, err := Publish(ctx, st, Author{ID: "u1", Name: "Ada"}, "  Hello World  ", "First light.")
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	raw, err := st.Read(ctx, "posts/"+id)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	post := Normalize(id, raw)

	if post.Title != "Hello World" {
		t.Errorf("expected trimmed title, got %q", post.Title)
	}
	if post.AuthorID != "u1" || post.AuthorName != "Ada" {
		t.Errorf("unexpected author: %s/%s", post.AuthorID, post.AuthorName)
	}
	if post.LikeCount != 0 {
		t.Errorf("expected zero likeCount, got %d", post.LikeCount)
	}
	if post.CreatedAt == 0 {
		t.Error("expected non-zero createdAt")
	}
	want := Tokenize("Hello World First light.")
	if !reflect.DeepEqual(post.Keywords, want) {
		t.Errorf("keywords = %v, want %v", post.Keywords, want)
	}
}

func TestPublishRejectsBlankInput(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	for _, tt := range []struct{ title, content string }{
		{"", "content"},
		{"title", ""},
		{"   ", "content"},
		{"title", "\n\t"},
	} {
		if _, err := Publish(ctx, st, Author{}, tt.title, tt.content); err != ErrEmptyPost {
			t.Errorf("Publish(%q, %q) error = %v, want ErrEmptyPost", tt.title, tt.content, err)
		}
	}

	raw, err := st.Read(ctx, "posts")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if raw != nil {
		t.Errorf("expected no writes for rejected publishes, got %v", raw)
	}
}
