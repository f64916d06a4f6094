package posts

import (
	"context"
	"fmt"
	"sync"

	"verse/api/internal/store"
)

// Feed maintains the live, normalized, newest-first post list. It
// owns a single store subscription and replaces its snapshot
// wholesale on every change notification.
type Feed struct {
	mu        sync.Mutex
	posts     []Post
	listeners map[int]func([]Post)
	nextID    int
	cancel    func()
}

// NewFeed subscribes to the post collection. The initial snapshot is
// available from Posts before NewFeed returns.
func NewFeed(ctx context.Context, st store.Client) (*Feed, error) {
	f := &Feed{listeners: make(map[int]func([]Post))}

	cancel, err := st.Subscribe(ctx, "posts", f.onSnapshot)
	if err != nil {
		return nil, fmt.Errorf("subscribe posts: %w", err)
	}
	f.cancel = cancel
	return f, nil
}

func (f *Feed) onSnapshot(value any) {
	sorted := SortNewestFirst(NormalizeMap(value))

	f.mu.Lock()
	f.posts = sorted
	listeners := make([]func([]Post), 0, len(f.listeners))
	for _, fn := range f.listeners {
		listeners = append(listeners, fn)
	}
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(sorted)
	}
}

// Posts returns the current normalized list, newest first.
func (f *Feed) Posts() []Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot := make([]Post, len(f.posts))
	copy(snapshot, f.posts)
	return snapshot
}

// Listen registers fn for every subsequent snapshot. The returned
// func removes the listener; callers must invoke it on teardown.
func (f *Feed) Listen(fn func([]Post)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

// Close cancels the store subscription.
func (f *Feed) Close() {
	if f.cancel != nil {
		f.cancel()
	}
}
