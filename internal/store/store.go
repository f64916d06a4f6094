// Package store provides the shared real-time document store client.
//
// Documents live under slash-separated paths ("posts/<id>",
// "likes/<postId>/<userId>"). The store has no schema enforcement:
// readers receive whatever JSON value was last written at a path and
// must normalize it themselves.
package store

import "context"

// UpdateFunc receives the current server value for a path at commit
// time and returns the replacement value. Returning commit=false
// aborts the update without writing. A nil next value deletes the
// path. The function may be invoked more than once on contention.
type UpdateFunc func(current any) (next any, commit bool)

// UpdateResult reports the outcome of an AtomicUpdate.
type UpdateResult struct {
	Committed bool
	Value     any
}

// Client is the injected store handle. All coordination between
// components goes through these primitives; there is no backend
// process beyond the store itself.
type Client interface {
	// Read returns the current value at path: the document stored
	// there, a field inside an enclosing document, or an assembled
	// map of child documents. Missing paths yield nil, not an error.
	Read(ctx context.Context, path string) (any, error)

	// Subscribe registers fn for the path. fn is called once with the
	// current snapshot and again after every write that touches the
	// path or anything under it. Each snapshot is the complete current
	// state for the path, not a delta. The returned func cancels the
	// subscription; owners must call it on teardown.
	Subscribe(ctx context.Context, path string, fn func(value any)) (func(), error)

	// WriteNew appends a child with a store-assigned id under path and
	// returns the id.
	WriteNew(ctx context.Context, path string, value any) (string, error)

	// WriteAt replaces the value at path.
	WriteAt(ctx context.Context, path string, value any) error

	// AtomicUpdate applies fn to the path under optimistic conflict
	// retry. The result reports whether the update committed and the
	// resulting value. Contention after retries exhausted is reported
	// as Committed=false with a nil error.
	AtomicUpdate(ctx context.Context, path string, fn UpdateFunc) (UpdateResult, error)
}
