package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"verse/api/internal/monitoring"
)

const (
	keyPrefix     = "doc:"
	changeChannel = "verse:store:changes"

	// Attempts before an AtomicUpdate gives up and reports an
	// uncommitted result.
	maxTxAttempts = 10
)

// RedisStore implements Client on top of Redis. Each document is a
// JSON value under its path key; change fan-out runs over a single
// pub/sub channel carrying the written path.
type RedisStore struct {
	client *redis.Client
	pubsub *redis.PubSub

	mu      sync.Mutex
	subs    map[int]*subscription
	nextSub int
	done    chan struct{}
}

type subscription struct {
	path string
	fn   func(value any)
}

// NewRedisStore connects to Redis and starts the change dispatcher.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	s := &RedisStore{
		client: client,
		subs:   make(map[int]*subscription),
		done:   make(chan struct{}),
	}
	s.pubsub = client.Subscribe(context.Background(), changeChannel)
	go s.dispatchLoop()
	return s, nil
}

// Close cancels all subscriptions and closes the connection.
func (s *RedisStore) Close() error {
	close(s.done)
	_ = s.pubsub.Close()
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func key(path string) string {
	return keyPrefix + path
}

// dispatchLoop delivers change notifications to subscribers in the
// order the store observed the writes. Callbacks for every
// subscription run on this single goroutine, so a subscriber never
// sees snapshots out of order for its own path.
func (s *RedisStore) dispatchLoop() {
	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.dispatch(msg.Payload)
		}
	}
}

func (s *RedisStore) dispatch(changedPath string) {
	s.mu.Lock()
	matched := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if pathsRelated(sub.path, changedPath) {
			matched = append(matched, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range matched {
		value, err := s.Read(context.Background(), sub.path)
		if err != nil {
			log.Errorf("store: snapshot read for %s: %v", sub.path, err)
			continue
		}
		sub.fn(value)
	}
}

// pathsRelated reports whether a write at changed affects the
// snapshot at sub: either path is the other or an ancestor of it,
// on segment boundaries.
func pathsRelated(sub, changed string) bool {
	if sub == changed {
		return true
	}
	return strings.HasPrefix(changed, sub+"/") || strings.HasPrefix(sub, changed+"/")
}

func (s *RedisStore) publish(ctx context.Context, path string) {
	if err := s.client.Publish(ctx, changeChannel, path).Err(); err != nil {
		log.Errorf("store: publish change %s: %v", path, err)
	}
}

// Read implements Client.
func (s *RedisStore) Read(ctx context.Context, path string) (any, error) {
	// Exact document.
	raw, err := s.client.Get(ctx, key(path)).Result()
	if err == nil {
		return decodeValue(raw)
	}
	if err != redis.Nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	// Field inside an enclosing document.
	if owner, rest := s.resolveOwner(ctx, path); owner != path {
		raw, err := s.client.Get(ctx, key(owner)).Result()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", owner, err)
		}
		doc, err := decodeValue(raw)
		if err != nil {
			return nil, err
		}
		return navigate(doc, rest), nil
	}

	// Collection of child documents.
	return s.readTree(ctx, path)
}

// readTree assembles every key under path/ into a nested map. An
// empty collection reads as nil, matching an absent path.
func (s *RedisStore) readTree(ctx context.Context, path string) (any, error) {
	var (
		tree   map[string]any
		cursor uint64
	)
	match := key(path) + "/*"
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", path, err)
		}
		for _, k := range keys {
			raw, err := s.client.Get(ctx, k).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", k, err)
			}
			value, err := decodeValue(raw)
			if err != nil {
				return nil, err
			}
			remainder := strings.TrimPrefix(k, key(path)+"/")
			if tree == nil {
				tree = make(map[string]any)
			}
			insertTree(tree, strings.Split(remainder, "/"), value)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if tree == nil {
		return nil, nil
	}
	return tree, nil
}

func insertTree(tree map[string]any, segs []string, value any) {
	if len(segs) == 1 {
		tree[segs[0]] = value
		return
	}
	child, ok := tree[segs[0]].(map[string]any)
	if !ok {
		child = make(map[string]any)
		tree[segs[0]] = child
	}
	insertTree(child, segs[1:], value)
}

// Subscribe implements Client. The initial snapshot fires
// synchronously before Subscribe returns, and before the subscription
// becomes visible to the dispatcher: the dispatch goroutine can only
// deliver after registration, so a concurrent write can never slip a
// newer snapshot in ahead of the initial one.
func (s *RedisStore) Subscribe(ctx context.Context, path string, fn func(value any)) (func(), error) {
	value, err := s.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	fn(value)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = &subscription{path: path, fn: fn}
	s.mu.Unlock()

	return func() { s.removeSub(id) }, nil
}

func (s *RedisStore) removeSub(id int) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

// WriteNew implements Client.
func (s *RedisStore) WriteNew(ctx context.Context, path string, value any) (string, error) {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	if err := s.WriteAt(ctx, path+"/"+id, value); err != nil {
		return "", err
	}
	return id, nil
}

// WriteAt implements Client.
func (s *RedisStore) WriteAt(ctx context.Context, path string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := s.client.Set(ctx, key(path), encoded, 0).Err(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	monitoring.StoreWrites.WithLabelValues("write").Inc()
	s.publish(ctx, path)
	return nil
}

// errUpdateAborted signals an UpdateFunc abort inside a Watch body.
var errUpdateAborted = fmt.Errorf("update aborted")

// AtomicUpdate implements Client. The path's owning document key is
// watched; fn runs against the fresh value on every attempt, so a
// conflicting writer forces a re-read rather than a lost update.
func (s *RedisStore) AtomicUpdate(ctx context.Context, path string, fn UpdateFunc) (UpdateResult, error) {
	owner, fieldSegs := s.resolveOwner(ctx, path)
	ownerKey := key(owner)

	var resulting any
	apply := func(tx *redis.Tx) error {
		var doc any
		raw, err := tx.Get(ctx, ownerKey).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil {
			doc, err = decodeValue(raw)
			if err != nil {
				return err
			}
		}

		current := navigate(doc, fieldSegs)
		next, commit := fn(current)
		if !commit {
			return errUpdateAborted
		}
		resulting = next

		updated := doc
		if len(fieldSegs) == 0 {
			updated = next
		} else {
			updated = setField(doc, fieldSegs, next)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if updated == nil {
				pipe.Del(ctx, ownerKey)
				return nil
			}
			encoded, err := json.Marshal(updated)
			if err != nil {
				return err
			}
			pipe.Set(ctx, ownerKey, encoded, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, apply, ownerKey)
		switch {
		case err == nil:
			monitoring.StoreWrites.WithLabelValues("update").Inc()
			s.publish(ctx, path)
			return UpdateResult{Committed: true, Value: resulting}, nil
		case err == redis.TxFailedErr:
			monitoring.StoreConflicts.Inc()
			continue
		case err == errUpdateAborted:
			return UpdateResult{}, nil
		default:
			return UpdateResult{}, fmt.Errorf("atomic update %s: %w", path, err)
		}
	}

	// Retries exhausted: the caller treats this as a no-op, not an
	// error.
	return UpdateResult{}, nil
}

// resolveOwner finds the deepest existing document key that is the
// path or an ancestor of it. The remaining segments address a field
// inside that document. A path with no existing ancestor owns itself,
// which is how new leaf documents (like edges) come into being.
func (s *RedisStore) resolveOwner(ctx context.Context, path string) (owner string, fieldSegs []string) {
	if s.client.Exists(ctx, key(path)).Val() > 0 {
		return path, nil
	}
	segs := strings.Split(path, "/")
	for i := len(segs) - 1; i > 0; i-- {
		ancestor := strings.Join(segs[:i], "/")
		if s.client.Exists(ctx, key(ancestor)).Val() > 0 {
			return ancestor, segs[i:]
		}
	}
	return path, nil
}

func decodeValue(raw string) (any, error) {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return value, nil
}

// navigate descends field segments into a decoded document. Any
// missing or non-map intermediate yields nil.
func navigate(doc any, segs []string) any {
	current := doc
	for _, seg := range segs {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[seg]
	}
	return current
}

// setField writes value at the field segments inside doc, creating
// intermediate maps as needed. A nil value removes the field.
func setField(doc any, segs []string, value any) any {
	m, ok := doc.(map[string]any)
	if !ok {
		m = make(map[string]any)
	}
	if len(segs) == 1 {
		if value == nil {
			delete(m, segs[0])
		} else {
			m[segs[0]] = value
		}
		return m
	}
	m[segs[0]] = setField(m[segs[0]], segs[1:], value)
	return m
}
