// Package cache is the client-side record store: a keyed, memory-resident
// cache with per-key staleness, pattern invalidation and de-duplicated loads.
//
// Writes are last-writer-wins by call order. The store never compares
// timestamps; callers that might hold an older value must not Put it.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Key identifies an entry. String must be unique per key value; it is used to
// de-duplicate concurrent loads.
type Key interface {
	comparable
	String() string
}

// Entry is a copy of a cached value plus its bookkeeping.
type Entry[V any] struct {
	Value     V
	FetchedAt time.Time
	Stale     bool
	// Revision counts authoritative writes (Put and completed loads). Optimistic
	// merges and restores leave it unchanged, so a snapshot taker can tell
	// whether server state replaced the value in the meantime.
	Revision uint64
}

type item[V any] struct {
	entry Entry[V]
}

// Store is safe for concurrent use. Values are cloned on the way in and out so
// callers never share memory with the cache.
type Store[K Key, V any] struct {
	name  string
	clone func(V) V
	now   func() time.Time

	mu    sync.RWMutex
	items map[K]*item[V]
	// gens advance on every change to a key, including eviction, and are
	// what lets a finished load detect that it has been superseded.
	gens  map[K]uint64
	epoch uint64

	group singleflight.Group
}

// New creates a store. clone may be nil for values without shared memory.
func New[K Key, V any](name string, clone func(V) V) *Store[K, V] {
	if clone == nil {
		clone = func(v V) V { return v }
	}
	return &Store[K, V]{
		name:  name,
		clone: clone,
		now:   time.Now,
		items: make(map[K]*item[V]),
		gens:  make(map[K]uint64),
	}
}

// WithClock replaces the time source used to stamp fetched values.
func (s *Store[K, V]) WithClock(now func() time.Time) *Store[K, V] {
	s.now = now
	return s
}

// Get returns a private copy of the entry at k.
func (s *Store[K, V]) Get(k K) (Entry[V], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[k]
	if !ok {
		return Entry[V]{}, false
	}
	e := it.entry
	e.Value = s.clone(e.Value)
	return e, true
}

// Put overwrites k unconditionally with a fresh, authoritative value.
func (s *Store[K, V]) Put(k K, v V, fetchedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(k, v, fetchedAt)
}

func (s *Store[K, V]) putLocked(k K, v V, fetchedAt time.Time) {
	var rev uint64
	if it, ok := s.items[k]; ok {
		rev = it.entry.Revision
	}
	s.items[k] = &item[V]{entry: Entry[V]{
		Value:     s.clone(v),
		FetchedAt: fetchedAt,
		Revision:  rev + 1,
	}}
	s.gens[k]++
}

// Invalidate marks k stale; the value stays readable until replaced.
func (s *Store[K, V]) Invalidate(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[k]
	if !ok {
		return false
	}
	it.entry.Stale = true
	s.gens[k]++
	return true
}

// InvalidateWhere marks every key matching pred stale and returns how many.
func (s *Store[K, V]) InvalidateWhere(pred func(K) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, it := range s.items {
		if pred(k) {
			it.entry.Stale = true
			s.gens[k]++
			n++
		}
	}
	return n
}

// InvalidateAll marks every entry stale and returns how many.
func (s *Store[K, V]) InvalidateAll() int {
	return s.InvalidateWhere(func(K) bool { return true })
}

// Evict removes k.
func (s *Store[K, V]) Evict(k K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, k)
	s.gens[k]++
}

// Merge applies fn to the value at k as a copy-on-write update. fn receives a
// private copy and reports whether it changed anything. Merge returns the
// entry as it was before the call, for rollback, and false when k is absent
// or fn made no change.
func (s *Store[K, V]) Merge(k K, fn func(V) (V, bool)) (Entry[V], bool) {
	return s.Update(k, func(e Entry[V]) (V, bool) { return fn(e.Value) })
}

// Update is Merge with access to the entry bookkeeping, for transforms that
// depend on staleness or revision.
func (s *Store[K, V]) Update(k K, fn func(Entry[V]) (V, bool)) (Entry[V], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[k]
	if !ok {
		return Entry[V]{}, false
	}
	cur := it.entry
	cur.Value = s.clone(cur.Value)
	next, changed := fn(cur)
	if !changed {
		return Entry[V]{}, false
	}
	prior := it.entry
	it.entry.Value = s.clone(next)
	s.gens[k]++
	return prior, true
}

// Restore reinstates a snapshot taken by Merge exactly, bookkeeping included.
func (s *Store[K, V]) Restore(k K, prior Entry[V]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prior.Value = s.clone(prior.Value)
	s.items[k] = &item[V]{entry: prior}
	s.gens[k]++
}

// Keys returns a snapshot of the cached keys in no particular order.
func (s *Store[K, V]) Keys() []K {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]K, 0, len(s.items))
	for k := range s.items {
		out = append(out, k)
	}
	return out
}

// Len returns the number of cached entries.
func (s *Store[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Reset drops every entry. Loads in flight across a reset are discarded.
func (s *Store[K, V]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[K]*item[V])
	s.gens = make(map[K]uint64)
	s.epoch++
}

// Fresh reports whether e may be served without refetching.
func (s *Store[K, V]) Fresh(e Entry[V], maxAge time.Duration) bool {
	if e.Stale {
		return false
	}
	return maxAge <= 0 || s.now().Sub(e.FetchedAt) < maxAge
}

// Load serves k from cache when fresh, otherwise runs fetch. Concurrent loads
// of the same key share a single fetch and all observe its result. The result
// is written back only if nothing else touched k while the fetch was running;
// otherwise it is returned to the waiters but not cached.
//
// The shared fetch does not inherit cancellation from any single caller; a
// caller whose ctx ends stops waiting without aborting the fetch for others.
func (s *Store[K, V]) Load(ctx context.Context, k K, maxAge time.Duration, fetch func(context.Context) (V, error)) (V, error) {
	if e, ok := s.Get(k); ok && s.Fresh(e, maxAge) {
		cacheLookups.WithLabelValues(s.name, "hit").Inc()
		return e.Value, nil
	}
	cacheLookups.WithLabelValues(s.name, "miss").Inc()

	fetchCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(k.String(), func() (any, error) {
		s.mu.RLock()
		gen, epoch := s.gens[k], s.epoch
		s.mu.RUnlock()

		v, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		if s.gens[k] == gen && s.epoch == epoch {
			s.putLocked(k, v, s.now())
		} else {
			cacheDiscarded.WithLabelValues(s.name).Inc()
		}
		s.mu.Unlock()
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	case res := <-ch:
		if res.Shared {
			cacheDeduplicated.WithLabelValues(s.name).Inc()
		}
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		return s.clone(res.Val.(V)), nil
	}
}
