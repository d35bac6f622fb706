// Package speculative is a generic optimistic-mutation mechanism: capture a
// snapshot of every cached view a mutation touches, apply the mutation to all
// of them in one atomic step, then either commit (marking server-derived
// aggregates stale for refetch) or revert every view to its exact snapshot.
package speculative

import "sync"

// Cache is the lock domain for a set of views. All views touched by one
// mutation must belong to the same cache; readers of any view in the cache
// never observe a half-applied multi-view mutation.
type Cache struct {
	mu sync.RWMutex
}

func NewCache() *Cache { return &Cache{} }

// View is one cached projection of server data. Clone must produce a value
// whose later mutation cannot affect the stored one.
type View[T any] struct {
	cache *Cache
	val   T
	clone func(T) T
	stale bool
}

func NewView[T any](c *Cache, initial T, clone func(T) T) *View[T] {
	if clone == nil {
		clone = func(v T) T { return v }
	}
	return &View[T]{cache: c, val: clone(initial), clone: clone}
}

func (v *View[T]) Get() T {
	v.cache.mu.RLock()
	defer v.cache.mu.RUnlock()
	return v.clone(v.val)
}

// Set replaces the view with fresh server data and clears its stale mark.
func (v *View[T]) Set(val T) {
	v.cache.mu.Lock()
	v.val = v.clone(val)
	v.stale = false
	v.cache.mu.Unlock()
}

// Stale reports whether the view's contents await a refetch.
func (v *View[T]) Stale() bool {
	v.cache.mu.RLock()
	defer v.cache.mu.RUnlock()
	return v.stale
}

// MarkStale flags a server-derived view for refetch without touching its
// current contents.
func (v *View[T]) MarkStale() {
	v.cache.mu.Lock()
	v.stale = true
	v.cache.mu.Unlock()
}

// Invalidatable is what Commit accepts for dependent aggregates whose
// derivation is server-owned and must be refetched, not patched.
type Invalidatable interface {
	MarkStale()
}

// Touched binds a view to the update applied to it. Built with Touch.
type Touched interface {
	captureAndApply()
	restore()
	cacheOf() *Cache
}

type touched[T any] struct {
	view *View[T]
	fn   func(T) T
	snap T
}

func (t *touched[T]) captureAndApply() {
	t.snap = t.view.clone(t.view.val)
	t.view.val = t.fn(t.view.clone(t.view.val))
}

func (t *touched[T]) restore()        { t.view.val = t.view.clone(t.snap) }
func (t *touched[T]) cacheOf() *Cache { return t.view.cache }

// Touch pairs a view with the speculative update to apply to it.
func Touch[T any](v *View[T], fn func(T) T) Touched {
	return &touched[T]{view: v, fn: fn}
}

// Mutation is an in-flight optimistic update awaiting its network result.
type Mutation struct {
	cache   *Cache
	views   []Touched
	settled bool
	mu      sync.Mutex
}

// Begin snapshots and mutates every touched view in one atomic step. It
// panics if the touched views span caches: cross-cache atomicity is not
// provided.
func Begin(views ...Touched) *Mutation {
	if len(views) == 0 {
		return &Mutation{settled: true}
	}
	c := views[0].cacheOf()
	for _, v := range views[1:] {
		if v.cacheOf() != c {
			panic("speculative: touched views span caches")
		}
	}
	c.mu.Lock()
	for _, v := range views {
		v.captureAndApply()
	}
	c.mu.Unlock()
	return &Mutation{cache: c, views: views}
}

// Commit keeps the speculative values and marks the given server-derived
// aggregates stale for refetch. Idempotent; a no-op after Revert.
func (m *Mutation) Commit(aggregates ...Invalidatable) {
	m.mu.Lock()
	if m.settled {
		m.mu.Unlock()
		return
	}
	m.settled = true
	m.mu.Unlock()
	for _, a := range aggregates {
		a.MarkStale()
	}
}

// Revert restores every touched view to its captured snapshot in one atomic
// step. Idempotent; a no-op after Commit.
func (m *Mutation) Revert() {
	m.mu.Lock()
	if m.settled {
		m.mu.Unlock()
		return
	}
	m.settled = true
	m.mu.Unlock()

	m.cache.mu.Lock()
	for _, v := range m.views {
		v.restore()
	}
	m.cache.mu.Unlock()
}

// CloneSlice is a convenience clone for views of slices of value types.
func CloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}
