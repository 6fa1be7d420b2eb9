package world

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Sentinel errors shared by the cache and its store adapters.
var (
	ErrNotFound = errors.New("world: object not found")
	ErrConflict = errors.New("world: store revision conflict")
	ErrExists   = errors.New("world: object ID already exists")
	ErrCycle    = errors.New("world: parent graph cycle")
)

// Store is the document-store contract the cache writes through. Revisions
// are opaque strings supplied by the store; a mismatched priorRev yields
// ErrConflict.
type Store interface {
	Fetch(id string) (*Object, string, error)
	Store(obj *Object, priorRev string) (string, error)
	DeleteByID(id string, priorRev string) error
	ListByIndex(name, key string) ([]string, error)
}

// entry is one cached object. Reads go through the atomic snapshot pointer;
// read-modify-write cycles take mu.
type entry struct {
	snap atomic.Pointer[Object]
	rev  string
	mu   sync.Mutex
}

// Cache is the in-memory, write-through view of the world. It is the
// authoritative value for in-process reads; writes update it synchronously
// and are flushed to the store periodically.
type Cache struct {
	store Store

	mu      sync.RWMutex
	entries map[string]*entry

	dirtyMu   sync.Mutex
	dirty     map[string]bool
	threshold int
	interval  time.Duration
	kick      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
}

// CacheOptions tune write-back behavior.
type CacheOptions struct {
	WriteBackInterval time.Duration // default 60s
	DirtyThreshold    int           // default 200
}

// NewCache creates a cache over the given store.
func NewCache(store Store, opts CacheOptions) *Cache {
	if opts.WriteBackInterval <= 0 {
		opts.WriteBackInterval = 60 * time.Second
	}
	if opts.DirtyThreshold <= 0 {
		opts.DirtyThreshold = 200
	}
	return &Cache{
		store:     store,
		entries:   make(map[string]*entry),
		dirty:     make(map[string]bool),
		threshold: opts.DirtyThreshold,
		interval:  opts.WriteBackInterval,
		kick:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Get returns the cached object, fetching and installing from the store on a
// miss. The returned object is a shared snapshot; callers must not mutate it.
func (c *Cache) Get(id string) (*Object, error) {
	c.mu.RLock()
	e := c.entries[id]
	c.mu.RUnlock()
	if e != nil {
		if o := e.snap.Load(); o != nil {
			return o, nil
		}
	}

	obj, rev, err := c.store.Fetch(id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e = c.entries[id]; e != nil {
		// Lost the install race; the other copy is authoritative.
		if o := e.snap.Load(); o != nil {
			return o, nil
		}
	}
	e = &entry{rev: rev}
	e.snap.Store(obj)
	c.entries[id] = e
	return obj, nil
}

// Prime installs a stored object into the cache without marking it dirty.
// Startup warming uses it so attribute resolution and scheduler sweeps see
// every persisted object before any session touches it. An existing entry
// is left alone.
func (c *Cache) Prime(obj *Object, rev string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[obj.ID]; ok {
		return
	}
	e := &entry{rev: rev}
	e.snap.Store(obj)
	c.entries[obj.ID] = e
}

// Create installs a brand-new object. Minting a colliding ID fails with
// ErrExists, checking both the cache and the store.
func (c *Cache) Create(obj *Object) error {
	if obj.ID == "" {
		return fmt.Errorf("world: create: empty object ID")
	}
	c.mu.RLock()
	_, cached := c.entries[obj.ID]
	c.mu.RUnlock()
	if cached {
		return fmt.Errorf("%w: %s", ErrExists, obj.ID)
	}
	if _, _, err := c.store.Fetch(obj.ID); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, obj.ID)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return c.Put(obj)
}

// Put updates the cache unconditionally and marks the object dirty.
// Cycles in the parent graph are rejected at write time.
func (c *Cache) Put(obj *Object) error {
	if err := c.checkAcyclic(obj); err != nil {
		return err
	}
	now := time.Now().UTC()
	obj = obj.Clone()
	if obj.CreatedAt.IsZero() {
		obj.CreatedAt = now
	}
	obj.UpdatedAt = now

	c.mu.Lock()
	e := c.entries[obj.ID]
	if e == nil {
		e = &entry{}
		c.entries[obj.ID] = e
	}
	e.snap.Store(obj)
	c.mu.Unlock()

	if !obj.Transient {
		c.markDirty(obj.ID)
	}
	return nil
}

// Delete removes from cache and from the store. A revision conflict on the
// store delete is retried once against the fresh revision.
func (c *Cache) Delete(id string) error {
	c.mu.Lock()
	e := c.entries[id]
	delete(c.entries, id)
	c.mu.Unlock()

	c.dirtyMu.Lock()
	delete(c.dirty, id)
	c.dirtyMu.Unlock()

	var rev string
	if e != nil {
		rev = e.rev
	}
	if e != nil && e.snap.Load() != nil && e.snap.Load().Transient {
		return nil
	}
	err := c.store.DeleteByID(id, rev)
	if errors.Is(err, ErrConflict) {
		if _, fresh, ferr := c.store.Fetch(id); ferr == nil {
			err = c.store.DeleteByID(id, fresh)
		}
	}
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Evict drops an object from the cache without touching the store. Used for
// session-scoped transient objects on disconnect.
func (c *Cache) Evict(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
	c.dirtyMu.Lock()
	delete(c.dirty, id)
	c.dirtyMu.Unlock()
}

// GetAttribute resolves an attribute across the inheritance graph:
// breadth-first from the object, parents enqueued left to right, first
// definition wins. The returned ok is false when no object in the closure
// defines the attribute (distinct from a stored nil).
func (c *Cache) GetAttribute(id, name string) (Value, bool, error) {
	visited := map[string]bool{}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true

		obj, err := c.Get(cur)
		if err != nil {
			if errors.Is(err, ErrNotFound) && cur != id {
				continue // dangling parent link; skip, keep searching
			}
			return nil, false, err
		}
		if v, ok := obj.Attr(name); ok {
			return v, true, nil
		}
		queue = append(queue, obj.ParentIDs...)
	}
	return nil, false, nil
}

// Update applies fn to a clone of the object under its per-object lock and
// installs the result. Two concurrent updates of the same object serialize
// here; this is the read-modify-write path behind set_attr.
func (c *Cache) Update(id string, fn func(*Object) error) error {
	if _, err := c.Get(id); err != nil {
		return err
	}
	c.mu.RLock()
	e := c.entries[id]
	c.mu.RUnlock()
	if e == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	cur := e.snap.Load()
	if cur == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := c.checkAcyclic(next); err != nil {
		return err
	}
	next.UpdatedAt = time.Now().UTC()
	e.snap.Store(next)
	if !next.Transient {
		c.markDirty(id)
	}
	return nil
}

// SetAttribute writes an attribute on the referenced object itself (never a
// parent) and persists via the usual write-back.
func (c *Cache) SetAttribute(id, name string, v Value) error {
	return c.Update(id, func(o *Object) error {
		if o.Attributes == nil {
			o.Attributes = make(map[string]Value)
		}
		o.Attributes[name] = v
		return nil
	})
}

// Each calls fn with a snapshot of every cached object. Used by the tick
// scheduler to find objects carrying their own on_tick.
func (c *Cache) Each(fn func(*Object)) {
	c.mu.RLock()
	snaps := make([]*Object, 0, len(c.entries))
	for _, e := range c.entries {
		if o := e.snap.Load(); o != nil {
			snaps = append(snaps, o)
		}
	}
	c.mu.RUnlock()
	for _, o := range snaps {
		fn(o)
	}
}

// Len returns the number of cached objects.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// DirtyCount returns the number of objects awaiting write-back.
func (c *Cache) DirtyCount() int {
	c.dirtyMu.Lock()
	defer c.dirtyMu.Unlock()
	return len(c.dirty)
}

func (c *Cache) markDirty(id string) {
	c.dirtyMu.Lock()
	c.dirty[id] = true
	n := len(c.dirty)
	c.dirtyMu.Unlock()
	if n >= c.threshold {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
}

// checkAcyclic walks the parent closure of obj, treating obj's own proposed
// parent list as the edge set for its ID.
func (c *Cache) checkAcyclic(obj *Object) error {
	visited := map[string]bool{}
	var walk func(id string) error
	walk = func(id string) error {
		if id == obj.ID {
			return fmt.Errorf("%w: via %s", ErrCycle, id)
		}
		if visited[id] {
			return nil
		}
		visited[id] = true
		parent, err := c.Get(id)
		if err != nil {
			return nil // dangling parent is not a cycle
		}
		for _, p := range parent.ParentIDs {
			if err := walk(p); err != nil {
				return err
			}
		}
		return nil
	}
	for _, p := range obj.ParentIDs {
		if err := walk(p); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes back every dirty object. A revision conflict is resolved by
// refetching the store revision and retrying once with the cached state;
// a second conflict is surfaced.
func (c *Cache) Flush() error {
	c.dirtyMu.Lock()
	ids := make([]string, 0, len(c.dirty))
	for id := range c.dirty {
		ids = append(ids, id)
	}
	c.dirty = make(map[string]bool)
	c.dirtyMu.Unlock()

	var firstErr error
	for _, id := range ids {
		c.mu.RLock()
		e := c.entries[id]
		c.mu.RUnlock()
		if e == nil {
			continue
		}
		obj := e.snap.Load()
		if obj == nil || obj.Transient {
			continue
		}

		e.mu.Lock()
		rev, err := c.store.Store(obj, e.rev)
		if errors.Is(err, ErrConflict) {
			if _, fresh, ferr := c.store.Fetch(id); ferr == nil {
				rev, err = c.store.Store(obj, fresh)
			}
		}
		if err == nil {
			e.rev = rev
		}
		e.mu.Unlock()

		if err != nil {
			log.Printf("world: write-back %s: %v", id, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("world: write-back %s: %w", id, err)
			}
			c.markDirty(id)
		}
	}
	return firstErr
}

// Run drives periodic write-back until Stop. Threshold kicks arrive on the
// internal channel from markDirty.
func (c *Cache) Run() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Flush()
		case <-c.kick:
			c.Flush()
		case <-c.done:
			c.Flush()
			return
		}
	}
}

// Stop terminates the write-back loop after a final flush.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}
