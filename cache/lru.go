package cache

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/exp/maps"

	"github.com/objectgraph/godbconn/ident"
	"github.com/objectgraph/godbconn/persistent"
)

// DefaultDrainResistance is the smallest drain resistance: IncrGC tolerates
// one active object above the target size before it ghosts back down to
// the target.
const DefaultDrainResistance = 1

// entry is one resident cache line: the object plus the bookkeeping IncrGC
// and FullSweep need to decide whether it is eligible for ghosting.
type entry struct {
	obj        persistent.Object
	lastAccess time.Time
	elem       *list.Element
}

// LRUCache is the reference PickleCache: a bounded map with an
// access-ordered eviction list. Eviction never removes an entry outright —
// it ghosts it, per spec.md's description of a ghost as "present in the
// cache with identity and OID but no loaded state" — so identity survives
// a sweep even though the state does not.
//
// Target size and drain resistance mirror the teacher's MemoryPolicy
// (internal/storage/bufferpool.go): Target is the steady-state active
// object count, DrainResistance is how much slack above Target IncrGC
// tolerates before it starts ghosting.
type LRUCache struct {
	mu sync.Mutex

	items map[ident.OID]*entry
	order *list.List // front = most recently used

	target          int
	drainResistance int
}

// New creates an LRUCache with the given target active-object count. A
// target <= 0 means "unbounded" — IncrGC becomes a no-op and only
// Minimize/FullSweep ever ghost anything, useful for tests that want
// deterministic object identity.
func New(target int) *LRUCache {
	return &LRUCache{
		items:           make(map[ident.OID]*entry),
		order:           list.New(),
		target:          target,
		drainResistance: DefaultDrainResistance,
	}
}

// SetDrainResistance overrides the default drain resistance; see
// config.CacheConfig.DrainResistance for the Database-level knob that
// normally feeds this (the ZODB source bumps this to 100 for version
// caches, so they drain much more lazily than the trunk cache).
func (c *LRUCache) SetDrainResistance(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 1 {
		n = 1
	}
	c.drainResistance = n
}

func (c *LRUCache) Get(oid ident.OID) (persistent.Object, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[oid]
	if !ok {
		return nil, false
	}
	e.lastAccess = time.Now()
	c.order.MoveToFront(e.elem)
	return e.obj, true
}

func (c *LRUCache) Set(oid ident.OID, obj persistent.Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[oid]; ok {
		e.obj = obj
		e.lastAccess = time.Now()
		c.order.MoveToFront(e.elem)
		return
	}
	elem := c.order.PushFront(oid)
	c.items[oid] = &entry{obj: obj, lastAccess: time.Now(), elem: elem}
}

func (c *LRUCache) Delete(oid ident.OID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteLocked(oid)
}

func (c *LRUCache) deleteLocked(oid ident.OID) {
	e, ok := c.items[oid]
	if !ok {
		return
	}
	c.order.Remove(e.elem)
	delete(c.items, oid)
}

func (c *LRUCache) Invalidate(oids ...ident.OID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, oid := range oids {
		if e, ok := c.items[oid]; ok {
			e.obj.SetChanged(persistent.Ghost)
		}
	}
}

// IncrGC does nothing while the active (non-ghost) population is within
// target + drainResistance; once it exceeds that, it ghosts
// least-recently-used Unmodified entries until the population is back at
// target.
func (c *LRUCache) IncrGC() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.target <= 0 {
		return
	}
	active := c.activeCountLocked()
	limit := c.target + c.drainResistance
	if active <= limit {
		return
	}
	// Walk from the back (least-recently used) ghosting Unmodified entries
	// until we're back at target, never touching Modified ones.
	for elem := c.order.Back(); elem != nil && active > c.target; elem = elem.Prev() {
		oid := elem.Value.(ident.OID)
		e := c.items[oid]
		if e.obj.Changed() == persistent.Unmodified {
			e.obj.SetChanged(persistent.Ghost)
			active--
		}
	}
}

func (c *LRUCache) activeCountLocked() int {
	n := 0
	for _, e := range c.items {
		if e.obj.Changed() != persistent.Ghost {
			n++
		}
	}
	return n
}

// Minimize ghosts every Unmodified entry regardless of recency, the
// immediate "drop everything you can" request exposed as
// Connection.CacheMinimize.
func (c *LRUCache) Minimize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.items {
		if e.obj.Changed() == persistent.Unmodified {
			e.obj.SetChanged(persistent.Ghost)
		}
	}
}

// FullSweep ghosts Unmodified entries untouched for at least dt. dt == 0
// ghosts every eligible entry, same as Minimize.
func (c *LRUCache) FullSweep(dt time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().Add(-dt)
	for _, e := range c.items {
		if e.obj.Changed() != persistent.Unmodified {
			continue
		}
		if dt == 0 || e.lastAccess.Before(cutoff) {
			e.obj.SetChanged(persistent.Ghost)
		}
	}
}

// LRUItems returns cached OIDs ordered least- to most-recently used.
func (c *LRUCache) LRUItems() []ident.OID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ident.OID, 0, c.order.Len())
	for elem := c.order.Back(); elem != nil; elem = elem.Prev() {
		out = append(out, elem.Value.(ident.OID))
	}
	return out
}

func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Snapshot returns every resident OID in unspecified order; Database uses
// it for pool-wide diagnostics where LRU order doesn't matter.
func (c *LRUCache) Snapshot() []ident.OID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Keys(c.items)
}
