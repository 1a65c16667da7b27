// Package cache defines the PickleCache contract from spec.md §2.1: a
// bounded cache of persistent objects keyed by OID, with ghostification and
// incremental sweeping. Connection consumes this as an interface; LRUCache
// is the reference implementation, grounded on the teacher's buffer-pool
// eviction policy (internal/storage/bufferpool.go in the retrieval pack).
package cache

import (
	"time"

	"github.com/objectgraph/godbconn/ident"
	"github.com/objectgraph/godbconn/persistent"
)

// Cache is the contract spec.md §6 calls out under "Consumed (Cache)":
// lookup, insert, delete, invalidate, and the three sweep strategies
// (incremental, full, minimize), plus enumeration of the LRU order for
// diagnostics.
type Cache interface {
	// Get returns the object cached under oid, which may be a ghost, and
	// whether it was present at all.
	Get(oid ident.OID) (persistent.Object, bool)

	// Set inserts or replaces the object cached under oid. Connection is
	// responsible for the identity-preservation invariant (it only calls
	// Set for an OID it hasn't already resolved via Get); Cache itself does
	// not enforce it.
	Set(oid ident.OID, obj persistent.Object)

	// Delete removes oid from the cache entirely (not merely ghosting it).
	// Used when unbinding an object that turned out not to be persisted,
	// e.g. on tpc_abort.
	Delete(oid ident.OID)

	// Invalidate transitions each of oids, if cached, to the ghost state.
	// It is a no-op for OIDs not currently cached.
	Invalidate(oids ...ident.OID)

	// IncrGC performs one incremental sweep: it ghosts the least-recently
	// used Unmodified objects until the active-object count is back within
	// the configured target, honoring the cache's drain resistance.
	IncrGC()

	// Minimize ghosts every Unmodified object regardless of recency.
	Minimize()

	// FullSweep ghosts every Unmodified object that has not been touched
	// within the last dt; dt == 0 ghosts everything eligible, matching
	// Minimize.
	FullSweep(dt time.Duration)

	// LRUItems returns cached OIDs ordered least- to most-recently used.
	LRUItems() []ident.OID

	// Len reports the number of entries currently resident (ghost or not).
	Len() int
}
