package godbconn

import (
	"time"

	"github.com/objectgraph/godbconn/database"
	"github.com/objectgraph/godbconn/storage"
)

// ResetCounterSnapshot and SetResetCounterSnapshot satisfy
// database.Connection, backing the process-wide reset counter DESIGN
// NOTES §9 describes: each Connection records its snapshot at bind time
// and discards its cache on mismatch at the next bind.
func (c *Connection) ResetCounterSnapshot() uint64    { return c.resetCounterSnapshot }
func (c *Connection) SetResetCounterSnapshot(n uint64) { c.resetCounterSnapshot = n }

// BindDatabase wires the Connection to a Database, picks up its storage,
// and either resets the cache (the process-wide reset counter has moved
// since this Connection last bound) or flushes pending invalidations
// (spec.md §4.7's _setDB).
func (c *Connection) BindDatabase(db *database.Database) {
	c.db = db
	c.storage = db.Storage()
	if c.resetCounterSnapshot != db.ResetCounter() {
		c.resetCache(db)
		return
	}
	c.flushInvalidations()
}

// resetCache discards the Connection's cache wholesale, the Go analogue
// of spec.md's _resetCache building a brand-new PickleCache: NewCache, if
// supplied, is used to swap in a genuinely fresh Cache; otherwise every
// resident entry of the current one is ghosted and evicted in place.
func (c *Connection) resetCache(db *database.Database) {
	c.resetCounterSnapshot = db.ResetCounter()
	c.invMu.Lock()
	c.invalidated = make(map[OID]bool)
	c.invMu.Unlock()

	if c.newCache != nil {
		c.cache = c.newCache()
		return
	}
	c.cache.Minimize()
	for _, oid := range c.cache.LRUItems() {
		c.cache.Delete(oid)
	}
}

// Close runs a final incremental sweep, invokes every one-shot
// onCloseCallback (panics logged, never propagated), and returns the
// Connection to its Database's pool (spec.md §4.7).
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	c.cache.IncrGC()

	callbacks := c.onCloseCallbacks
	c.onCloseCallbacks = nil
	for _, cb := range callbacks {
		c.runCloseCallback(cb)
	}

	c.closed = true
	if c.db != nil {
		c.db.Release(c)
	}
	return nil
}

func (c *Connection) runCloseCallback(cb func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("close callback panicked: %v", r)
		}
	}()
	cb()
}

// Sync aborts the current transaction, calls storage Sync if available,
// and flushes pending invalidations (spec.md §4.7).
func (c *Connection) Sync() error {
	if txn, err := c.currentTransaction(); err == nil {
		if err := txn.Abort(); err != nil {
			return err
		}
	}
	if syncer, ok := c.storage.(storage.Syncer); ok {
		if err := syncer.Sync(); err != nil {
			return wrapStorageError("sync", ZeroOID, err)
		}
	}
	c.flushInvalidations()
	return nil
}

// IsReadOnly delegates to Storage (spec.md §4.7).
func (c *Connection) IsReadOnly() (bool, error) {
	if c.closed {
		return false, ErrConnectionClosed
	}
	return c.storage.IsReadOnly(), nil
}

// GetVersion returns the named version this Connection is bound to, or
// "" for trunk (spec.md §4.7).
func (c *Connection) GetVersion() (string, error) {
	if c.closed {
		return "", ErrConnectionClosed
	}
	return c.version, nil
}

// ModifiedInVersion reports which named version last modified oid,
// falling back to this Connection's own version when the Database has no
// record or there is no Database (spec.md §4.7).
func (c *Connection) ModifiedInVersion(oid OID) string {
	if c.db != nil {
		if v, ok := c.db.ModifiedInVersion(oid); ok {
			return v
		}
	}
	return c.version
}

// GetTransferCounts reports the number of loads and stores this
// Connection has performed, optionally resetting the counters (the
// original's getTransferCounts, dropped from the distilled spec but
// useful pool diagnostics).
func (c *Connection) GetTransferCounts(clear bool) (loadCount, storeCount int) {
	loadCount, storeCount = c.loadCount, c.storeCount
	if clear {
		c.loadCount, c.storeCount = 0, 0
	}
	return loadCount, storeCount
}

// GetDebugInfo returns the free-form tags SetDebugInfo has accumulated.
func (c *Connection) GetDebugInfo() []string {
	return append([]string(nil), c.debugInfo...)
}

// SetDebugInfo appends free-form diagnostic tags to this Connection,
// useful for a pool dump that needs to say what each checked-out
// Connection is doing.
func (c *Connection) SetDebugInfo(info ...string) {
	c.debugInfo = append(c.debugInfo, info...)
}

// OnCloseCallback registers f to run at most once, the next time Close
// runs.
func (c *Connection) OnCloseCallback(f func()) {
	c.onCloseCallbacks = append(c.onCloseCallbacks, f)
}

// CacheSnapshot returns every OID resident in this Connection's cache,
// ghost or not, for database.Database.DebugDump. Returns nil if the
// underlying Cache does not support snapshotting.
func (c *Connection) CacheSnapshot() []OID {
	if snap, ok := c.cache.(interface{ Snapshot() []OID }); ok {
		return snap.Snapshot()
	}
	return nil
}

// CacheMinimize ghosts every unmodified object in the cache regardless of
// recency (spec.md's exposed cacheMinimize).
func (c *Connection) CacheMinimize() {
	c.cache.Minimize()
}

// CacheFullSweep ghosts every unmodified object that has not been touched
// within dt.
//
// Deprecated: use CacheMinimize instead.
func (c *Connection) CacheFullSweep(dt time.Duration) {
	c.cache.FullSweep(dt)
}
