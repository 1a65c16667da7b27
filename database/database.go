// Package database implements the connection pool and invalidation
// broadcaster spec.md §6 calls the "Database" external collaborator:
// _closeConnection, invalidate(tid, oid_set, source_connection),
// modifiedInVersion, and the process-wide reset counter DESIGN NOTES §9
// describes. It is generic over the pooled connection type (the Connection
// interface below) so this package never imports the root godbconn
// package — godbconn.Connection satisfies Connection structurally.
//
// The pool itself is grounded on the teacher's server.acquire/release
// semaphore (internal/driver/driver.go): a buffered channel bounds
// concurrent checkouts, with an optional busy timeout.
package database

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/objectgraph/godbconn/ident"
	"github.com/objectgraph/godbconn/storage"
	"github.com/samber/lo"
)

// Connection is the narrow surface Database needs from a pooled
// connection: an identity for invalidation and pool bookkeeping, the
// delivery hook for a peer's invalidation set, and the reset-counter
// snapshot used to decide whether a rebound connection must discard its
// cache (spec.md §4.7, DESIGN NOTES' "process-wide reset counter").
type Connection interface {
	ConnectionID() uint64
	Invalidate(tid ident.TID, oids []ident.OID)
	ResetCounterSnapshot() uint64
	SetResetCounterSnapshot(uint64)
}

// Factory builds a new Connection bound to db, invoked the first time
// Acquire needs to grow the pool past its currently idle connections.
type Factory func(db *Database) Connection

// Config tunes the pool; the zero value means unbounded pool size with no
// busy timeout.
type Config struct {
	MaxConnections int
	BusyTimeout    time.Duration
}

// Database is the shared registry of one Storage: it pools Connections,
// fans invalidations out to whichever of them are currently checked out,
// and tracks the version each OID was last written under.
type Database struct {
	storage storage.Storage
	factory Factory
	cfg     Config

	resetCounter atomic.Uint64

	sem chan struct{}

	mu       sync.Mutex
	idle     []Connection
	peers    map[uint64]Connection
	versions map[ident.OID]string
}

// New constructs a Database over st; factory is called by Acquire to
// create a fresh Connection whenever the idle pool is empty.
func New(st storage.Storage, factory Factory, cfg Config) *Database {
	db := &Database{
		storage:  st,
		factory:  factory,
		cfg:      cfg,
		peers:    make(map[uint64]Connection),
		versions: make(map[ident.OID]string),
	}
	if cfg.MaxConnections > 0 {
		db.sem = make(chan struct{}, cfg.MaxConnections)
	}
	return db
}

// Storage returns the Storage this Database was built over.
func (db *Database) Storage() storage.Storage { return db.storage }

// ResetCounter reads the process-wide reset counter.
func (db *Database) ResetCounter() uint64 { return db.resetCounter.Load() }

// BumpResetCounter advances the process-wide reset counter, forcing every
// Connection to discard its cache the next time it rebinds
// (DESIGN NOTES §9).
func (db *Database) BumpResetCounter() { db.resetCounter.Add(1) }

// Acquire returns an idle Connection or creates one via Factory, blocking
// (honoring Config.BusyTimeout, if set) when the pool is already at
// Config.MaxConnections checked-out connections.
func (db *Database) Acquire(ctx context.Context) (Connection, error) {
	if err := db.throttle(ctx); err != nil {
		return nil, err
	}

	db.mu.Lock()
	var c Connection
	if n := len(db.idle); n > 0 {
		c = db.idle[n-1]
		db.idle = db.idle[:n-1]
	}
	db.mu.Unlock()

	if c == nil {
		c = db.factory(db)
	}

	db.mu.Lock()
	db.peers[c.ConnectionID()] = c
	db.mu.Unlock()
	return c, nil
}

func (db *Database) throttle(ctx context.Context) error {
	if db.sem == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if db.cfg.BusyTimeout <= 0 {
		select {
		case db.sem <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	timer := time.NewTimer(db.cfg.BusyTimeout)
	defer timer.Stop()
	select {
	case db.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("godbconn/database: busy timeout after %s", db.cfg.BusyTimeout)
	}
}

// Release returns c to the pool of idle connections and drops it from the
// set of peers that receive invalidation broadcasts; called by
// Connection.Close.
func (db *Database) Release(c Connection) {
	db.mu.Lock()
	delete(db.peers, c.ConnectionID())
	db.idle = append(db.idle, c)
	db.mu.Unlock()

	if db.sem != nil {
		select {
		case <-db.sem:
		default:
		}
	}
}

// Invalidate fans tid/oids out to every checked-out peer connection other
// than source, mirroring the original DB.invalidate driven by the
// tpc_finish callback while the storage still holds its commit lock
// (spec.md §4.4, §5).
func (db *Database) Invalidate(tid ident.TID, oids []ident.OID, source Connection) {
	db.mu.Lock()
	peers := make([]Connection, 0, len(db.peers))
	for id, c := range db.peers {
		if source != nil && id == source.ConnectionID() {
			continue
		}
		peers = append(peers, c)
	}
	db.mu.Unlock()

	deduped := lo.Uniq(oids)
	for _, c := range peers {
		c.Invalidate(tid, deduped)
	}
}

// CacheSnapshotter is implemented by a pooled Connection whose cache can
// report its full resident OID set. DebugDump uses it to build a
// pool-wide diagnostic dump; a Connection whose Cache doesn't support
// snapshotting is simply omitted.
type CacheSnapshotter interface {
	CacheSnapshot() []ident.OID
}

// DebugDump returns, for every currently checked-out peer that implements
// CacheSnapshotter, the OIDs resident in its cache, keyed by
// ConnectionID — the pool-wide counterpart to a single Connection's own
// debug info.
func (db *Database) DebugDump() map[uint64][]ident.OID {
	db.mu.Lock()
	peers := make([]Connection, 0, len(db.peers))
	for _, c := range db.peers {
		peers = append(peers, c)
	}
	db.mu.Unlock()

	out := make(map[uint64][]ident.OID, len(peers))
	for _, c := range peers {
		if snap, ok := c.(CacheSnapshotter); ok {
			out[c.ConnectionID()] = snap.CacheSnapshot()
		}
	}
	return out
}

// RecordVersion notes that oid was last written under version, backing
// ModifiedInVersion. A blank version is a no-op (trunk writes are not
// tracked).
func (db *Database) RecordVersion(oid ident.OID, version string) {
	if version == "" {
		return
	}
	db.mu.Lock()
	db.versions[oid] = version
	db.mu.Unlock()
}

// ModifiedInVersion reports which named version last modified oid, if
// any (spec.md §4.7's modifiedInVersion delegation).
func (db *Database) ModifiedInVersion(oid ident.OID) (string, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	v, ok := db.versions[oid]
	return v, ok
}
