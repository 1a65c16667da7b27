package database

import (
	"context"
	"testing"
	"time"

	"github.com/objectgraph/godbconn/ident"
	"github.com/objectgraph/godbconn/storage"
)

type fakeConn struct {
	id           uint64
	snapshot     uint64
	invalidated  []ident.OID
	invalidTID   ident.TID
}

func (c *fakeConn) ConnectionID() uint64 { return c.id }
func (c *fakeConn) Invalidate(tid ident.TID, oids []ident.OID) {
	c.invalidTID = tid
	c.invalidated = append(c.invalidated, oids...)
}
func (c *fakeConn) ResetCounterSnapshot() uint64     { return c.snapshot }
func (c *fakeConn) SetResetCounterSnapshot(n uint64) { c.snapshot = n }

type fakeSnapshotConn struct {
	fakeConn
	resident []ident.OID
}

func (c *fakeSnapshotConn) CacheSnapshot() []ident.OID { return c.resident }

func newTestDatabase(cfg Config) (*Database, *uint64) {
	var nextID uint64
	factory := func(db *Database) Connection {
		nextID++
		return &fakeConn{id: nextID}
	}
	return New(storage.NewMemStorage(), factory, cfg), &nextID
}

func TestAcquireCreatesViaFactory(t *testing.T) {
	db, _ := newTestDatabase(Config{})
	c, err := db.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if c == nil {
		t.Fatalf("Acquire returned a nil connection")
	}
}

func TestAcquireReusesIdle(t *testing.T) {
	db, nextID := newTestDatabase(Config{})
	c1, err := db.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	db.Release(c1)

	c2, err := db.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if c2 != c1 {
		t.Fatalf("Acquire built a fresh connection instead of reusing the idle one")
	}
	if *nextID != 1 {
		t.Fatalf("factory was called %d times, want 1", *nextID)
	}
}

func TestAcquireBlocksPastMaxConnections(t *testing.T) {
	db, _ := newTestDatabase(Config{MaxConnections: 1, BusyTimeout: 50 * time.Millisecond})
	c1, err := db.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer db.Release(c1)

	if _, err := db.Acquire(context.Background()); err == nil {
		t.Fatalf("second Acquire past MaxConnections succeeded, want a busy-timeout error")
	}
}

func TestInvalidateSkipsSourceAndDedupes(t *testing.T) {
	db, _ := newTestDatabase(Config{})
	ctx := context.Background()
	src, _ := db.Acquire(ctx)
	peer, _ := db.Acquire(ctx)

	oid := ident.NewOID()
	tid := ident.TIDFromUint64(1)
	db.Invalidate(tid, []ident.OID{oid, oid}, src)

	fp := peer.(*fakeConn)
	if len(fp.invalidated) != 1 || fp.invalidated[0] != oid {
		t.Fatalf("peer saw invalidated = %v, want exactly [%s] (deduped)", fp.invalidated, oid)
	}

	fs := src.(*fakeConn)
	if len(fs.invalidated) != 0 {
		t.Fatalf("source connection received its own invalidation: %v", fs.invalidated)
	}
}

func TestModifiedInVersion(t *testing.T) {
	db, _ := newTestDatabase(Config{})
	oid := ident.NewOID()
	if _, ok := db.ModifiedInVersion(oid); ok {
		t.Fatalf("ModifiedInVersion on an untouched oid returned ok = true")
	}

	db.RecordVersion(oid, "feature-x")
	v, ok := db.ModifiedInVersion(oid)
	if !ok || v != "feature-x" {
		t.Fatalf("ModifiedInVersion = (%q, %v), want (feature-x, true)", v, ok)
	}

	// Trunk writes (blank version) are not tracked.
	db.RecordVersion(oid, "")
	v, ok = db.ModifiedInVersion(oid)
	if !ok || v != "feature-x" {
		t.Fatalf("a blank-version RecordVersion overwrote the tracked version: (%q, %v)", v, ok)
	}
}

func TestDebugDumpOmitsConnectionsWithoutCacheSnapshotter(t *testing.T) {
	resident := []ident.OID{ident.NewOID(), ident.NewOID()}
	var nextID uint64
	factory := func(db *Database) Connection {
		nextID++
		if nextID == 1 {
			return &fakeSnapshotConn{fakeConn: fakeConn{id: nextID}, resident: resident}
		}
		return &fakeConn{id: nextID}
	}
	db := New(storage.NewMemStorage(), factory, Config{})
	ctx := context.Background()
	snapper, err := db.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	plain, err := db.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	dump := db.DebugDump()
	if len(dump) != 1 {
		t.Fatalf("DebugDump() = %v, want exactly 1 entry (the plain fakeConn has no CacheSnapshot)", dump)
	}
	got, ok := dump[snapper.ConnectionID()]
	if !ok || len(got) != 2 {
		t.Fatalf("DebugDump()[%d] = %v, want %v", snapper.ConnectionID(), got, resident)
	}
	if _, ok := dump[plain.ConnectionID()]; ok {
		t.Fatalf("DebugDump() included the plain fakeConn, want it omitted")
	}
}

func TestBumpResetCounter(t *testing.T) {
	db, _ := newTestDatabase(Config{})
	if db.ResetCounter() != 0 {
		t.Fatalf("ResetCounter() = %d, want 0", db.ResetCounter())
	}
	db.BumpResetCounter()
	if db.ResetCounter() != 1 {
		t.Fatalf("ResetCounter() = %d, want 1", db.ResetCounter())
	}
}
