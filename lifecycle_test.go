package godbconn

import (
	"testing"

	"github.com/objectgraph/godbconn/cache"
	"github.com/objectgraph/godbconn/persistent"
	"github.com/objectgraph/godbconn/storage"
)

func newStandaloneConnection() (*Connection, *storage.MemStorage) {
	ms := storage.NewMemStorage()
	c := NewConnection(ConnectionParams{
		Storage: ms,
		Cache:   cache.New(1000),
		Codec:   newTestCodec(),
		MVCC:    true,
	})
	return c, ms
}

func TestCloseRunsCallbacksAndIsIdempotent(t *testing.T) {
	c, _ := newStandaloneConnection()
	var ran int
	c.OnCloseCallback(func() { ran++ })
	c.OnCloseCallback(func() { ran++ })

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ran != 2 {
		t.Fatalf("ran = %d callbacks, want 2", ran)
	}

	// A second Close is a no-op: callbacks must not run again.
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if ran != 2 {
		t.Fatalf("ran = %d after second Close, want still 2", ran)
	}
}

func TestCloseRecoversPanickingCallback(t *testing.T) {
	c, _ := newStandaloneConnection()
	c.OnCloseCallback(func() { panic("boom") })
	var ranAfter bool
	c.OnCloseCallback(func() { ranAfter = true })

	if err := c.Close(); err != nil {
		t.Fatalf("Close should not propagate a callback panic: %v", err)
	}
	if !ranAfter {
		t.Fatalf("callback registered after the panicking one did not run")
	}
}

func TestGetTransferCounts(t *testing.T) {
	c, ms := newStandaloneConnection()
	cdc := c.codec
	data, err := cdc.Serialize(&record{Name: "root"})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	ms.Seed(ZeroOID, data)

	if _, err := c.Root(); err != nil {
		t.Fatalf("Root: %v", err)
	}
	loads, stores := c.GetTransferCounts(false)
	if loads != 1 || stores != 0 {
		t.Fatalf("GetTransferCounts = (%d, %d), want (1, 0)", loads, stores)
	}

	loads, _ = c.GetTransferCounts(true)
	if loads != 1 {
		t.Fatalf("GetTransferCounts(clear) returned %d, want 1 before clearing", loads)
	}
	loads, _ = c.GetTransferCounts(false)
	if loads != 0 {
		t.Fatalf("GetTransferCounts after clear = %d, want 0", loads)
	}
}

func TestDebugInfo(t *testing.T) {
	c, _ := newStandaloneConnection()
	c.SetDebugInfo("waiting-on-lock")
	c.SetDebugInfo("tag2")
	info := c.GetDebugInfo()
	if len(info) != 2 || info[0] != "waiting-on-lock" || info[1] != "tag2" {
		t.Fatalf("GetDebugInfo() = %v, want [waiting-on-lock tag2]", info)
	}
}

func TestIsReadOnlyAfterClose(t *testing.T) {
	c, _ := newStandaloneConnection()
	if ro, err := c.IsReadOnly(); err != nil || ro {
		t.Fatalf("IsReadOnly() = (%v, %v), want (false, nil)", ro, err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := c.IsReadOnly(); err != ErrConnectionClosed {
		t.Fatalf("IsReadOnly() after Close error = %v, want ErrConnectionClosed", err)
	}
}

func TestBindDatabaseFlushesInvalidationsOnMatchingResetCounter(t *testing.T) {
	cdc := newTestCodec()
	db, _ := newTestDatabase(cdc)
	c := acquireConn(db)

	oid := NewOID()
	c.Invalidate(TIDFromUint64(1), []OID{oid})
	if !c.isInvalidated(oid) {
		t.Fatalf("setup: oid not invalidated")
	}

	// Re-binding to the same Database, with the reset counter unchanged,
	// must flush the pending invalidation rather than reset the cache.
	c.BindDatabase(db)
	if c.isInvalidated(oid) {
		t.Fatalf("BindDatabase with an unchanged reset counter left a stale invalidation")
	}
}

func TestBindDatabaseResetsCacheOnCounterMismatch(t *testing.T) {
	cdc := newTestCodec()
	db, ms := newTestDatabase(cdc)
	c := acquireConn(db)

	data, err := cdc.Serialize(&record{Name: "cached"})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	ms.Seed(ZeroOID, data)
	if _, err := c.Get(ZeroOID); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.cache.Len() != 1 {
		t.Fatalf("cache.Len() = %d before reset, want 1", c.cache.Len())
	}

	db.BumpResetCounter()
	c.BindDatabase(db)

	if c.resetCounterSnapshot != db.ResetCounter() {
		t.Fatalf("resetCounterSnapshot = %d, want %d after BindDatabase", c.resetCounterSnapshot, db.ResetCounter())
	}
	if _, ok := c.cache.Get(ZeroOID); ok {
		t.Fatalf("cache still holds ZeroOID after a reset-counter mismatch")
	}
}

func TestSyncAbortsTransactionAndFlushesInvalidations(t *testing.T) {
	c, _ := newStandaloneConnection()
	txn := NewTransaction("sync-txn")
	c.SetLocalTransaction(txn)

	obj := &record{Name: "pending"}
	if err := c.Add(obj); err != nil {
		t.Fatalf("Add: %v", err)
	}

	oid := NewOID()
	c.Invalidate(TIDFromUint64(1), []OID{oid})

	if err := c.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if c.isInvalidated(oid) {
		t.Fatalf("Sync did not flush pending invalidations")
	}
	if obj.Jar() != nil {
		t.Fatalf("Sync did not abort the transaction: the pending Add is still bound")
	}
}

func TestModifiedInVersionFallsBackToOwnVersion(t *testing.T) {
	c := NewConnection(ConnectionParams{
		Storage: storage.NewMemStorage(),
		Cache:   cache.New(1000),
		Codec:   newTestCodec(),
		Version: "feature-x",
	})
	if v := c.ModifiedInVersion(NewOID()); v != "feature-x" {
		t.Fatalf("ModifiedInVersion without a Database = %q, want %q", v, "feature-x")
	}
}

func TestCacheMinimizeGhostsUnmodifiedEntries(t *testing.T) {
	cdc := newTestCodec()
	db, ms := newTestDatabase(cdc)
	c := acquireConn(db)

	data, err := cdc.Serialize(&record{Name: "root"})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	ms.Seed(ZeroOID, data)

	obj, err := c.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if err := c.Activate(obj); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if obj.Changed() != persistent.Unmodified {
		t.Fatalf("Changed() before Minimize = %v, want Unmodified", obj.Changed())
	}

	c.CacheMinimize()
	if obj.Changed() != persistent.Ghost {
		t.Fatalf("Changed() after CacheMinimize = %v, want Ghost", obj.Changed())
	}
}
