package godbconn

import (
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/objectgraph/godbconn/cache"
	"github.com/objectgraph/godbconn/codec"
	"github.com/objectgraph/godbconn/database"
	"github.com/objectgraph/godbconn/persistent"
	"github.com/objectgraph/godbconn/storage"
)

var connectionIDCounter atomic.Uint64

// ConnectionParams bundles the collaborators a Connection needs: the
// opaque Storage, Cache and Codec contracts spec.md treats as external,
// plus the named version (empty for trunk) and whether MVCC reads are
// enabled (always false when version is non-empty, per invariant 6).
type ConnectionParams struct {
	Storage storage.Storage
	Cache   cache.Cache
	Codec   codec.Codec
	Version string
	MVCC    bool

	// NewCache, if set, builds a replacement Cache for resetCache to swap
	// in wholesale on a reset-counter mismatch (spec.md §4.7); without it,
	// resetCache falls back to ghosting and evicting every entry of the
	// existing Cache in place.
	NewCache func() cache.Cache

	Logger *log.Logger
}

// Connection is the object graph's session handle: one per goroutine, not
// safe for concurrent application use (spec.md §5). The sole exception is
// Invalidate, called from the Database's broadcast machinery on arbitrary
// goroutines, which is why invalidated/txnTime/noncurrent live behind
// invMu while everything else here does not.
type Connection struct {
	id uint64

	db      *database.Database
	storage storage.Storage // active storage; swapped to a TmpStore during a subtransaction
	tmp     storage.Storage // non-nil while inside a subtransaction: the real storage, saved

	cache cache.Cache
	codec codec.Codec

	newCache func() cache.Cache

	version string
	mvcc    bool

	added              map[OID]persistent.Object
	addedDuringCommit  *[]persistent.Object
	modified           []OID
	creating           []OID
	conflicts          map[OID]bool

	invMu       sync.Mutex
	invalidated map[OID]bool
	txnTime     TID
	txnTimeSet  bool
	noncurrent  map[OID]bool

	loadCount  int
	storeCount int

	resetCounterSnapshot uint64

	debugInfo        []string
	onCloseCallbacks []func()
	closed           bool

	localTxn   *Transaction
	txnManager TransactionManager

	logger *log.Logger
}

// NewConnection builds a Connection over the given collaborators. The
// Connection is usable standalone (no Database) for tests and embedded
// use; BindDatabase wires it into a pool for invalidation fan-out and
// reset-counter tracking.
func NewConnection(params ConnectionParams) *Connection {
	c := &Connection{
		id:          connectionIDCounter.Add(1),
		storage:     params.Storage,
		cache:       params.Cache,
		codec:       params.Codec,
		newCache:    params.NewCache,
		version:     params.Version,
		mvcc:        params.MVCC && params.Version == "",
		added:       make(map[OID]persistent.Object),
		conflicts:   make(map[OID]bool),
		invalidated: make(map[OID]bool),
		noncurrent:  make(map[OID]bool),
		logger:      params.Logger,
	}
	if c.logger == nil {
		c.logger = log.New(os.Stderr, "godbconn: ", log.LstdFlags)
	}
	return c
}

// ConnectionID satisfies persistent.Jar and database.Connection: a stable
// identity for this Connection for its whole process lifetime.
func (c *Connection) ConnectionID() uint64 { return c.id }

// SortKey gives the Transaction coordinator a total order over data
// managers sharing a storage (spec.md §4.3).
func (c *Connection) SortKey() string {
	return fmt.Sprintf("%s:%d", c.storage.SortKey(), c.id)
}

// Get returns the object for oid, preserving identity within this
// Connection's cache residency (spec.md §4.1, invariant 1): already
// cached (possibly a ghost), already added this transaction, or else
// loaded fresh from Storage as a new ghost.
func (c *Connection) Get(oid OID) (persistent.Object, error) {
	if c.closed {
		return nil, ErrConnectionClosed
	}
	if obj, ok := c.cache.Get(oid); ok {
		return obj, nil
	}
	if obj, ok := c.added[oid]; ok {
		return obj, nil
	}

	data, serial, err := c.storage.Load(oid, c.version)
	if err != nil {
		return nil, wrapStorageError("load", oid, err)
	}
	c.loadCount++

	obj, err := c.codec.NewGhost(data)
	if err != nil {
		return nil, fmt.Errorf("godbconn: build ghost for oid %s: %w", oid, err)
	}
	obj.SetOID(oid)
	obj.SetJar(c)
	obj.SetChanged(persistent.Ghost)
	obj.SetSerial(serial)
	c.cache.Set(oid, obj)
	return obj, nil
}

// Root returns the database root object, get(z64) in spec.md's terms.
func (c *Connection) Root() (persistent.Object, error) {
	return c.Get(ZeroOID)
}

// Add assigns an OID to a fresh persistent object eagerly, before it
// becomes reachable (spec.md §4.1). Calling Add again on an object
// already bound to this Connection is a no-op; calling it on an object
// bound to a different Connection fails.
func (c *Connection) Add(obj persistent.Object) error {
	if c.closed {
		return ErrConnectionClosed
	}
	if obj == nil {
		return ErrNotPersistent
	}
	if jar := obj.Jar(); jar != nil {
		if jar == persistent.Jar(c) {
			return nil
		}
		return ErrInvalidObjectReference
	}

	oid, err := c.storage.NewOID()
	if err != nil {
		return fmt.Errorf("godbconn: allocate oid: %w", err)
	}
	obj.SetOID(oid)
	obj.SetJar(c)
	c.added[oid] = obj
	if c.addedDuringCommit != nil {
		*c.addedDuringCommit = append(*c.addedDuringCommit, obj)
	}
	return c.Register(obj)
}

// Register asserts obj is bound to this Connection and registers it with
// the current Transaction (spec.md §4.3). Unlike the source, there is no
// legacy direct-_p_jar-assignment tolerance: Go has no attribute
// interception to intercept, so binding only ever happens through Add or
// an internal reclassification, both of which already set Jar() to c.
func (c *Connection) Register(obj persistent.Object) error {
	if obj.Jar() != persistent.Jar(c) {
		return fmt.Errorf("godbconn: cannot register an object not bound to this connection")
	}
	txn, err := c.currentTransaction()
	if err != nil {
		return err
	}
	txn.Register(c, obj)
	return nil
}

// SetLocalTransaction binds txn as this Connection's transaction,
// overriding the ambient TransactionManager (spec.md's setLocalTransaction).
func (c *Connection) SetLocalTransaction(txn *Transaction) { c.localTxn = txn }

// SetTransactionManager installs the ambient "current transaction"
// accessor consulted when no local transaction has been set.
func (c *Connection) SetTransactionManager(tm TransactionManager) { c.txnManager = tm }

// GetTransaction returns the transaction this Connection would register
// against right now.
func (c *Connection) GetTransaction() (*Transaction, error) {
	return c.currentTransaction()
}

func (c *Connection) currentTransaction() (*Transaction, error) {
	if c.localTxn != nil {
		return c.localTxn, nil
	}
	if c.txnManager != nil {
		if t := c.txnManager.Current(); t != nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("godbconn: no transaction bound to connection")
}

// Activate forces a ghost to materialize, the explicit Go equivalent of
// spec.md's implicit "reading any attribute triggers setstate" (Go has no
// attribute interception to hook). A no-op if obj is not currently a
// ghost.
func (c *Connection) Activate(obj persistent.Object) error {
	if c.closed {
		return ErrConnectionClosed
	}
	if obj.Changed() != persistent.Ghost {
		return nil
	}
	return c.setstate(obj)
}

// setstate is spec.md §4.2's read-isolation enforcement: consult
// invalidated, fall back to MVCC or independence, and otherwise load the
// current revision.
func (c *Connection) setstate(obj persistent.Object) error {
	oid := obj.OID()

	if c.isInvalidated(oid) && !hasIndependent(obj) {
		return c.loadBeforeOrConflict(obj)
	}

	data, serial, err := c.storage.Load(oid, c.version)
	if err != nil {
		return wrapStorageError("load", oid, err)
	}
	c.loadCount++

	if c.isInvalidated(oid) {
		if ind, ok := obj.(persistent.Independent); ok {
			if !ind.PIndependent() {
				if regErr := c.Register(obj); regErr != nil {
					c.logger.Printf("register during read conflict for oid %s: %v", oid, regErr)
				}
				c.conflicts[oid] = true
				return &ReadConflictError{OID: oid}
			}
			c.invMu.Lock()
			delete(c.invalidated, oid)
			c.invMu.Unlock()
		} else {
			return c.loadBeforeOrConflict(obj)
		}
	}

	if err := c.codec.SetGhostState(obj, data); err != nil {
		return fmt.Errorf("godbconn: materialize oid %s: %w", oid, err)
	}
	obj.SetSerial(serial)
	obj.SetChanged(persistent.Unmodified)
	return nil
}

func hasIndependent(obj persistent.Object) bool {
	_, ok := obj.(persistent.Independent)
	return ok
}

func (c *Connection) isInvalidated(oid OID) bool {
	c.invMu.Lock()
	defer c.invMu.Unlock()
	return c.invalidated[oid]
}

// loadBeforeOrConflict attempts the MVCC fallback and, failing that,
// raises the sticky ReadConflictError (spec.md §4.2, §8 invariant 4).
func (c *Connection) loadBeforeOrConflict(obj persistent.Object) error {
	oid := obj.OID()
	if c.mvcc {
		ok, err := c.setstateNoncurrent(obj)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	if err := c.Register(obj); err != nil {
		c.logger.Printf("register during read conflict for oid %s: %v", oid, err)
	}
	c.conflicts[oid] = true
	return &ReadConflictError{OID: oid}
}

// setstateNoncurrent is the MVCC fallback: load the revision current
// strictly before txnTime, if any (spec.md §4.2, §8 invariant 3).
func (c *Connection) setstateNoncurrent(obj persistent.Object) (bool, error) {
	oid := obj.OID()
	c.invMu.Lock()
	txnTime, txnTimeSet := c.txnTime, c.txnTimeSet
	c.invMu.Unlock()
	if !txnTimeSet {
		return false, nil
	}

	data, start, end, hasEnd, ok, err := c.storage.LoadBefore(oid, txnTime)
	if err != nil {
		return false, wrapStorageError("loadBefore", oid, err)
	}
	if !ok {
		return false, nil
	}
	if !start.Before(txnTime) {
		return false, fmt.Errorf("godbconn: storage returned a non-current revision for oid %s that does not start before txn_time", oid)
	}
	if hasEnd && !txnTime.BeforeOrEqual(end) {
		return false, fmt.Errorf("godbconn: storage returned a revision for oid %s that ended before txn_time", oid)
	}
	if hasEnd {
		c.invMu.Lock()
		c.noncurrent[oid] = true
		c.invMu.Unlock()
	}

	if err := c.codec.SetGhostState(obj, data); err != nil {
		return false, fmt.Errorf("godbconn: materialize non-current oid %s: %w", oid, err)
	}
	obj.SetSerial(start)
	obj.SetChanged(persistent.Unmodified)
	return true, nil
}

// OldState returns a decoded, detached copy of the revision of obj that
// tid wrote (spec.md §4.2's oldstate).
func (c *Connection) OldState(obj persistent.Object, tid TID) (persistent.Object, error) {
	if obj.Jar() != persistent.Jar(c) {
		return nil, fmt.Errorf("godbconn: oldstate requires an object bound to this connection")
	}
	data, err := c.storage.LoadSerial(obj.OID(), tid)
	if err != nil {
		return nil, wrapStorageError("loadSerial", obj.OID(), err)
	}
	return c.codec.GetState(data)
}

var (
	_ persistent.Jar            = (*Connection)(nil)
	_ database.Connection       = (*Connection)(nil)
	_ database.CacheSnapshotter = (*Connection)(nil)
	_ DataManager               = (*Connection)(nil)
)
