// Package storage defines the Storage contract Connection talks to
// (spec.md §2.3 and §6) plus two concrete implementations: TmpStore, the
// in-memory scratch storage a Connection swaps in for a subtransaction, and
// MemStorage, a reference Storage used by tests and by any application that
// does not need real persistence.
package storage

import (
	"github.com/objectgraph/godbconn/ident"
)

// StoreResult is the tagged variant DESIGN NOTES §9 asks for in place of
// the source's polymorphic store()/tpc_vote() return (a serial string, a
// list of (oid, serial) pairs, or an error payload). Exactly one of the
// three shapes is populated; Kind says which.
type StoreResult struct {
	Kind ResultKind

	// One: set when Kind == KindOne. Serial is the new serial for the OID
	// that was passed to Store (the caller already knows which OID).
	One ident.TID

	// Many: set when Kind == KindMany, one (OID, serial) pair per object
	// the storage actually wrote — used by storages (e.g. conflict
	// resolution, batched replication acks) that report serials for
	// objects other than the one passed to Store.
	Many []OIDSerial

	// Err: set when Kind == KindFailed. Re-raised unchanged by Connection
	// without mutating any object's metadata (spec.md §7).
	Err error
}

type ResultKind uint8

const (
	// KindNone is the zero value: nothing to do (spec.md's "empty return").
	KindNone ResultKind = iota
	KindOne
	KindMany
	KindFailed
)

// OIDSerial pairs an OID with the serial Storage assigned it.
type OIDSerial struct {
	OID    ident.OID
	Serial ident.TID
}

func OneSerial(serial ident.TID) StoreResult {
	return StoreResult{Kind: KindOne, One: serial}
}

func ManySerials(pairs ...OIDSerial) StoreResult {
	return StoreResult{Kind: KindMany, Many: pairs}
}

func Failed(err error) StoreResult {
	return StoreResult{Kind: KindFailed, Err: err}
}

// ResolvedSerial is the sentinel serial a Storage returns for an OID whose
// write went through application-level conflict resolution: the
// authoritative merged state now lives only in storage, and the object
// must ghost rather than keep its superseded in-memory state (spec.md
// §4.4, §8 scenario "Resolution").
var ResolvedSerial = ident.TID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xfe}

// TxnHandle is the opaque token Storage calls are keyed on for the
// lifetime of one two-phase commit. Connection and Transaction pass the
// same handle to every Storage call within one tpc_begin/finish bracket.
type TxnHandle interface {
	// ID is used only for logging/tracing; Storage must not rely on its
	// format.
	ID() string
}

// Storage is the contract spec.md §6 calls "Consumed (Storage)".
type Storage interface {
	// Load returns the current revision of oid in the given version ("" for
	// trunk).
	Load(oid ident.OID, version string) (data []byte, serial ident.TID, err error)

	// LoadBefore returns the revision of oid that was current strictly
	// before asOf, along with the range [start, end) of transactions for
	// which that revision was current. ok is false if there is no such
	// revision (oid does not exist yet, or storage does not retain enough
	// history); hasEnd is false if the revision is still current.
	LoadBefore(oid ident.OID, asOf ident.TID) (data []byte, start ident.TID, end ident.TID, hasEnd, ok bool, err error)

	// LoadSerial returns the exact revision of oid written by tid.
	LoadSerial(oid ident.OID, tid ident.TID) (data []byte, err error)

	// Store writes data as the new revision of oid, asserting that the
	// revision it supersedes is prevSerial (the zero TID for a new
	// object). The returned StoreResult tells Connection what serial(s)
	// to record, or carries a storage-level error.
	Store(oid ident.OID, prevSerial ident.TID, data []byte, version string, txn TxnHandle) (StoreResult, error)

	// NewOID allocates a fresh, storage-unique OID.
	NewOID() (ident.OID, error)

	TPCBegin(txn TxnHandle) error
	// TPCFinish commits txn. callback, if non-nil, MUST be invoked with the
	// newly assigned TID while Storage still holds whatever internal lock
	// serializes commits, before TPCFinish returns — this is the ordering
	// guarantee spec.md §5 relies on to deliver invalidations before any
	// peer can observe the new revision.
	TPCFinish(txn TxnHandle, callback func(tid ident.TID)) (ident.TID, error)
	TPCAbort(txn TxnHandle) error

	// SortKey gives the Transaction coordinator a deterministic order in
	// which to drive multiple data managers sharing this Storage.
	SortKey() string
	IsReadOnly() bool
	// GetSize reports the storage's notion of its own size (object count
	// for MemStorage/TmpStore), for diagnostics.
	GetSize() int
}

// Voter is an optional Storage capability: spec.md's tpc_vote is forwarded
// "if storage supports voting", exactly the optional-method pattern the
// teacher uses for its own Syncer-style capabilities.
type Voter interface {
	TPCVote(txn TxnHandle) (StoreResult, error)
}

// Syncer is an optional Storage capability backing Connection.Sync.
type Syncer interface {
	Sync() error
}
