package storage

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/objectgraph/godbconn/ident"
)

// revision is one entry in an OID's version chain: the bytes that were
// current for [start, end), or [start, ∞) if hasEnd is false. Grounded on
// the teacher's RowVersion chain (internal/storage/mvcc.go), generalized
// from row ids to OIDs and from row columns to opaque bytes.
type revision struct {
	data    []byte
	start   ident.TID
	end     ident.TID
	hasEnd  bool
}

type pendingWrite struct {
	data       []byte
	prevSerial ident.TID
}

type txnState struct {
	tid    ident.TID
	writes map[ident.OID]pendingWrite
}

// MemStorage is a reference, in-memory Storage: a version chain per OID
// plus a reserved-TID-at-begin two-phase-commit protocol. It exists so the
// rest of this module (Connection, Database) can be built and tested
// end-to-end without a real storage engine, per spec.md §1's "Storage
// engine ... treated as an opaque interface".
//
// Concurrency mirrors the teacher's MVCCManager
// (internal/storage/mvcc.go): a narrow commitMu serializes the
// reserve-TID/apply-writes/invoke-callback sequence (this is the "commit
// lock" spec.md §5 requires invalidation delivery to happen under), while
// dataMu is a separate RWMutex guarding the version chains themselves so
// concurrent Loads are never blocked by an in-flight but not yet finished
// commit.
type MemStorage struct {
	dataMu sync.RWMutex
	chains map[ident.OID][]revision

	commitMu sync.Mutex
	txns     map[TxnHandle]*txnState
	nextTID  atomic.Uint64

	readOnly bool
}

// NewMemStorage returns an empty MemStorage.
func NewMemStorage() *MemStorage {
	return &MemStorage{
		chains: make(map[ident.OID][]revision),
		txns:   make(map[TxnHandle]*txnState),
	}
}

// Seed installs data as the first revision of oid outside of any
// transaction, for test and bootstrap use (building the database root
// before any Connection exists). It returns the TID assigned.
func (ms *MemStorage) Seed(oid ident.OID, data []byte) ident.TID {
	tid := ident.TIDFromUint64(ms.nextTID.Add(1))
	ms.dataMu.Lock()
	defer ms.dataMu.Unlock()
	ms.chains[oid] = append(ms.chains[oid], revision{data: data, start: tid})
	return tid
}

func (ms *MemStorage) Load(oid ident.OID, version string) ([]byte, ident.TID, error) {
	if version != "" {
		return nil, ident.TID{}, fmt.Errorf("godbconn/storage: named versions not supported by MemStorage")
	}
	ms.dataMu.RLock()
	defer ms.dataMu.RUnlock()
	chain := ms.chains[oid]
	if len(chain) == 0 {
		return nil, ident.TID{}, fmt.Errorf("godbconn/storage: no object with oid %s", oid)
	}
	last := chain[len(chain)-1]
	return last.data, last.start, nil
}

func (ms *MemStorage) LoadBefore(oid ident.OID, asOf ident.TID) (data []byte, start ident.TID, end ident.TID, hasEnd, ok bool, err error) {
	ms.dataMu.RLock()
	defer ms.dataMu.RUnlock()
	for _, rev := range ms.chains[oid] {
		if rev.start.Before(asOf) && (!rev.hasEnd || asOf.BeforeOrEqual(rev.end)) {
			return rev.data, rev.start, rev.end, rev.hasEnd, true, nil
		}
	}
	return nil, ident.TID{}, ident.TID{}, false, false, nil
}

func (ms *MemStorage) LoadSerial(oid ident.OID, tid ident.TID) ([]byte, error) {
	ms.dataMu.RLock()
	defer ms.dataMu.RUnlock()
	for _, rev := range ms.chains[oid] {
		if rev.start == tid {
			return rev.data, nil
		}
	}
	return nil, fmt.Errorf("godbconn/storage: no revision of %s at tid %s", oid, tid)
}

func (ms *MemStorage) TPCBegin(txn TxnHandle) error {
	ms.commitMu.Lock()
	defer ms.commitMu.Unlock()
	if ms.readOnly {
		return fmt.Errorf("godbconn/storage: storage is read-only")
	}
	if _, exists := ms.txns[txn]; exists {
		return nil // already begun, tolerate re-entry the way sub-tpc_begin does
	}
	ms.txns[txn] = &txnState{
		tid:    ident.TIDFromUint64(ms.nextTID.Add(1)),
		writes: make(map[ident.OID]pendingWrite),
	}
	return nil
}

func (ms *MemStorage) Store(oid ident.OID, prevSerial ident.TID, data []byte, version string, txn TxnHandle) (StoreResult, error) {
	if version != "" {
		return StoreResult{}, fmt.Errorf("godbconn/storage: named versions not supported by MemStorage")
	}
	ms.commitMu.Lock()
	st, ok := ms.txns[txn]
	ms.commitMu.Unlock()
	if !ok {
		return StoreResult{}, fmt.Errorf("godbconn/storage: store outside tpc_begin")
	}

	ms.dataMu.RLock()
	chain := ms.chains[oid]
	var current ident.TID
	if len(chain) > 0 {
		current = chain[len(chain)-1].start
	}
	ms.dataMu.RUnlock()

	if !prevSerial.IsZero() && current != prevSerial {
		return Failed(fmt.Errorf("godbconn/storage: write-write conflict on %s: expected serial %s, have %s", oid, prevSerial, current)), nil
	}

	st.writes[oid] = pendingWrite{data: data, prevSerial: prevSerial}
	return OneSerial(st.tid), nil
}

func (ms *MemStorage) TPCVote(txn TxnHandle) (StoreResult, error) {
	ms.commitMu.Lock()
	_, ok := ms.txns[txn]
	ms.commitMu.Unlock()
	if !ok {
		return StoreResult{}, fmt.Errorf("godbconn/storage: vote outside tpc_begin")
	}
	return StoreResult{}, nil
}

func (ms *MemStorage) TPCFinish(txn TxnHandle, callback func(tid ident.TID)) (ident.TID, error) {
	ms.commitMu.Lock()
	defer ms.commitMu.Unlock()

	st, ok := ms.txns[txn]
	if !ok {
		return ident.TID{}, fmt.Errorf("godbconn/storage: finish outside tpc_begin")
	}

	ms.dataMu.Lock()
	for oid, w := range st.writes {
		chain := ms.chains[oid]
		if n := len(chain); n > 0 {
			chain[n-1].hasEnd = true
			chain[n-1].end = st.tid
		}
		ms.chains[oid] = append(chain, revision{data: w.data, start: st.tid})
	}

	delete(ms.txns, txn)

	// The callback MUST run here, while commitMu and dataMu are still
	// held: this is the ordering guarantee spec.md §5 documents — no peer
	// can see the new revision (via Load, which only needs dataMu) before
	// invalidation has been dispatched to it.
	if callback != nil {
		callback(st.tid)
	}
	ms.dataMu.Unlock()
	return st.tid, nil
}

func (ms *MemStorage) TPCAbort(txn TxnHandle) error {
	ms.commitMu.Lock()
	defer ms.commitMu.Unlock()
	delete(ms.txns, txn)
	return nil
}

func (ms *MemStorage) NewOID() (ident.OID, error) {
	return ident.NewOID(), nil
}

func (ms *MemStorage) SortKey() string {
	return fmt.Sprintf("memstorage:%p", ms)
}

func (ms *MemStorage) IsReadOnly() bool { return ms.readOnly }

func (ms *MemStorage) GetSize() int {
	ms.dataMu.RLock()
	defer ms.dataMu.RUnlock()
	return len(ms.chains)
}

// Sync is a no-op for MemStorage; present so MemStorage satisfies Syncer.
func (ms *MemStorage) Sync() error { return nil }

var (
	_ Storage = (*MemStorage)(nil)
	_ Voter   = (*MemStorage)(nil)
	_ Syncer  = (*MemStorage)(nil)
)
