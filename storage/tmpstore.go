package storage

import (
	"fmt"

	"github.com/objectgraph/godbconn/ident"
)

// TmpStore is the auxiliary, in-memory scratch storage a Connection swaps
// in for the duration of a subtransaction (spec.md §2.3, §4.5). It
// implements the same Storage contract as any real backend so Connection's
// commit machinery cannot tell the difference, and additionally tracks
// which OIDs it touched and which of those were brand new, so commit_sub
// can promote both into the real storage in one pass.
//
// Internally it is a MemStorage: a subtransaction's writes are themselves
// a miniature two-phase commit against an ephemeral version chain that
// commit_sub reads back out via OIDs/Creating and discards.
type TmpStore struct {
	*MemStorage

	version string

	creating    []ident.OID
	creatingSet map[ident.OID]bool
}

// NewTmpStore creates a TmpStore scoped to version (empty string for
// trunk); Connection constructs one with its own version, and Store
// rejects writes for any other version.
func NewTmpStore(version string) *TmpStore {
	return &TmpStore{
		MemStorage:  NewMemStorage(),
		version:     version,
		creatingSet: make(map[ident.OID]bool),
	}
}

// Store overrides MemStorage.Store purely to additionally record newly
// created OIDs (those with a zero prevSerial) in the creating set that
// commit_sub drains.
func (t *TmpStore) Store(oid ident.OID, prevSerial ident.TID, data []byte, version string, txn TxnHandle) (StoreResult, error) {
	if version != t.version {
		return StoreResult{}, fmt.Errorf("godbconn/storage: tmpstore is scoped to version %q, got %q", t.version, version)
	}
	result, err := t.MemStorage.Store(oid, prevSerial, data, "", txn)
	if err != nil {
		return result, err
	}
	if result.Kind == KindOne && prevSerial.IsZero() && !t.creatingSet[oid] {
		t.creatingSet[oid] = true
		t.creating = append(t.creating, oid)
	}
	return result, nil
}

// OIDs returns every OID this TmpStore holds a revision for, the
// equivalent of the source's `src._index.keys()` in commit_sub.
func (t *TmpStore) OIDs() []ident.OID {
	t.dataMu.RLock()
	defer t.dataMu.RUnlock()
	out := make([]ident.OID, 0, len(t.chains))
	for oid := range t.chains {
		out = append(out, oid)
	}
	return out
}

// Creating returns the OIDs first written (prevSerial == zero) during this
// subtransaction, in the order they were first stored.
func (t *TmpStore) Creating() []ident.OID {
	out := make([]ident.OID, len(t.creating))
	copy(out, t.creating)
	return out
}
