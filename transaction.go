package godbconn

import (
	"sort"
	"sync"

	"github.com/objectgraph/godbconn/persistent"
	"github.com/objectgraph/godbconn/storage"
)

// Txn is the opaque per-commit token threaded through every Storage and
// DataManager call within one tpc_begin/tpc_finish bracket. *Transaction
// satisfies it, so the coordinator below can hand itself to both.
type Txn = storage.TxnHandle

// DataManager is the two-phase-commit participant contract spec.md §6
// calls "Exposed (Transaction manager)": tpc_begin, commit, tpc_vote,
// tpc_finish, tpc_abort, sortKey, abort. *Connection implements it.
type DataManager interface {
	SortKey() string
	TPCBegin(txn Txn, sub bool) error
	// Commit handles the registration of one object; obj == nil is the
	// connection-self hook (spec.md §4.4's "obj == self").
	Commit(obj persistent.Object, txn Txn) error
	TPCVote(txn Txn) error
	TPCFinish(txn Txn) error
	TPCAbort(txn Txn) error
	// Abort is the lightweight per-object hook spec.md's "abort" names
	// separately from tpc_abort: obj == nil is the connection-self hook.
	// The reference Transaction coordinator below never calls it (it only
	// ever drives whole-manager TPCAbort); it exists on the interface for
	// transaction managers that drive Connection at per-object granularity.
	Abort(obj persistent.Object, txn Txn) error
}

// TransactionManager is the ambient "current transaction" accessor
// spec.md §4.3 describes; Connection falls back to it when no
// Connection-local Transaction has been set via SetLocalTransaction.
type TransactionManager interface {
	Current() *Transaction
}

type registration struct {
	dm  DataManager
	obj persistent.Object
}

// Transaction is a minimal reference two-phase-commit coordinator: it
// drives the data managers registered with it through tpc_begin, the
// per-object commit walk, tpc_vote and tpc_finish, in the order spec.md
// §4.4 describes. The Transaction manager itself is an external
// collaborator per spec.md §1; this type exists only so the module is
// runnable and testable end to end without a real transaction package
// wired in.
type Transaction struct {
	id string

	mu       sync.Mutex
	joined   map[DataManager]bool
	managers []DataManager
	objects  []registration
}

// NewTransaction starts a fresh coordinator identified by id, which is
// used only for logging/tracing (storage.TxnHandle's contract).
func NewTransaction(id string) *Transaction {
	return &Transaction{id: id, joined: make(map[DataManager]bool)}
}

func (t *Transaction) ID() string { return t.id }

// Register joins dm to this transaction (once) and records obj as one of
// its commit-time participants; obj == nil registers only the connection
// self-hook. This is what Connection.Register calls on the current
// transaction (spec.md's `getTransaction().register(obj)`).
func (t *Transaction) Register(dm DataManager, obj persistent.Object) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.joined[dm] {
		t.joined[dm] = true
		t.managers = append(t.managers, dm)
	}
	t.objects = append(t.objects, registration{dm: dm, obj: obj})
}

func (t *Transaction) snapshot() ([]DataManager, []registration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	managers := append([]DataManager(nil), t.managers...)
	objects := append([]registration(nil), t.objects...)
	return managers, objects
}

// Commit drives the full two-phase-commit protocol across every data
// manager joined to this transaction, sorted by SortKey for a
// deterministic order across managers sharing a storage (spec.md §4.3).
// A failure in tpc_begin, commit or tpc_vote triggers tpc_abort on every
// joined manager before the error is returned; a tpc_finish failure is
// returned without aborting.
func (t *Transaction) Commit() error {
	managers, objects := t.snapshot()
	sort.Slice(managers, func(i, j int) bool {
		return managers[i].SortKey() < managers[j].SortKey()
	})

	for _, dm := range managers {
		if err := dm.TPCBegin(t, false); err != nil {
			t.abortManagers(managers)
			return err
		}
	}
	for _, reg := range objects {
		if err := reg.dm.Commit(reg.obj, t); err != nil {
			t.abortManagers(managers)
			return err
		}
	}
	for _, dm := range managers {
		if err := dm.TPCVote(t); err != nil {
			t.abortManagers(managers)
			return err
		}
	}
	for _, dm := range managers {
		if err := dm.TPCFinish(t); err != nil {
			// tpc_finish failures are not recoverable by abort: at least
			// one manager may already have committed.
			return err
		}
	}
	return nil
}

// Abort tpc_aborts every manager joined to this transaction, for use when
// the transaction is abandoned before Commit is called.
func (t *Transaction) Abort() error {
	managers, _ := t.snapshot()
	return t.abortManagers(managers)
}

func (t *Transaction) abortManagers(managers []DataManager) error {
	var firstErr error
	for _, dm := range managers {
		if err := dm.TPCAbort(t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ Txn = (*Transaction)(nil)
