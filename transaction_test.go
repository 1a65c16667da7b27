package godbconn

import (
	"testing"

	"github.com/objectgraph/godbconn/persistent"
)

type recordingManager struct {
	name     string
	sortKey  string
	calls    *[]string
	failAt   string
}

func (m *recordingManager) SortKey() string { return m.sortKey }
func (m *recordingManager) record(step string) {
	*m.calls = append(*m.calls, m.name+":"+step)
}
func (m *recordingManager) maybeFail(step string) error {
	if m.failAt == step {
		return errTestFailure
	}
	return nil
}
func (m *recordingManager) TPCBegin(txn Txn, sub bool) error {
	m.record("begin")
	return m.maybeFail("begin")
}
func (m *recordingManager) Commit(obj persistent.Object, txn Txn) error {
	m.record("commit")
	return m.maybeFail("commit")
}
func (m *recordingManager) TPCVote(txn Txn) error {
	m.record("vote")
	return m.maybeFail("vote")
}
func (m *recordingManager) TPCFinish(txn Txn) error {
	m.record("finish")
	return m.maybeFail("finish")
}
func (m *recordingManager) TPCAbort(txn Txn) error {
	m.record("abort")
	return nil
}
func (m *recordingManager) Abort(obj persistent.Object, txn Txn) error {
	m.record("obj-abort")
	return nil
}

type testError string

func (e testError) Error() string { return string(e) }

const errTestFailure = testError("boom")

func TestTransactionCommitOrdersBySortKey(t *testing.T) {
	var calls []string
	a := &recordingManager{name: "a", sortKey: "b", calls: &calls}
	b := &recordingManager{name: "b", sortKey: "a", calls: &calls}

	txn := NewTransaction("t1")
	txn.Register(a, nil)
	txn.Register(b, nil)

	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// b sorts before a (sortKey "a" < "b") for begin/vote/finish, but the
	// per-object commit walk follows registration order (a registered
	// first), not manager sort order.
	want := []string{"b:begin", "a:begin", "a:commit", "b:commit", "b:vote", "a:vote", "b:finish", "a:finish"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls[%d] = %q, want %q (full: %v)", i, calls[i], want[i], calls)
		}
	}
}

func TestTransactionCommitAbortsOnFailure(t *testing.T) {
	var calls []string
	a := &recordingManager{name: "a", sortKey: "a", calls: &calls}
	b := &recordingManager{name: "b", sortKey: "b", calls: &calls, failAt: "commit"}

	txn := NewTransaction("t1")
	txn.Register(a, nil)
	txn.Register(b, nil)

	err := txn.Commit()
	if err == nil {
		t.Fatalf("Commit succeeded, want the injected failure")
	}

	abortCount := 0
	for _, c := range calls {
		if c == "a:abort" || c == "b:abort" {
			abortCount++
		}
	}
	if abortCount != 2 {
		t.Fatalf("abort calls = %d, want 2 (both managers aborted): %v", abortCount, calls)
	}
}

func TestTransactionJoinsEachManagerOnce(t *testing.T) {
	var calls []string
	a := &recordingManager{name: "a", sortKey: "a", calls: &calls}

	txn := NewTransaction("t1")
	txn.Register(a, nil)
	txn.Register(a, nil)

	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	beginCount := 0
	commitCount := 0
	for _, c := range calls {
		switch c {
		case "a:begin":
			beginCount++
		case "a:commit":
			commitCount++
		}
	}
	if beginCount != 1 {
		t.Fatalf("begin called %d times, want 1 (manager joins once)", beginCount)
	}
	if commitCount != 2 {
		t.Fatalf("commit called %d times, want 2 (once per registration)", commitCount)
	}
}
