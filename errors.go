package godbconn

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors for the simple, state-free failure kinds from spec.md §7.
var (
	ErrConnectionClosed      = errors.New("godbconn: connection is closed")
	ErrInvalidObjectReference = errors.New("godbconn: object is already bound to another connection")
	ErrNotPersistent         = errors.New("godbconn: value does not implement persistent.Object")
)

// ReadConflictError is raised by setstate (and by a sticky re-check in
// commit) when an invalidation is pending for OID and no MVCC fallback,
// independence capability, or prior acceptance is available. Sticky: once
// raised for an OID, Connection records it in conflicts and every
// subsequent commit of that OID within the same transaction re-raises it
// (spec.md §8 "Stickiness").
type ReadConflictError struct {
	OID OID
}

func (e *ReadConflictError) Error() string {
	return fmt.Sprintf("godbconn: read conflict on oid %s", e.OID)
}

// ConflictError is raised at commit time for a Modified object whose OID
// was invalidated by a peer and which has no ConflictResolver capability.
type ConflictError struct {
	OID OID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("godbconn: write conflict on oid %s", e.OID)
}

// wrapStorageError attaches oid/operation context to an error a Storage
// implementation returned, while keeping the original error recoverable
// via errors.Cause/errors.As — spec.md §7 requires storage errors be
// "re-raised immediately without mutating object metadata", which is a
// statement about the object, not about the error value: Connection is
// free to add context as long as it doesn't silently swallow or replace
// the underlying cause.
func wrapStorageError(op string, oid OID, err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "godbconn: storage %s failed for oid %s", op, oid)
}
