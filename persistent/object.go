// Package persistent defines the contract a type must satisfy to be stored
// in and loaded from a Connection's object cache: identity, a back-pointer
// to its owning Connection, a tri-state dirty flag, and the serial of the
// revision currently held in memory.
//
// The optional conflict-handling hooks that spec.md models as dynamic
// attribute probes on the Python side (_p_independent, _p_resolveConflict)
// are modeled here as ordinary Go interfaces, probed with a type assertion
// at the one or two call sites that need them.
package persistent

import "github.com/objectgraph/godbconn/ident"

// ChangeState mirrors the tri-state _p_changed flag from spec.md: a ghost
// has no loaded state, Unmodified is a loaded-but-clean object, Modified is
// dirty and due to be written at the next commit.
type ChangeState uint8

const (
	Ghost ChangeState = iota
	Unmodified
	Modified
)

func (s ChangeState) String() string {
	switch s {
	case Ghost:
		return "ghost"
	case Unmodified:
		return "unmodified"
	case Modified:
		return "modified"
	default:
		return "invalid"
	}
}

// Jar is the minimal surface of a Connection that a persistent Object needs
// to see through its back-pointer. It exists so this package does not need
// to import the root package (which imports persistent), and so that
// objects hold a narrow capability rather than a whole Connection.
type Jar interface {
	// ConnectionID distinguishes one Jar from another without requiring
	// pointer comparison across package boundaries to leak implementation
	// details; Connection satisfies this with an identity assigned at
	// construction and stable for its whole lifetime.
	ConnectionID() uint64
}

// Object is the interface every type stored in a Connection's cache must
// implement. It is the Go analogue of spec.md's persistent object: OID,
// Jar, Changed and Serial correspond to _p_oid, _p_jar, _p_changed and
// _p_serial respectively.
type Object interface {
	OID() ident.OID
	SetOID(ident.OID)

	Jar() Jar
	SetJar(Jar)

	Changed() ChangeState
	SetChanged(ChangeState)

	Serial() ident.TID
	SetSerial(ident.TID)
}

// Independent is the optional capability corresponding to spec.md's
// _p_independent(): an object that asserts it is immune to a particular
// invalidation (e.g. an append-only log) implements this, and setstate will
// consult it before raising a read conflict.
type Independent interface {
	// PIndependent reports whether this revision of the object can be
	// trusted despite a pending invalidation. Returning true accepts the
	// freshly-loaded state and clears the invalidation for this OID.
	PIndependent() bool
}

// ConflictResolver is the optional capability corresponding to spec.md's
// _p_resolveConflict(...): a three-way merge hook consulted by the
// Transaction/commit machinery's conflict handling (the actual merge
// arithmetic lives with the Storage, per spec.md; this interface only
// gates whether a Modified write survives an invalidated OID rather than
// failing with ConflictError).
type ConflictResolver interface {
	// PResolveConflict attempts a three-way merge of the revision the
	// object started the transaction with (oldState), the revision another
	// connection committed in the meantime (committedState), and this
	// object's in-memory, modified state (newState). It returns the merged
	// bytes to store, or an error if no merge is possible.
	PResolveConflict(oldState, committedState, newState []byte) ([]byte, error)
}

// Base is an embeddable implementation of Object's bookkeeping fields.
// Application types embed Base to get OID/Jar/Changed/Serial management for
// free, the same way ZODB's Persistent base class supplies _p_oid etc.
type Base struct {
	oid     ident.OID
	jar     Jar
	changed ChangeState
	serial  ident.TID
}

func (b *Base) OID() ident.OID            { return b.oid }
func (b *Base) SetOID(oid ident.OID)      { b.oid = oid }
func (b *Base) Jar() Jar                  { return b.jar }
func (b *Base) SetJar(j Jar)              { b.jar = j }
func (b *Base) Changed() ChangeState      { return b.changed }
func (b *Base) SetChanged(s ChangeState)  { b.changed = s }
func (b *Base) Serial() ident.TID         { return b.serial }
func (b *Base) SetSerial(t ident.TID)     { b.serial = t }

// MarkModified is a convenience wrapper used by application code: touching
// an attribute setter on an embedding type should call this to register the
// dirty transition, mirroring how ZODB intercepts __setattr__.
func (b *Base) MarkModified() {
	if b.changed != Ghost {
		b.changed = Modified
	}
}
