package ident

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// OID is the opaque, fixed-width identifier of a persistent object. It is
// unique within a database and stable for the lifetime of the object.
type OID [16]byte

// ZeroOID is the identifier of the database root, spec.md's z64.
var ZeroOID OID

// NewOID allocates a fresh, random OID. Storage implementations are free to
// use a different allocation strategy (sequence, hash) as long as the
// result is unique within the database; MemStorage uses this one.
func NewOID() OID {
	var oid OID
	copy(oid[:], uuid.New()[:])
	return oid
}

// IsZero reports whether oid is the root OID.
func (oid OID) IsZero() bool {
	return oid == ZeroOID
}

// String renders the OID as hex, matching spec.md's "OIDs shown as hex"
// convention in its worked scenarios.
func (oid OID) String() string {
	return hex.EncodeToString(oid[:])
}

// Less gives OID a total order, for callers that need a stable iteration
// order over an OID set.
func (oid OID) Less(other OID) bool {
	for i := range oid {
		if oid[i] != other[i] {
			return oid[i] < other[i]
		}
	}
	return false
}
