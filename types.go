package godbconn

import "github.com/objectgraph/godbconn/ident"

// OID and TID are re-exported from the ident package so application code
// importing godbconn never needs a second import for the identifier types
// threaded through every public signature here.
type (
	OID = ident.OID
	TID = ident.TID
)

// ZeroOID and ZeroTID are re-exported zero-value sentinels; see ident.
var (
	ZeroOID = ident.ZeroOID
	ZeroTID = ident.ZeroTID
)

// NewOID allocates a fresh OID; see ident.NewOID.
func NewOID() OID { return ident.NewOID() }

// TIDFromUint64 builds a TID from a counter; see ident.TIDFromUint64.
func TIDFromUint64(n uint64) TID { return ident.TIDFromUint64(n) }
