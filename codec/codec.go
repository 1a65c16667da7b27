// Package codec defines the ObjectCodec contract (spec.md §2.2, §6): the
// opaque encoder/decoder that turns an object's transient state into bytes
// and reconstructs ghost shells from bytes. Connection treats it as a
// black box; GobCodec is the reference implementation.
package codec

import "github.com/objectgraph/godbconn/persistent"

// Codec is the contract spec.md calls "Consumed (Codec)".
type Codec interface {
	// NewGhost allocates an object of the concrete type encoded in data,
	// in the Ghost state, without materializing its fields yet.
	NewGhost(data []byte) (persistent.Object, error)

	// SetGhostState decodes data into obj in place, the operation that
	// turns a ghost into a live object. obj's concrete type must match
	// the type data was serialized from.
	SetGhostState(obj persistent.Object, data []byte) error

	// GetState decodes data into a brand new, detached object (not bound
	// to any cache or Connection) — used by Connection.OldState to hand
	// back a historical revision without disturbing the live cache entry.
	GetState(data []byte) (persistent.Object, error)

	// Serialize encodes obj's persistent state to bytes.
	Serialize(obj persistent.Object) ([]byte, error)

	// Walk returns obj together with the transitive closure of persistent
	// objects it references and that must be written in the same commit
	// (spec.md §4.4's "Codec's write sequence").
	Walk(obj persistent.Object) []persistent.Object

	// Unwrap is the generic hook DESIGN NOTES §9 asks for in place of the
	// source's aq_base proxy-unwrapping special case: if obj is a proxy
	// around some underlying persistent object, Unwrap returns that
	// underlying object and true: ok is false for  any non-proxied object.
	Unwrap(obj persistent.Object) (underlying persistent.Object, ok bool)
}

// ReferenceWalker is an optional capability an application type can
// implement so Codec.Walk's default implementation (GobCodec's) picks up
// its outgoing persistent references automatically.
type ReferenceWalker interface {
	PReferences() []persistent.Object
}

// Unwrapper is the optional capability backing Codec.Unwrap.
type Unwrapper interface {
	PUnwrap() persistent.Object
}
