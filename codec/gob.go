package codec

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"reflect"
	"sync"

	"github.com/objectgraph/godbconn/persistent"
)

// GobCodec is the reference Codec: encoding/gob over a small registry of
// application types, grounded on the teacher's own use of encoding/gob for
// catalog snapshots (internal/storage/db.go registers concrete table types
// with gob.Register before encoding; GobCodec keeps its own registry
// instead of the package-global one, one per codec instance, so that
// independent Connections/tests never collide on type names).
//
// Only a type's exported fields travel over the wire: the bookkeeping
// fields Object/Base owns (oid, jar, changed, serial) are unexported and
// gob silently skips them, which is exactly what we want — that state is
// managed by Connection, not by application state.
type GobCodec struct {
	mu        sync.RWMutex
	factories map[string]func() persistent.Object
	typeNames map[reflect.Type]string
}

// NewGobCodec returns an empty codec; call Register for every concrete
// persistent.Object type the application uses before it is reachable
// through get/add.
func NewGobCodec() *GobCodec {
	return &GobCodec{
		factories: make(map[string]func() persistent.Object),
		typeNames: make(map[reflect.Type]string),
	}
}

// Register associates name with factory, the constructor GobCodec calls to
// allocate a fresh zero-value instance before decoding into it.
func (c *GobCodec) Register(name string, factory func() persistent.Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[name] = factory
	c.typeNames[reflect.TypeOf(factory())] = name
}

type envelope struct {
	Type string
}

func (c *GobCodec) Serialize(obj persistent.Object) ([]byte, error) {
	c.mu.RLock()
	name, ok := c.typeNames[reflect.TypeOf(obj)]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("godbconn/codec: type %T is not registered", obj)
	}

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(envelope{Type: name}); err != nil {
		return nil, fmt.Errorf("godbconn/codec: encode envelope: %w", err)
	}
	if err := enc.Encode(obj); err != nil {
		return nil, fmt.Errorf("godbconn/codec: encode %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func (c *GobCodec) factoryFor(data []byte) (string, func() persistent.Object, error) {
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return "", nil, fmt.Errorf("godbconn/codec: decode envelope: %w", err)
	}
	c.mu.RLock()
	factory, ok := c.factories[env.Type]
	c.mu.RUnlock()
	if !ok {
		return "", nil, fmt.Errorf("godbconn/codec: type %q is not registered", env.Type)
	}
	return env.Type, factory, nil
}

func (c *GobCodec) NewGhost(data []byte) (persistent.Object, error) {
	_, factory, err := c.factoryFor(data)
	if err != nil {
		return nil, err
	}
	obj := factory()
	obj.SetChanged(persistent.Ghost)
	return obj, nil
}

func (c *GobCodec) SetGhostState(obj persistent.Object, data []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(data))
	var env envelope
	if err := dec.Decode(&env); err != nil {
		return fmt.Errorf("godbconn/codec: decode envelope: %w", err)
	}
	if err := dec.Decode(obj); err != nil {
		return fmt.Errorf("godbconn/codec: decode %s: %w", env.Type, err)
	}
	return nil
}

func (c *GobCodec) GetState(data []byte) (persistent.Object, error) {
	obj, err := c.NewGhost(data)
	if err != nil {
		return nil, err
	}
	if err := c.SetGhostState(obj, data); err != nil {
		return nil, err
	}
	obj.SetChanged(persistent.Unmodified)
	return obj, nil
}

func (c *GobCodec) Walk(obj persistent.Object) []persistent.Object {
	out := []persistent.Object{obj}
	if rw, ok := obj.(ReferenceWalker); ok {
		out = append(out, rw.PReferences()...)
	}
	return out
}

func (c *GobCodec) Unwrap(obj persistent.Object) (persistent.Object, bool) {
	if u, ok := obj.(Unwrapper); ok {
		return u.PUnwrap(), true
	}
	return obj, false
}

var _ Codec = (*GobCodec)(nil)
