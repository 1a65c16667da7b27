package godbconn

import (
	"fmt"

	"github.com/objectgraph/godbconn/persistent"
	"github.com/objectgraph/godbconn/storage"
)

// TPCBegin resets the per-transaction bookkeeping and, for a
// subtransaction, swaps in a fresh TmpStore (spec.md §4.4, §4.5).
func (c *Connection) TPCBegin(txn Txn, sub bool) error {
	c.modified = c.modified[:0]
	c.creating = c.creating[:0]
	if sub && c.tmp == nil {
		c.tmp = c.storage
		c.storage = storage.NewTmpStore(c.version)
	}
	return c.storage.TPCBegin(txn)
}

// Commit is called once per object registered with the transaction;
// obj == nil is the connection-self hook (spec.md §4.4). For a normal
// object it classifies the object (added / modified / clean — "new" is
// handled defensively but unreachable given Register's precondition),
// then walks the Codec's write sequence together with any objects Add
// synthesizes mid-walk.
func (c *Connection) Commit(obj persistent.Object, txn Txn) error {
	if obj == nil {
		// The connection-self hook would resume an in-progress import
		// here; import/export is out of scope for this module.
		return nil
	}

	oid := obj.OID()
	if c.conflicts[oid] {
		if err := c.Register(obj); err != nil {
			c.logger.Printf("re-register during sticky conflict for oid %s: %v", oid, err)
		}
		return &ReadConflictError{OID: oid}
	}

	_, isAdded := c.added[oid]
	switch {
	case obj.Jar() != persistent.Jar(c):
		newOID, err := c.storage.NewOID()
		if err != nil {
			return fmt.Errorf("godbconn: allocate oid: %w", err)
		}
		obj.SetOID(newOID)
		obj.SetJar(c)
		c.creating = append(c.creating, newOID)
	case isAdded:
		c.creating = append(c.creating, oid)
		delete(c.added, oid)
	case obj.Changed() == persistent.Modified:
		if c.isInvalidated(oid) {
			if _, ok := obj.(persistent.ConflictResolver); !ok {
				return &ConflictError{OID: oid}
			}
		}
		c.modified = append(c.modified, oid)
	default:
		return nil
	}

	return c.commitWalk(obj, txn)
}

// commitWalk drains the Codec's write sequence for obj together with any
// objects Add synthesizes during the walk (spec.md's "added_during_commit"),
// storing each one and applying the storage's response.
func (c *Connection) commitWalk(obj persistent.Object, txn Txn) error {
	queue := make([]persistent.Object, 0, 4)
	c.addedDuringCommit = &queue
	defer func() { c.addedDuringCommit = nil }()

	seq := c.codec.Walk(obj)
	idx := 0
	for {
		var o persistent.Object
		switch {
		case idx < len(seq):
			o = seq[idx]
			idx++
		case len(queue) > 0:
			o = queue[0]
			queue = queue[1:]
			*c.addedDuringCommit = queue
		default:
			return nil
		}

		oOID := o.OID()
		prevSerial := o.Serial()
		if prevSerial.IsZero() {
			c.creating = append(c.creating, oOID)
			delete(c.added, oOID)
		} else {
			if c.isInvalidated(oOID) {
				if _, ok := o.(persistent.ConflictResolver); !ok {
					return &ConflictError{OID: oOID}
				}
			}
			c.modified = append(c.modified, oOID)
		}

		data, err := c.codec.Serialize(o)
		if err != nil {
			return fmt.Errorf("godbconn: serialize oid %s: %w", oOID, err)
		}

		result, err := c.storage.Store(oOID, prevSerial, data, c.version, txn)
		if err != nil {
			return wrapStorageError("store", oOID, err)
		}
		c.storeCount++
		if c.db != nil {
			c.db.RecordVersion(oOID, c.version)
		}

		// Generic unwrap hook in place of the source's aq_base fallback
		// (DESIGN NOTES §9): insert whatever Unwrap says is the real
		// object to cache under this OID.
		if target, ok := c.codec.Unwrap(o); ok {
			c.cache.Set(oOID, target)
		} else {
			c.cache.Set(oOID, o)
		}

		if err := c.handleStoreResult(result, oOID, true); err != nil {
			return err
		}
	}
}

// handleStoreResult applies a storage.StoreResult the way spec.md's
// _handle_serial does: nothing for KindNone, a single serial applied to
// oid for KindOne, each pair applied for KindMany, and an immediate
// passthrough for KindFailed.
func (c *Connection) handleStoreResult(result storage.StoreResult, oid OID, change bool) error {
	switch result.Kind {
	case storage.KindNone:
		return nil
	case storage.KindOne:
		return c.handleOneSerial(oid, result.One, change)
	case storage.KindMany:
		for _, pair := range result.Many {
			if err := c.handleOneSerial(pair.OID, pair.Serial, change); err != nil {
				return err
			}
		}
		return nil
	case storage.KindFailed:
		return wrapStorageError("store", oid, result.Err)
	default:
		return fmt.Errorf("godbconn: storage returned an unrecognized result kind")
	}
}

// handleOneSerial is spec.md's _handle_one_serial: a cache miss is
// ignored, ResolvedSerial ghosts the object (the merged state now lives
// only in storage), and otherwise the object's serial (and, if change,
// its changed flag) is updated.
func (c *Connection) handleOneSerial(oid OID, serial TID, change bool) error {
	obj, ok := c.cache.Get(oid)
	if !ok {
		return nil
	}
	if serial == storage.ResolvedSerial {
		obj.SetChanged(persistent.Ghost)
		return nil
	}
	if change {
		obj.SetChanged(persistent.Unmodified)
	}
	obj.SetSerial(serial)
	return nil
}

// TPCVote forwards to storage if it implements storage.Voter, applying
// whatever serials it returns (spec.md §4.4).
func (c *Connection) TPCVote(txn Txn) error {
	voter, ok := c.storage.(storage.Voter)
	if !ok {
		return nil
	}
	result, err := voter.TPCVote(txn)
	if err != nil {
		return wrapStorageError("vote", ZeroOID, err)
	}
	switch result.Kind {
	case storage.KindNone:
		return nil
	case storage.KindMany:
		for _, pair := range result.Many {
			if err := c.handleOneSerial(pair.OID, pair.Serial, true); err != nil {
				return err
			}
		}
		return nil
	case storage.KindFailed:
		return wrapStorageError("vote", ZeroOID, result.Err)
	default:
		return fmt.Errorf("godbconn: tpc_vote returned a single-serial result with no associated oid")
	}
}

// TPCFinish completes the commit (spec.md §4.4). Inside a subtransaction
// it only finishes the TmpStore and resets the local creating list, since
// promotion into the real storage is commit_sub's job. Otherwise it passes
// a callback to storage.TPCFinish that the storage MUST invoke under its
// commit lock (spec.md §5's ordering guarantee) and that asks the Database
// to broadcast invalidations for the modified set before returning.
func (c *Connection) TPCFinish(txn Txn) error {
	if c.tmp != nil {
		if _, err := c.storage.TPCFinish(txn, nil); err != nil {
			return err
		}
		c.creating = c.creating[:0]
		return nil
	}

	if _, err := c.storage.TPCFinish(txn, func(tid TID) {
		if c.db != nil {
			c.db.Invalidate(tid, append([]OID(nil), c.modified...), c)
		}
	}); err != nil {
		return err
	}

	c.conflicts = make(map[OID]bool)
	c.flushInvalidations()
	return nil
}

// TPCAbort rolls back the in-progress transaction: forwards the abort to
// storage, ghosts every modified object, flushes invalidations, drops
// every creating object's cache entry and jar/oid binding, and unbinds
// every still-pending Add (spec.md §4.4, §8 invariant 6).
func (c *Connection) TPCAbort(txn Txn) error {
	err := c.storage.TPCAbort(txn)
	c.cache.Invalidate(c.modified...)
	c.flushInvalidations()
	c.conflicts = make(map[OID]bool)
	c.unbindCreating(c.creating)
	c.creating = nil
	for oid, obj := range c.added {
		obj.SetJar(nil)
		obj.SetOID(ZeroOID)
		delete(c.added, oid)
	}
	return err
}

// Abort is the lightweight per-object hook distinct from TPCAbort: obj
// == nil flushes invalidations (the connection-self hook); an object
// still in added is simply unbound; anything else is ghosted in the
// cache (spec.md §6's "abort", as opposed to "tpc_abort").
func (c *Connection) Abort(obj persistent.Object, txn Txn) error {
	if obj == nil {
		c.flushInvalidations()
		return nil
	}
	oid := obj.OID()
	if _, ok := c.added[oid]; ok {
		delete(c.added, oid)
		obj.SetJar(nil)
		obj.SetOID(ZeroOID)
		return nil
	}
	c.cache.Invalidate(oid)
	return nil
}

// unbindCreating drops every oid in creating from the cache and clears
// its object's jar/oid binding (spec.md's _invalidate_creating).
func (c *Connection) unbindCreating(creating []OID) {
	for _, oid := range creating {
		if obj, ok := c.cache.Get(oid); ok {
			c.cache.Delete(oid)
			obj.SetJar(nil)
			obj.SetOID(ZeroOID)
		}
	}
}

// CommitSub promotes a subtransaction's TmpStore contents into the real
// storage (spec.md §4.5): swap back to the real storage, begin a TPC
// bracket on it, replay every OID the TmpStore holds, and fold the
// TmpStore's modified/creating sets into this Connection's own.
func (c *Connection) CommitSub(txn Txn) error {
	if c.tmp == nil {
		return nil
	}
	real := c.tmp
	ts, ok := c.storage.(*storage.TmpStore)
	if !ok {
		return fmt.Errorf("godbconn: connection is marked as subtransacted but its active storage is not a TmpStore")
	}
	c.storage = real
	c.tmp = nil

	if err := real.TPCBegin(txn); err != nil {
		return err
	}

	creating := make(map[OID]bool, len(ts.Creating()))
	for _, oid := range ts.Creating() {
		creating[oid] = true
	}

	oids := ts.OIDs()
	for _, oid := range oids {
		data, _, err := ts.Load(oid, "")
		if err != nil {
			return wrapStorageError("load", oid, err)
		}

		// The serial ts.Load returns is internal to the TmpStore's own
		// version chain, not the real storage's — it is meaningless as a
		// prevSerial for real.Store. A creating oid is brand new to real
		// storage (prevSerial zero); anything else was loaded from real
		// storage before the subtransaction began, so its current real
		// serial is the correct prevSerial.
		var prevSerial TID
		if !creating[oid] {
			_, realSerial, err := real.Load(oid, c.version)
			if err != nil {
				return wrapStorageError("load", oid, err)
			}
			prevSerial = realSerial
		}

		result, err := real.Store(oid, prevSerial, data, c.version, txn)
		if err != nil {
			return wrapStorageError("store", oid, err)
		}
		// Subtransaction commits already cleared the changed flag when
		// their own store results were applied, so change=false here
		// (spec.md §4.5).
		if err := c.handleStoreResult(result, oid, false); err != nil {
			return err
		}
	}

	c.modified = append(c.modified, oids...)
	c.creating = append(c.creating, ts.Creating()...)
	return nil
}

// AbortSub discards a subtransaction's TmpStore contents (spec.md §4.5):
// swap back to the real storage, ghost everything the TmpStore held, and
// unbind anything it created.
func (c *Connection) AbortSub(txn Txn) error {
	if c.tmp == nil {
		return nil
	}
	real := c.tmp
	ts, ok := c.storage.(*storage.TmpStore)
	if !ok {
		return fmt.Errorf("godbconn: connection is marked as subtransacted but its active storage is not a TmpStore")
	}
	c.tmp = nil
	c.storage = real

	c.cache.Invalidate(ts.OIDs()...)
	c.unbindCreating(ts.Creating())
	return nil
}
