package godbconn

import "fmt"

// Invalidate is called by the Database on behalf of peer commits,
// from whatever goroutine the Database's broadcast machinery runs on
// (spec.md §4.6, §5). It is additive and idempotent and never touches the
// cache directly: invalidation is lazy, consumed by setstate and by
// flushInvalidations.
func (c *Connection) Invalidate(tid TID, oids []OID) {
	c.invMu.Lock()
	defer c.invMu.Unlock()
	if !c.txnTimeSet {
		c.txnTime = tid
		c.txnTimeSet = true
	}
	for _, oid := range oids {
		c.invalidated[oid] = true
	}
}

// flushInvalidations is called at transaction boundaries — abort, finish,
// sync, initial bind (spec.md §4.6). The cache update happens while still
// holding invMu, so a single peer transaction's invalidations apply
// atomically (spec.md §5); only the incremental sweep runs after release.
func (c *Connection) flushInvalidations() {
	c.invMu.Lock()
	for oid := range c.noncurrent {
		if !c.invalidated[oid] {
			panic(fmt.Sprintf("godbconn: invariant violated: noncurrent oid %s is not in invalidated", oid))
		}
	}
	toInvalidate := make([]OID, 0, len(c.invalidated))
	for oid := range c.invalidated {
		toInvalidate = append(toInvalidate, oid)
	}
	c.cache.Invalidate(toInvalidate...)
	c.invalidated = make(map[OID]bool)
	c.noncurrent = make(map[OID]bool)
	c.txnTimeSet = false
	c.txnTime = ZeroTID
	c.invMu.Unlock()

	c.cache.IncrGC()
}
