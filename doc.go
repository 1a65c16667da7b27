// Package godbconn implements the per-session Connection of a transactional
// object database: the component that mediates between an application's
// in-memory object graph and a persistent object store.
//
// A Connection gives each transaction an isolated, point-in-time consistent
// view of the database, participates as a data manager in a two-phase commit
// driven by an external Transaction, and propagates cross-connection
// invalidations so that sibling connections sharing a Storage stay coherent.
//
// The underlying storage engine, the two-phase-commit coordinator and the
// object codec are all consumed as interfaces (see the storage, codec and
// persistent sub-packages); Connection itself owns only the cache, the
// bookkeeping for in-flight writes, and the invalidation queue.
package godbconn
