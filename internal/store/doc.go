// Package store provides SQLite-backed durable storage for the versioned
// component store.
//
// The store is an append-only log of:
//   - Stamps: interned (status, time, author, module, path) tuples, keyed by
//     the id the registry assigned
//   - Stamp aliases: alias id to canonical id
//   - Paths and path origins
//   - Components: nid, public uuid, kind, primordial stamp and fields
//   - Revisions: (nid, stamp, delta), unique per (nid, stamp)
//
// # Idempotency
//
// Every insert uses ON CONFLICT DO NOTHING, so writing the same committed
// fact twice (replayed changesets, merged chains) leaves one row. A commit
// batch is written in a single transaction: either every stamp and revision
// of the batch is durable or none is.
//
// # Deterministic reads
//
// Every read orders by integer keys (stamp id, nid, rowid), never by wall
// time, so loading the same database always rebuilds the same registry and
// chains.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Field objects are stored as RFC 8785 canonical JSON (see internal/field).
package store
