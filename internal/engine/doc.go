// Package engine implements the termvc commit pipeline and resolution API.
//
// The engine owns one stamp registry, one path graph and a revision chain
// per component, and wires them to durable storage, the changeset log,
// index-sync hooks and metrics.
//
// ARCHITECTURE:
//
// Commit Pipeline:
// 1. A writer opens an EditHandle with BeginEdit and records uncommitted
// changes (creates, field patches, retirements). They are visible only
// through the handle's Pending view.
// 2. Commit takes one commit time from the clock and interns the final
// stamps.
// 3. Change checkers validate the whole batch. Any failure rejects the
// batch and leaves state untouched.
// 4. The batch is written to the store in one transaction, inserted into
// the chains, and only then are its stamps published. Readers never see
// a partial batch.
// 5. Index-sync hooks run later on a worker pool and never fail a commit.
//
// Concurrency:
// Commit time assignment is a single atomic sequence. Chain insertion is
// per component; commits touching unrelated components never contend.
// Resolution reads lock-free chain snapshots and never blocks writers.
//
// Resolution results are cached per (component, coordinate) and validated
// against the component's generation, the alias generation and the path
// generation, so a cached entry is never served after a change that could
// affect it.
package engine
