package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/termvc/internal/changeset"
	"github.com/roach88/termvc/internal/field"
	"github.com/roach88/termvc/internal/stamp"
	"github.com/roach88/termvc/internal/store"
)

// CommitRecord reports a committed batch.
type CommitRecord struct {
	Time    int64
	Session Session
	// Nids lists the affected components in edit order.
	Nids []int
	// UUIDs is parallel to Nids.
	UUIDs  []uuid.UUID
	Stamps []stamp.ID
}

// Commit validates and publishes every change recorded in h.
//
// Commit is all-or-nothing: on any failure the handle is rejected and no
// reader observes any part of the batch. It returns once every chain is
// updated, so reads issued after it see the batch. Index-sync hooks run
// afterwards and never fail a commit.
func (e *Engine) Commit(ctx context.Context, h *EditHandle) (CommitRecord, error) {
	if h.engine != e {
		return CommitRecord{}, fmt.Errorf("commit: handle belongs to another engine")
	}
	if e.closed.Load() {
		return CommitRecord{}, ErrEngineClosed
	}

	edits, err := h.begin()
	if err != nil {
		return CommitRecord{}, err
	}
	start := time.Now()

	t := e.clock.Next()
	batch := &Batch{Time: t, Session: h.session, Changes: make([]Change, 0, len(edits))}
	var ids []stamp.ID
	for _, p := range edits {
		tuple := h.tuple(p.status, t)
		id := e.stamps.Intern(tuple)
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}

		delta := p.delta.Clone()
		if p.created {
			delta = p.fields()
		}
		batch.Changes = append(batch.Changes, Change{
			Nid:     p.nid,
			UUID:    p.uuid,
			Kind:    p.kind,
			Created: p.created,
			Stamp:   id,
			Tuple:   tuple,
			Delta:   delta,
			Fields:  p.fields(),
		})
	}

	if err := e.runCheckers(ctx, batch); err != nil {
		h.finish(StateRejected)
		e.metrics.RecordCommit("rejected", time.Since(start))
		e.logger.Warn("commit rejected",
			"time", t,
			"components", batch.Nids(),
			"reason", err,
		)
		return CommitRecord{}, err
	}

	if e.store != nil {
		if err := e.store.WriteBatch(ctx, storeBatch(batch, e.stamps)); err != nil {
			h.finish(StateRejected)
			e.metrics.RecordCommit("failed", time.Since(start))
			e.logger.Error("commit failed", "time", t, "components", batch.Nids(), "error", err)
			return CommitRecord{}, fmt.Errorf("commit: %w", err)
		}
	}

	// Chains first, then publish: until Publish the new stamps are skipped
	// by every reader.
	recs := make([]*record, len(batch.Changes))
	for i, c := range batch.Changes {
		if c.Created {
			rec := e.newRecord(c.Nid, c.UUID, c.Kind, c.Stamp, c.Delta)
			e.components.Store(c.Nid, rec)
			e.byUUID.Store(c.UUID, rec)
			e.count.Add(1)
			recs[i] = rec
			continue
		}
		rec, _ := e.lookup(c.Nid)
		rec.chain.AddRevision(c.Stamp, c.Delta)
		recs[i] = rec
	}
	for _, rec := range recs {
		rec.beginChange()
	}
	e.stamps.Publish(ids...)
	for _, rec := range recs {
		rec.endChange()
	}
	h.finish(StateCommitted)

	cr := CommitRecord{
		Time:    t,
		Session: h.session,
		Nids:    batch.Nids(),
		UUIDs:   make([]uuid.UUID, len(batch.Changes)),
		Stamps:  ids,
	}
	for i, c := range batch.Changes {
		cr.UUIDs[i] = c.UUID
	}

	e.appendChangeset(t, recs)
	e.metrics.RecordCommit("committed", time.Since(start))
	e.metrics.SetComponents(int(e.count.Load()))
	e.logger.Info("commit accepted",
		"time", t,
		"components", cr.Nids,
		"stamps", len(ids),
	)
	e.enqueueHooks(t, cr.Nids)
	return cr, nil
}

// storeBatch converts a commit batch to its durable rows.
func storeBatch(b *Batch, reg *stamp.Registry) store.Batch {
	var out store.Batch
	seen := make(map[stamp.ID]bool)
	for _, c := range b.Changes {
		if !seen[c.Stamp] {
			seen[c.Stamp] = true
			out.Stamps = append(out.Stamps, store.StampRecord{ID: c.Stamp, Tuple: reg.Resolve(c.Stamp)})
		}
		if c.Created {
			out.Components = append(out.Components, store.ComponentRecord{
				Nid:        c.Nid,
				UUID:       c.UUID,
				Kind:       c.Kind,
				Primordial: c.Stamp,
				Fields:     c.Delta,
			})
			continue
		}
		out.Revisions = append(out.Revisions, store.RevisionRecord{Nid: c.Nid, Stamp: c.Stamp, Delta: c.Delta})
	}
	return out
}

// appendChangeset writes the full chronology of each component. Failures
// are logged; the commit already stands.
func (e *Engine) appendChangeset(t int64, recs []*record) {
	if e.changeset == nil {
		return
	}
	out := make([]changeset.Record, 0, len(recs))
	for _, rec := range recs {
		if r, ok := e.exportRecord(rec); ok {
			out = append(out, r)
		}
	}
	if err := e.changeset.Append(t, out...); err != nil {
		e.metrics.RecordChangesetFailure()
		e.logger.Error("changeset append failed", "file", e.changeset.Path(), "time", t, "error", err)
		return
	}
	e.metrics.RecordChangeset("out", len(out))
}

// exportRecord returns the published chronology of rec.
func (e *Engine) exportRecord(rec *record) (changeset.Record, bool) {
	snap := rec.chain.Snapshot()
	prim := snap.Primordial
	if !e.stamps.IsPublished(prim.Stamp) {
		return changeset.Record{}, false
	}
	out := changeset.Record{
		UUID: rec.uuid,
		Kind: rec.kind,
		Primordial: changeset.Entry{
			Stamp:  e.stamps.Resolve(prim.Stamp),
			Fields: prim.Delta,
		},
	}
	for _, r := range snap.Revisions {
		if !e.stamps.IsPublished(r.Stamp) {
			continue
		}
		fields := r.Delta
		if fields == nil {
			fields = field.Object{}
		}
		out.Revisions = append(out.Revisions, changeset.Entry{Stamp: e.stamps.Resolve(r.Stamp), Fields: fields})
	}
	return out, true
}
