package engine

import (
	"context"
	"fmt"

	"github.com/roach88/termvc/internal/chain"
	"github.com/roach88/termvc/internal/changeset"
	"github.com/roach88/termvc/internal/field"
	"github.com/roach88/termvc/internal/path"
	"github.com/roach88/termvc/internal/stamp"
	"github.com/roach88/termvc/internal/store"
)

// ApplyRecord merges a changeset record into the component it describes,
// creating the component on first sight. Entries already in the chain are
// dropped, so applying the same record twice changes nothing.
//
// ApplyRecord implements changeset.Applier.
func (e *Engine) ApplyRecord(ctx context.Context, commitTime int64, rec changeset.Record) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	entries := append([]changeset.Entry{rec.Primordial}, rec.Revisions...)
	ids := make([]stamp.ID, len(entries))
	for i, en := range entries {
		if !e.paths.Has(en.Stamp.Path) {
			return &path.ConfigurationError{
				Code:    path.ErrCodeUnknownPath,
				Message: fmt.Sprintf("changeset record %s uses path %d, which is not defined", rec.UUID, en.Stamp.Path),
			}
		}
		ids[i] = e.stamps.Intern(en.Stamp)
		e.clock.Observe(en.Stamp.Time)
	}
	e.clock.Observe(commitTime)

	incoming := chain.New(ids[0], fieldsOrEmpty(rec.Primordial.Fields), chain.WithEquivalence(e.stamps.Equivalent))
	for i, en := range rec.Revisions {
		incoming.AddRevision(ids[i+1], fieldsOrEmpty(en.Fields))
	}

	target, created := e.recordFor(rec, incoming)
	if target.kind != rec.Kind {
		return fmt.Errorf("apply %s: %w: have %s, record says %s", rec.UUID, ErrKindMismatch, target.kind, rec.Kind)
	}

	// Persist the merged state before touching the live chain.
	var merged *chain.Chain[field.Object]
	if created {
		merged = incoming
	} else {
		merged = target.chain.Clone()
		if merged.Merge(incoming) == 0 && merged.Primordial() == target.chain.Primordial() {
			e.stamps.Publish(ids...)
			return nil
		}
	}

	if e.store != nil {
		if err := e.store.WriteBatch(ctx, chainBatch(target, merged.Snapshot(), e.stamps)); err != nil {
			if created {
				e.byUUID.Delete(rec.UUID)
			}
			return fmt.Errorf("apply %s: %w", rec.UUID, err)
		}
	}

	target.beginChange()
	if created {
		e.components.Store(target.nid, target)
		e.count.Add(1)
	} else {
		target.chain.Merge(incoming)
	}
	e.stamps.Publish(ids...)
	target.endChange()

	e.metrics.RecordChangeset("in", 1)
	e.metrics.SetComponents(int(e.count.Load()))
	e.logger.Debug("changeset record applied",
		"uuid", rec.UUID,
		"nid", target.nid,
		"created", created,
		"entries", len(entries),
	)
	e.enqueueHooks(commitTime, []int{target.nid})
	return nil
}

// recordFor returns the record for rec's uuid. An unknown component is
// reserved with the incoming chain; its stamps stay unpublished until the
// caller publishes them.
func (e *Engine) recordFor(rec changeset.Record, incoming *chain.Chain[field.Object]) (*record, bool) {
	if v, ok := e.byUUID.Load(rec.UUID); ok {
		return v.(*record), false
	}
	fresh := &record{nid: e.allocNid(), uuid: rec.UUID, kind: rec.Kind, chain: incoming}
	v, loaded := e.byUUID.LoadOrStore(rec.UUID, fresh)
	return v.(*record), !loaded
}

// chainBatch returns the rows of a whole chain. The store ignores rows it
// already holds and moves the component header when the primordial
// changed.
func chainBatch(rec *record, snap chain.Snapshot[field.Object], reg *stamp.Registry) store.Batch {
	var b store.Batch
	for _, en := range snap.Entries() {
		b.Stamps = append(b.Stamps, store.StampRecord{ID: en.Stamp, Tuple: reg.Resolve(en.Stamp)})
	}
	b.Components = []store.ComponentRecord{{
		Nid:        rec.nid,
		UUID:       rec.uuid,
		Kind:       rec.kind,
		Primordial: snap.Primordial.Stamp,
		Fields:     snap.Primordial.Delta,
	}}
	for _, r := range snap.Revisions {
		b.Revisions = append(b.Revisions, store.RevisionRecord{Nid: rec.nid, Stamp: r.Stamp, Delta: r.Delta})
	}
	return b
}

func fieldsOrEmpty(f field.Object) field.Object {
	if f == nil {
		return field.Object{}
	}
	return f
}

// ExportRecords returns the published chronology of the given components,
// or of every component when nids is empty.
func (e *Engine) ExportRecords(nids ...int) ([]changeset.Record, error) {
	if len(nids) == 0 {
		for _, c := range e.Components() {
			nids = append(nids, c.Nid)
		}
	}
	out := make([]changeset.Record, 0, len(nids))
	for _, nid := range nids {
		rec, ok := e.lookup(nid)
		if !ok {
			return nil, fmt.Errorf("export %d: %w", nid, ErrUnknownComponent)
		}
		if r, ok := e.exportRecord(rec); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// AddPath defines a path and persists it. Origins must refer to defined
// paths and may not close a cycle.
func (e *Engine) AddPath(ctx context.Context, p path.Path) error {
	e.pathMu.Lock()
	defer e.pathMu.Unlock()

	if err := e.paths.AddPath(p); err != nil {
		return err
	}
	e.pathGen.Add(1)
	if e.store != nil {
		stored, _ := e.paths.Get(p.ID)
		if err := e.store.WritePath(ctx, stored); err != nil {
			return err
		}
	}
	e.logger.Info("path added", "path", p.ID, "name", p.Name, "origins", len(p.Origins))
	return nil
}

// AddOrigin adds an origin edge to a path and persists it.
func (e *Engine) AddOrigin(ctx context.Context, pathID int, o path.Origin) error {
	e.pathMu.Lock()
	defer e.pathMu.Unlock()

	if err := e.paths.AddOrigin(pathID, o); err != nil {
		return err
	}
	e.pathGen.Add(1)
	if e.store != nil {
		p, _ := e.paths.Get(pathID)
		if err := e.store.WritePath(ctx, p); err != nil {
			return err
		}
	}
	e.logger.Info("path origin added", "path", pathID, "origin", o.Path, "time", o.Time)
	return nil
}

// AddAlias records that alias denotes the same commit as canonical and
// persists the updated alias classes. Both stamps must exist.
func (e *Engine) AddAlias(ctx context.Context, canonical, alias stamp.ID) error {
	for _, id := range []stamp.ID{canonical, alias} {
		if _, ok := e.stamps.Lookup(id); !ok {
			return fmt.Errorf("alias %d -> %d: %w: %d", alias, canonical, stamp.ErrUnknownStamp, id)
		}
	}

	e.pathMu.Lock()
	defer e.pathMu.Unlock()

	if err := e.stamps.AddAlias(canonical, alias); err != nil {
		return fmt.Errorf("alias %d -> %d: %w", alias, canonical, err)
	}
	if e.store != nil {
		if err := e.store.WriteBatch(ctx, store.Batch{Aliases: e.stamps.AliasPairs()}); err != nil {
			return err
		}
	}
	e.logger.Info("stamp alias added", "canonical", canonical, "alias", alias)
	return nil
}
