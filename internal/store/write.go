package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/termvc/internal/path"
	"github.com/roach88/termvc/internal/stamp"
)

// WriteBatch makes a commit batch durable in one transaction.
// Rows that already exist are left untouched, so replaying a batch is a
// no-op. Alias rows are upserted because merging two alias classes moves
// members to a new canonical id.
func (s *Store) WriteBatch(ctx context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write batch: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := writeStamps(ctx, tx, b.Stamps); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	if err := writeAliases(ctx, tx, b.Aliases); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	if err := writeComponents(ctx, tx, b.Components); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	if err := writeRevisions(ctx, tx, b.Revisions); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write batch: commit: %w", err)
	}
	return nil
}

func writeStamps(ctx context.Context, tx *sql.Tx, stamps []StampRecord) error {
	for _, st := range stamps {
		if st.Tuple.Uncommitted() {
			return fmt.Errorf("stamp %d is uncommitted", st.ID)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stamps (id, status, time, author, module, path)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, int64(st.ID), int(st.Tuple.Status), st.Tuple.Time, st.Tuple.Author, st.Tuple.Module, st.Tuple.Path)
		if err != nil {
			return fmt.Errorf("insert stamp %d: %w", st.ID, err)
		}
	}
	return nil
}

func writeAliases(ctx context.Context, tx *sql.Tx, aliases []stamp.AliasPair) error {
	for _, a := range aliases {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stamp_aliases (alias, canonical)
			VALUES (?, ?)
			ON CONFLICT(alias) DO UPDATE SET canonical = excluded.canonical
		`, int64(a.Alias), int64(a.Canonical))
		if err != nil {
			return fmt.Errorf("insert alias %d -> %d: %w", a.Alias, a.Canonical, err)
		}
	}
	return nil
}

// writeComponents inserts component headers. When a merged chain adopted an
// older primordial, the header moves to it; the displaced primordial is
// written by the caller as an ordinary revision.
func writeComponents(ctx context.Context, tx *sql.Tx, comps []ComponentRecord) error {
	for _, c := range comps {
		fields, err := marshalFields(c.Fields)
		if err != nil {
			return fmt.Errorf("component %d: %w", c.Nid, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO components (nid, uuid, kind, primordial_stamp, fields)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(nid) DO UPDATE SET
				primordial_stamp = excluded.primordial_stamp,
				fields = excluded.fields
			WHERE excluded.primordial_stamp < components.primordial_stamp
		`, c.Nid, c.UUID.String(), c.Kind.String(), int64(c.Primordial), fields)
		if err != nil {
			return fmt.Errorf("insert component %d: %w", c.Nid, err)
		}
	}
	return nil
}

func writeRevisions(ctx context.Context, tx *sql.Tx, revs []RevisionRecord) error {
	for _, r := range revs {
		delta, err := marshalFields(r.Delta)
		if err != nil {
			return fmt.Errorf("revision %d/%d: %w", r.Nid, r.Stamp, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO revisions (nid, stamp, delta)
			VALUES (?, ?, ?)
			ON CONFLICT(nid, stamp) DO NOTHING
		`, r.Nid, int64(r.Stamp), delta)
		if err != nil {
			return fmt.Errorf("insert revision %d/%d: %w", r.Nid, r.Stamp, err)
		}
	}
	return nil
}

// WritePath persists a path and its origins. Rewriting a known path adds
// any new origins and keeps the existing ones.
func (s *Store) WritePath(ctx context.Context, p path.Path) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write path: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO paths (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, p.ID, p.Name); err != nil {
		return fmt.Errorf("write path %d: %w", p.ID, err)
	}
	for _, o := range p.Origins {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO path_origins (path, origin_path, origin_time) VALUES (?, ?, ?)
			ON CONFLICT DO NOTHING
		`, p.ID, o.Path, o.Time); err != nil {
			return fmt.Errorf("write origin %d@%d of path %d: %w", o.Path, o.Time, p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write path: commit: %w", err)
	}
	return nil
}
