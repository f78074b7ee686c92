package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/termvc/internal/component"
	"github.com/roach88/termvc/internal/path"
	"github.com/roach88/termvc/internal/stamp"
)

// ErrNotFound is returned by single-row reads that match nothing.
var ErrNotFound = errors.New("not found")

// Load reads the full durable state in deterministic order.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	stamps, err := s.ReadStamps(ctx)
	if err != nil {
		return nil, err
	}
	aliases, err := s.ReadAliases(ctx)
	if err != nil {
		return nil, err
	}
	paths, err := s.ReadPaths(ctx)
	if err != nil {
		return nil, err
	}
	comps, err := s.ReadComponents(ctx)
	if err != nil {
		return nil, err
	}
	revs, err := s.ReadRevisions(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Stamps: stamps, Aliases: aliases, Paths: paths, Components: comps, Revisions: revs}, nil
}

// ReadStamps returns every stamp ordered by id.
func (s *Store) ReadStamps(ctx context.Context) ([]StampRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, time, author, module, path
		FROM stamps
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query stamps: %w", err)
	}
	defer rows.Close()

	out := []StampRecord{}
	for rows.Next() {
		var (
			id     int64
			status int
			rec    StampRecord
		)
		if err := rows.Scan(&id, &status, &rec.Tuple.Time, &rec.Tuple.Author, &rec.Tuple.Module, &rec.Tuple.Path); err != nil {
			return nil, fmt.Errorf("scan stamp: %w", err)
		}
		rec.ID = stamp.ID(id)
		rec.Tuple.Status = stamp.Status(status)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stamps: %w", err)
	}
	return out, nil
}

// ReadAliases returns alias pairs ordered by canonical then alias id.
func (s *Store) ReadAliases(ctx context.Context) ([]stamp.AliasPair, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT canonical, alias
		FROM stamp_aliases
		ORDER BY canonical ASC, alias ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query aliases: %w", err)
	}
	defer rows.Close()

	out := []stamp.AliasPair{}
	for rows.Next() {
		var canonical, alias int64
		if err := rows.Scan(&canonical, &alias); err != nil {
			return nil, fmt.Errorf("scan alias: %w", err)
		}
		out = append(out, stamp.AliasPair{Canonical: stamp.ID(canonical), Alias: stamp.ID(alias)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aliases: %w", err)
	}
	return out, nil
}

// ReadPaths returns every path with its origins, ordered by id. Origins
// keep insertion order.
func (s *Store) ReadPaths(ctx context.Context) ([]path.Path, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM paths ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query paths: %w", err)
	}
	var out []path.Path
	byID := map[int]int{}
	for rows.Next() {
		var p path.Path
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan path: %w", err)
		}
		byID[p.ID] = len(out)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate paths: %w", err)
	}
	rows.Close()

	orows, err := s.db.QueryContext(ctx, `
		SELECT path, origin_path, origin_time
		FROM path_origins
		ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query path origins: %w", err)
	}
	defer orows.Close()
	for orows.Next() {
		var pid int
		var o path.Origin
		if err := orows.Scan(&pid, &o.Path, &o.Time); err != nil {
			return nil, fmt.Errorf("scan path origin: %w", err)
		}
		if i, ok := byID[pid]; ok {
			out[i].Origins = append(out[i].Origins, o)
		}
	}
	if err := orows.Err(); err != nil {
		return nil, fmt.Errorf("iterate path origins: %w", err)
	}

	if out == nil {
		out = []path.Path{}
	}
	return out, nil
}

// ReadComponents returns every component header ordered by nid.
func (s *Store) ReadComponents(ctx context.Context) ([]ComponentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT nid, uuid, kind, primordial_stamp, fields
		FROM components
		ORDER BY nid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query components: %w", err)
	}
	defer rows.Close()

	out := []ComponentRecord{}
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate components: %w", err)
	}
	return out, nil
}

// ReadComponent returns one component header by uuid.
// Returns ErrNotFound if no such component exists.
func (s *Store) ReadComponent(ctx context.Context, id uuid.UUID) (ComponentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT nid, uuid, kind, primordial_stamp, fields
		FROM components
		WHERE uuid = ?
	`, id.String())
	c, err := scanComponent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ComponentRecord{}, fmt.Errorf("component %s: %w", id, ErrNotFound)
	}
	return c, err
}

// ReadRevisions returns every revision ordered by nid then stamp.
func (s *Store) ReadRevisions(ctx context.Context) ([]RevisionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT nid, stamp, delta
		FROM revisions
		ORDER BY nid ASC, stamp ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query revisions: %w", err)
	}
	defer rows.Close()

	out := []RevisionRecord{}
	for rows.Next() {
		var (
			r     RevisionRecord
			id    int64
			delta string
		)
		if err := rows.Scan(&r.Nid, &id, &delta); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		r.Stamp = stamp.ID(id)
		if r.Delta, err = unmarshalFields(delta); err != nil {
			return nil, fmt.Errorf("revision %d/%d: %w", r.Nid, r.Stamp, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revisions: %w", err)
	}
	return out, nil
}

// MaxNid returns the largest nid in use, or 0 for an empty store.
func (s *Store) MaxNid(ctx context.Context) (int, error) {
	var n sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(nid) FROM components`).Scan(&n); err != nil {
		return 0, fmt.Errorf("max nid: %w", err)
	}
	return int(n.Int64), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanComponent(row scanner) (ComponentRecord, error) {
	var (
		c          ComponentRecord
		id, kind   string
		primordial int64
		fields     string
	)
	if err := row.Scan(&c.Nid, &id, &kind, &primordial, &fields); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ComponentRecord{}, err
		}
		return ComponentRecord{}, fmt.Errorf("scan component: %w", err)
	}

	var err error
	if c.UUID, err = uuid.Parse(id); err != nil {
		return ComponentRecord{}, fmt.Errorf("component %d: uuid: %w", c.Nid, err)
	}
	if c.Kind, err = component.ParseKind(kind); err != nil {
		return ComponentRecord{}, fmt.Errorf("component %d: %w", c.Nid, err)
	}
	c.Primordial = stamp.ID(primordial)
	if c.Fields, err = unmarshalFields(fields); err != nil {
		return ComponentRecord{}, fmt.Errorf("component %d: %w", c.Nid, err)
	}
	return c, nil
}
