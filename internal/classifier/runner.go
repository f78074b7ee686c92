package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/termvc/internal/component"
	"github.com/roach88/termvc/internal/engine"
	"github.com/roach88/termvc/internal/stamp"
	"github.com/roach88/termvc/internal/view"
)

// Engine is the part of the engine a classification run uses.
type Engine interface {
	Components() []engine.Component
	Resolve(nid int, coord view.Coordinate) (engine.Result, error)
	BeginEdit(s engine.Session) (*engine.EditHandle, error)
	Commit(ctx context.Context, h *engine.EditHandle) (engine.CommitRecord, error)
}

// Runner classifies the stated relationships visible under Coordinate and
// commits the inferred result as Session.
type Runner struct {
	Engine     Engine
	Classifier Classifier
	// Coordinate selects the stated input. Its status filter is ignored:
	// only active stated relationships count, and inactive inferred ones
	// are candidates for reactivation.
	Coordinate view.Coordinate
	Session    engine.Session
	Logger     *slog.Logger
}

// Result summarizes a run.
type Result struct {
	Stated      int
	Inferred    int
	Added       int
	Retired     int
	Reactivated int
	// Commit is nil when the inferred set was already current.
	Commit *engine.CommitRecord
}

// Changed reports whether the run committed anything.
func (r Result) Changed() bool {
	return r.Commit != nil
}

type inferredRel struct {
	nid    int
	active bool
}

// Run performs one classification.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	coord := r.Coordinate
	coord.Statuses = nil
	if err := coord.Validate(); err != nil {
		return Result{}, fmt.Errorf("classify: %w", err)
	}

	var stated []component.Relationship
	existing := make(map[Key]inferredRel)
	var duplicates []int
	for _, c := range r.Engine.Components() {
		if c.Kind != component.KindRelationship {
			continue
		}
		res, err := r.Engine.Resolve(c.Nid, coord)
		if err != nil {
			return Result{}, fmt.Errorf("classify: read %s: %w", c.UUID, err)
		}
		if res.IsAbsent() {
			continue
		}
		if res.IsContradiction() {
			logger.Warn("classifier input has a contradiction, using lowest stamp", "uuid", c.UUID, "versions", len(res.Versions))
		}
		v := res.Versions[0]
		rel, err := component.AsRelationship(v.Fields)
		if err != nil {
			return Result{}, fmt.Errorf("classify: read %s: %w", c.UUID, err)
		}
		active := v.Tuple.Status == stamp.Active

		if rel.Characteristic != component.Inferred {
			if active {
				stated = append(stated, rel)
			}
			continue
		}
		key := KeyOf(rel)
		prev, seen := existing[key]
		switch {
		case !seen:
			existing[key] = inferredRel{nid: c.Nid, active: active}
		case active && prev.active:
			duplicates = append(duplicates, c.Nid)
		case active:
			existing[key] = inferredRel{nid: c.Nid, active: true}
		}
	}

	inferred, err := r.Classifier.Classify(ctx, stated)
	if err != nil {
		return Result{}, fmt.Errorf("classify with %s: %w", r.Classifier.Name(), err)
	}
	result := Result{Stated: len(stated), Inferred: len(inferred)}

	h, err := r.Engine.BeginEdit(r.Session)
	if err != nil {
		return Result{}, err
	}
	wanted := make(map[Key]bool, len(inferred))
	for _, rel := range inferred {
		rel.Characteristic = component.Inferred
		key := KeyOf(rel)
		if wanted[key] {
			continue
		}
		wanted[key] = true

		cur, ok := existing[key]
		switch {
		case !ok:
			if _, _, err := h.Create(component.KindRelationship, rel.Fields()); err != nil {
				h.Discard()
				return Result{}, fmt.Errorf("classify: %w", err)
			}
			result.Added++
		case !cur.active:
			if err := h.Activate(cur.nid); err != nil {
				h.Discard()
				return Result{}, fmt.Errorf("classify: %w", err)
			}
			result.Reactivated++
		}
	}
	stale := duplicates
	for key, cur := range existing {
		if cur.active && !wanted[key] {
			stale = append(stale, cur.nid)
		}
	}
	slices.Sort(stale)
	for _, nid := range stale {
		if err := h.Retire(nid); err != nil {
			h.Discard()
			return Result{}, fmt.Errorf("classify: %w", err)
		}
		result.Retired++
	}

	if len(h.Nids()) == 0 {
		h.Discard()
		logger.Info("classification unchanged",
			"classifier", r.Classifier.Name(),
			"stated", result.Stated,
			"inferred", result.Inferred,
			"duration", time.Since(start),
		)
		return result, nil
	}

	cr, err := r.Engine.Commit(ctx, h)
	if err != nil {
		return Result{}, fmt.Errorf("classify: %w", err)
	}
	result.Commit = &cr
	logger.Info("classification committed",
		"classifier", r.Classifier.Name(),
		"time", cr.Time,
		"stated", result.Stated,
		"added", result.Added,
		"retired", result.Retired,
		"reactivated", result.Reactivated,
		"duration", time.Since(start),
	)
	return result, nil
}
