package config

import (
	"fmt"
	"os"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/termvc/internal/path"
)

// pathSchema constrains path-graph documents:
//
//	path: main: {id: 1}
//	path: feature: {id: 2, origins: [{path: "main", time: 150}]}
const pathSchema = `
#Origin: {
	path: string
	time: int & >=0
}
#Path: {
	id:       int & >0
	origins?: [...#Origin]
}
path: [string]: #Path
`

// LoadError reports an invalid CUE document, with its position when CUE
// knows it.
type LoadError struct {
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

type originDef struct {
	name string
	time int64
}

type pathDef struct {
	name    string
	id      int
	origins []originDef
}

// LoadPaths reads a CUE path-graph definition from file.
func LoadPaths(file string) ([]path.Path, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read paths file: %w", err)
	}
	return ParsePaths(file, data)
}

// ParsePaths compiles a CUE path-graph definition. The result is ordered
// so that every path follows its origins and can be added in sequence.
// Origins naming undefined paths and origin cycles are
// *path.ConfigurationError.
func ParsePaths(filename string, src []byte) ([]path.Path, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(pathSchema, cue.Filename("paths-schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile path schema: %w", err)
	}

	doc := ctx.CompileBytes(src, cue.Filename(filename))
	if err := doc.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	v := schema.Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var defs []pathDef
	iter, err := v.LookupPath(cue.ParsePath("path")).Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		d := pathDef{name: iter.Label()}
		id, err := iter.Value().LookupPath(cue.ParsePath("id")).Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		d.id = int(id)

		origins := iter.Value().LookupPath(cue.ParsePath("origins"))
		if origins.Exists() {
			list, err := origins.List()
			if err != nil {
				return nil, formatCUEError(err)
			}
			for list.Next() {
				name, err := list.Value().LookupPath(cue.ParsePath("path")).String()
				if err != nil {
					return nil, formatCUEError(err)
				}
				t, err := list.Value().LookupPath(cue.ParsePath("time")).Int64()
				if err != nil {
					return nil, formatCUEError(err)
				}
				d.origins = append(d.origins, originDef{name: name, time: t})
			}
		}
		defs = append(defs, d)
	}

	byName := make(map[string]int, len(defs))
	ids := make(map[int]string, len(defs))
	for _, d := range defs {
		if other, dup := ids[d.id]; dup {
			return nil, &path.ConfigurationError{
				Code:    path.ErrCodeDuplicatePath,
				Message: fmt.Sprintf("paths %q and %q share id %d", other, d.name, d.id),
			}
		}
		ids[d.id] = d.name
		byName[d.name] = d.id
	}

	paths := make(map[string]path.Path, len(defs))
	for _, d := range defs {
		p := path.Path{ID: d.id, Name: d.name}
		for _, o := range d.origins {
			id, ok := byName[o.name]
			if !ok {
				return nil, &path.ConfigurationError{
					Code:    path.ErrCodeUnknownPath,
					Message: fmt.Sprintf("path %q has origin %q, which is not defined", d.name, o.name),
				}
			}
			p.Origins = append(p.Origins, path.Origin{Path: id, Time: o.time})
		}
		paths[d.name] = p
	}
	return orderPaths(paths, ids)
}

// orderPaths sorts paths so origins come first, breaking ties by id. A
// leftover set means the origins form a cycle.
func orderPaths(paths map[string]path.Path, names map[int]string) ([]path.Path, error) {
	remaining := make([]path.Path, 0, len(paths))
	for _, p := range paths {
		remaining = append(remaining, p)
	}
	slices.SortFunc(remaining, func(a, b path.Path) int { return a.ID - b.ID })

	placed := make(map[int]bool, len(paths))
	var out []path.Path
	for len(remaining) > 0 {
		progress := false
		next := remaining[:0]
		for _, p := range remaining {
			ready := true
			for _, o := range p.Origins {
				if !placed[o.Path] {
					ready = false
					break
				}
			}
			if ready {
				out = append(out, p)
				placed[p.ID] = true
				progress = true
				continue
			}
			next = append(next, p)
		}
		remaining = next
		if !progress {
			cycle := make([]string, 0, len(remaining))
			for _, p := range remaining {
				cycle = append(cycle, names[p.ID])
			}
			return nil, &path.ConfigurationError{
				Code:    path.ErrCodeCycle,
				Message: fmt.Sprintf("path origins form a cycle among %v", cycle),
				Cycle:   cycle,
			}
		}
	}
	return out, nil
}

// formatCUEError returns the first CUE error with its position.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	le := &LoadError{Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		le.Pos = positions[0]
	}
	return le
}
