// Package changeset reads and writes the changeset log exchanged with the
// external sync service.
//
// A changeset file is a sequence of frames repeated until EOF:
//
//	[int64 big-endian commit time][uint32 big-endian length][record]
//
// where record is the canonical JSON of one component chronology: its
// public uuid, kind, primordial entry and revisions, each entry carrying the
// full stamp tuple rather than a database-local stamp id. A companion
// "<file>.offset" marker holds how many bytes have been applied, so replay
// resumes where it stopped. Replaying a frame twice is harmless: revision
// chains drop duplicate stamps.
package changeset

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/termvc/internal/component"
	"github.com/roach88/termvc/internal/field"
	"github.com/roach88/termvc/internal/stamp"
)

// Entry is one chain entry with its stamp tuple.
type Entry struct {
	Stamp  stamp.Tuple
	Fields field.Object
}

// Record is the chronology of one component.
type Record struct {
	UUID       uuid.UUID
	Kind       component.Kind
	Primordial Entry
	Revisions  []Entry
}

// Encode returns the canonical JSON form of the record.
func (r Record) Encode() ([]byte, error) {
	revs := make(field.List, len(r.Revisions))
	for i, e := range r.Revisions {
		revs[i] = encodeEntry(e)
	}
	obj := field.NewObject(
		field.P("uuid", field.String(r.UUID.String())),
		field.P("kind", field.String(r.Kind.String())),
		field.P("primordial", encodeEntry(r.Primordial)),
		field.P("revisions", revs),
	)
	data, err := field.Canonical(obj)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", r.UUID, err)
	}
	return data, nil
}

// Decode parses a record produced by Encode.
func Decode(data []byte) (Record, error) {
	v, err := field.Decode(data)
	if err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	obj, ok := v.(field.Object)
	if !ok {
		return Record{}, fmt.Errorf("decode record: expected object, got %s", field.TypeName(v))
	}

	var r Record
	id, _ := obj.Str("uuid")
	if r.UUID, err = uuid.Parse(id); err != nil {
		return Record{}, fmt.Errorf("decode record: uuid: %w", err)
	}
	kind, _ := obj.Str("kind")
	if r.Kind, err = component.ParseKind(kind); err != nil {
		return Record{}, fmt.Errorf("decode record %s: %w", r.UUID, err)
	}

	prim, ok := obj["primordial"].(field.Object)
	if !ok {
		return Record{}, fmt.Errorf("decode record %s: missing primordial", r.UUID)
	}
	if r.Primordial, err = decodeEntry(prim); err != nil {
		return Record{}, fmt.Errorf("decode record %s: primordial: %w", r.UUID, err)
	}

	revs, _ := obj["revisions"].(field.List)
	for i, rv := range revs {
		eo, ok := rv.(field.Object)
		if !ok {
			return Record{}, fmt.Errorf("decode record %s: revision %d is %s", r.UUID, i, field.TypeName(rv))
		}
		e, err := decodeEntry(eo)
		if err != nil {
			return Record{}, fmt.Errorf("decode record %s: revision %d: %w", r.UUID, i, err)
		}
		r.Revisions = append(r.Revisions, e)
	}
	return r, nil
}

func encodeEntry(e Entry) field.Object {
	fields := e.Fields
	if fields == nil {
		fields = field.Object{}
	}
	return field.NewObject(
		field.P("stamp", field.NewObject(
			field.P("status", field.String(e.Stamp.Status.String())),
			field.P("time", field.Int(e.Stamp.Time)),
			field.P("author", field.Int(e.Stamp.Author)),
			field.P("module", field.Int(e.Stamp.Module)),
			field.P("path", field.Int(e.Stamp.Path)),
		)),
		field.P("fields", fields),
	)
}

func decodeEntry(obj field.Object) (Entry, error) {
	st, ok := obj["stamp"].(field.Object)
	if !ok {
		return Entry{}, fmt.Errorf("missing stamp")
	}
	status, _ := st.Str("status")
	s, err := stamp.ParseStatus(status)
	if err != nil {
		return Entry{}, err
	}

	ints := make(map[string]int64, 4)
	for _, name := range []string{"time", "author", "module", "path"} {
		v, ok := st.Integer(name)
		if !ok {
			return Entry{}, fmt.Errorf("stamp %s missing", name)
		}
		ints[name] = v
	}

	e := Entry{Stamp: stamp.Tuple{
		Status: s,
		Time:   ints["time"],
		Author: int(ints["author"]),
		Module: int(ints["module"]),
		Path:   int(ints["path"]),
	}}
	if e.Stamp.Uncommitted() {
		return Entry{}, fmt.Errorf("uncommitted stamp in changeset")
	}

	e.Fields, ok = obj["fields"].(field.Object)
	if !ok {
		e.Fields = field.Object{}
	}
	return e, nil
}
