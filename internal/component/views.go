package component

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/termvc/internal/field"
)

// Concept is the typed view of concept fields.
type Concept struct {
	Defined bool
}

// Description is the typed view of description fields.
type Description struct {
	Concept  uuid.UUID
	Text     string
	Language string
	Type     string
}

// Relationship is the typed view of relationship fields.
type Relationship struct {
	Source         uuid.UUID
	Destination    uuid.UUID
	Type           uuid.UUID
	Group          int64
	Characteristic Characteristic
}

// Semantic is the typed view of semantic record fields.
type Semantic struct {
	Assemblage          uuid.UUID
	ReferencedComponent uuid.UUID
	Variant             Variant
	Value               field.Value
}

// AsConcept validates fields as a concept and returns the typed view.
func AsConcept(fields field.Object) (Concept, error) {
	if err := Validate(KindConcept, fields); err != nil {
		return Concept{}, err
	}
	defined, _ := fields.Boolean("defined")
	return Concept{Defined: defined}, nil
}

// AsDescription validates fields as a description and returns the typed view.
func AsDescription(fields field.Object) (Description, error) {
	if err := Validate(KindDescription, fields); err != nil {
		return Description{}, err
	}
	d := Description{Concept: mustUUID(fields, "concept")}
	d.Text, _ = fields.Str("text")
	d.Language, _ = fields.Str("language")
	d.Type, _ = fields.Str("type")
	return d, nil
}

// AsRelationship validates fields as a relationship and returns the typed
// view. Characteristic defaults to stated.
func AsRelationship(fields field.Object) (Relationship, error) {
	if err := Validate(KindRelationship, fields); err != nil {
		return Relationship{}, err
	}
	r := Relationship{
		Source:         mustUUID(fields, "source"),
		Destination:    mustUUID(fields, "destination"),
		Type:           mustUUID(fields, "type"),
		Characteristic: Stated,
	}
	r.Group, _ = fields.Integer("group")
	if c, ok := fields.Str("characteristic"); ok {
		r.Characteristic = Characteristic(c)
	}
	return r, nil
}

// AsSemantic validates fields as a semantic record and returns the typed
// view. Variant defaults to membership.
func AsSemantic(fields field.Object) (Semantic, error) {
	if err := Validate(KindSemantic, fields); err != nil {
		return Semantic{}, err
	}
	s := Semantic{
		Assemblage:          mustUUID(fields, "assemblage"),
		ReferencedComponent: mustUUID(fields, "referenced_component"),
		Variant:             VariantMembership,
		Value:               fields["value"],
	}
	if v, ok := fields.Str("variant"); ok {
		s.Variant = Variant(v)
	}
	return s, nil
}

// Fields converts the typed view back to its field object.
func (r Relationship) Fields() field.Object {
	obj := field.NewObject(
		field.P("source", field.String(r.Source.String())),
		field.P("destination", field.String(r.Destination.String())),
		field.P("type", field.String(r.Type.String())),
		field.P("group", field.Int(r.Group)),
	)
	if r.Characteristic != "" {
		obj["characteristic"] = field.String(r.Characteristic)
	}
	return obj
}

// Fields converts the typed view back to its field object.
func (d Description) Fields() field.Object {
	obj := field.NewObject(
		field.P("concept", field.String(d.Concept.String())),
		field.P("text", field.String(d.Text)),
	)
	if d.Language != "" {
		obj["language"] = field.String(d.Language)
	}
	if d.Type != "" {
		obj["type"] = field.String(d.Type)
	}
	return obj
}

// mustUUID reads a field Validate has already checked.
func mustUUID(fields field.Object, name string) uuid.UUID {
	s, _ := fields.Str(name)
	id, err := uuid.Parse(s)
	if err != nil {
		panic(fmt.Sprintf("field %s passed validation but is not a uuid: %v", name, err))
	}
	return id
}
