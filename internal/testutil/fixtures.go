package testutil

import (
	"github.com/google/uuid"

	"github.com/roach88/termvc/internal/field"
)

// Concept returns concept fields.
func Concept(defined bool) field.Object {
	return field.NewObject(field.P("defined", field.Bool(defined)))
}

// Description returns English synonym fields for a description of concept.
func Description(concept uuid.UUID, text string) field.Object {
	return field.NewObject(
		field.P("concept", field.String(concept.String())),
		field.P("text", field.String(text)),
		field.P("language", field.String("en")),
		field.P("type", field.String("synonym")),
	)
}

// Relationship returns stated relationship fields in group 0.
func Relationship(source, typ, destination uuid.UUID) field.Object {
	return field.NewObject(
		field.P("source", field.String(source.String())),
		field.P("type", field.String(typ.String())),
		field.P("destination", field.String(destination.String())),
		field.P("group", field.Int(0)),
		field.P("characteristic", field.String("stated")),
	)
}

// Membership returns membership semantic fields.
func Membership(assemblage, referenced uuid.UUID) field.Object {
	return field.NewObject(
		field.P("assemblage", field.String(assemblage.String())),
		field.P("referenced_component", field.String(referenced.String())),
		field.P("variant", field.String("membership")),
	)
}
