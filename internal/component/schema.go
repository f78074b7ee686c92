package component

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/termvc/internal/field"
)

// SchemaError reports a field that violates its kind's schema.
type SchemaError struct {
	Kind    Kind
	Field   string
	Message string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s.%s: %s", e.Kind, e.Field, e.Message)
}

// IsSchemaError reports whether err is or wraps a *SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// fieldKind is the expected value type of a schema field.
type fieldKind uint8

const (
	fString fieldKind = iota + 1
	fInt
	fBool
	fUUID
	fAny
)

type fieldSpec struct {
	name     string
	kind     fieldKind
	required bool
	oneOf    []string
}

var schemas = map[Kind][]fieldSpec{
	KindConcept: {
		{name: "defined", kind: fBool},
	},
	KindDescription: {
		{name: "concept", kind: fUUID, required: true},
		{name: "text", kind: fString, required: true},
		{name: "language", kind: fString},
		{name: "type", kind: fString},
	},
	KindRelationship: {
		{name: "source", kind: fUUID, required: true},
		{name: "destination", kind: fUUID, required: true},
		{name: "type", kind: fUUID, required: true},
		{name: "group", kind: fInt},
		{name: "characteristic", kind: fString, oneOf: []string{string(Stated), string(Inferred)}},
	},
	KindSemantic: {
		{name: "assemblage", kind: fUUID, required: true},
		{name: "referenced_component", kind: fUUID, required: true},
		{name: "variant", kind: fString, oneOf: []string{
			string(VariantMembership), string(VariantString), string(VariantLong),
			string(VariantComponent), string(VariantDynamic),
		}},
		{name: "value", kind: fAny},
	},
}

// Validate checks fields against the schema of kind. Unknown fields are
// rejected so typos surface at commit time.
func Validate(kind Kind, fields field.Object) error {
	specs, ok := schemas[kind]
	if !ok {
		return fmt.Errorf("invalid component kind %d", uint8(kind))
	}

	known := make(map[string]bool, len(specs))
	for _, spec := range specs {
		known[spec.name] = true
		v, present := fields[spec.name]
		if !present {
			if spec.required {
				return &SchemaError{Kind: kind, Field: spec.name, Message: "required field missing"}
			}
			continue
		}
		if err := checkField(kind, spec, v); err != nil {
			return err
		}
	}
	for _, name := range fields.SortedKeys() {
		if !known[name] {
			return &SchemaError{Kind: kind, Field: name, Message: "unknown field"}
		}
	}

	switch kind {
	case KindConcept, KindDescription, KindRelationship:
		return nil
	case KindSemantic:
		return checkSemanticValue(fields)
	default:
		panic(fmt.Sprintf("unhandled component kind %d", uint8(kind)))
	}
}

func checkField(kind Kind, spec fieldSpec, v field.Value) error {
	bad := func(msg string) error {
		return &SchemaError{Kind: kind, Field: spec.name, Message: msg}
	}

	switch spec.kind {
	case fString:
		s, ok := v.(field.String)
		if !ok {
			return bad("expected string, got " + field.TypeName(v))
		}
		if spec.required && strings.TrimSpace(string(s)) == "" {
			return bad("must not be empty")
		}
		if len(spec.oneOf) > 0 && !slices.Contains(spec.oneOf, string(s)) {
			return bad(fmt.Sprintf("must be one of %s", strings.Join(spec.oneOf, ", ")))
		}
	case fInt:
		if _, ok := v.(field.Int); !ok {
			return bad("expected int, got " + field.TypeName(v))
		}
	case fBool:
		if _, ok := v.(field.Bool); !ok {
			return bad("expected bool, got " + field.TypeName(v))
		}
	case fUUID:
		s, ok := v.(field.String)
		if !ok {
			return bad("expected uuid string, got " + field.TypeName(v))
		}
		if _, err := uuid.Parse(string(s)); err != nil {
			return bad("invalid uuid: " + err.Error())
		}
	case fAny:
	}
	return nil
}

func checkSemanticValue(fields field.Object) error {
	variant := VariantMembership
	if s, ok := fields.Str("variant"); ok {
		variant = Variant(s)
	}
	value, present := fields["value"]
	bad := func(msg string) error {
		return &SchemaError{Kind: KindSemantic, Field: "value", Message: msg}
	}

	switch variant {
	case VariantMembership:
		if present {
			return bad("membership semantics carry no value")
		}
	case VariantString:
		if _, ok := value.(field.String); !ok {
			return bad("string variant needs a string value")
		}
	case VariantLong:
		if _, ok := value.(field.Int); !ok {
			return bad("long variant needs an int value")
		}
	case VariantComponent:
		s, ok := value.(field.String)
		if !ok {
			return bad("component variant needs a uuid value")
		}
		if _, err := uuid.Parse(string(s)); err != nil {
			return bad("invalid uuid: " + err.Error())
		}
	case VariantDynamic:
		if _, ok := value.(field.Object); !ok {
			return bad("dynamic variant needs an object value")
		}
	default:
		return &SchemaError{Kind: KindSemantic, Field: "variant", Message: fmt.Sprintf("unknown variant %q", variant)}
	}
	return nil
}

// References returns the UUIDs the fields point at, in schema order. Values
// that do not parse are skipped; Validate reports them.
func References(kind Kind, fields field.Object) []uuid.UUID {
	var out []uuid.UUID
	add := func(name string) {
		if s, ok := fields.Str(name); ok {
			if id, err := uuid.Parse(s); err == nil {
				out = append(out, id)
			}
		}
	}

	switch kind {
	case KindConcept:
	case KindDescription:
		add("concept")
	case KindRelationship:
		add("source")
		add("destination")
		add("type")
	case KindSemantic:
		add("assemblage")
		add("referenced_component")
		if v, _ := fields.Str("variant"); Variant(v) == VariantComponent {
			add("value")
		}
	default:
		panic(fmt.Sprintf("unhandled component kind %d", uint8(kind)))
	}
	return out
}
