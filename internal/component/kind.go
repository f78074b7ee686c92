// Package component defines the closed set of component kinds and the field
// schema each kind carries.
//
// Every kind shares the same revision model; only the field shape differs.
// Fields are field.Object values and deltas are field.Object patches.
package component

import (
	"fmt"
	"strings"
)

// Kind is the closed set of component kinds.
type Kind uint8

const (
	KindConcept Kind = iota + 1
	KindDescription
	KindRelationship
	KindSemantic
)

// Kinds lists every kind in declaration order.
var Kinds = []Kind{KindConcept, KindDescription, KindRelationship, KindSemantic}

func (k Kind) String() string {
	switch k {
	case KindConcept:
		return "concept"
	case KindDescription:
		return "description"
	case KindRelationship:
		return "relationship"
	case KindSemantic:
		return "semantic"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of Kinds.
func (k Kind) Valid() bool {
	return k >= KindConcept && k <= KindSemantic
}

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if strings.EqualFold(strings.TrimSpace(s), k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown component kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid component kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Variant is the payload shape of a semantic record.
type Variant string

const (
	VariantMembership Variant = "membership"
	VariantString     Variant = "string"
	VariantLong       Variant = "long"
	VariantComponent  Variant = "component"
	VariantDynamic    Variant = "dynamic"
)

// Characteristic distinguishes authored relationships from classifier output.
type Characteristic string

const (
	Stated   Characteristic = "stated"
	Inferred Characteristic = "inferred"
)
