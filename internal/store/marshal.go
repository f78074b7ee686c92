package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/termvc/internal/field"
)

// marshalFields converts a field object to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON for deterministic serialization.
func marshalFields(obj field.Object) (string, error) {
	if obj == nil {
		obj = field.Object{}
	}
	data, err := field.Canonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(data), nil
}

// unmarshalFields parses canonical JSON TEXT to a field object.
// field.Object.UnmarshalJSON decodes numbers via json.Number, so int64
// values above 2^53 survive the round trip.
func unmarshalFields(data string) (field.Object, error) {
	if data == "" || data == "{}" {
		return field.Object{}, nil
	}
	var obj field.Object
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return obj, nil
}
