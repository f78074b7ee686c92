// Package field defines the value types that make up a component's fields
// and field deltas.
//
// A component's materialized fields are an Object; a revision carries an
// Object patch that is folded on top of the previous fields with Apply. A key
// present in the patch overrides the prior value, and a Null value removes
// the key.
//
// Key design constraints:
//   - Value is a sealed sum type: Null, String, Int, Bool, List, Object
//   - NO float types anywhere, numbers are int64
//   - Canonical encoding is RFC 8785 JSON with NFC-normalized strings, so the
//     same fields always serialize to the same bytes (changesets, SQLite rows)
package field
