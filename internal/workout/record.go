// Package workout defines the structured record that a Gymmando conversation
// incrementally builds: the field schema, the partial Record value, the
// completeness check, and the merge policy applied after each extraction turn.
//
// Everything in this package is pure: functions take and return values and
// never touch external state. The dialogue state machine owns the single
// mutable Record reference for a session.
package workout

import (
	"fmt"
	"strings"
)

// Field identifies one slot of the workout schema.
type Field string

const (
	FieldExercise Field = "exercise"
	FieldSets     Field = "sets"
	FieldReps     Field = "reps"
	FieldWeight   Field = "weight"
	FieldRestTime Field = "rest_time"
	FieldComments Field = "comments"
)

// RequiredFields lists the fields that must hold a value before a record can
// be committed, in schema declaration order.
var RequiredFields = []Field{FieldExercise, FieldSets, FieldReps, FieldWeight}

// OptionalFields lists the fields that may be absent, in schema declaration
// order.
var OptionalFields = []Field{FieldRestTime, FieldComments}

// IsValid reports whether f names a known schema field.
func (f Field) IsValid() bool {
	switch f {
	case FieldExercise, FieldSets, FieldReps, FieldWeight, FieldRestTime, FieldComments:
		return true
	}
	return false
}

// Label returns the human-readable name used in prompts ("rest time" instead
// of "rest_time").
func (f Field) Label() string {
	return strings.ReplaceAll(string(f), "_", " ")
}

// Record is the partial workout being accumulated across a conversation.
// A nil pointer means the field has not been captured yet. Weight is kept as
// normalized text (unit-agnostic): "135 lbs", "60kg" and "bodyweight" are
// all stored verbatim so ambiguous-unit input survives to display.
type Record struct {
	Exercise *string
	Sets     *int
	Reps     *int
	Weight   *string
	RestTime *int
	Comments *string
}

// Set assigns v to field f on the record. Integer fields accept int values,
// text fields accept strings; a value of the wrong kind or a negative integer
// is ignored. Unknown fields are ignored.
func (r *Record) Set(f Field, v any) {
	switch f {
	case FieldExercise:
		if s, ok := textValue(v); ok {
			r.Exercise = &s
		}
	case FieldSets:
		if n, ok := intValue(v); ok {
			r.Sets = &n
		}
	case FieldReps:
		if n, ok := intValue(v); ok {
			r.Reps = &n
		}
	case FieldWeight:
		if s, ok := textValue(v); ok {
			r.Weight = &s
		}
	case FieldRestTime:
		if n, ok := intValue(v); ok {
			r.RestTime = &n
		}
	case FieldComments:
		if s, ok := textValue(v); ok {
			r.Comments = &s
		}
	}
}

// Clear removes the value held by field f, if any.
func (r *Record) Clear(f Field) {
	switch f {
	case FieldExercise:
		r.Exercise = nil
	case FieldSets:
		r.Sets = nil
	case FieldReps:
		r.Reps = nil
	case FieldWeight:
		r.Weight = nil
	case FieldRestTime:
		r.RestTime = nil
	case FieldComments:
		r.Comments = nil
	}
}

// Has reports whether field f holds a value on r.
func (r Record) Has(f Field) bool {
	switch f {
	case FieldExercise:
		return r.Exercise != nil
	case FieldSets:
		return r.Sets != nil
	case FieldReps:
		return r.Reps != nil
	case FieldWeight:
		return r.Weight != nil
	case FieldRestTime:
		return r.RestTime != nil
	case FieldComments:
		return r.Comments != nil
	}
	return false
}

// Missing returns the required fields that hold no value, in schema
// declaration order. An empty result means the record is complete.
func Missing(r Record) []Field {
	var missing []Field
	for _, f := range RequiredFields {
		if !r.Has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// Complete reports whether every required field holds a value.
func Complete(r Record) bool {
	return len(Missing(r)) == 0
}

// FieldValue pairs a field with its display string for confirmation output.
type FieldValue struct {
	Field Field
	Value string
}

// Describe returns the record's captured fields as display pairs: required
// fields first, then optional fields, both in schema declaration order.
// Optional fields without a value are omitted; required fields without a
// value render as "?" so a partially-built record can still be shown.
func Describe(r Record) []FieldValue {
	out := make([]FieldValue, 0, len(RequiredFields)+len(OptionalFields))
	for _, f := range RequiredFields {
		out = append(out, FieldValue{Field: f, Value: displayValue(r, f)})
	}
	for _, f := range OptionalFields {
		if r.Has(f) {
			out = append(out, FieldValue{Field: f, Value: displayValue(r, f)})
		}
	}
	return out
}

// Captured returns only the fields that hold a value, in schema
// declaration order. Used where a partial record is rendered as context
// rather than as a form to fill in.
func Captured(r Record) []FieldValue {
	out := make([]FieldValue, 0, len(RequiredFields)+len(OptionalFields))
	for _, f := range append(RequiredFields, OptionalFields...) {
		if r.Has(f) {
			out = append(out, FieldValue{Field: f, Value: displayValue(r, f)})
		}
	}
	return out
}

// displayValue renders the value of field f for prompts.
func displayValue(r Record, f Field) string {
	switch f {
	case FieldExercise:
		if r.Exercise != nil {
			return *r.Exercise
		}
	case FieldSets:
		if r.Sets != nil {
			return fmt.Sprintf("%d", *r.Sets)
		}
	case FieldReps:
		if r.Reps != nil {
			return fmt.Sprintf("%d", *r.Reps)
		}
	case FieldWeight:
		if r.Weight != nil {
			return *r.Weight
		}
	case FieldRestTime:
		if r.RestTime != nil {
			return fmt.Sprintf("%ds", *r.RestTime)
		}
	case FieldComments:
		if r.Comments != nil {
			return *r.Comments
		}
	}
	return "?"
}

// NormalizeText trims and collapses internal whitespace in a free-text value.
// Applied to exercise names, weight descriptions and comments at the decode
// boundary so equivalent spoken forms compare equal.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// textValue coerces v to a normalized non-empty string.
func textValue(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = NormalizeText(s)
	if s == "" {
		return "", false
	}
	return s, true
}

// intValue coerces v to a non-negative int. Negative values are rejected;
// the extractor occasionally hallucinates sign on garbled speech.
func intValue(v any) (int, bool) {
	n, ok := v.(int)
	if !ok || n < 0 {
		return 0, false
	}
	return n, true
}
