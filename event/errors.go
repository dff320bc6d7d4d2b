package event

import (
	"errors"
	"fmt"
)

// ErrSchema is the sentinel matched by every SchemaError.
var ErrSchema = errors.New("event: schema violation")

// SchemaError reports an event that does not satisfy the shape required by
// its type. Index is the position in the enclosing batch, or -1.
type SchemaError struct {
	Index  int
	Type   Type
	Field  string
	Reason string
	// Raw is the undecodable wire form, kept for quarantine.
	Raw []byte
}

func (e *SchemaError) Error() string {
	prefix := "event: schema"
	if e.Index >= 0 {
		prefix = fmt.Sprintf("event[%d]: schema", e.Index)
	}
	if e.Field == "" {
		return fmt.Sprintf("%s: %s: %s", prefix, e.Type, e.Reason)
	}
	return fmt.Sprintf("%s: %s.%s: %s", prefix, e.Type, e.Field, e.Reason)
}

// Unwrap lets errors.Is(err, ErrSchema) match.
func (e *SchemaError) Unwrap() error { return ErrSchema }

func missing(t Type, field string) *SchemaError {
	return &SchemaError{Index: -1, Type: t, Field: field, Reason: "required"}
}

func invalid(t Type, field, reason string) *SchemaError {
	return &SchemaError{Index: -1, Type: t, Field: field, Reason: reason}
}
