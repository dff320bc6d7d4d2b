package catalog

import "errors"

var (
	// ErrNotFound is returned when a definition is not registered.
	ErrNotFound = errors.New("rewind: event definition not found")

	// ErrDeprecated is returned when validating an event whose definition
	// has been deprecated.
	ErrDeprecated = errors.New("rewind: event definition is deprecated")

	// ErrSchemaViolation is returned when event properties fail the
	// definition schema.
	ErrSchemaViolation = errors.New("rewind: event properties fail schema")

	// ErrInvalidDefinition is returned when registering a malformed
	// definition, including one whose schema does not compile.
	ErrInvalidDefinition = errors.New("rewind: invalid event definition")

	// ErrUndefined is returned in strict mode for events without a
	// definition.
	ErrUndefined = errors.New("rewind: event has no definition")
)
