package rewind

import (
	"errors"

	"github.com/xraph/rewind/catalog"
	"github.com/xraph/rewind/signal"
)

// Sentinel errors returned by Rewind operations.
var (
	// ErrNoStore is returned when a Rewind is created without a store.
	ErrNoStore = errors.New("rewind: store is required")

	// ErrSessionNotFound is returned when a session cannot be found.
	ErrSessionNotFound = errors.New("rewind: session not found")

	// ErrEventNotFound is returned when an event cannot be found.
	ErrEventNotFound = errors.New("rewind: event not found")

	// ErrProjectNotFound is returned when a project id or ingest key does
	// not resolve.
	ErrProjectNotFound = errors.New("rewind: project not found")

	// ErrDefinitionNotFound is returned when an event definition is not registered.
	ErrDefinitionNotFound = catalog.ErrNotFound

	// ErrDefinitionDeprecated is returned when a custom event uses a deprecated definition.
	ErrDefinitionDeprecated = catalog.ErrDeprecated

	// ErrPayloadValidationFailed is returned when event properties fail JSON Schema validation.
	ErrPayloadValidationFailed = catalog.ErrSchemaViolation

	// ErrDuplicateBatch is returned by stores when a batch id was already claimed.
	ErrDuplicateBatch = errors.New("rewind: duplicate batch")

	// ErrRecordingDisabled is returned when ingesting for a project with recording off.
	ErrRecordingDisabled = errors.New("rewind: recording is disabled for this project")

	// ErrRateLimited is returned when a session exceeds its project's event rate.
	ErrRateLimited = errors.New("rewind: rate limited")

	// ErrInvalidBatch is returned when a batch is structurally unusable.
	ErrInvalidBatch = errors.New("rewind: invalid batch")

	// ErrStoreClosed is returned when a store operation is attempted after the store is closed.
	ErrStoreClosed = errors.New("rewind: store is closed")

	// ErrQuarantineNotFound is returned when a quarantine entry cannot be found.
	ErrQuarantineNotFound = errors.New("rewind: quarantine entry not found")

	// ErrErrorGroupNotFound is returned when an error group cannot be found.
	ErrErrorGroupNotFound = signal.ErrGroupNotFound

	// ErrMigrationFailed is returned when a database migration fails.
	ErrMigrationFailed = errors.New("rewind: migration failed")
)
