package catalog

import (
	"encoding/json"
	"time"

	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/internal/entity"
)

// IdentifyName is the reserved definition name whose schema validates the
// traits of Identify events.
const IdentifyName = "identify"

// Definition describes a host-defined event recorded with Track. The name
// is dot-separated by convention: "<area>.<action>", e.g.
// "checkout.completed".
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Group is an optional category for organizing definitions.
	Group string `json:"group,omitempty"`

	// Schema is an optional JSON Schema for the event properties. Events
	// that fail it are quarantined at ingestion.
	Schema json.RawMessage `json:"schema,omitempty"`

	// Version is a free-form revision label for the definition.
	Version string `json:"version,omitempty"`

	// Example is an optional example property set for documentation.
	Example json.RawMessage `json:"example,omitempty"`
}

// EventDefinition is the stored form of a Definition.
type EventDefinition struct {
	entity.Entity

	ID         id.ID      `json:"id"`
	Definition Definition `json:"definition"`

	// Deprecated definitions still exist but their events are quarantined.
	Deprecated   bool       `json:"deprecated"`
	DeprecatedAt *time.Time `json:"deprecated_at,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// ListOpts configures filtering and pagination for definition listing.
type ListOpts struct {
	Offset            int
	Limit             int
	Group             string
	IncludeDeprecated bool
}
