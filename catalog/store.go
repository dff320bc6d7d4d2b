package catalog

import (
	"context"

	"github.com/xraph/rewind/id"
)

// Store defines the persistence contract for event definitions.
type Store interface {
	// RegisterDefinition creates or replaces a definition by name. A
	// replaced definition keeps its id and creation time and is no longer
	// deprecated.
	RegisterDefinition(ctx context.Context, d *EventDefinition) error

	GetDefinition(ctx context.Context, name string) (*EventDefinition, error)
	GetDefinitionByID(ctx context.Context, defID id.ID) (*EventDefinition, error)
	ListDefinitions(ctx context.Context, opts ListOpts) ([]*EventDefinition, error)

	// DeprecateDefinition soft-deletes a definition.
	DeprecateDefinition(ctx context.Context, name string) error

	// MatchDefinitions returns non-deprecated definitions whose name
	// matches pattern (see Match).
	MatchDefinitions(ctx context.Context, pattern string) ([]*EventDefinition, error)
}
