// Package catalog manages definitions for host-defined events and checks
// recorded Track and Identify events against them.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/internal/entity"
)

// Catalog is the cached service for event definitions.
type Catalog struct {
	store     Store
	cache     *cache.Cache
	validator *Validator
	strict    bool
	logger    *slog.Logger
}

// Config configures the catalog service.
type Config struct {
	// CacheTTL bounds how long a definition is served from memory. Zero
	// caches until invalidated.
	CacheTTL time.Duration

	// Strict rejects custom events whose name has no definition.
	Strict bool
}

// NewCatalog creates a new Catalog backed by the given store.
func NewCatalog(store Store, cfg Config, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.CacheTTL
	cleanup := 2 * ttl
	if ttl <= 0 {
		ttl = cache.NoExpiration
		cleanup = 0
	}
	return &Catalog{
		store:     store,
		cache:     cache.New(ttl, cleanup),
		validator: NewValidator(),
		strict:    cfg.Strict,
		logger:    logger,
	}
}

// RegisterOption configures Register behavior.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	metadata map[string]string
}

// WithMetadata sets metadata on a registered definition.
func WithMetadata(m map[string]string) RegisterOption {
	return func(o *registerOptions) { o.metadata = m }
}

// Register creates or replaces a definition. The schema, if any, must
// compile.
func (c *Catalog) Register(ctx context.Context, def Definition, opts ...RegisterOption) (*EventDefinition, error) {
	ro := registerOptions{}
	for _, o := range opts {
		o(&ro)
	}

	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if !isEmpty(def.Schema) {
		if err := c.validator.Compile(def.Schema); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
		}
	}

	ed := &EventDefinition{
		Entity:     entity.New(),
		ID:         id.NewDefinitionID(),
		Definition: def,
		Metadata:   ro.metadata,
	}
	if err := c.store.RegisterDefinition(ctx, ed); err != nil {
		return nil, err
	}

	c.cache.Set(def.Name, ed, cache.DefaultExpiration)
	c.logger.DebugContext(ctx, "event definition registered", "name", def.Name, "id", ed.ID)
	return ed, nil
}

// Get returns a definition by name, using the cache when available.
func (c *Catalog) Get(ctx context.Context, name string) (*EventDefinition, error) {
	if v, ok := c.cache.Get(name); ok {
		return v.(*EventDefinition), nil
	}

	ed, err := c.store.GetDefinition(ctx, name)
	if err != nil {
		return nil, err
	}
	c.cache.Set(name, ed, cache.DefaultExpiration)
	return ed, nil
}

// List returns registered definitions.
func (c *Catalog) List(ctx context.Context, opts ListOpts) ([]*EventDefinition, error) {
	return c.store.ListDefinitions(ctx, opts)
}

// Matching returns non-deprecated definitions whose name matches pattern.
func (c *Catalog) Matching(ctx context.Context, pattern string) ([]*EventDefinition, error) {
	return c.store.MatchDefinitions(ctx, pattern)
}

// Deprecate soft-deletes a definition and evicts it from the cache.
func (c *Catalog) Deprecate(ctx context.Context, name string) error {
	if err := c.store.DeprecateDefinition(ctx, name); err != nil {
		return err
	}
	c.cache.Delete(name)
	return nil
}

// Validate checks the properties of a custom event named name. Events
// without a definition pass unless the catalog is strict.
func (c *Catalog) Validate(ctx context.Context, name string, props map[string]any) error {
	ed, err := c.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		if c.strict && name != IdentifyName {
			return fmt.Errorf("%w: %s", ErrUndefined, name)
		}
		return nil
	}
	if err != nil {
		return err
	}
	if ed.Deprecated {
		return fmt.Errorf("%w: %s", ErrDeprecated, name)
	}
	if props == nil {
		props = map[string]any{}
	}
	if err := c.validator.Validate(ed.Definition.Schema, props); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSchemaViolation, name, err)
	}
	return nil
}

// InvalidateCache clears the cache, forcing fresh reads from the store.
func (c *Catalog) InvalidateCache() {
	c.cache.Flush()
}

// WarmCache preloads non-deprecated definitions.
func (c *Catalog) WarmCache(ctx context.Context) error {
	defs, err := c.store.ListDefinitions(ctx, ListOpts{})
	if err != nil {
		return err
	}
	for _, ed := range defs {
		c.cache.Set(ed.Definition.Name, ed, cache.DefaultExpiration)
	}
	return nil
}
