package catalog_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/catalog"
	"github.com/xraph/rewind/store/memory"
)

func ctx() context.Context { return context.Background() }

func newCatalog(cfg catalog.Config) *catalog.Catalog {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	return catalog.NewCatalog(memory.New(), cfg, nil)
}

var planSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"plan": {"type": "string"}},
	"required": ["plan"]
}`)

func TestCatalogRegisterAndGet(t *testing.T) {
	c := newCatalog(catalog.Config{})

	ed, err := c.Register(ctx(), catalog.Definition{
		Name:        "signup.completed",
		Description: "Signup form submitted",
		Group:       "signup",
		Schema:      planSchema,
	}, catalog.WithMetadata(map[string]string{"owner": "growth"}))
	if err != nil {
		t.Fatal(err)
	}
	if ed.ID.IsNil() || ed.Metadata["owner"] != "growth" {
		t.Fatalf("registered = %+v", ed)
	}

	got, err := c.Get(ctx(), "signup.completed")
	if err != nil {
		t.Fatal(err)
	}
	if got.Definition.Group != "signup" {
		t.Fatalf("got %+v", got.Definition)
	}

	again, _ := c.Get(ctx(), "signup.completed")
	if got != again {
		t.Fatal("expected cache hit (same pointer)")
	}
}

func TestCatalogRegisterRejectsInvalid(t *testing.T) {
	c := newCatalog(catalog.Config{})

	if _, err := c.Register(ctx(), catalog.Definition{Name: "  "}); !errors.Is(err, catalog.ErrInvalidDefinition) {
		t.Fatalf("blank name: %v", err)
	}
	_, err := c.Register(ctx(), catalog.Definition{Name: "x", Schema: json.RawMessage(`{"type": 12}`)})
	if !errors.Is(err, catalog.ErrInvalidDefinition) {
		t.Fatalf("bad schema: %v", err)
	}
}

func TestCatalogGetNotFound(t *testing.T) {
	c := newCatalog(catalog.Config{})

	_, err := c.Get(ctx(), "does.not.exist")
	if !errors.Is(err, rewind.ErrDefinitionNotFound) {
		t.Fatalf("expected ErrDefinitionNotFound, got %v", err)
	}
}

func TestCatalogCacheTTLExpiry(t *testing.T) {
	c := catalog.NewCatalog(memory.New(), catalog.Config{CacheTTL: time.Millisecond}, nil)
	if _, err := c.Register(ctx(), catalog.Definition{Name: "b.event"}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := c.Get(ctx(), "b.event"); err != nil {
		t.Fatal("expected to re-read from store after TTL, got:", err)
	}
}

func TestCatalogUpsertKeepsID(t *testing.T) {
	c := newCatalog(catalog.Config{})

	first, err := c.Register(ctx(), catalog.Definition{Name: "cart.viewed", Description: "v1"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Register(ctx(), catalog.Definition{Name: "cart.viewed", Description: "v2"})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("re-register changed id: %s -> %s", first.ID, second.ID)
	}

	c.InvalidateCache()
	got, _ := c.Get(ctx(), "cart.viewed")
	if got.Definition.Description != "v2" {
		t.Fatalf("expected v2, got %q", got.Definition.Description)
	}
}

func TestCatalogValidate(t *testing.T) {
	c := newCatalog(catalog.Config{})
	if _, err := c.Register(ctx(), catalog.Definition{Name: "signup.completed", Schema: planSchema}); err != nil {
		t.Fatal(err)
	}

	if err := c.Validate(ctx(), "signup.completed", map[string]any{"plan": "pro"}); err != nil {
		t.Errorf("valid props: %v", err)
	}
	if err := c.Validate(ctx(), "signup.completed", nil); !errors.Is(err, catalog.ErrSchemaViolation) {
		t.Errorf("missing plan: %v", err)
	}
	if err := c.Validate(ctx(), "undefined.event", map[string]any{"a": 1}); err != nil {
		t.Errorf("undefined events pass when not strict: %v", err)
	}

	if err := c.Deprecate(ctx(), "signup.completed"); err != nil {
		t.Fatal(err)
	}
	if err := c.Validate(ctx(), "signup.completed", map[string]any{"plan": "pro"}); !errors.Is(err, catalog.ErrDeprecated) {
		t.Errorf("deprecated: %v", err)
	}
}

func TestCatalogStrict(t *testing.T) {
	c := newCatalog(catalog.Config{Strict: true})

	if err := c.Validate(ctx(), "undefined.event", nil); !errors.Is(err, catalog.ErrUndefined) {
		t.Errorf("strict undefined: %v", err)
	}
	if err := c.Validate(ctx(), catalog.IdentifyName, map[string]any{"email": "a@b.test"}); err != nil {
		t.Errorf("identify needs no definition even when strict: %v", err)
	}
}

func TestCatalogMatchingAndList(t *testing.T) {
	c := newCatalog(catalog.Config{})
	for _, name := range []string{"checkout.started", "checkout.completed", "search.performed"} {
		if _, err := c.Register(ctx(), catalog.Definition{Name: name, Group: name[:6]}); err != nil {
			t.Fatal(err)
		}
	}

	matched, err := c.Matching(ctx(), "checkout.*")
	if err != nil {
		t.Fatal(err)
	}
	if len(matched) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matched))
	}

	_ = c.Deprecate(ctx(), "checkout.started")
	active, _ := c.List(ctx(), catalog.ListOpts{})
	all, _ := c.List(ctx(), catalog.ListOpts{IncludeDeprecated: true})
	if len(active) != 2 || len(all) != 3 {
		t.Errorf("active=%d all=%d", len(active), len(all))
	}
	grouped, _ := c.List(ctx(), catalog.ListOpts{Group: "search"})
	if len(grouped) != 1 {
		t.Errorf("group filter returned %d", len(grouped))
	}
}
