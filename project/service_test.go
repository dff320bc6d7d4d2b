package project_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/project"
	"github.com/xraph/rewind/recorder"
	"github.com/xraph/rewind/store/memory"
)

func ctx() context.Context { return context.Background() }

func newService() *project.Service {
	return project.NewService(memory.New(), nil)
}

func TestProjectServiceCreate(t *testing.T) {
	svc := newService()

	p, err := svc.Create(ctx(), project.Input{Name: "  storefront  "})
	if err != nil {
		t.Fatal(err)
	}
	if p.ID.String() == "" {
		t.Fatal("expected non-empty ID")
	}
	if p.Name != "storefront" {
		t.Fatalf("expected trimmed name, got %q", p.Name)
	}
	if !strings.HasPrefix(p.IngestKey, "rwk_") {
		t.Fatalf("expected generated ingest key, got %q", p.IngestKey)
	}
	if !p.RecordingEnabled {
		t.Fatal("expected recording enabled by default")
	}

	got, err := svc.GetByKey(ctx(), p.IngestKey)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != p.ID {
		t.Fatalf("GetByKey returned %s, want %s", got.ID, p.ID)
	}
}

func TestProjectServiceCreateValidation(t *testing.T) {
	svc := newService()

	var verr *project.ValidationError
	if _, err := svc.Create(ctx(), project.Input{}); !errors.As(err, &verr) || verr.Field != "name" {
		t.Fatalf("expected name validation error, got %v", err)
	}

	neg := -1
	if _, err := svc.Create(ctx(), project.Input{Name: "x", RetentionDays: &neg}); !errors.As(err, &verr) {
		t.Fatalf("expected retention validation error, got %v", err)
	}
	if _, err := svc.Create(ctx(), project.Input{Name: "x", RateLimit: &neg}); !errors.As(err, &verr) {
		t.Fatalf("expected rate limit validation error, got %v", err)
	}
	if _, err := svc.Create(ctx(), project.Input{Name: "x", MaskSelectors: []string{" "}}); !errors.As(err, &verr) {
		t.Fatalf("expected selector validation error, got %v", err)
	}
}

func TestProjectServiceUpdate(t *testing.T) {
	svc := newService()

	p, _ := svc.Create(ctx(), project.Input{Name: "app", MaskSelectors: []string{".secret"}})

	days := 30
	consent := true
	updated, err := svc.Update(ctx(), p.ID, project.Input{RetentionDays: &days, ConsentRequired: &consent})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Name != "app" {
		t.Fatalf("name should be unchanged, got %q", updated.Name)
	}
	if updated.RetentionDays != 30 || !updated.ConsentRequired {
		t.Fatalf("update not applied: %+v", updated)
	}
	if len(updated.MaskSelectors) != 1 {
		t.Fatalf("mask selectors should be unchanged, got %v", updated.MaskSelectors)
	}

	if err := svc.SetRecording(ctx(), p.ID, false); err != nil {
		t.Fatal(err)
	}
	got, _ := svc.Get(ctx(), p.ID)
	if got.RecordingEnabled {
		t.Fatal("expected recording disabled")
	}
}

func TestProjectServiceRotateKey(t *testing.T) {
	svc := newService()

	p, _ := svc.Create(ctx(), project.Input{Name: "app"})
	old := p.IngestKey

	key, err := svc.RotateKey(ctx(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if key == old {
		t.Fatal("expected a new key")
	}
	if _, err := svc.GetByKey(ctx(), old); !errors.Is(err, rewind.ErrProjectNotFound) {
		t.Fatalf("old key should stop resolving, got %v", err)
	}
	if got, err := svc.GetByKey(ctx(), key); err != nil || got.ID != p.ID {
		t.Fatalf("new key should resolve: %v", err)
	}
}

func TestProjectServiceDeleteAndList(t *testing.T) {
	svc := newService()

	a, _ := svc.Create(ctx(), project.Input{Name: "a"})
	off := false
	_, _ = svc.Create(ctx(), project.Input{Name: "b", RecordingEnabled: &off})

	all, err := svc.List(ctx(), project.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(all))
	}

	on := true
	enabled, _ := svc.List(ctx(), project.ListOpts{Enabled: &on})
	if len(enabled) != 1 || enabled[0].ID != a.ID {
		t.Fatalf("expected only project a enabled, got %d", len(enabled))
	}

	if err := svc.Delete(ctx(), a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx(), a.ID); !errors.Is(err, rewind.ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestSettingsApply(t *testing.T) {
	p := &project.Project{ConsentRequired: true, MaskSelectors: []string{".card"}}
	cfg := p.Settings().Apply(recorder.Config{MaskSelectors: []string{"#ssn"}})

	if !cfg.ConsentRequired {
		t.Fatal("expected consent required")
	}
	if cfg.MaskAllInputs {
		t.Fatal("mask-all should stay off")
	}
	if len(cfg.MaskSelectors) != 2 {
		t.Fatalf("expected merged selectors, got %v", cfg.MaskSelectors)
	}
}
