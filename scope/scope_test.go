package scope_test

import (
	"context"
	"testing"

	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/scope"
)

func TestProjectRoundTrip(t *testing.T) {
	pid := id.NewProjectID()
	ctx := scope.WithProject(context.Background(), pid)

	got, ok := scope.Project(ctx)
	if !ok || got != pid {
		t.Fatalf("Project = %v, %v; want %v", got, ok, pid)
	}
}

func TestProjectUnset(t *testing.T) {
	if _, ok := scope.Project(context.Background()); ok {
		t.Fatal("expected no project")
	}
	ctx := scope.WithProject(context.Background(), id.Nil)
	if _, ok := scope.Project(ctx); ok {
		t.Fatal("nil id should not scope the context")
	}
}

func TestCaptureRestore(t *testing.T) {
	pid := id.NewProjectID()
	captured := scope.Capture(scope.WithProject(context.Background(), pid))
	if captured == "" {
		t.Fatal("expected captured scope")
	}

	got, ok := scope.Project(scope.Restore(context.Background(), captured))
	if !ok || got != pid {
		t.Fatalf("restored %v, want %v", got, pid)
	}

	if _, ok := scope.Project(scope.Restore(context.Background(), "not-an-id")); ok {
		t.Fatal("garbage should not restore a scope")
	}
}
