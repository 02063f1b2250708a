package executors

import (
	"context"
	"testing"

	"github.com/cyclab/aurora/internal/models"
)

type fakeExec struct{ name string }

func (f *fakeExec) Name() string { return f.name }
func (f *fakeExec) Execute(ctx context.Context, desc *models.JobDescription, workDir string) (*ExecResult, error) {
	return &ExecResult{ExitCode: 0}, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if r.Count() != 0 {
		t.Fatalf("new registry count = %d, want 0", r.Count())
	}

	if err := r.Register(&fakeExec{name: "simcell"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(&fakeExec{name: "procexec"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, ok := r.Get("simcell"); !ok {
		t.Error("expected simcell to be registered")
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("did not expect missing backend")
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "procexec" || names[1] != "simcell" {
		t.Errorf("names = %v, want [procexec simcell]", names)
	}
}

func TestRegistryRejectsEmptyName(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeExec{name: ""}); err == nil {
		t.Error("expected error for empty executor name")
	}
}

func TestDetectIncludesBuiltin(t *testing.T) {
	backends := Detect()
	if len(backends) == 0 {
		t.Fatal("expected at least the builtin backend")
	}
	if backends[0].ID != "simcell" || !backends[0].Builtin {
		t.Errorf("first backend = %+v, want builtin simcell", backends[0])
	}
	if backends[0].Status != "available" {
		t.Errorf("builtin status = %s, want available", backends[0].Status)
	}
}
