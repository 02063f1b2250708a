package procexec

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cyclab/aurora/internal/models"
)

func TestIsAllowed(t *testing.T) {
	exec := New(nil)

	tests := []struct {
		command []string
		allowed bool
	}{
		{[]string{"cellcycler", "run", "payload.yaml"}, true},
		{[]string{"bioflex", "run"}, true},
		{[]string{"nwctl"}, true},
		{[]string{"rm", "-rf", "/"}, false},
		{[]string{"cellcyclerx"}, false},
		{[]string{}, false},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.command, " "), func(t *testing.T) {
			got := exec.IsAllowed(tt.command)
			if got != tt.allowed {
				t.Errorf("IsAllowed(%v) = %v, want %v", tt.command, got, tt.allowed)
			}
		})
	}
}

func TestExecuteNotAllowed(t *testing.T) {
	exec := New(nil)
	desc := &models.JobDescription{Command: []string{"rm", "-rf", "/"}}

	_, err := exec.Execute(context.Background(), desc, t.TempDir())
	if err == nil {
		t.Error("Expected error for non-allowed command")
	}
}

func TestExecuteCapturesExit(t *testing.T) {
	exec := New([]string{"sh"})
	desc := &models.JobDescription{Command: []string{"sh", "-c", "echo out; echo err >&2; exit 3"}}

	res, err := exec.Execute(context.Background(), desc, t.TempDir())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Stdout, "out") {
		t.Errorf("stdout = %q, want to contain 'out'", res.Stdout)
	}
	if !strings.Contains(res.Stderr, "err") {
		t.Errorf("stderr = %q, want to contain 'err'", res.Stderr)
	}
}

func TestExecuteTimeout(t *testing.T) {
	exec := New([]string{"sleep"})
	desc := &models.JobDescription{Command: []string{"sleep", "5"}}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := exec.Execute(ctx, desc, t.TempDir())
	if err != context.DeadlineExceeded {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestName(t *testing.T) {
	exec := New(nil)
	if exec.Name() != "procexec" {
		t.Errorf("Expected name 'procexec', got %s", exec.Name())
	}
}
