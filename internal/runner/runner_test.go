package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cyclab/aurora/internal/executors"
	"github.com/cyclab/aurora/internal/executors/simcell"
	"github.com/cyclab/aurora/internal/job"
	"github.com/cyclab/aurora/internal/models"
	"github.com/cyclab/aurora/internal/protocol"
)

// scriptedExec runs a test-provided function as the backend.
type scriptedExec struct {
	fn func(ctx context.Context, desc *models.JobDescription, workDir string) (*executors.ExecResult, error)
}

func (s *scriptedExec) Name() string { return "scripted" }
func (s *scriptedExec) Execute(ctx context.Context, desc *models.JobDescription, workDir string) (*executors.ExecResult, error) {
	return s.fn(ctx, desc, workDir)
}

func testDescription(t *testing.T) *models.JobDescription {
	t.Helper()
	p, err := protocol.Validate("formation", []protocol.RawStep{
		{Kind: "charge", Params: map[string]any{"current_a": 0.5, "voltage_v": 4.2}, Termination: map[string]any{"voltage_v": 4.2}},
		{Kind: "rest", Params: map[string]any{"duration_s": 600}},
		{Kind: "discharge", Params: map[string]any{"current_a": 0.5, "voltage_v": 3.0}, Termination: map[string]any{"voltage_v": 3.0}},
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	desc, err := job.Package(p, &models.Sample{ID: "s-1", Label: "cell-001"})
	if err != nil {
		t.Fatalf("package: %v", err)
	}
	return desc
}

func writeAll(t *testing.T, workDir string, names []string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(workDir, name), []byte("0.0 1.0\n"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func newTestRunner(exec executors.Executor) *Runner {
	r := New(exec, nil)
	r.DisableMonitor()
	return r
}

func TestRunCompletes(t *testing.T) {
	desc := testDescription(t)
	var sawPayload bool
	exec := &scriptedExec{fn: func(ctx context.Context, d *models.JobDescription, workDir string) (*executors.ExecResult, error) {
		if _, err := os.Stat(filepath.Join(workDir, job.PayloadFileName)); err == nil {
			sawPayload = true
		}
		writeAll(t, workDir, d.Artifacts)
		return &executors.ExecResult{ExitCode: 0}, nil
	}}

	var statuses []models.JobStatus
	res := newTestRunner(exec).Run(context.Background(), "j-1", desc, t.TempDir(), func(s models.JobStatus) {
		statuses = append(statuses, s)
	})

	if res.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s, want completed (%s: %s)", res.Status, res.FailureKind, res.FailureCause)
	}
	if !sawPayload {
		t.Error("payload file was not written before execution")
	}
	if len(res.Output.Artifacts) != len(desc.Artifacts) {
		t.Errorf("collected %d artifacts, want %d", len(res.Output.Artifacts), len(desc.Artifacts))
	}

	want := []models.JobStatus{models.JobStatusSubmitted, models.JobStatusRunning, models.JobStatusCompleted}
	if len(statuses) != len(want) {
		t.Fatalf("transitions = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("transition[%d] = %s, want %s", i, statuses[i], want[i])
		}
	}
}

func TestRunMissingArtifact(t *testing.T) {
	desc := testDescription(t)
	exec := &scriptedExec{fn: func(ctx context.Context, d *models.JobDescription, workDir string) (*executors.ExecResult, error) {
		// Leave capacity.dat out.
		writeAll(t, workDir, d.Artifacts[:len(d.Artifacts)-1])
		return &executors.ExecResult{ExitCode: 0}, nil
	}}

	res := newTestRunner(exec).Run(context.Background(), "j-1", desc, t.TempDir(), nil)
	if res.Status != models.JobStatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if res.FailureKind != models.FailureMissingArtifact {
		t.Errorf("failure kind = %s, want missing_artifact", res.FailureKind)
	}
	if !strings.Contains(res.FailureCause, "capacity.dat") {
		t.Errorf("cause = %q, want it to name the artifact", res.FailureCause)
	}
}

func TestRunEmptyArtifact(t *testing.T) {
	desc := testDescription(t)
	exec := &scriptedExec{fn: func(ctx context.Context, d *models.JobDescription, workDir string) (*executors.ExecResult, error) {
		writeAll(t, workDir, d.Artifacts)
		if err := os.WriteFile(filepath.Join(workDir, d.Artifacts[0]), nil, 0o644); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return &executors.ExecResult{ExitCode: 0}, nil
	}}

	res := newTestRunner(exec).Run(context.Background(), "j-1", desc, t.TempDir(), nil)
	if res.FailureKind != models.FailureMalformedArtifact {
		t.Errorf("failure kind = %s, want malformed_artifact", res.FailureKind)
	}
}

func TestRunNonzeroExit(t *testing.T) {
	desc := testDescription(t)
	exec := &scriptedExec{fn: func(ctx context.Context, d *models.JobDescription, workDir string) (*executors.ExecResult, error) {
		return &executors.ExecResult{ExitCode: 9, Stderr: "channel fault\n"}, nil
	}}

	res := newTestRunner(exec).Run(context.Background(), "j-1", desc, t.TempDir(), nil)
	if res.FailureKind != models.FailureExit {
		t.Fatalf("failure kind = %s, want exit", res.FailureKind)
	}
	if !strings.Contains(res.FailureCause, "9") || !strings.Contains(res.FailureCause, "channel fault") {
		t.Errorf("cause = %q, want exit code and stderr tail", res.FailureCause)
	}
	if res.ExitCode != 9 {
		t.Errorf("exit code = %d, want 9", res.ExitCode)
	}
}

func TestRunTimeout(t *testing.T) {
	desc := testDescription(t)
	exec := &scriptedExec{fn: func(ctx context.Context, d *models.JobDescription, workDir string) (*executors.ExecResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := newTestRunner(exec).Run(ctx, "j-1", desc, t.TempDir(), nil)
	if res.Status != models.JobStatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if res.FailureKind != models.FailureTimeout {
		t.Errorf("failure kind = %s, want timeout", res.FailureKind)
	}
}

func TestRunCancelled(t *testing.T) {
	desc := testDescription(t)
	exec := &scriptedExec{fn: func(ctx context.Context, d *models.JobDescription, workDir string) (*executors.ExecResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := newTestRunner(exec).Run(ctx, "j-1", desc, t.TempDir(), nil)
	if res.FailureKind != models.FailureCancelled {
		t.Errorf("failure kind = %s, want cancelled", res.FailureKind)
	}
}

func TestRunSimulatorEndToEnd(t *testing.T) {
	desc := testDescription(t)
	res := newTestRunner(simcell.New()).Run(context.Background(), "j-1", desc, t.TempDir(), nil)
	if res.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s (%s: %s), want completed", res.Status, res.FailureKind, res.FailureCause)
	}
	if got := len(res.Output.Artifacts); got != 3 {
		t.Errorf("artifacts = %d, want 3", got)
	}
	names := res.Output.Names()
	want := []string{"voltage.dat", "current.dat", "capacity.dat"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("artifact[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestMonitorSeesFiles(t *testing.T) {
	dir := t.TempDir()
	mon, err := StartMonitor(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("start monitor: %v", err)
	}
	defer mon.Stop()

	if err := os.WriteFile(filepath.Join(dir, "voltage.dat"), []byte("0.0 3.5\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		files := mon.Files()
		if len(files) > 0 {
			if files[0] != "voltage.dat" {
				t.Fatalf("files = %v, want voltage.dat", files)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("monitor never observed the file")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
