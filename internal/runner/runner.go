// Package runner drives the job lifecycle from submission to a terminal
// state. Execution failures are data on the result, never panics: a timeout,
// a nonzero exit, or a missing or malformed artifact all end in the failed
// state with a structured failure kind and cause.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cyclab/aurora/internal/executors"
	"github.com/cyclab/aurora/internal/job"
	"github.com/cyclab/aurora/internal/models"
)

// StatusFunc is notified at every lifecycle transition.
type StatusFunc func(status models.JobStatus)

// RunResult is the terminal outcome of one job run.
type RunResult struct {
	Status       models.JobStatus
	Output       *models.RawOutput
	Exec         *executors.ExecResult
	ExitCode     int
	FailureKind  models.FailureKind
	FailureCause string
	StartedAt    time.Time
	EndedAt      time.Time
	History      []models.JobStatus
}

// Failed reports whether the run ended in the failed state.
func (r *RunResult) Failed() bool { return r.Status == models.JobStatusFailed }

// Runner executes job descriptions on a backend.
type Runner struct {
	exec   executors.Executor
	logger *zap.Logger
	watch  bool
}

// New creates a runner for the given backend. A nil logger disables logging.
func New(exec executors.Executor, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{exec: exec, logger: logger, watch: true}
}

// DisableMonitor turns off work directory watching, mainly for tests.
func (r *Runner) DisableMonitor() {
	r.watch = false
}

// Run drives one job to a terminal state. The description's timeout bounds
// the execution; cancellation of ctx fails the job with kind cancelled.
func (r *Runner) Run(ctx context.Context, jobID string, desc *models.JobDescription, workDir string, onStatus StatusFunc) *RunResult {
	m := NewMachine()
	res := &RunResult{StartedAt: time.Now().UTC(), ExitCode: -1}

	advance := func(next models.JobStatus) {
		if err := m.To(next); err != nil {
			r.logger.Error("lifecycle transition rejected", zap.String("job", jobID), zap.Error(err))
			return
		}
		if onStatus != nil {
			onStatus(next)
		}
	}
	finish := func(status models.JobStatus) *RunResult {
		advance(status)
		res.Status = status
		res.EndedAt = time.Now().UTC()
		res.History = m.History()
		return res
	}
	fail := func(kind models.FailureKind, cause string) *RunResult {
		res.FailureKind = kind
		res.FailureCause = cause
		r.logger.Warn("job failed",
			zap.String("job", jobID),
			zap.String("kind", string(kind)),
			zap.String("cause", cause))
		return finish(models.JobStatusFailed)
	}

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fail(models.FailureExit, fmt.Sprintf("create work dir: %v", err))
	}
	if err := writePayload(desc, workDir); err != nil {
		return fail(models.FailureExit, fmt.Sprintf("write payload: %v", err))
	}
	advance(models.JobStatusSubmitted)

	runCtx := ctx
	var cancel context.CancelFunc
	if desc.TimeoutSeconds > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(desc.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	advance(models.JobStatusRunning)
	r.logger.Info("job running",
		zap.String("job", jobID),
		zap.String("backend", r.exec.Name()),
		zap.String("work_dir", workDir))

	if r.watch {
		if mon, err := StartMonitor(workDir, r.logger.With(zap.String("job", jobID))); err == nil {
			defer mon.Stop()
		} else {
			r.logger.Warn("work dir monitor unavailable", zap.Error(err))
		}
	}

	execRes, err := r.exec.Execute(runCtx, desc, workDir)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return fail(models.FailureTimeout, fmt.Sprintf("execution exceeded %d seconds", desc.TimeoutSeconds))
		case errors.Is(err, context.Canceled):
			return fail(models.FailureCancelled, "execution cancelled")
		default:
			return fail(models.FailureExit, fmt.Sprintf("execution error: %v", err))
		}
	}
	res.Exec = execRes
	res.ExitCode = execRes.ExitCode
	if execRes.ExitCode != 0 {
		cause := fmt.Sprintf("backend exited with code %d", execRes.ExitCode)
		if tail := lastLine(execRes.Stderr); tail != "" {
			cause += ": " + tail
		}
		return fail(models.FailureExit, cause)
	}

	output, failKind, cause := collectArtifacts(jobID, desc, workDir)
	if failKind != "" {
		return fail(failKind, cause)
	}
	res.Output = output
	r.logger.Info("job completed",
		zap.String("job", jobID),
		zap.Int("artifacts", len(output.Artifacts)))
	return finish(models.JobStatusCompleted)
}

// collectArtifacts reads every expected artifact back from the work dir.
// A missing file or an unreadable or empty file fails the job.
func collectArtifacts(jobID string, desc *models.JobDescription, workDir string) (*models.RawOutput, models.FailureKind, string) {
	out := &models.RawOutput{JobID: jobID, WorkDir: workDir}
	for _, name := range desc.Artifacts {
		data, err := os.ReadFile(filepath.Join(workDir, name))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, models.FailureMissingArtifact, fmt.Sprintf("expected artifact %q not produced", name)
			}
			return nil, models.FailureMalformedArtifact, fmt.Sprintf("artifact %q unreadable: %v", name, err)
		}
		if len(data) == 0 {
			return nil, models.FailureMalformedArtifact, fmt.Sprintf("artifact %q is empty", name)
		}
		out.Artifacts = append(out.Artifacts, models.Artifact{Name: name, Content: data})
	}
	return out, "", ""
}

// writePayload serializes the description for executors that consume it from
// disk. The builtin simulator receives the description directly and ignores
// the file.
func writePayload(desc *models.JobDescription, workDir string) error {
	data, err := yaml.Marshal(desc)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(workDir, job.PayloadFileName), data, 0o644)
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
