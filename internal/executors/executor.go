// Package executors defines the execution backends that run cycling jobs.
package executors

import (
	"context"

	"github.com/cyclab/aurora/internal/models"
)

// ExecResult holds the result of running a job on a backend.
type ExecResult struct {
	Command  []string `json:"command"`
	ExitCode int      `json:"exit_code"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// Executor defines the interface for job execution backends.
type Executor interface {
	// Name returns the backend identifier.
	Name() string

	// Execute runs the described job inside workDir and returns the result.
	// The work directory already contains the payload file when Execute is
	// called; artifacts are expected in workDir afterwards.
	Execute(ctx context.Context, desc *models.JobDescription, workDir string) (*ExecResult, error)
}
