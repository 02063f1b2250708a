// Package procexec runs jobs through an external cycler control binary.
//
// The process contract: the job payload is already written into the work
// directory, the command from the job description is started there, and the
// binary is expected to leave the artifact files behind on success.
package procexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/cyclab/aurora/internal/executors"
	"github.com/cyclab/aurora/internal/models"
)

// defaultAllowed is the strict allowlist of cycler control binaries.
var defaultAllowed = []string{"cellcycler", "bioflex", "nwctl"}

// ProcExec implements the Executor interface for external processes.
type ProcExec struct {
	allowed map[string]bool
}

// New creates a process executor. With no explicit allowlist the known
// cycler binaries are permitted.
func New(allowed []string) *ProcExec {
	if len(allowed) == 0 {
		allowed = defaultAllowed
	}
	m := make(map[string]bool, len(allowed))
	for _, bin := range allowed {
		m[bin] = true
	}
	return &ProcExec{allowed: m}
}

// Name returns the backend identifier.
func (p *ProcExec) Name() string {
	return "procexec"
}

// IsAllowed checks if a job command is in the allowlist.
func (p *ProcExec) IsAllowed(command []string) bool {
	if len(command) == 0 {
		return false
	}
	return p.allowed[command[0]]
}

// Execute runs the job command in the work directory.
func (p *ProcExec) Execute(ctx context.Context, desc *models.JobDescription, workDir string) (*executors.ExecResult, error) {
	if !p.IsAllowed(desc.Command) {
		return nil, fmt.Errorf("command not allowed: %s", strings.Join(desc.Command, " "))
	}

	execCmd := exec.CommandContext(ctx, desc.Command[0], desc.Command[1:]...)
	execCmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		// Deadline or cancellation killed the process; report the context
		// error so the caller can classify the failure.
		return nil, ctxErr
	}

	exitCode := 0
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			exitCode = exitError.ExitCode()
		} else {
			return nil, fmt.Errorf("exec error: %w", err)
		}
	}

	return &executors.ExecResult{
		Command:  desc.Command,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}
