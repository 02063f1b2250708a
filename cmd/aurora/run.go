package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cyclab/aurora/internal/classify"
	"github.com/cyclab/aurora/internal/config"
	"github.com/cyclab/aurora/internal/executors"
	"github.com/cyclab/aurora/internal/executors/procexec"
	"github.com/cyclab/aurora/internal/executors/simcell"
	"github.com/cyclab/aurora/internal/job"
	"github.com/cyclab/aurora/internal/models"
	"github.com/cyclab/aurora/internal/protocol"
	"github.com/cyclab/aurora/internal/runner"
	"github.com/cyclab/aurora/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run [protocol.yaml]",
	Short: "Run a protocol locally and classify the output",
	Long: `Runs the full pipeline in one shot without the daemon: validate,
package, execute, and classify. The process exit code is the verdict
exit code: 0 for a match, 1 for a structural mismatch, 2 for a content
mismatch.`,
	Args: cobra.ExactArgs(1),
	RunE: runOneShot,
}

var (
	runSampleLabel  string
	runExecutorName string
	runReferenceDir string
	runWorkDir      string
	runRecordState  bool
)

func init() {
	runCmd.Flags().StringVar(&runSampleLabel, "sample", "adhoc", "Sample label to package the protocol against")
	runCmd.Flags().StringVar(&runExecutorName, "executor", "", "Execution backend (defaults to config)")
	runCmd.Flags().StringVar(&runReferenceDir, "reference", "", "Directory holding reference artifacts to classify against")
	runCmd.Flags().StringVar(&runWorkDir, "workdir", "", "Work directory for the run (defaults to a temp dir)")
	runCmd.Flags().BoolVar(&runRecordState, "record-state", false, "Record a sample state on a matching run")
}

func runOneShot(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if runExecutorName == "" {
		runExecutorName = cfg.Executor
	}

	proto, err := protocol.Load(args[0])
	if err != nil {
		var vErr *protocol.ValidationError
		if errors.As(err, &vErr) {
			fmt.Fprintf(os.Stderr, "invalid: step %d, field %q: %s\n", vErr.StepIndex, vErr.Field, vErr.Constraint)
			os.Exit(1)
		}
		return err
	}

	sample := &models.Sample{ID: uuid.New().String(), Label: runSampleLabel}
	desc, fingerprint, err := job.Fingerprint(proto, sample)
	if err != nil {
		return err
	}

	registry := executors.NewRegistry()
	registry.Register(simcell.New())
	registry.Register(procexec.New(nil))
	exec, ok := registry.Get(runExecutorName)
	if !ok {
		return fmt.Errorf("unknown executor: %s", runExecutorName)
	}

	workDir := runWorkDir
	if workDir == "" {
		workDir, err = os.MkdirTemp("", "aurora-run-*")
		if err != nil {
			return err
		}
	}

	jobID := uuid.New().String()
	fmt.Printf("job %s  fingerprint %s\n", jobID[:8], fingerprint[:12])

	logger := zap.NewNop()
	r := runner.New(exec, logger)
	res := r.Run(context.Background(), jobID, desc, workDir, func(status models.JobStatus) {
		fmt.Printf("  %s\n", status)
	})

	if res.Failed() {
		fmt.Fprintf(os.Stderr, "run failed (%s): %s\n", res.FailureKind, res.FailureCause)
		os.Exit(1)
	}

	reference := res.Output
	if runReferenceDir != "" {
		reference, err = readReference(runReferenceDir, desc.Artifacts)
		if err != nil {
			return err
		}
	}

	classifier := classify.New(classify.Options{
		AbsoluteTolerance: cfg.Tolerance.Absolute,
		RelativeTolerance: cfg.Tolerance.Relative,
	})
	verdict := classifier.Classify(jobID, res.Output, reference)

	printVerdict(verdict, workDir)

	if verdict.Match() && runRecordState {
		if err := recordLocalState(cfg, sample, jobID, res.Output); err != nil {
			fmt.Fprintf(os.Stderr, "record state: %v\n", err)
		}
	}

	os.Exit(verdict.ExitCode)
	return nil
}

func readReference(dir string, names []string) (*models.RawOutput, error) {
	out := &models.RawOutput{WorkDir: dir}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				// Absent reference artifacts surface as structural
				// differences during classification.
				continue
			}
			return nil, err
		}
		out.Artifacts = append(out.Artifacts, models.Artifact{Name: name, Content: data})
	}
	return out, nil
}

func printVerdict(v *models.Verdict, workDir string) {
	switch v.ExitCode {
	case models.VerdictMatch:
		fmt.Println("verdict: MATCH")
	case models.VerdictStructural:
		fmt.Println("verdict: STRUCTURAL MISMATCH")
	default:
		fmt.Println("verdict: CONTENT MISMATCH")
	}
	for _, d := range v.Differences {
		loc := d.Artifact
		if d.Line > 0 {
			loc = fmt.Sprintf("%s:%d", d.Artifact, d.Line)
		}
		fmt.Printf("  %s [%s] want %s got %s\n", loc, d.Kind, d.Want, d.Got)
	}
	for _, e := range v.ArtifactErrors {
		fmt.Printf("  %s: %s\n", e.Artifact, e.Reason)
	}
	fmt.Printf("artifacts: %s\n", workDir)
}

func recordLocalState(cfg *config.Config, sample *models.Sample, jobID string, output *models.RawOutput) error {
	measurements := classify.Summarize(output)
	if len(measurements) == 0 {
		return nil
	}

	s, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer s.Close()

	existing, err := s.GetSampleByLabel(sample.Label)
	if err == nil {
		sample = existing
	} else if errors.Is(err, store.ErrSampleNotFound) {
		sample, err = s.CreateSample(sample)
		if err != nil {
			return err
		}
	} else {
		return err
	}

	_, err = s.CreateState(sample.ID, jobID, measurements)
	return err
}
