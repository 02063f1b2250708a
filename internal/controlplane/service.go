// Package controlplane provides the HTTP API and service layer for Aurora.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/cyclab/aurora/internal/audit"
	"github.com/cyclab/aurora/internal/classify"
	"github.com/cyclab/aurora/internal/executors"
	"github.com/cyclab/aurora/internal/job"
	"github.com/cyclab/aurora/internal/metrics"
	"github.com/cyclab/aurora/internal/models"
	"github.com/cyclab/aurora/internal/protocol"
	"github.com/cyclab/aurora/internal/runner"
	"github.com/cyclab/aurora/internal/store"
)

// Service composes the pipeline: validation, packaging, execution,
// classification, persistence, and the provenance trail.
type Service struct {
	store      *store.Store
	trail      *audit.Trail
	registry   *executors.Registry
	classifier *classify.Classifier
	metrics    *metrics.Metrics // nil disables instrumentation
	logger     *zap.Logger

	workRoot     string
	recordStates bool
}

// Options configures a Service.
type Options struct {
	WorkRoot     string
	RecordStates bool
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
}

// NewService creates the control plane service.
func NewService(s *store.Store, trail *audit.Trail, registry *executors.Registry, classifier *classify.Classifier, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:        s,
		trail:        trail,
		registry:     registry,
		classifier:   classifier,
		metrics:      opts.Metrics,
		logger:       logger,
		workRoot:     opts.WorkRoot,
		recordStates: opts.RecordStates,
	}
}

// --- Sample Operations ---

// CreateSample registers a new battery sample.
func (s *Service) CreateSample(sample *models.Sample) (*models.Sample, error) {
	if sample.Label == "" {
		return nil, fmt.Errorf("sample label is required")
	}
	created, err := s.store.CreateSample(sample)
	if err != nil {
		s.metrics.StoreError()
		return nil, err
	}
	s.audit(audit.ActionSampleCreated, map[string]string{"label": created.Label}, "success", "", created.ID, "")
	return created, nil
}

// GetSample retrieves a sample by ID, falling back to label lookup.
func (s *Service) GetSample(idOrLabel string) (*models.Sample, error) {
	sample, err := s.store.GetSample(idOrLabel)
	if errors.Is(err, store.ErrSampleNotFound) {
		sample, err = s.store.GetSampleByLabel(idOrLabel)
	}
	if errors.Is(err, store.ErrSampleNotFound) {
		return nil, ErrSampleNotFound
	}
	return sample, err
}

// ListSamples returns all registered samples.
func (s *Service) ListSamples() ([]models.Sample, error) {
	return s.store.ListSamples()
}

// --- Job Operations ---

// SubmitJob validates a protocol, packages it against a sample, and persists
// the job in the created state for the scheduler to pick up. Validation and
// packaging failures abort before anything is persisted.
func (s *Service) SubmitJob(sampleID string, doc *protocol.Document, executor string) (*models.Job, error) {
	sample, err := s.GetSample(sampleID)
	if err != nil {
		return nil, err
	}
	if executor == "" {
		executor = "simcell"
	}
	if _, ok := s.registry.Get(executor); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExecutor, executor)
	}

	proto, err := protocol.Validate(doc.Name, doc.Steps)
	if err != nil {
		return nil, err
	}
	desc, fingerprint, err := job.Fingerprint(proto, sample)
	if err != nil {
		return nil, err
	}
	raw, err := desc.CanonicalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode description: %w", err)
	}

	created, err := s.store.CreateJob(sample.ID, executor, fingerprint, string(raw))
	if err != nil {
		s.metrics.StoreError()
		return nil, err
	}
	s.audit(audit.ActionJobPackaged, desc, "success", created.ID, sample.ID, fingerprint)
	s.logger.Info("job submitted",
		zap.String("job", created.ID),
		zap.String("sample", sample.Label),
		zap.String("executor", executor),
		zap.String("fingerprint", fingerprint))
	return created, nil
}

// GetJob retrieves a job by ID.
func (s *Service) GetJob(id string) (*models.Job, error) {
	j, err := s.store.GetJob(id)
	if errors.Is(err, store.ErrJobNotFound) {
		return nil, ErrJobNotFound
	}
	return j, err
}

// ListJobs returns filtered jobs.
func (s *Service) ListJobs(status, sampleID string) ([]models.Job, error) {
	return s.store.ListJobs(status, sampleID)
}

// ExecuteJob drives one claimed job through the full pipeline: run on its
// executor, classify the output against the reference run, record the
// verdict, and optionally emit a sample state on a full match. Execution
// failures land on the job row, not in the returned error; the error return
// covers infrastructure faults only.
func (s *Service) ExecuteJob(ctx context.Context, j *models.Job) (*models.Verdict, error) {
	desc, err := j.ParseDescription()
	if err != nil {
		return nil, fmt.Errorf("parse job description: %w", err)
	}
	exec, ok := s.registry.Get(j.Executor)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExecutor, j.Executor)
	}

	workDir := filepath.Join(s.workRoot, j.ID)
	if err := s.store.SetJobWorkDir(j.ID, workDir); err != nil {
		s.metrics.StoreError()
		return nil, err
	}

	started := time.Now()
	r := runner.New(exec, s.logger)
	res := r.Run(ctx, j.ID, desc, workDir, func(status models.JobStatus) {
		if err := s.store.UpdateJobStatus(j.ID, status); err != nil {
			s.metrics.StoreError()
			s.logger.Warn("persist job status", zap.String("job", j.ID), zap.Error(err))
		}
		if status == models.JobStatusSubmitted {
			s.audit(audit.ActionJobSubmitted, nil, "success", j.ID, j.SampleID, j.Executor)
		}
	})

	elapsed := time.Since(started).Seconds()
	if res.Failed() {
		if err := s.store.SetJobResult(j.ID, models.JobStatusFailed, res.ExitCode, res.FailureKind, res.FailureCause); err != nil {
			s.metrics.StoreError()
			return nil, err
		}
		s.metrics.JobFinished(string(models.JobStatusFailed), elapsed)
		s.metrics.JobFailed(string(res.FailureKind))
		s.audit(audit.ActionJobFailed, nil, string(res.FailureKind), j.ID, j.SampleID, res.FailureCause)
		s.logger.Warn("job failed",
			zap.String("job", j.ID),
			zap.String("kind", string(res.FailureKind)),
			zap.String("cause", res.FailureCause))
		return nil, nil
	}

	if err := s.store.SetJobResult(j.ID, models.JobStatusCompleted, res.ExitCode, "", ""); err != nil {
		s.metrics.StoreError()
		return nil, err
	}
	s.metrics.JobFinished(string(models.JobStatusCompleted), elapsed)
	s.audit(audit.ActionJobCompleted, nil, "success", j.ID, j.SampleID, "")

	reference := s.referenceOutput(j, desc)
	if reference == nil {
		// First run of this fingerprint: self-classification proves the
		// round trip and records the baseline verdict.
		reference = res.Output
	}

	classifyStart := time.Now()
	verdict := s.classifier.Classify(j.ID, res.Output, reference)
	saved, err := s.store.SaveVerdict(verdict)
	if err != nil {
		s.metrics.StoreError()
		return nil, err
	}
	s.metrics.VerdictRecorded(strconv.Itoa(saved.ExitCode), len(saved.Differences), time.Since(classifyStart).Seconds())
	s.audit(audit.ActionVerdictRecorded, nil, verdictOutcome(saved), j.ID, j.SampleID, fmt.Sprintf("exit %d", saved.ExitCode))
	s.logger.Info("verdict recorded",
		zap.String("job", j.ID),
		zap.Int("exit_code", saved.ExitCode),
		zap.Int("differences", len(saved.Differences)))

	if saved.Match() && s.recordStates {
		measurements := classify.Summarize(res.Output)
		if len(measurements) > 0 {
			state, err := s.store.CreateState(j.SampleID, j.ID, measurements)
			if err != nil {
				s.metrics.StoreError()
				return saved, err
			}
			s.audit(audit.ActionStateRecorded, measurements, "success", j.ID, j.SampleID, state.ID)
		}
	}
	return saved, nil
}

// referenceOutput loads the artifact set of the oldest completed job with
// the same fingerprint. Missing or unreadable reference artifacts mean no
// reference: the caller falls back to self-classification.
func (s *Service) referenceOutput(j *models.Job, desc *models.JobDescription) *models.RawOutput {
	ref, err := s.store.CompletedJobByFingerprint(j.Fingerprint, j.ID)
	if err != nil || ref.WorkDir == "" {
		return nil
	}
	out := &models.RawOutput{JobID: ref.ID, WorkDir: ref.WorkDir}
	for _, name := range desc.Artifacts {
		data, err := os.ReadFile(filepath.Join(ref.WorkDir, name))
		if err != nil {
			s.logger.Warn("reference artifact unreadable",
				zap.String("job", ref.ID), zap.String("artifact", name), zap.Error(err))
			return nil
		}
		out.Artifacts = append(out.Artifacts, models.Artifact{Name: name, Content: data})
	}
	return out
}

// --- Read Operations ---

// GetVerdict returns the verdict recorded for a job.
func (s *Service) GetVerdict(jobID string) (*models.Verdict, error) {
	if _, err := s.GetJob(jobID); err != nil {
		return nil, err
	}
	v, err := s.store.GetVerdictForJob(jobID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrNoVerdict
	}
	return v, nil
}

// GetOutput reads a job's artifacts back from its work directory.
func (s *Service) GetOutput(jobID string) (*models.RawOutput, error) {
	j, err := s.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if j.WorkDir == "" {
		return nil, ErrNoOutput
	}
	desc, err := j.ParseDescription()
	if err != nil {
		return nil, fmt.Errorf("parse job description: %w", err)
	}

	out := &models.RawOutput{JobID: j.ID, WorkDir: j.WorkDir}
	names := append([]string{}, desc.Artifacts...)
	names = append(names, job.ResultsFileName)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(j.WorkDir, name))
		if err != nil {
			continue
		}
		out.Artifacts = append(out.Artifacts, models.Artifact{Name: name, Content: data})
	}
	if len(out.Artifacts) == 0 {
		return nil, ErrNoOutput
	}
	return out, nil
}

// ListStates returns sample state snapshots.
func (s *Service) ListStates(sampleID string) ([]models.SampleState, error) {
	return s.store.ListStates(sampleID)
}

// ListProvenance returns the provenance entries for a job.
func (s *Service) ListProvenance(jobID string) ([]models.ProvenanceEntry, error) {
	return s.store.ListProvenance(jobID)
}

// Backends reports the execution backends available on this host.
func (s *Service) Backends() []executors.Backend {
	return executors.Detect()
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) audit(action string, inputs any, outcome, jobID, sampleID, details string) {
	if s.trail == nil {
		return
	}
	if _, err := s.trail.Record(action, inputs, outcome, jobID, sampleID, details); err != nil {
		s.logger.Warn("provenance record failed", zap.String("action", action), zap.Error(err))
	}
}

func verdictOutcome(v *models.Verdict) string {
	switch v.ExitCode {
	case models.VerdictMatch:
		return "match"
	case models.VerdictStructural:
		return "structural_mismatch"
	default:
		return "content_mismatch"
	}
}
