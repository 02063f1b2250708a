// Package models defines the core domain types for Aurora.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/cyclab/aurora/internal/protocol"
)

// JobStatus represents the current state of a cycling job.
type JobStatus string

const (
	JobStatusCreated   JobStatus = "created"
	JobStatusSubmitted JobStatus = "submitted"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// validTransitions enumerates the legal lifecycle edges. Failed is reachable
// from every non-terminal state; completed only from running.
var validTransitions = map[JobStatus][]JobStatus{
	JobStatusCreated:   {JobStatusSubmitted, JobStatusFailed},
	JobStatusSubmitted: {JobStatusRunning, JobStatusFailed},
	JobStatusRunning:   {JobStatusCompleted, JobStatusFailed},
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, t := range validTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// FailureKind classifies why a job reached the failed state.
type FailureKind string

const (
	FailureTimeout           FailureKind = "timeout"
	FailureExit              FailureKind = "exit"
	FailureMissingArtifact   FailureKind = "missing_artifact"
	FailureMalformedArtifact FailureKind = "malformed_artifact"
	FailureCancelled         FailureKind = "cancelled"
)

// Sample represents a physical battery cell registered with the lab.
type Sample struct {
	ID                string    `json:"id"`
	Label             string    `json:"label"`
	Manufacturer      string    `json:"manufacturer,omitempty"`
	Chemistry         string    `json:"chemistry,omitempty"`
	NominalCapacityAh float64   `json:"nominal_capacity_ah,omitempty"`
	Notes             string    `json:"notes,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Measurement is a single named scalar captured from a run.
type Measurement struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// SampleState is a snapshot of a sample derived from a fully matching run.
// JobID is the provenance tag linking the state to the job that produced it.
type SampleState struct {
	ID           string        `json:"id"`
	SampleID     string        `json:"sample_id"`
	JobID        string        `json:"job_id"`
	Measurements []Measurement `json:"measurements"`
	RecordedAt   time.Time     `json:"recorded_at"`
}

// JobDescription is the deterministic, host-executable form of a validated
// protocol bound to a sample. It contains no timestamps or generated IDs:
// identical protocol and sample identity encode to identical bytes.
type JobDescription struct {
	SampleID       string          `json:"sample_id" yaml:"sample_id"`
	SampleLabel    string          `json:"sample_label" yaml:"sample_label"`
	Steps          []protocol.Step `json:"steps" yaml:"steps"`
	Artifacts      []string        `json:"artifacts" yaml:"artifacts"` // expected output files, fixed order
	Command        []string        `json:"command" yaml:"command"`
	TimeoutSeconds int64           `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// CanonicalJSON encodes the description in its canonical byte form.
// encoding/json emits struct fields in declaration order and map keys
// sorted, so the encoding is stable across runs.
func (d *JobDescription) CanonicalJSON() ([]byte, error) {
	return json.Marshal(d)
}

// Fingerprint returns the SHA-256 hex digest of the canonical encoding.
func (d *JobDescription) Fingerprint() (string, error) {
	raw, err := d.CanonicalJSON()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Job represents a cycling job tracked by the control plane.
type Job struct {
	ID           string      `json:"id"`
	SampleID     string      `json:"sample_id"`
	Status       JobStatus   `json:"status"`
	Executor     string      `json:"executor"`
	Fingerprint  string      `json:"fingerprint"`
	Description  string      `json:"description"` // canonical JobDescription JSON
	WorkDir      string      `json:"work_dir,omitempty"`
	ExitCode     int         `json:"exit_code"`
	FailureKind  FailureKind `json:"failure_kind,omitempty"`
	FailureCause string      `json:"failure_cause,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	ClaimedBy    string      `json:"claimed_by,omitempty"`
	ClaimedAt    *time.Time  `json:"claimed_at,omitempty"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	EndedAt      *time.Time  `json:"ended_at,omitempty"`
}

// ParseDescription decodes the job's stored canonical description.
func (j *Job) ParseDescription() (*JobDescription, error) {
	var d JobDescription
	if err := json.Unmarshal([]byte(j.Description), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Artifact is one named output file read back from a job's work directory.
type Artifact struct {
	Name    string `json:"name"`
	Content []byte `json:"content,omitempty"`
}

// RawOutput is the set of artifacts collected from a completed run.
type RawOutput struct {
	JobID     string     `json:"job_id,omitempty"`
	WorkDir   string     `json:"work_dir,omitempty"`
	Artifacts []Artifact `json:"artifacts"`
}

// Artifact returns the named artifact and whether it is present.
func (o *RawOutput) Artifact(name string) (*Artifact, bool) {
	for i := range o.Artifacts {
		if o.Artifacts[i].Name == name {
			return &o.Artifacts[i], true
		}
	}
	return nil, false
}

// Names returns the artifact names in collection order.
func (o *RawOutput) Names() []string {
	names := make([]string, 0, len(o.Artifacts))
	for _, a := range o.Artifacts {
		names = append(names, a.Name)
	}
	return names
}

// Verdict exit codes. Structural mismatches dominate content mismatches.
const (
	VerdictMatch      = 0
	VerdictStructural = 1
	VerdictContent    = 2
)

// DifferenceKind distinguishes how an artifact diverged from the reference.
type DifferenceKind string

const (
	DiffMissingArtifact DifferenceKind = "missing_artifact"
	DiffExtraArtifact   DifferenceKind = "extra_artifact"
	DiffFieldValue      DifferenceKind = "field_value"
	DiffLineCount       DifferenceKind = "line_count"
	DiffFieldCount      DifferenceKind = "field_count"
	DiffRecordValue     DifferenceKind = "record_value"
)

// Difference records one divergence between actual and reference output.
type Difference struct {
	Artifact string         `json:"artifact"`
	Kind     DifferenceKind `json:"kind"`
	Line     int            `json:"line,omitempty"`
	Field    int            `json:"field,omitempty"`
	Path     string         `json:"path,omitempty"` // record path for structured artifacts
	Want     string         `json:"want,omitempty"`
	Got      string         `json:"got,omitempty"`
}

// ArtifactError records a per-artifact classification failure. The artifact
// could not be compared; classification of the remaining artifacts proceeds.
type ArtifactError struct {
	Artifact string `json:"artifact"`
	Reason   string `json:"reason"`
}

// Verdict is the outcome of classifying a job's output against a reference.
type Verdict struct {
	ID             string          `json:"id"`
	JobID          string          `json:"job_id"`
	ExitCode       int             `json:"exit_code"`
	Differences    []Difference    `json:"differences,omitempty"`
	ArtifactErrors []ArtifactError `json:"artifact_errors,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Match reports whether the verdict is a full match.
func (v *Verdict) Match() bool { return v.ExitCode == VerdictMatch }

// ProvenanceEntry is an append-only audit record of a pipeline action.
type ProvenanceEntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	JobID      string    `json:"job_id,omitempty"`
	SampleID   string    `json:"sample_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
