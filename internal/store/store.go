// Package store provides SQLite-backed persistence for Aurora.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cyclab/aurora/internal/models"
)

// Sentinel errors for lookup and claim operations.
var (
	ErrSampleNotFound = fmt.Errorf("sample not found")
	ErrJobNotFound    = fmt.Errorf("job not found")
	ErrNoQueuedJobs   = fmt.Errorf("no queued jobs")
	ErrJobNotClaimed  = fmt.Errorf("job not claimed by this worker")
)

// Store provides access to the Aurora SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS samples (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		manufacturer TEXT,
		chemistry TEXT,
		nominal_capacity_ah REAL,
		notes TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		sample_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'created',
		executor TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		description TEXT NOT NULL,
		work_dir TEXT,
		exit_code INTEGER,
		failure_kind TEXT,
		failure_cause TEXT,
		claimed_by TEXT,
		claimed_at DATETIME,
		started_at DATETIME,
		ended_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (sample_id) REFERENCES samples(id)
	);

	CREATE TABLE IF NOT EXISTS verdicts (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		exit_code INTEGER NOT NULL,
		differences TEXT,
		artifact_errors TEXT,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (job_id) REFERENCES jobs(id)
	);

	CREATE TABLE IF NOT EXISTS sample_states (
		id TEXT PRIMARY KEY,
		sample_id TEXT NOT NULL,
		job_id TEXT NOT NULL,
		measurements TEXT NOT NULL,
		recorded_at DATETIME NOT NULL,
		FOREIGN KEY (sample_id) REFERENCES samples(id),
		FOREIGN KEY (job_id) REFERENCES jobs(id)
	);

	CREATE TABLE IF NOT EXISTS provenance (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		job_id TEXT,
		sample_id TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_sample_id ON jobs(sample_id);
	CREATE INDEX IF NOT EXISTS idx_jobs_fingerprint ON jobs(fingerprint);
	CREATE INDEX IF NOT EXISTS idx_verdicts_job_id ON verdicts(job_id);
	CREATE INDEX IF NOT EXISTS idx_sample_states_sample_id ON sample_states(sample_id);
	CREATE INDEX IF NOT EXISTS idx_provenance_job_id ON provenance(job_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Sample Operations ---

// CreateSample registers a new battery sample.
func (s *Store) CreateSample(sample *models.Sample) (*models.Sample, error) {
	now := time.Now().UTC()
	out := *sample
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	out.CreatedAt = now

	_, err := s.db.Exec(
		`INSERT INTO samples (id, label, manufacturer, chemistry, nominal_capacity_ah, notes, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.Label, out.Manufacturer, out.Chemistry, out.NominalCapacityAh, out.Notes, out.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert sample: %w", err)
	}
	return &out, nil
}

// GetSample retrieves a sample by ID.
func (s *Store) GetSample(id string) (*models.Sample, error) {
	sample := &models.Sample{}
	var manufacturer, chemistry, notes sql.NullString
	var capacity sql.NullFloat64

	err := s.db.QueryRow(
		`SELECT id, label, manufacturer, chemistry, nominal_capacity_ah, notes, created_at FROM samples WHERE id = ?`,
		id,
	).Scan(&sample.ID, &sample.Label, &manufacturer, &chemistry, &capacity, &notes, &sample.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrSampleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query sample: %w", err)
	}
	sample.Manufacturer = manufacturer.String
	sample.Chemistry = chemistry.String
	sample.NominalCapacityAh = capacity.Float64
	sample.Notes = notes.String
	return sample, nil
}

// GetSampleByLabel retrieves a sample by its label.
func (s *Store) GetSampleByLabel(label string) (*models.Sample, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM samples WHERE label = ? ORDER BY created_at LIMIT 1`, label).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, ErrSampleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query sample by label: %w", err)
	}
	return s.GetSample(id)
}

// ListSamples returns all registered samples, newest first.
func (s *Store) ListSamples() ([]models.Sample, error) {
	rows, err := s.db.Query(
		`SELECT id, label, manufacturer, chemistry, nominal_capacity_ah, notes, created_at FROM samples ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var samples []models.Sample
	for rows.Next() {
		var sample models.Sample
		var manufacturer, chemistry, notes sql.NullString
		var capacity sql.NullFloat64
		if err := rows.Scan(&sample.ID, &sample.Label, &manufacturer, &chemistry, &capacity, &notes, &sample.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		sample.Manufacturer = manufacturer.String
		sample.Chemistry = chemistry.String
		sample.NominalCapacityAh = capacity.Float64
		sample.Notes = notes.String
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// --- Job Operations ---

// CreateJob inserts a packaged job in the created state.
func (s *Store) CreateJob(sampleID, executor, fingerprint, description string) (*models.Job, error) {
	now := time.Now().UTC()
	j := &models.Job{
		ID:          uuid.New().String(),
		SampleID:    sampleID,
		Status:      models.JobStatusCreated,
		Executor:    executor,
		Fingerprint: fingerprint,
		Description: description,
		ExitCode:    -1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.Exec(
		`INSERT INTO jobs (id, sample_id, status, executor, fingerprint, description, exit_code, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.SampleID, j.Status, j.Executor, j.Fingerprint, j.Description, j.ExitCode, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

const jobColumns = `id, sample_id, status, executor, fingerprint, description, work_dir, exit_code, failure_kind, failure_cause, claimed_by, claimed_at, started_at, ended_at, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	j := &models.Job{}
	var workDir, failureKind, failureCause, claimedBy sql.NullString
	var exitCode sql.NullInt64
	var claimedAt, startedAt, endedAt sql.NullTime

	err := row.Scan(&j.ID, &j.SampleID, &j.Status, &j.Executor, &j.Fingerprint, &j.Description,
		&workDir, &exitCode, &failureKind, &failureCause, &claimedBy, &claimedAt, &startedAt, &endedAt,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}

	j.WorkDir = workDir.String
	j.FailureKind = models.FailureKind(failureKind.String)
	j.FailureCause = failureCause.String
	j.ClaimedBy = claimedBy.String
	j.ExitCode = -1
	if exitCode.Valid {
		j.ExitCode = int(exitCode.Int64)
	}
	if claimedAt.Valid {
		j.ClaimedAt = &claimedAt.Time
	}
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		j.EndedAt = &endedAt.Time
	}
	return j, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(id string) (*models.Job, error) {
	j, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	return j, nil
}

// ListJobs returns jobs, optionally filtered by status and sample.
func (s *Store) ListJobs(status, sampleID string) ([]models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var conds []string
	var args []any
	if status != "" {
		conds = append(conds, `status = ?`)
		args = append(args, status)
	}
	if sampleID != "" {
		conds = append(conds, `sample_id = ?`)
		args = append(args, sampleID)
	}
	for i, c := range conds {
		if i == 0 {
			query += ` WHERE ` + c
		} else {
			query += ` AND ` + c
		}
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// CompletedJobByFingerprint returns the oldest completed job with the given
// fingerprint, used as the reference run for resubmissions.
func (s *Store) CompletedJobByFingerprint(fingerprint, excludeJobID string) (*models.Job, error) {
	j, err := scanJob(s.db.QueryRow(
		`SELECT `+jobColumns+` FROM jobs WHERE fingerprint = ? AND status = ? AND id != ? ORDER BY created_at LIMIT 1`,
		fingerprint, models.JobStatusCompleted, excludeJobID,
	))
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query job by fingerprint: %w", err)
	}
	return j, nil
}

// UpdateJobStatus updates the status of a job, stamping lifecycle times.
func (s *Store) UpdateJobStatus(id string, status models.JobStatus) error {
	now := time.Now().UTC()
	switch status {
	case models.JobStatusRunning:
		_, err := s.db.Exec(
			`UPDATE jobs SET status = ?, started_at = ?, updated_at = ? WHERE id = ?`,
			status, now, now, id,
		)
		return err
	case models.JobStatusCompleted, models.JobStatusFailed:
		_, err := s.db.Exec(
			`UPDATE jobs SET status = ?, ended_at = ?, updated_at = ? WHERE id = ?`,
			status, now, now, id,
		)
		return err
	default:
		_, err := s.db.Exec(
			`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
			status, now, id,
		)
		return err
	}
}

// SetJobWorkDir records the work directory assigned to a job.
func (s *Store) SetJobWorkDir(id, workDir string) error {
	_, err := s.db.Exec(
		`UPDATE jobs SET work_dir = ?, updated_at = ? WHERE id = ?`,
		workDir, time.Now().UTC(), id,
	)
	return err
}

// SetJobResult stamps the terminal outcome of a run onto a job row.
func (s *Store) SetJobResult(id string, status models.JobStatus, exitCode int, kind models.FailureKind, cause string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE jobs SET status = ?, exit_code = ?, failure_kind = ?, failure_cause = ?, ended_at = ?, updated_at = ? WHERE id = ?`,
		status, exitCode, string(kind), cause, now, now, id,
	)
	return err
}

// ClaimNextJob atomically claims the oldest created job for a worker. The
// claim and the status update commit together; a concurrent claimer of the
// same row sees zero rows affected and retries with the next candidate.
func (s *Store) ClaimNextJob(workerID string) (*models.Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	j, err := scanJob(tx.QueryRow(
		`SELECT ` + jobColumns + ` FROM jobs WHERE status = 'created' ORDER BY created_at LIMIT 1`,
	))
	if err == sql.ErrNoRows {
		return nil, ErrNoQueuedJobs
	}
	if err != nil {
		return nil, fmt.Errorf("query next job: %w", err)
	}

	result, err := tx.Exec(
		`UPDATE jobs SET claimed_by = ?, claimed_at = ?, updated_at = ? WHERE id = ? AND status = 'created' AND claimed_by IS NULL`,
		workerID, now, now, j.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		// Another worker claimed the row between select and update.
		return nil, ErrNoQueuedJobs
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	j.ClaimedBy = workerID
	j.ClaimedAt = &now
	j.UpdatedAt = now
	return j, nil
}

// ReleaseJob drops a worker's claim without changing job status, used when a
// worker cannot start the pipeline after claiming.
func (s *Store) ReleaseJob(id, workerID string) error {
	result, err := s.db.Exec(
		`UPDATE jobs SET claimed_by = NULL, claimed_at = NULL, updated_at = ? WHERE id = ? AND claimed_by = ?`,
		time.Now().UTC(), id, workerID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrJobNotClaimed
	}
	return nil
}

// --- Verdict Operations ---

// SaveVerdict persists a classification verdict.
func (s *Store) SaveVerdict(v *models.Verdict) (*models.Verdict, error) {
	out := *v
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}

	diffsJSON, err := json.Marshal(out.Differences)
	if err != nil {
		return nil, fmt.Errorf("encode differences: %w", err)
	}
	errsJSON, err := json.Marshal(out.ArtifactErrors)
	if err != nil {
		return nil, fmt.Errorf("encode artifact errors: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO verdicts (id, job_id, exit_code, differences, artifact_errors, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		out.ID, out.JobID, out.ExitCode, string(diffsJSON), string(errsJSON), out.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert verdict: %w", err)
	}
	return &out, nil
}

// GetVerdictForJob returns the most recent verdict recorded for a job.
func (s *Store) GetVerdictForJob(jobID string) (*models.Verdict, error) {
	v := &models.Verdict{}
	var diffsJSON, errsJSON sql.NullString

	err := s.db.QueryRow(
		`SELECT id, job_id, exit_code, differences, artifact_errors, created_at FROM verdicts WHERE job_id = ? ORDER BY created_at DESC LIMIT 1`,
		jobID,
	).Scan(&v.ID, &v.JobID, &v.ExitCode, &diffsJSON, &errsJSON, &v.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query verdict: %w", err)
	}
	if diffsJSON.Valid && diffsJSON.String != "" {
		if err := json.Unmarshal([]byte(diffsJSON.String), &v.Differences); err != nil {
			return nil, fmt.Errorf("decode differences: %w", err)
		}
	}
	if errsJSON.Valid && errsJSON.String != "" {
		if err := json.Unmarshal([]byte(errsJSON.String), &v.ArtifactErrors); err != nil {
			return nil, fmt.Errorf("decode artifact errors: %w", err)
		}
	}
	return v, nil
}

// --- Sample State Operations ---

// CreateState appends a sample state snapshot. States are never updated or
// deleted; the job ID is the provenance tag.
func (s *Store) CreateState(sampleID, jobID string, measurements []models.Measurement) (*models.SampleState, error) {
	now := time.Now().UTC()
	state := &models.SampleState{
		ID:           uuid.New().String(),
		SampleID:     sampleID,
		JobID:        jobID,
		Measurements: measurements,
		RecordedAt:   now,
	}

	mJSON, err := json.Marshal(measurements)
	if err != nil {
		return nil, fmt.Errorf("encode measurements: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO sample_states (id, sample_id, job_id, measurements, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		state.ID, state.SampleID, state.JobID, string(mJSON), state.RecordedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert sample state: %w", err)
	}
	return state, nil
}

// ListStates returns state snapshots, optionally filtered by sample, in
// creation order so timestamps read monotonically per sample.
func (s *Store) ListStates(sampleID string) ([]models.SampleState, error) {
	query := `SELECT id, sample_id, job_id, measurements, recorded_at FROM sample_states`
	var args []any
	if sampleID != "" {
		query += ` WHERE sample_id = ?`
		args = append(args, sampleID)
	}
	query += ` ORDER BY recorded_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sample states: %w", err)
	}
	defer rows.Close()

	var states []models.SampleState
	for rows.Next() {
		var state models.SampleState
		var mJSON string
		if err := rows.Scan(&state.ID, &state.SampleID, &state.JobID, &mJSON, &state.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan sample state: %w", err)
		}
		if mJSON != "" {
			if err := json.Unmarshal([]byte(mJSON), &state.Measurements); err != nil {
				return nil, fmt.Errorf("decode measurements: %w", err)
			}
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// --- Provenance Operations ---

// WriteProvenance appends a provenance entry mirroring the audit trail.
func (s *Store) WriteProvenance(action, inputsHash, outcome, jobID, sampleID, details string) (*models.ProvenanceEntry, error) {
	now := time.Now().UTC()
	entry := &models.ProvenanceEntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		JobID:      jobID,
		SampleID:   sampleID,
		Details:    details,
		Timestamp:  now,
	}

	_, err := s.db.Exec(
		`INSERT INTO provenance (id, action, inputs_hash, outcome, job_id, sample_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Action, entry.InputsHash, entry.Outcome, entry.JobID, entry.SampleID, entry.Details, entry.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert provenance: %w", err)
	}
	return entry, nil
}

// ListProvenance returns provenance entries for a job in recording order.
func (s *Store) ListProvenance(jobID string) ([]models.ProvenanceEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, action, inputs_hash, outcome, job_id, sample_id, details, timestamp FROM provenance WHERE job_id = ? ORDER BY timestamp`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("query provenance: %w", err)
	}
	defer rows.Close()

	var entries []models.ProvenanceEntry
	for rows.Next() {
		var entry models.ProvenanceEntry
		var jID, sID, details sql.NullString
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.InputsHash, &entry.Outcome, &jID, &sID, &details, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("scan provenance: %w", err)
		}
		entry.JobID = jID.String
		entry.SampleID = sID.String
		entry.Details = details.String
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
