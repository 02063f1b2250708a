// Package audit writes the provenance trail for the cycling pipeline.
//
// Every state-mutating pipeline action is recorded twice: as a hash-chained
// JSONL line on disk and as a row in the provenance table. The chain hash of
// each line covers the previous line's hash, so truncation or edits anywhere
// in the trail break verification from that point on.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cyclab/aurora/internal/models"
	"github.com/cyclab/aurora/internal/store"
)

// Pipeline actions recorded on the trail.
const (
	ActionSampleCreated   = "sample.created"
	ActionJobPackaged     = "job.packaged"
	ActionJobSubmitted    = "job.submitted"
	ActionJobCompleted    = "job.completed"
	ActionJobFailed       = "job.failed"
	ActionVerdictRecorded = "verdict.recorded"
	ActionStateRecorded   = "state.recorded"
)

// trailLine is the on-disk JSONL record.
type trailLine struct {
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	JobID      string    `json:"job_id,omitempty"`
	SampleID   string    `json:"sample_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	PrevHash   string    `json:"prev_hash"`
	ChainHash  string    `json:"chain_hash,omitempty"`
}

// Trail writes provenance records for state-mutating pipeline actions.
type Trail struct {
	store *store.Store
	path  string

	mu       sync.Mutex
	lastHash string
}

// NewTrail creates a provenance trail writing to path, mirrored into s.
// The chain resumes from the last line of an existing trail file.
func NewTrail(s *store.Store, path string) (*Trail, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create trail directory: %w", err)
	}
	t := &Trail{store: s, path: path}
	last, err := lastChainHash(path)
	if err != nil {
		return nil, err
	}
	t.lastHash = last
	return t, nil
}

// Record appends one provenance entry for an action.
func (t *Trail) Record(action string, inputs any, outcome, jobID, sampleID, details string) (*models.ProvenanceEntry, error) {
	inputsHash := hashInputs(inputs)

	t.mu.Lock()
	defer t.mu.Unlock()

	line := trailLine{
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		JobID:      jobID,
		SampleID:   sampleID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
		PrevHash:   t.lastHash,
	}
	line.ChainHash = chainHash(&line)

	if err := t.appendLine(&line); err != nil {
		return nil, err
	}
	t.lastHash = line.ChainHash

	if t.store != nil {
		return t.store.WriteProvenance(action, inputsHash, outcome, jobID, sampleID, details)
	}
	return &models.ProvenanceEntry{
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		JobID:      jobID,
		SampleID:   sampleID,
		Details:    details,
		Timestamp:  line.Timestamp,
	}, nil
}

// Verify walks a trail file and reports the first chain break, if any.
func Verify(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open trail: %w", err)
	}
	defer f.Close()

	prev := ""
	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		n++
		var line trailLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return fmt.Errorf("trail line %d: malformed: %w", n, err)
		}
		if line.PrevHash != prev {
			return fmt.Errorf("trail line %d: chain broken: prev hash mismatch", n)
		}
		want := line.ChainHash
		if chainHash(&line) != want {
			return fmt.Errorf("trail line %d: chain hash mismatch", n)
		}
		prev = want
	}
	return scanner.Err()
}

func (t *Trail) appendLine(line *trailLine) error {
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("encode trail line: %w", err)
	}
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open trail: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append trail line: %w", err)
	}
	return nil
}

// chainHash hashes the line with ChainHash cleared, so the stored hash
// covers everything else including the previous line's hash.
func chainHash(line *trailLine) string {
	clone := *line
	clone.ChainHash = ""
	data, err := json.Marshal(&clone)
	if err != nil {
		return "hash_error"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// lastChainHash returns the chain hash of the final line of an existing
// trail file, or empty for a fresh trail.
func lastChainHash(path string) (string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open trail: %w", err)
	}
	defer f.Close()

	last := ""
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var line trailLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		last = line.ChainHash
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan trail: %w", err)
	}
	return last, nil
}
