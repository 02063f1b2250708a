package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTrailRecordAndVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provenance.jsonl")
	trail, err := NewTrail(nil, path)
	if err != nil {
		t.Fatalf("NewTrail failed: %v", err)
	}

	if _, err := trail.Record(ActionJobPackaged, map[string]string{"fingerprint": "abc"}, "success", "job-1", "sample-1", ""); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if _, err := trail.Record(ActionJobCompleted, nil, "success", "job-1", "sample-1", ""); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if _, err := trail.Record(ActionVerdictRecorded, nil, "match", "job-1", "sample-1", "exit 0"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if err := Verify(path); err != nil {
		t.Errorf("Verify failed on intact trail: %v", err)
	}
}

func TestTrailResumesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provenance.jsonl")

	trail, err := NewTrail(nil, path)
	if err != nil {
		t.Fatalf("NewTrail failed: %v", err)
	}
	if _, err := trail.Record(ActionSampleCreated, nil, "success", "", "sample-1", ""); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	// Reopen and continue writing; the chain must not reset.
	trail, err = NewTrail(nil, path)
	if err != nil {
		t.Fatalf("NewTrail reopen failed: %v", err)
	}
	if _, err := trail.Record(ActionJobSubmitted, nil, "success", "job-1", "sample-1", ""); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if err := Verify(path); err != nil {
		t.Errorf("Verify failed across reopen: %v", err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provenance.jsonl")
	trail, err := NewTrail(nil, path)
	if err != nil {
		t.Fatalf("NewTrail failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := trail.Record(ActionJobSubmitted, i, "success", "job-1", "", ""); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read trail: %v", err)
	}
	tampered := strings.Replace(string(data), `"outcome":"success"`, `"outcome":"forged!"`, 1)
	if err := os.WriteFile(path, []byte(tampered), 0o644); err != nil {
		t.Fatalf("write tampered trail: %v", err)
	}

	if err := Verify(path); err == nil {
		t.Error("Verify should reject a tampered trail")
	}
}
