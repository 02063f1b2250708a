package runner

import (
	"testing"

	"github.com/cyclab/aurora/internal/models"
)

func TestMachineHappyPath(t *testing.T) {
	m := NewMachine()
	if m.Status() != models.JobStatusCreated {
		t.Fatalf("initial status = %s, want created", m.Status())
	}

	for _, next := range []models.JobStatus{
		models.JobStatusSubmitted,
		models.JobStatusRunning,
		models.JobStatusCompleted,
	} {
		if err := m.To(next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}

	want := []models.JobStatus{
		models.JobStatusCreated,
		models.JobStatusSubmitted,
		models.JobStatusRunning,
		models.JobStatusCompleted,
	}
	got := m.History()
	if len(got) != len(want) {
		t.Fatalf("history = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("history[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestMachineRejectsIllegal(t *testing.T) {
	tests := []struct {
		from []models.JobStatus // path to reach the starting state
		to   models.JobStatus
	}{
		{nil, models.JobStatusRunning},   // created -> running
		{nil, models.JobStatusCompleted}, // created -> completed
		{[]models.JobStatus{models.JobStatusSubmitted}, models.JobStatusCompleted},
		{[]models.JobStatus{models.JobStatusSubmitted, models.JobStatusRunning, models.JobStatusCompleted}, models.JobStatusFailed},
		{[]models.JobStatus{models.JobStatusFailed}, models.JobStatusSubmitted},
	}

	for _, tt := range tests {
		m := NewMachine()
		for _, s := range tt.from {
			if err := m.To(s); err != nil {
				t.Fatalf("setup transition to %s: %v", s, err)
			}
		}
		if err := m.To(tt.to); err == nil {
			t.Errorf("transition %s -> %s unexpectedly allowed", m.Status(), tt.to)
		}
	}
}

func TestMachineFailedFromAnyActive(t *testing.T) {
	for _, path := range [][]models.JobStatus{
		{},
		{models.JobStatusSubmitted},
		{models.JobStatusSubmitted, models.JobStatusRunning},
	} {
		m := NewMachine()
		for _, s := range path {
			if err := m.To(s); err != nil {
				t.Fatalf("setup: %v", err)
			}
		}
		if err := m.To(models.JobStatusFailed); err != nil {
			t.Errorf("failed not reachable from %v: %v", path, err)
		}
	}
}
