package simcell

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cyclab/aurora/internal/job"
	"github.com/cyclab/aurora/internal/models"
	"github.com/cyclab/aurora/internal/protocol"
)

func testDescription(t *testing.T) *models.JobDescription {
	t.Helper()
	p, err := protocol.Validate("formation", []protocol.RawStep{
		{Kind: "charge", Params: map[string]any{"current_a": 0.5, "voltage_v": 4.2}, Termination: map[string]any{"voltage_v": 4.2}},
		{Kind: "rest", Params: map[string]any{"duration_s": 600}},
		{Kind: "discharge", Params: map[string]any{"current_a": 0.5, "voltage_v": 3.0}, Termination: map[string]any{"voltage_v": 3.0}},
	})
	if err != nil {
		t.Fatalf("validate protocol: %v", err)
	}
	desc, err := job.Package(p, &models.Sample{ID: "s-1", Label: "cell-001"})
	if err != nil {
		t.Fatalf("package: %v", err)
	}
	return desc
}

func TestName(t *testing.T) {
	sim := New()
	if sim.Name() != "simcell" {
		t.Errorf("Expected name 'simcell', got %s", sim.Name())
	}
}

func TestExecuteWritesArtifacts(t *testing.T) {
	sim := New()
	desc := testDescription(t)
	dir := t.TempDir()

	res, err := sim.Execute(context.Background(), desc, dir)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}

	for _, name := range desc.Artifacts {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("expected artifact %s: %v", name, err)
		}
		if len(data) == 0 {
			t.Errorf("artifact %s is empty", name)
		}
	}

	raw, err := os.ReadFile(filepath.Join(dir, job.ResultsFileName))
	if err != nil {
		t.Fatalf("expected results summary: %v", err)
	}
	var sum struct {
		SampleID string `json:"sample_id"`
		Cycles   []struct {
			Index               int     `json:"index"`
			ChargeCapacityAh    float64 `json:"charge_capacity_ah"`
			DischargeCapacityAh float64 `json:"discharge_capacity_ah"`
		} `json:"cycles"`
	}
	if err := json.Unmarshal(raw, &sum); err != nil {
		t.Fatalf("results summary not valid JSON: %v", err)
	}
	if sum.SampleID != "s-1" {
		t.Errorf("sample id = %s, want s-1", sum.SampleID)
	}
	// One charge followed by one discharge makes one cycle.
	if len(sum.Cycles) != 1 {
		t.Fatalf("cycles = %d, want 1", len(sum.Cycles))
	}
	if sum.Cycles[0].ChargeCapacityAh <= 0 || sum.Cycles[0].DischargeCapacityAh <= 0 {
		t.Errorf("cycle capacities not positive: %+v", sum.Cycles[0])
	}
}

func TestExecuteSeriesAligned(t *testing.T) {
	sim := New()
	desc := testDescription(t)
	dir := t.TempDir()

	if _, err := sim.Execute(context.Background(), desc, dir); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	rows := -1
	for _, name := range desc.Artifacts {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		n := len(strings.Split(strings.TrimRight(string(data), "\n"), "\n"))
		if rows == -1 {
			rows = n
		} else if n != rows {
			t.Errorf("series %s has %d rows, want %d", name, n, rows)
		}
		for i, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			if len(strings.Fields(line)) != 2 {
				t.Fatalf("series %s line %d: want 2 fields, got %q", name, i+1, line)
			}
		}
	}
	if rows <= 0 {
		t.Fatal("no rows emitted")
	}
}

func TestExecuteDeterministic(t *testing.T) {
	sim := New()
	desc := testDescription(t)

	dirA := t.TempDir()
	dirB := t.TempDir()
	if _, err := sim.Execute(context.Background(), desc, dirA); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := sim.Execute(context.Background(), desc, dirB); err != nil {
		t.Fatalf("second run: %v", err)
	}

	files := append([]string{}, desc.Artifacts...)
	files = append(files, job.ResultsFileName)
	for _, name := range files {
		a, err := os.ReadFile(filepath.Join(dirA, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		b, err := os.ReadFile(filepath.Join(dirB, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if !bytes.Equal(a, b) {
			t.Errorf("artifact %s differs between identical runs", name)
		}
	}
}

func TestExecuteCancelled(t *testing.T) {
	sim := New()
	desc := testDescription(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := sim.Execute(ctx, desc, t.TempDir()); err == nil {
		t.Error("Expected error for cancelled context")
	}
}

func TestExecuteCycleStepFades(t *testing.T) {
	p, err := protocol.Validate("ageing", []protocol.RawStep{
		{Kind: "cycle", Params: map[string]any{
			"count": 5, "charge_current_a": 1.0, "discharge_current_a": 1.0,
			"upper_voltage_v": 4.2, "lower_voltage_v": 3.0,
		}},
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	desc, err := job.Package(p, &models.Sample{ID: "s-2", Label: "cell-002"})
	if err != nil {
		t.Fatalf("package: %v", err)
	}

	dir := t.TempDir()
	sim := New()
	if _, err := sim.Execute(context.Background(), desc, dir); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, job.ResultsFileName))
	if err != nil {
		t.Fatalf("read results: %v", err)
	}
	var sum struct {
		Cycles []struct {
			DischargeCapacityAh float64 `json:"discharge_capacity_ah"`
		} `json:"cycles"`
	}
	if err := json.Unmarshal(raw, &sum); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(sum.Cycles) != 5 {
		t.Fatalf("cycles = %d, want 5", len(sum.Cycles))
	}
	first := sum.Cycles[0].DischargeCapacityAh
	last := sum.Cycles[len(sum.Cycles)-1].DischargeCapacityAh
	if last >= first {
		t.Errorf("expected capacity fade across cycles: first %.4f, last %.4f", first, last)
	}
}
