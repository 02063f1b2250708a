// Package analysis computes capacity-fade statistics over cycle summaries.
package analysis

import (
	"encoding/json"
	"fmt"
)

// CycleRecord mirrors one cycle entry of a job's results.json summary.
type CycleRecord struct {
	Index               int     `json:"index"`
	ChargeCapacityAh    float64 `json:"charge_capacity_ah"`
	DischargeCapacityAh float64 `json:"discharge_capacity_ah"`
	CoulombicEfficiency float64 `json:"coulombic_efficiency"`
}

// resultsDoc is the subset of results.json the analysis consumes.
type resultsDoc struct {
	SampleLabel string        `json:"sample_label"`
	Cycles      []CycleRecord `json:"cycles"`
}

// Options tunes the fade detection.
type Options struct {
	// Threshold is the relative capacity below which a cycle counts as
	// faded, as a fraction of the reference cycle's capacity.
	Threshold float64
	// ConsecutiveCycles is how many cycles must sit below the threshold in a
	// row before the fade flag is raised.
	ConsecutiveCycles int
	// Discharge selects discharge capacity (true) or charge capacity as the
	// tracked quantity.
	Discharge bool
	// ReferenceCycle is the 0-based cycle the relative capacities are scaled
	// against, normally the first.
	ReferenceCycle int
}

// DefaultOptions matches the conventional fade check: discharge capacity
// against the first cycle, flagged below 80 % for more than 2 cycles.
func DefaultOptions() Options {
	return Options{Threshold: 0.8, ConsecutiveCycles: 2, Discharge: true}
}

// Report is the outcome of analysing one job's cycle summary.
type Report struct {
	SampleLabel        string    `json:"sample_label,omitempty"`
	Cycles             int       `json:"cycles"`
	Capacities         []float64 `json:"capacities"`
	RelativeCapacities []float64 `json:"relative_capacities"`
	Efficiencies       []float64 `json:"coulombic_efficiencies"`
	MeanEfficiency     float64   `json:"mean_coulombic_efficiency"`
	FadeDetected       bool      `json:"fade_detected"`
	// FadeRunLength is the longest run of consecutive below-threshold
	// cycles observed.
	FadeRunLength int `json:"fade_run_length"`
}

// Analyze parses a results.json payload and computes the fade report.
func Analyze(resultsJSON []byte, opts Options) (*Report, error) {
	var doc resultsDoc
	if err := json.Unmarshal(resultsJSON, &doc); err != nil {
		return nil, fmt.Errorf("parse results: %w", err)
	}
	return AnalyzeCycles(doc.SampleLabel, doc.Cycles, opts)
}

// AnalyzeCycles computes the fade report over already-decoded cycle records.
func AnalyzeCycles(label string, cycles []CycleRecord, opts Options) (*Report, error) {
	if len(cycles) == 0 {
		return nil, fmt.Errorf("no cycles to analyse")
	}
	if opts.ReferenceCycle < 0 || opts.ReferenceCycle >= len(cycles) {
		return nil, fmt.Errorf("reference cycle %d out of range (have %d cycles)", opts.ReferenceCycle, len(cycles))
	}

	caps := make([]float64, len(cycles))
	effs := make([]float64, len(cycles))
	var effSum float64
	for i, c := range cycles {
		if opts.Discharge {
			caps[i] = c.DischargeCapacityAh
		} else {
			caps[i] = c.ChargeCapacityAh
		}
		effs[i] = c.CoulombicEfficiency
		effSum += c.CoulombicEfficiency
	}

	ref := caps[opts.ReferenceCycle]
	if ref <= 0 {
		return nil, fmt.Errorf("reference cycle %d has non-positive capacity", opts.ReferenceCycle)
	}

	rel := make([]float64, len(caps))
	for i, q := range caps {
		rel[i] = q / ref
	}

	// Longest run of consecutive below-threshold cycles.
	longest, run := 0, 0
	for _, r := range rel {
		if r < opts.Threshold {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}

	return &Report{
		SampleLabel:        label,
		Cycles:             len(cycles),
		Capacities:         caps,
		RelativeCapacities: rel,
		Efficiencies:       effs,
		MeanEfficiency:     effSum / float64(len(cycles)),
		FadeDetected:       longest > opts.ConsecutiveCycles,
		FadeRunLength:      longest,
	}, nil
}
