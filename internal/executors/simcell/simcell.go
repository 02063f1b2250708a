// Package simcell provides the builtin deterministic cell simulator.
//
// The simulator integrates a simple first-order cell model over the protocol
// steps and writes one series file per measurable quantity plus a cycle
// summary. Output is a pure function of the job description: no clock, no
// randomness, no environment. Identical descriptions produce byte-identical
// artifacts, which is what makes round-trip classification land on a full
// match.
package simcell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/cyclab/aurora/internal/executors"
	"github.com/cyclab/aurora/internal/job"
	"github.com/cyclab/aurora/internal/models"
	"github.com/cyclab/aurora/internal/protocol"
)

const (
	// dtSeconds is the acquisition interval in protocol seconds.
	dtSeconds = 60.0

	initialVoltage = 3.5
	voltageEps     = 0.001

	// relaxPerTick is the fraction of the remaining voltage gap closed per
	// acquisition tick.
	relaxPerTick = 0.15

	// fadePerCycle speeds up relaxation slightly every completed cycle,
	// approximating resistance growth: later cycles pass less charge.
	fadePerCycle = 0.02
)

// SimCell is the builtin simulator backend.
type SimCell struct{}

// New creates the simulator backend.
func New() *SimCell {
	return &SimCell{}
}

// Name returns the backend identifier.
func (s *SimCell) Name() string {
	return "simcell"
}

// cycleRecord is one full charge/discharge cycle in the results summary.
type cycleRecord struct {
	Index               int     `json:"index"`
	ChargeCapacityAh    float64 `json:"charge_capacity_ah"`
	DischargeCapacityAh float64 `json:"discharge_capacity_ah"`
	CoulombicEfficiency float64 `json:"coulombic_efficiency"`
}

// results is the auxiliary cycle summary written next to the series files.
type results struct {
	SampleID        string        `json:"sample_id"`
	SampleLabel     string        `json:"sample_label"`
	Cycles          []cycleRecord `json:"cycles"`
	Points          int           `json:"points"`
	ProtocolSeconds float64       `json:"protocol_seconds"`
	NetCapacityAh   float64       `json:"net_capacity_ah"`
}

// simState carries the integrated cell state across steps.
type simState struct {
	v      float64 // terminal voltage
	capAh  float64 // net charge passed
	t      float64 // protocol time
	points int

	series map[string]*bytes.Buffer

	cycles    []cycleRecord
	pendingQc float64
	hasQc     bool
}

// Execute simulates the described protocol and writes the artifacts into
// workDir. It returns a zero exit code unless the context is cancelled or a
// file cannot be written.
func (s *SimCell) Execute(ctx context.Context, desc *models.JobDescription, workDir string) (*executors.ExecResult, error) {
	st := &simState{
		v:      initialVoltage,
		series: make(map[string]*bytes.Buffer),
	}
	for _, q := range protocol.QuantitiesOf(desc.Steps) {
		st.series[q] = &bytes.Buffer{}
	}

	steps := protocol.ExpandSteps(desc.Steps)
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch step.Kind {
		case protocol.StepCharge:
			qc := st.chargePhase(step.Params["current_a"], step.Params["voltage_v"], step.Termination)
			st.pendingQc, st.hasQc = qc, true
		case protocol.StepDischarge:
			qd := st.dischargePhase(step.Params["current_a"], step.Params["voltage_v"], step.Termination)
			st.closeCycle(qd)
		case protocol.StepRest:
			st.t += step.Params["duration_s"]
		case protocol.StepCycle:
			st.runCycleStep(step)
		}
	}

	if err := s.writeArtifacts(ctx, desc, workDir, st); err != nil {
		return nil, err
	}

	return &executors.ExecResult{
		Command:  desc.Command,
		ExitCode: 0,
		Stdout:   fmt.Sprintf("simulated %d steps, %d points, %.2f protocol hours\n", len(steps), st.points, st.t/3600),
	}, nil
}

// emit appends one acquisition row to every series.
func (st *simState) emit(current float64) {
	st.points++
	ts := strconv.FormatFloat(st.t, 'f', 1, 64)
	for q, buf := range st.series {
		var val float64
		switch q {
		case protocol.QuantityVoltage:
			val = st.v
		case protocol.QuantityCurrent:
			val = current
		case protocol.QuantityCapacity:
			val = st.capAh
		}
		buf.WriteString(ts)
		buf.WriteByte(' ')
		buf.WriteString(strconv.FormatFloat(val, 'f', 6, 64))
		buf.WriteByte('\n')
	}
}

// relax returns the per-tick relaxation fraction including fade.
func (st *simState) relax() float64 {
	return relaxPerTick * (1 + fadePerCycle*float64(len(st.cycles)))
}

// chargePhase integrates a constant-current charge toward target voltage.
// It returns the charge passed during the phase in Ah.
func (st *simState) chargePhase(current, target float64, term map[string]float64) float64 {
	return st.phase(current, target, term, false)
}

// dischargePhase integrates a constant-current discharge toward the cutoff.
func (st *simState) dischargePhase(current, cutoff float64, term map[string]float64) float64 {
	return st.phase(current, cutoff, term, true)
}

func (st *simState) phase(current, target float64, term map[string]float64, discharging bool) float64 {
	bound := float64(protocol.DefaultStepSeconds)
	if d, ok := term["duration_s"]; ok {
		bound = d
	}
	capLimit, hasCapLimit := term["capacity_ah"]
	voltageLimit, hasVoltageLimit := term["voltage_v"]

	var phaseCap, elapsed float64
	for elapsed < bound {
		st.t += dtSeconds
		elapsed += dtSeconds
		st.v += (target - st.v) * st.relax()

		dAh := current * dtSeconds / 3600
		signed := current
		if discharging {
			dAh = -dAh
			signed = -current
		}
		st.capAh += dAh
		phaseCap += current * dtSeconds / 3600
		st.emit(signed)

		if hasVoltageLimit {
			if discharging && st.v <= voltageLimit+voltageEps {
				break
			}
			if !discharging && st.v >= voltageLimit-voltageEps {
				break
			}
		}
		if hasCapLimit && phaseCap >= capLimit {
			break
		}
	}
	return phaseCap
}

// closeCycle pairs a completed discharge with the preceding charge phase.
func (st *simState) closeCycle(qd float64) {
	if !st.hasQc {
		return
	}
	qc := st.pendingQc
	st.pendingQc, st.hasQc = 0, false
	eff := 0.0
	if qc > 0 {
		eff = qd / qc
	}
	st.cycles = append(st.cycles, cycleRecord{
		Index:               len(st.cycles) + 1,
		ChargeCapacityAh:    qc,
		DischargeCapacityAh: qd,
		CoulombicEfficiency: eff,
	})
}

// runCycleStep executes count charge/discharge pairs inside one cycle step.
func (st *simState) runCycleStep(step protocol.Step) {
	count := int(step.Params["count"])
	for n := 0; n < count; n++ {
		qc := st.chargePhase(step.Params["charge_current_a"], step.Params["upper_voltage_v"], map[string]float64{"voltage_v": step.Params["upper_voltage_v"]})
		st.pendingQc, st.hasQc = qc, true
		qd := st.dischargePhase(step.Params["discharge_current_a"], step.Params["lower_voltage_v"], map[string]float64{"voltage_v": step.Params["lower_voltage_v"]})
		st.closeCycle(qd)
	}
}

// writeArtifacts persists the series files and the results summary.
func (s *SimCell) writeArtifacts(ctx context.Context, desc *models.JobDescription, workDir string, st *simState) error {
	summary := results{
		SampleID:        desc.SampleID,
		SampleLabel:     desc.SampleLabel,
		Cycles:          st.cycles,
		Points:          st.points,
		ProtocolSeconds: st.t,
		NetCapacityAh:   st.capAh,
	}
	summaryJSON, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}

	g, _ := errgroup.WithContext(ctx)
	for _, name := range desc.Artifacts {
		q := name[:len(name)-len(job.ArtifactExt)]
		buf, ok := st.series[q]
		if !ok {
			return fmt.Errorf("no series for artifact %q", name)
		}
		path := filepath.Join(workDir, name)
		data := buf.Bytes()
		g.Go(func() error {
			return os.WriteFile(path, data, 0o644)
		})
	}
	g.Go(func() error {
		return os.WriteFile(filepath.Join(workDir, job.ResultsFileName), summaryJSON, 0o644)
	})
	return g.Wait()
}
