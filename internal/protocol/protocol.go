// Package protocol defines battery cycling protocols and their validation.
//
// A raw protocol arrives as loosely typed step data (decoded YAML or JSON).
// Validate checks it against the step-kind table and returns an immutable
// Protocol; the first violation aborts validation with the step index, the
// offending field, and the violated constraint.
package protocol

import "fmt"

// StepKind identifies one kind of cycling step.
type StepKind string

const (
	StepCharge    StepKind = "charge"
	StepDischarge StepKind = "discharge"
	StepRest      StepKind = "rest"
	StepCycle     StepKind = "cycle"
	StepLoop      StepKind = "loop"
)

// Measurable quantity channels. Each maps to one output artifact.
const (
	QuantityVoltage  = "voltage"
	QuantityCurrent  = "current"
	QuantityCapacity = "capacity"
)

// RawStep is one step as decoded from user input, before validation.
type RawStep struct {
	Kind        string         `json:"kind" yaml:"kind"`
	Params      map[string]any `json:"params" yaml:"params"`
	Termination map[string]any `json:"termination,omitempty" yaml:"termination,omitempty"`
}

// Step is one validated cycling step.
type Step struct {
	Kind        StepKind           `json:"kind" yaml:"kind"`
	Params      map[string]float64 `json:"params" yaml:"params"`
	Termination map[string]float64 `json:"termination,omitempty" yaml:"termination,omitempty"`
}

// Protocol is a validated sequence of steps.
type Protocol struct {
	Name  string
	Steps []Step
}

// ValidationError reports the first constraint violation found in a raw
// protocol. StepIndex is -1 when the violation concerns the protocol as a
// whole rather than a single step.
type ValidationError struct {
	StepIndex  int
	Field      string
	Constraint string
}

func (e *ValidationError) Error() string {
	if e.StepIndex < 0 {
		return fmt.Sprintf("protocol invalid: %s: %s", e.Field, e.Constraint)
	}
	return fmt.Sprintf("step %d invalid: %s: %s", e.StepIndex, e.Field, e.Constraint)
}

// paramSpec declares one parameter a step kind accepts and its bounds.
type paramSpec struct {
	name         string
	min, max     float64
	exclusiveMin bool
	integer      bool
}

func (p paramSpec) check(v float64) string {
	if p.integer && v != float64(int64(v)) {
		return "must be an integer"
	}
	if p.exclusiveMin {
		if v <= p.min || v > p.max {
			return fmt.Sprintf("must be > %g and <= %g", p.min, p.max)
		}
		return ""
	}
	if v < p.min || v > p.max {
		return fmt.Sprintf("must be >= %g and <= %g", p.min, p.max)
	}
	return ""
}

// kindSpec is one entry of the step-kind dispatch table: the parameters a
// kind requires, the termination conditions it accepts, the quantities it
// measures, and an optional cross-parameter check.
type kindSpec struct {
	params      []paramSpec
	termination []string
	quantities  []string
	check       func(index int, steps []RawStep, params map[string]float64) *ValidationError
}

const (
	maxCurrentA   = 100
	maxVoltageV   = 6
	maxDurationS  = 604800 // one week
	maxCycleCount = 10000
)

// kindTable is the single dispatch table all step handling resolves through.
// It is constructed once and never mutated.
var kindTable = map[StepKind]kindSpec{
	StepCharge: {
		params: []paramSpec{
			{name: "current_a", min: 0, max: maxCurrentA, exclusiveMin: true},
			{name: "voltage_v", min: 0, max: maxVoltageV, exclusiveMin: true},
		},
		termination: []string{"voltage_v", "capacity_ah", "duration_s"},
		quantities:  []string{QuantityVoltage, QuantityCurrent, QuantityCapacity},
	},
	StepDischarge: {
		params: []paramSpec{
			{name: "current_a", min: 0, max: maxCurrentA, exclusiveMin: true},
			{name: "voltage_v", min: 0, max: maxVoltageV},
		},
		termination: []string{"voltage_v", "capacity_ah", "duration_s"},
		quantities:  []string{QuantityVoltage, QuantityCurrent, QuantityCapacity},
	},
	StepRest: {
		params: []paramSpec{
			{name: "duration_s", min: 0, max: maxDurationS, exclusiveMin: true},
		},
		termination: []string{"duration_s"},
		// Acquisition is paused while the cell relaxes; rest steps
		// contribute no measurable output.
		quantities: nil,
	},
	StepCycle: {
		params: []paramSpec{
			{name: "count", min: 1, max: maxCycleCount, integer: true},
			{name: "charge_current_a", min: 0, max: maxCurrentA, exclusiveMin: true},
			{name: "discharge_current_a", min: 0, max: maxCurrentA, exclusiveMin: true},
			{name: "upper_voltage_v", min: 0, max: maxVoltageV, exclusiveMin: true},
			{name: "lower_voltage_v", min: 0, max: maxVoltageV},
		},
		termination: []string{"capacity_ah", "duration_s"},
		quantities:  []string{QuantityVoltage, QuantityCurrent, QuantityCapacity},
		check: func(index int, _ []RawStep, params map[string]float64) *ValidationError {
			if params["upper_voltage_v"] <= params["lower_voltage_v"] {
				return &ValidationError{StepIndex: index, Field: "upper_voltage_v", Constraint: "must be greater than lower_voltage_v"}
			}
			return nil
		},
	},
	StepLoop: {
		params: []paramSpec{
			{name: "count", min: 1, max: maxCycleCount, integer: true},
			{name: "goto_step", min: 0, max: 1 << 20, integer: true},
		},
		termination: nil,
		quantities:  nil, // control step, no acquisition
		check:       checkLoop,
	},
}

func checkLoop(index int, steps []RawStep, params map[string]float64) *ValidationError {
	target := int(params["goto_step"])
	if target >= index {
		return &ValidationError{StepIndex: index, Field: "goto_step", Constraint: "must reference an earlier step"}
	}
	for j := target; j < index; j++ {
		if StepKind(steps[j].Kind) == StepLoop {
			return &ValidationError{StepIndex: index, Field: "goto_step", Constraint: "loop ranges may not contain loop steps"}
		}
	}
	return nil
}

// Validate checks raw steps against the kind table and returns a Protocol.
// Validation is fail-fast: the first violation is returned and no further
// steps are inspected.
func Validate(name string, raw []RawStep) (*Protocol, error) {
	if len(raw) == 0 {
		return nil, &ValidationError{StepIndex: -1, Field: "steps", Constraint: "protocol must contain at least one step"}
	}
	steps := make([]Step, 0, len(raw))
	for i, rs := range raw {
		kind := StepKind(rs.Kind)
		spec, ok := kindTable[kind]
		if !ok {
			return nil, &ValidationError{StepIndex: i, Field: "kind", Constraint: fmt.Sprintf("unknown step kind %q", rs.Kind)}
		}

		params := make(map[string]float64, len(rs.Params))
		for _, ps := range spec.params {
			v, present := rs.Params[ps.name]
			if !present {
				return nil, &ValidationError{StepIndex: i, Field: ps.name, Constraint: "required parameter missing"}
			}
			f, numeric := toFloat(v)
			if !numeric {
				return nil, &ValidationError{StepIndex: i, Field: ps.name, Constraint: "must be a number"}
			}
			if msg := ps.check(f); msg != "" {
				return nil, &ValidationError{StepIndex: i, Field: ps.name, Constraint: msg}
			}
			params[ps.name] = f
		}
		for key := range rs.Params {
			if !spec.hasParam(key) {
				return nil, &ValidationError{StepIndex: i, Field: key, Constraint: fmt.Sprintf("parameter not valid for step kind %q", kind)}
			}
		}

		term := make(map[string]float64, len(rs.Termination))
		for key, v := range rs.Termination {
			if !spec.hasTermination(key) {
				return nil, &ValidationError{StepIndex: i, Field: key, Constraint: fmt.Sprintf("termination condition not valid for step kind %q", kind)}
			}
			f, numeric := toFloat(v)
			if !numeric {
				return nil, &ValidationError{StepIndex: i, Field: key, Constraint: "must be a number"}
			}
			term[key] = f
		}

		if spec.check != nil {
			if verr := spec.check(i, raw, params); verr != nil {
				return nil, verr
			}
		}

		if len(term) == 0 {
			term = nil
		}
		steps = append(steps, Step{Kind: kind, Params: params, Termination: term})
	}
	return &Protocol{Name: name, Steps: steps}, nil
}

func (s kindSpec) hasParam(name string) bool {
	for _, p := range s.params {
		if p.name == name {
			return true
		}
	}
	return false
}

func (s kindSpec) hasTermination(name string) bool {
	for _, t := range s.termination {
		if t == name {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// Quantities returns the measurable quantity channels the protocol produces,
// in first-appearance order over the step sequence.
func (p *Protocol) Quantities() []string {
	return QuantitiesOf(p.Steps)
}

// QuantitiesOf is Quantities over a bare step slice.
func QuantitiesOf(steps []Step) []string {
	seen := make(map[string]bool)
	var out []string
	for _, st := range steps {
		for _, q := range kindTable[st.Kind].quantities {
			if !seen[q] {
				seen[q] = true
				out = append(out, q)
			}
		}
	}
	return out
}

// Expand flattens loop steps into the step sequence they replay. A loop with
// count n replays the steps from goto_step up to the loop n times in total
// (the pass already executed counts as the first).
func (p *Protocol) Expand() []Step {
	return ExpandSteps(p.Steps)
}

// ExpandSteps is Expand over a bare step slice, for callers holding steps
// extracted from a job description.
func ExpandSteps(steps []Step) []Step {
	var out []Step
	// indexOf maps original step index to its first position in out so loop
	// targets can be located after earlier expansion.
	indexOf := make([]int, len(steps))
	for i, st := range steps {
		indexOf[i] = len(out)
		if st.Kind != StepLoop {
			out = append(out, st)
			continue
		}
		count := int(st.Params["count"])
		target := int(st.Params["goto_step"])
		body := make([]Step, len(out)-indexOf[target])
		copy(body, out[indexOf[target]:])
		for n := 1; n < count; n++ {
			out = append(out, body...)
		}
	}
	return out
}

// DefaultStepSeconds bounds a charge or discharge phase whose duration is
// not pinned by a termination condition.
const DefaultStepSeconds = 3600

// PlannedSeconds estimates the total protocol duration in protocol seconds,
// loops expanded. Used to derive job timeouts.
func (p *Protocol) PlannedSeconds() float64 {
	var total float64
	for _, st := range p.Expand() {
		switch st.Kind {
		case StepRest:
			total += st.Params["duration_s"]
		case StepCharge, StepDischarge:
			if d, ok := st.Termination["duration_s"]; ok {
				total += d
			} else {
				total += DefaultStepSeconds
			}
		case StepCycle:
			if d, ok := st.Termination["duration_s"]; ok {
				total += d
			} else {
				total += st.Params["count"] * 2 * DefaultStepSeconds
			}
		}
	}
	return total
}
