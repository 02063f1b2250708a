package protocol

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chargeStep(voltage float64) RawStep {
	return RawStep{
		Kind:        "charge",
		Params:      map[string]any{"current_a": 0.5, "voltage_v": voltage},
		Termination: map[string]any{"voltage_v": voltage},
	}
}

func restStep(seconds float64) RawStep {
	return RawStep{Kind: "rest", Params: map[string]any{"duration_s": seconds}}
}

func dischargeStep(cutoff float64) RawStep {
	return RawStep{
		Kind:        "discharge",
		Params:      map[string]any{"current_a": 0.5, "voltage_v": cutoff},
		Termination: map[string]any{"voltage_v": cutoff},
	}
}

func TestValidateAccepts(t *testing.T) {
	p, err := Validate("formation", []RawStep{chargeStep(4.2), restStep(600), dischargeStep(3.0)})
	require.NoError(t, err)
	require.Len(t, p.Steps, 3)
	assert.Equal(t, StepCharge, p.Steps[0].Kind)
	assert.Equal(t, 4.2, p.Steps[0].Params["voltage_v"])
	assert.Equal(t, 4.2, p.Steps[0].Termination["voltage_v"])
	assert.Nil(t, p.Steps[1].Termination)
}

func TestValidateEmpty(t *testing.T) {
	_, err := Validate("", nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, -1, verr.StepIndex)
	assert.Equal(t, "steps", verr.Field)
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name      string
		steps     []RawStep
		wantIndex int
		wantField string
	}{
		{
			name:      "unknown kind",
			steps:     []RawStep{chargeStep(4.2), {Kind: "electrolyze", Params: map[string]any{}}},
			wantIndex: 1,
			wantField: "kind",
		},
		{
			name:      "missing required param",
			steps:     []RawStep{{Kind: "charge", Params: map[string]any{"voltage_v": 4.2}}},
			wantIndex: 0,
			wantField: "current_a",
		},
		{
			name:      "unknown param",
			steps:     []RawStep{{Kind: "rest", Params: map[string]any{"duration_s": 60, "pressure_pa": 1.0}}},
			wantIndex: 0,
			wantField: "pressure_pa",
		},
		{
			name:      "param out of bounds",
			steps:     []RawStep{chargeStep(9.9)},
			wantIndex: 0,
			wantField: "voltage_v",
		},
		{
			name:      "zero current",
			steps:     []RawStep{{Kind: "charge", Params: map[string]any{"current_a": 0, "voltage_v": 4.2}}},
			wantIndex: 0,
			wantField: "current_a",
		},
		{
			name:      "non numeric param",
			steps:     []RawStep{{Kind: "rest", Params: map[string]any{"duration_s": "ten minutes"}}},
			wantIndex: 0,
			wantField: "duration_s",
		},
		{
			name: "termination not valid for kind",
			steps: []RawStep{{
				Kind:        "rest",
				Params:      map[string]any{"duration_s": 60},
				Termination: map[string]any{"voltage_v": 4.2},
			}},
			wantIndex: 0,
			wantField: "voltage_v",
		},
		{
			name: "cycle voltage window inverted",
			steps: []RawStep{{
				Kind: "cycle",
				Params: map[string]any{
					"count": 5, "charge_current_a": 0.5, "discharge_current_a": 0.5,
					"upper_voltage_v": 3.0, "lower_voltage_v": 4.2,
				},
			}},
			wantIndex: 0,
			wantField: "upper_voltage_v",
		},
		{
			name:      "fractional cycle count",
			steps:     []RawStep{{Kind: "cycle", Params: map[string]any{"count": 2.5, "charge_current_a": 0.5, "discharge_current_a": 0.5, "upper_voltage_v": 4.2, "lower_voltage_v": 3.0}}},
			wantIndex: 0,
			wantField: "count",
		},
		{
			name:      "loop referencing later step",
			steps:     []RawStep{restStep(60), {Kind: "loop", Params: map[string]any{"count": 2, "goto_step": 1}}},
			wantIndex: 1,
			wantField: "goto_step",
		},
		{
			name: "loop range containing loop",
			steps: []RawStep{
				restStep(60),
				{Kind: "loop", Params: map[string]any{"count": 2, "goto_step": 0}},
				{Kind: "loop", Params: map[string]any{"count": 2, "goto_step": 1}},
			},
			wantIndex: 2,
			wantField: "goto_step",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Validate("", tc.steps)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr, "expected a validation error")
			assert.Equal(t, tc.wantIndex, verr.StepIndex)
			assert.Equal(t, tc.wantField, verr.Field)
		})
	}
}

func TestValidateFailFast(t *testing.T) {
	// Both steps are invalid; only the first violation is reported.
	_, err := Validate("", []RawStep{
		{Kind: "charge", Params: map[string]any{"current_a": -1, "voltage_v": 4.2}},
		{Kind: "bogus"},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, verr.StepIndex)
	assert.Equal(t, "current_a", verr.Field)
}

func TestQuantitiesOrder(t *testing.T) {
	p, err := Validate("", []RawStep{chargeStep(4.2), restStep(600), dischargeStep(3.0)})
	require.NoError(t, err)
	assert.Equal(t, []string{"voltage", "current", "capacity"}, p.Quantities())

	rest, err := Validate("", []RawStep{restStep(600)})
	require.NoError(t, err)
	assert.Empty(t, rest.Quantities())
}

func TestExpandLoop(t *testing.T) {
	p, err := Validate("", []RawStep{
		chargeStep(4.2),
		dischargeStep(3.0),
		{Kind: "loop", Params: map[string]any{"count": 3, "goto_step": 0}},
		restStep(600),
	})
	require.NoError(t, err)

	steps := p.Expand()
	require.Len(t, steps, 7) // charge+discharge three times, then rest
	kinds := make([]StepKind, len(steps))
	for i, s := range steps {
		kinds[i] = s.Kind
	}
	assert.Equal(t, []StepKind{
		StepCharge, StepDischarge,
		StepCharge, StepDischarge,
		StepCharge, StepDischarge,
		StepRest,
	}, kinds)
}

func TestPlannedSeconds(t *testing.T) {
	p, err := Validate("", []RawStep{
		{Kind: "charge", Params: map[string]any{"current_a": 0.5, "voltage_v": 4.2}, Termination: map[string]any{"duration_s": 1800}},
		restStep(600),
		dischargeStep(3.0), // no duration termination, falls back to the default bound
	})
	require.NoError(t, err)
	assert.Equal(t, float64(1800+600+DefaultStepSeconds), p.PlannedSeconds())
}

func TestDecodeBytes(t *testing.T) {
	doc, err := DecodeBytes([]byte(`
name: formation-cycle
steps:
  - kind: charge
    params:
      current_a: 0.5
      voltage_v: 4.2
    termination:
      voltage_v: 4.2
  - kind: rest
    params:
      duration_s: 600
`))
	require.NoError(t, err)
	assert.Equal(t, "formation-cycle", doc.Name)
	require.Len(t, doc.Steps, 2)
	assert.Equal(t, "charge", doc.Steps[0].Kind)

	_, err = Validate(doc.Name, doc.Steps)
	require.NoError(t, err)
}

func TestDecodeBytesJSON(t *testing.T) {
	doc, err := DecodeBytes([]byte(`{"name":"j","steps":[{"kind":"rest","params":{"duration_s":60}}]}`))
	require.NoError(t, err)
	require.Len(t, doc.Steps, 1)
	assert.Equal(t, "rest", doc.Steps[0].Kind)
}

func TestDecodeBytesUnknownField(t *testing.T) {
	_, err := DecodeBytes([]byte("name: x\nstep:\n  - kind: rest\n"))
	require.Error(t, err)
}

func TestDecodeBytesEmpty(t *testing.T) {
	doc, err := DecodeBytes(nil)
	require.NoError(t, err)
	assert.Empty(t, doc.Steps)

	_, err = Validate(doc.Name, doc.Steps)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proto.yaml")
	content := `name: check
steps:
  - kind: rest
    params:
      duration_s: 60
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "check", p.Name)
	require.Len(t, p.Steps, 1)
}
