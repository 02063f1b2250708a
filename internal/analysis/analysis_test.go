package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cyclesWithDischarge(qd ...float64) []CycleRecord {
	cycles := make([]CycleRecord, len(qd))
	for i, q := range qd {
		cycles[i] = CycleRecord{
			Index:               i + 1,
			ChargeCapacityAh:    q * 1.02,
			DischargeCapacityAh: q,
			CoulombicEfficiency: 1 / 1.02,
		}
	}
	return cycles
}

func TestAnalyzeRelativeCapacities(t *testing.T) {
	report, err := AnalyzeCycles("cell-001", cyclesWithDischarge(4.0, 3.8, 3.6), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Cycles)
	assert.InDelta(t, 1.0, report.RelativeCapacities[0], 1e-12)
	assert.InDelta(t, 0.95, report.RelativeCapacities[1], 1e-12)
	assert.InDelta(t, 0.9, report.RelativeCapacities[2], 1e-12)
	assert.False(t, report.FadeDetected)
	assert.InDelta(t, 1/1.02, report.MeanEfficiency, 1e-12)
}

func TestAnalyzeDetectsFade(t *testing.T) {
	// Three consecutive cycles below 80 % of the first: flagged with the
	// default requirement of more than two.
	report, err := AnalyzeCycles("cell-001", cyclesWithDischarge(4.0, 3.9, 3.0, 2.9, 2.8), DefaultOptions())
	require.NoError(t, err)

	assert.True(t, report.FadeDetected)
	assert.Equal(t, 3, report.FadeRunLength)
}

func TestAnalyzeShortDipNotFlagged(t *testing.T) {
	// A two-cycle dip recovers; run length 2 does not exceed the default.
	report, err := AnalyzeCycles("cell-001", cyclesWithDischarge(4.0, 3.0, 3.0, 3.9), DefaultOptions())
	require.NoError(t, err)

	assert.False(t, report.FadeDetected)
	assert.Equal(t, 2, report.FadeRunLength)
}

func TestAnalyzeChargeCapacity(t *testing.T) {
	opts := DefaultOptions()
	opts.Discharge = false

	cycles := []CycleRecord{
		{Index: 1, ChargeCapacityAh: 4.0, DischargeCapacityAh: 1.0},
		{Index: 2, ChargeCapacityAh: 2.0, DischargeCapacityAh: 1.0},
	}
	report, err := AnalyzeCycles("", cycles, opts)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, report.RelativeCapacities[1], 1e-12)
}

func TestAnalyzeFromJSON(t *testing.T) {
	payload := []byte(`{
		"sample_label": "cell-001",
		"cycles": [
			{"index": 1, "charge_capacity_ah": 4.1, "discharge_capacity_ah": 4.0, "coulombic_efficiency": 0.9756},
			{"index": 2, "charge_capacity_ah": 4.0, "discharge_capacity_ah": 3.9, "coulombic_efficiency": 0.975}
		]
	}`)

	report, err := Analyze(payload, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "cell-001", report.SampleLabel)
	assert.Equal(t, 2, report.Cycles)

	_, err = Analyze([]byte("not json"), DefaultOptions())
	assert.Error(t, err)
}

func TestAnalyzeErrors(t *testing.T) {
	_, err := AnalyzeCycles("", nil, DefaultOptions())
	assert.Error(t, err)

	opts := DefaultOptions()
	opts.ReferenceCycle = 5
	_, err = AnalyzeCycles("", cyclesWithDischarge(4.0), opts)
	assert.Error(t, err)

	_, err = AnalyzeCycles("", cyclesWithDischarge(0), DefaultOptions())
	assert.Error(t, err)
}
