package job

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyclab/aurora/internal/models"
	"github.com/cyclab/aurora/internal/protocol"
)

func formationProtocol(t *testing.T) *protocol.Protocol {
	t.Helper()
	p, err := protocol.Validate("formation", []protocol.RawStep{
		{Kind: "charge", Params: map[string]any{"current_a": 0.5, "voltage_v": 4.2}, Termination: map[string]any{"voltage_v": 4.2}},
		{Kind: "rest", Params: map[string]any{"duration_s": 600}},
		{Kind: "discharge", Params: map[string]any{"current_a": 0.5, "voltage_v": 3.0}, Termination: map[string]any{"voltage_v": 3.0}},
	})
	require.NoError(t, err)
	return p
}

func TestPackageArtifacts(t *testing.T) {
	sample := &models.Sample{ID: "s-1", Label: "cell-001"}
	desc, err := Package(formationProtocol(t), sample)
	require.NoError(t, err)

	assert.Equal(t, []string{"voltage.dat", "current.dat", "capacity.dat"}, desc.Artifacts)
	assert.Equal(t, "s-1", desc.SampleID)
	assert.Equal(t, "cell-001", desc.SampleLabel)
	require.Len(t, desc.Steps, 3)
	assert.NotEmpty(t, desc.Command)
	assert.GreaterOrEqual(t, desc.TimeoutSeconds, int64(minTimeoutSeconds))
}

func TestPackageDeterministic(t *testing.T) {
	sample := &models.Sample{ID: "s-1", Label: "cell-001"}

	a, err := Package(formationProtocol(t), sample)
	require.NoError(t, err)
	b, err := Package(formationProtocol(t), sample)
	require.NoError(t, err)

	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("descriptions differ (-first +second):\n%s", diff)
	}

	rawA, err := a.CanonicalJSON()
	require.NoError(t, err)
	rawB, err := b.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, rawA, rawB, "canonical encodings must be byte identical")

	fpA, err := a.Fingerprint()
	require.NoError(t, err)
	fpB, err := b.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fpA, fpB)
}

func TestPackageFingerprintSensitivity(t *testing.T) {
	p := formationProtocol(t)

	_, fp1, err := Fingerprint(p, &models.Sample{ID: "s-1", Label: "cell-001"})
	require.NoError(t, err)
	_, fp2, err := Fingerprint(p, &models.Sample{ID: "s-2", Label: "cell-002"})
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp2, "different sample identity must change the fingerprint")
}

func TestPackageNoMeasurableOutputs(t *testing.T) {
	p, err := protocol.Validate("", []protocol.RawStep{
		{Kind: "rest", Params: map[string]any{"duration_s": 60}},
	})
	require.NoError(t, err)

	_, err = Package(p, &models.Sample{ID: "s-1", Label: "cell-001"})
	var perr *PackagingError
	require.ErrorAs(t, err, &perr)
}

func TestPackageRequiresSample(t *testing.T) {
	_, err := Package(formationProtocol(t), nil)
	var perr *PackagingError
	require.ErrorAs(t, err, &perr)

	_, err = Package(formationProtocol(t), &models.Sample{Label: "no-id"})
	require.ErrorAs(t, err, &perr)
}

func TestPackageTimeoutDerivation(t *testing.T) {
	// 1800 s charge + 600 s rest + default-bounded discharge.
	p, err := protocol.Validate("", []protocol.RawStep{
		{Kind: "charge", Params: map[string]any{"current_a": 0.5, "voltage_v": 4.2}, Termination: map[string]any{"duration_s": 1800}},
		{Kind: "rest", Params: map[string]any{"duration_s": 600}},
	})
	require.NoError(t, err)

	desc, err := Package(p, &models.Sample{ID: "s-1", Label: "cell-001"})
	require.NoError(t, err)
	assert.Equal(t, int64(2400*timeoutFactor)+timeoutSlackSeconds, desc.TimeoutSeconds)
}
