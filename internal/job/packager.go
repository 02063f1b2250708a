// Package job turns a validated protocol bound to a sample into a
// deterministic, host-executable job description.
package job

import (
	"fmt"
	"math"

	"github.com/cyclab/aurora/internal/models"
	"github.com/cyclab/aurora/internal/protocol"
)

// PayloadFileName is the file the runner writes into the job work directory
// for executors that consume the description from disk.
const PayloadFileName = "payload.yaml"

// ResultsFileName is the auxiliary cycle summary every run produces. It is
// not part of the expected artifact set used for structural comparison.
const ResultsFileName = "results.json"

// ArtifactExt is the extension of measurable quantity series files.
const ArtifactExt = ".dat"

// defaultCommand invokes the external cycler control binary against the
// payload file. The builtin simulator ignores it.
var defaultCommand = []string{"cellcycler", "run", PayloadFileName}

const (
	timeoutFactor       = 1.5
	timeoutSlackSeconds = 300
	minTimeoutSeconds   = 60
)

// PackagingError reports that a protocol could not be packaged into a
// runnable job.
type PackagingError struct {
	Reason string
}

func (e *PackagingError) Error() string {
	return "packaging failed: " + e.Reason
}

// ArtifactName returns the series file name for a measurable quantity.
func ArtifactName(quantity string) string {
	return quantity + ArtifactExt
}

// Package builds the job description for a validated protocol and sample.
// The result is a pure function of its inputs: identical protocol and sample
// identity produce byte-identical canonical encodings.
func Package(p *protocol.Protocol, sample *models.Sample) (*models.JobDescription, error) {
	if sample == nil || sample.ID == "" {
		return nil, &PackagingError{Reason: "sample identity is required"}
	}
	quantities := p.Quantities()
	if len(quantities) == 0 {
		return nil, &PackagingError{Reason: "protocol declares no measurable outputs"}
	}

	artifacts := make([]string, len(quantities))
	for i, q := range quantities {
		artifacts[i] = ArtifactName(q)
	}

	steps := make([]protocol.Step, len(p.Steps))
	copy(steps, p.Steps)

	command := make([]string, len(defaultCommand))
	copy(command, defaultCommand)

	timeout := int64(math.Ceil(p.PlannedSeconds()*timeoutFactor)) + timeoutSlackSeconds
	if timeout < minTimeoutSeconds {
		timeout = minTimeoutSeconds
	}

	return &models.JobDescription{
		SampleID:       sample.ID,
		SampleLabel:    sample.Label,
		Steps:          steps,
		Artifacts:      artifacts,
		Command:        command,
		TimeoutSeconds: timeout,
	}, nil
}

// Fingerprint packages the protocol and returns the description together
// with its canonical fingerprint.
func Fingerprint(p *protocol.Protocol, sample *models.Sample) (*models.JobDescription, string, error) {
	desc, err := Package(p, sample)
	if err != nil {
		return nil, "", err
	}
	fp, err := desc.Fingerprint()
	if err != nil {
		return nil, "", fmt.Errorf("fingerprint description: %w", err)
	}
	return desc, fp, nil
}
