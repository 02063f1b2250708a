package tui

// JobItem is a summary of a job for the list view.
type JobItem struct {
	ID       string
	SampleID string
	Executor string
	Status   string
	ExitCode int
}

// JobDetail is the full job record shown in the detail view.
type JobDetail struct {
	ID           string
	SampleID     string
	Executor     string
	Status       string
	Fingerprint  string
	ExitCode     int
	FailureKind  string
	FailureCause string
	CreatedAt    string
	StartedAt    string
	EndedAt      string
}

// VerdictDetail summarizes a classification result.
type VerdictDetail struct {
	ExitCode    int
	Differences []DifferenceDetail
	Errors      []string
}

// DifferenceDetail is one divergence found during classification.
type DifferenceDetail struct {
	Artifact string
	Kind     string
	Line     int
	Field    int
	Want     string
	Got      string
}

// SampleItem is a summary of a sample for the samples view.
type SampleItem struct {
	ID        string
	Label     string
	Chemistry string
}
