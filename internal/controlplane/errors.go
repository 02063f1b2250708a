package controlplane

import "errors"

// Sentinel errors for control plane operations.
var (
	ErrSampleNotFound  = errors.New("sample not found")
	ErrJobNotFound     = errors.New("job not found")
	ErrNoVerdict       = errors.New("no verdict recorded for job")
	ErrNoOutput        = errors.New("no output available for job")
	ErrUnknownExecutor = errors.New("unknown executor")
)
