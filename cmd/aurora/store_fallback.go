package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cyclab/aurora/internal/config"
	"github.com/cyclab/aurora/internal/store"
)

// apiGetOrLocal fetches a read path from the daemon API. When the daemon
// does not answer its health probe, the local store is opened read-only
// and the result is marshaled into the same JSON shape the API returns,
// so list/show commands work without a running daemon.
func apiGetOrLocal(path string, local func(*store.Store) (any, error)) ([]byte, error) {
	if checkDaemonHealth() {
		return apiGet(path)
	}

	s, err := openLocalStore()
	if err != nil {
		return nil, err
	}
	defer s.Close()

	v, err := local(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func openLocalStore() (*store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	s, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	return s, nil
}

// localSample resolves a sample reference as an ID first, then as a label.
func localSample(s *store.Store, ref string) (any, error) {
	sample, err := s.GetSample(ref)
	if errors.Is(err, store.ErrSampleNotFound) {
		return s.GetSampleByLabel(ref)
	}
	return sample, err
}

func localVerdict(s *store.Store, jobID string) (any, error) {
	v, err := s.GetVerdictForJob(jobID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("no verdict recorded for job %s", jobID)
	}
	return v, nil
}
