package runner

import (
	"fmt"
	"sync"

	"github.com/cyclab/aurora/internal/models"
)

// Machine tracks one job's lifecycle state and rejects illegal transitions.
// The legal edges are created -> submitted -> running -> completed, with
// failed reachable from every non-terminal state.
type Machine struct {
	mu      sync.Mutex
	status  models.JobStatus
	history []models.JobStatus
}

// NewMachine starts a lifecycle machine in the created state.
func NewMachine() *Machine {
	return &Machine{
		status:  models.JobStatusCreated,
		history: []models.JobStatus{models.JobStatusCreated},
	}
}

// Status returns the current state.
func (m *Machine) Status() models.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// To advances the machine to next, or returns an error for an illegal edge.
func (m *Machine) To(next models.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.status.CanTransition(next) {
		return fmt.Errorf("illegal transition %s -> %s", m.status, next)
	}
	m.status = next
	m.history = append(m.history, next)
	return nil
}

// History returns the states visited so far, in order.
func (m *Machine) History() []models.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.JobStatus, len(m.history))
	copy(out, m.history)
	return out
}
