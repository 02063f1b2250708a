// Package scheduler polls the store for queued jobs and drives them through
// execution on a bounded worker pool.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cyclab/aurora/internal/config"
	"github.com/cyclab/aurora/internal/controlplane"
	"github.com/cyclab/aurora/internal/metrics"
	"github.com/cyclab/aurora/internal/models"
	"github.com/cyclab/aurora/internal/store"
)

// Scheduler claims queued jobs and executes them concurrently. Worker slots
// are bounded globally and per executor.
type Scheduler struct {
	store   *store.Store
	service *controlplane.Service
	metrics *metrics.Metrics
	logger  *zap.Logger

	workers      int
	pollInterval time.Duration
	byExecutor   map[string]int

	mu            sync.Mutex
	activeWorkers int
	executorCount map[string]int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler from the daemon config's scheduler section.
func New(s *store.Store, service *controlplane.Service, cfg config.SchedulerConfig, m *metrics.Metrics, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:         s,
		service:       service,
		metrics:       m,
		logger:        logger,
		workers:       cfg.Workers,
		pollInterval:  cfg.PollInterval,
		byExecutor:    cfg.ByExecutor,
		executorCount: make(map[string]int),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins the polling loop.
func (sch *Scheduler) Start() {
	sch.wg.Add(1)
	go sch.loop()
	sch.logger.Info("scheduler started",
		zap.Int("workers", sch.workers),
		zap.Duration("poll_interval", sch.pollInterval))
}

// Stop cancels the loop and waits for in-flight workers to finish. Workers
// see the cancellation through their execution context.
func (sch *Scheduler) Stop() {
	sch.cancel()
	sch.wg.Wait()
	sch.logger.Info("scheduler stopped")
}

func (sch *Scheduler) loop() {
	defer sch.wg.Done()

	ticker := time.NewTicker(sch.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sch.ctx.Done():
			return
		case <-ticker.C:
			sch.dispatch()
		}
	}
}

// dispatch claims queued jobs until the pool is full or the queue is empty.
func (sch *Scheduler) dispatch() {
	for {
		sch.mu.Lock()
		if sch.activeWorkers >= sch.workers {
			sch.mu.Unlock()
			return
		}
		sch.mu.Unlock()

		workerID := uuid.New().String()
		j, err := sch.store.ClaimNextJob(workerID)
		if errors.Is(err, store.ErrNoQueuedJobs) {
			return
		}
		if err != nil {
			sch.logger.Error("claim job", zap.Error(err))
			return
		}

		if !sch.reserve(j.Executor) {
			// Executor slots are exhausted; put the job back for a later
			// poll rather than holding the claim.
			if err := sch.store.ReleaseJob(j.ID, workerID); err != nil {
				sch.logger.Error("release job", zap.String("job", j.ID), zap.Error(err))
			}
			return
		}

		sch.logger.Info("job dispatched",
			zap.String("job", j.ID),
			zap.String("executor", j.Executor),
			zap.String("worker", workerID))

		sch.wg.Add(1)
		go sch.runWorker(j, workerID)
	}
}

// reserve takes a worker slot for the executor, honoring both the global
// and the per-executor limit.
func (sch *Scheduler) reserve(executor string) bool {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	if sch.activeWorkers >= sch.workers {
		return false
	}
	if limit, ok := sch.byExecutor[executor]; ok && sch.executorCount[executor] >= limit {
		return false
	}
	sch.activeWorkers++
	sch.executorCount[executor]++
	sch.metrics.WorkerStarted()
	return true
}

func (sch *Scheduler) release(executor string) {
	sch.mu.Lock()
	sch.activeWorkers--
	sch.executorCount[executor]--
	sch.mu.Unlock()
	sch.metrics.WorkerDone()
}

func (sch *Scheduler) runWorker(j *models.Job, workerID string) {
	defer sch.wg.Done()
	defer sch.release(j.Executor)

	if _, err := sch.service.ExecuteJob(sch.ctx, j); err != nil {
		sch.logger.Error("execute job",
			zap.String("job", j.ID),
			zap.String("worker", workerID),
			zap.Error(err))
	}
}

// Stats reports the current pool occupancy.
func (sch *Scheduler) Stats() (active int, byExecutor map[string]int) {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	byExecutor = make(map[string]int, len(sch.executorCount))
	for k, v := range sch.executorCount {
		byExecutor[k] = v
	}
	return sch.activeWorkers, byExecutor
}
