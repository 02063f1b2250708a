package runner

import (
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Monitor watches a running job's work directory and records artifact files
// as they appear. It is best effort: a watch failure never fails the job.
type Monitor struct {
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	doneCh  chan struct{}

	mu   sync.Mutex
	seen map[string]bool
}

// StartMonitor begins watching dir. Callers must Stop the monitor.
func StartMonitor(dir string, logger *zap.Logger) (*Monitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	m := &Monitor{
		watcher: watcher,
		logger:  logger,
		doneCh:  make(chan struct{}),
		seen:    make(map[string]bool),
	}
	go m.loop()
	return m, nil
}

func (m *Monitor) loop() {
	defer close(m.doneCh)
	for {
		select {
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			m.mu.Lock()
			first := !m.seen[name]
			m.seen[name] = true
			m.mu.Unlock()
			if first {
				m.logger.Debug("artifact file appeared", zap.String("file", name))
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("work dir watch error", zap.Error(err))
		}
	}
}

// Files returns the file names observed so far, sorted.
func (m *Monitor) Files() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.seen))
	for name := range m.seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stop ends the watch and waits for the event loop to drain.
func (m *Monitor) Stop() {
	m.watcher.Close()
	<-m.doneCh
}
