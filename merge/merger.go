// Package merge runs the single background goroutine that consolidates
// tail-page updates into base pages once a page range crosses its merge
// threshold.
package merge

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Felmond13/coldb/table"
)

// Merger periodically scans every registered table's page ranges and folds
// due ranges. One Merger serves an entire Database; it is the engine's
// only background writer besides the transaction workers themselves.
type Merger struct {
	mu     sync.Mutex
	tables map[string]*table.Table
	log    *zap.Logger

	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	running  bool
}

// New creates a Merger that checks for due page ranges every interval. A
// non-positive interval defaults to 50ms, frequent enough to keep tail
// growth bounded without busy-looping.
func New(interval time.Duration, log *zap.Logger) *Merger {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Merger{
		tables:   make(map[string]*table.Table),
		log:      log,
		interval: interval,
	}
}

// Register adds t to the set of tables the merger watches.
func (m *Merger) Register(t *table.Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[t.Name] = t
}

// Unregister stops the merger from watching the named table, e.g. on drop.
func (m *Merger) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tables, name)
}

// Start launches the background merge goroutine. Calling Start twice
// without an intervening Stop is a no-op.
func (m *Merger) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.loop()
}

// Stop signals the merge goroutine to exit and waits for it to finish.
func (m *Merger) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	stop := m.stop
	done := m.done
	m.running = false
	m.mu.Unlock()

	close(stop)
	<-done
}

func (m *Merger) loop() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.runOnce()
		}
	}
}

// runOnce checks every registered table's page ranges and merges any that
// have crossed the configured update threshold.
func (m *Merger) runOnce() {
	m.mu.Lock()
	tables := make([]*table.Table, 0, len(m.tables))
	for _, t := range m.tables {
		tables = append(tables, t)
	}
	m.mu.Unlock()

	for _, t := range tables {
		for _, pr := range t.PageRanges() {
			if !pr.NeedsMerge() {
				continue
			}
			n, err := t.MergeOnce(pr)
			if err != nil {
				m.log.Warn("merge pass failed",
					zap.String("table", t.Name),
					zap.Int("page_range", pr.Index),
					zap.Error(err))
				continue
			}
			m.log.Debug("merged page range",
				zap.String("table", t.Name),
				zap.Int("page_range", pr.Index),
				zap.Int("rows", n))
		}
	}
}
