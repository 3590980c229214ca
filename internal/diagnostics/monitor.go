package diagnostics

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hugo-lorenzo-mato/casework/internal/logging"
)

// Snapshot captures process resource state at a point in time.
type Snapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	Goroutines  int       `json:"goroutines"`
	HeapAllocMB float64   `json:"heap_alloc_mb"`
	RSSMB       float64   `json:"rss_mb"`
	OpenFDs     int       `json:"open_fds"`
	NumGC       uint32    `json:"num_gc"`
	ActiveRuns  int       `json:"active_runs"`
}

// Trend is the growth of resource usage across the recorded history.
type Trend struct {
	GoroutineGrowthRate float64 // per hour
	MemoryGrowthRate    float64 // MB per hour
	FDGrowthRate        float64 // per hour
	IsHealthy           bool
	Warnings            []string
}

// Warning is a single threshold breach.
type Warning struct {
	Level   string // "warning" or "critical"
	Type    string // "goroutine", "memory", "fd"
	Message string
	Value   float64
	Limit   float64
}

// Thresholds configure CheckHealth. Zero disables a check.
type Thresholds struct {
	Goroutines int
	HeapMB     int
	OpenFDs    int
}

// DefaultThresholds suit a server running a handful of concurrent threads.
func DefaultThresholds() Thresholds {
	return Thresholds{Goroutines: 5000, HeapMB: 2048, OpenFDs: 4096}
}

// ResourceMonitor samples the process periodically and keeps a bounded
// history.
type ResourceMonitor struct {
	interval    time.Duration
	thresholds  Thresholds
	historySize int
	activeRuns  func() int
	logger      *logging.Logger

	mu      sync.RWMutex
	history []Snapshot

	stopCh  chan struct{}
	stopped atomic.Bool
	started time.Time
}

// NewResourceMonitor creates a monitor. activeRuns may be nil.
func NewResourceMonitor(interval time.Duration, thresholds Thresholds, historySize int, activeRuns func() int, logger *logging.Logger) *ResourceMonitor {
	if historySize <= 0 {
		historySize = 120
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ResourceMonitor{
		interval:    interval,
		thresholds:  thresholds,
		historySize: historySize,
		activeRuns:  activeRuns,
		logger:      logger,
		history:     make([]Snapshot, 0, historySize),
		stopCh:      make(chan struct{}),
		started:     time.Now(),
	}
}

// Start samples until ctx is done or Stop is called.
func (m *ResourceMonitor) Start(ctx context.Context) {
	go func() {
		m.record(m.TakeSnapshot())

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.record(m.TakeSnapshot())
				for _, w := range m.CheckHealth() {
					m.logger.Warn("resource warning",
						"type", w.Type,
						"level", w.Level,
						"value", w.Value,
						"limit", w.Limit,
						"message", w.Message,
					)
				}
			}
		}
	}()
}

// Stop halts sampling. It is safe to call more than once.
func (m *ResourceMonitor) Stop() {
	if m.stopped.CompareAndSwap(false, true) {
		close(m.stopCh)
	}
}

// TakeSnapshot samples the process now without recording it.
func (m *ResourceMonitor) TakeSnapshot() Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	rss, fds := processUsage(context.Background())

	s := Snapshot{
		Timestamp:   time.Now(),
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(ms.HeapAlloc) / mb,
		RSSMB:       rss,
		OpenFDs:     fds,
		NumGC:       ms.NumGC,
	}
	if m.activeRuns != nil {
		s.ActiveRuns = m.activeRuns()
	}
	return s
}

func (m *ResourceMonitor) record(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, s)
	if len(m.history) > m.historySize {
		m.history = m.history[len(m.history)-m.historySize:]
	}
}

// History returns a copy of the recorded snapshots, oldest first.
func (m *ResourceMonitor) History() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, len(m.history))
	copy(out, m.history)
	return out
}

// Latest returns the most recent recorded snapshot.
func (m *ResourceMonitor) Latest() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.history) == 0 {
		return Snapshot{}, false
	}
	return m.history[len(m.history)-1], true
}

// Trend compares the oldest and newest recorded snapshots.
func (m *ResourceMonitor) Trend() Trend {
	return trendOf(m.History())
}

func trendOf(history []Snapshot) Trend {
	if len(history) < 2 {
		return Trend{IsHealthy: true}
	}
	first, last := history[0], history[len(history)-1]
	hours := last.Timestamp.Sub(first.Timestamp).Hours()
	if hours < 0.01 {
		return Trend{IsHealthy: true}
	}

	t := Trend{
		GoroutineGrowthRate: float64(last.Goroutines-first.Goroutines) / hours,
		MemoryGrowthRate:    (last.HeapAllocMB - first.HeapAllocMB) / hours,
		FDGrowthRate:        float64(last.OpenFDs-first.OpenFDs) / hours,
		IsHealthy:           true,
	}
	if t.GoroutineGrowthRate > 100 {
		t.IsHealthy = false
		t.Warnings = append(t.Warnings, fmt.Sprintf("goroutine count growing at %.1f/hour (potential leak)", t.GoroutineGrowthRate))
	}
	if t.MemoryGrowthRate > 100 {
		t.IsHealthy = false
		t.Warnings = append(t.Warnings, fmt.Sprintf("heap growing at %.1f MB/hour", t.MemoryGrowthRate))
	}
	if t.FDGrowthRate > 10 {
		t.IsHealthy = false
		t.Warnings = append(t.Warnings, fmt.Sprintf("open descriptors growing at %.1f/hour (potential leak)", t.FDGrowthRate))
	}
	return t
}

// CheckHealth compares the latest snapshot against the thresholds.
func (m *ResourceMonitor) CheckHealth() []Warning {
	s, ok := m.Latest()
	if !ok {
		s = m.TakeSnapshot()
	}
	return checkThresholds(s, m.thresholds)
}

func checkThresholds(s Snapshot, th Thresholds) []Warning {
	var warnings []Warning

	if th.Goroutines > 0 && s.Goroutines > th.Goroutines {
		level := "warning"
		if s.Goroutines > th.Goroutines*2 {
			level = "critical"
		}
		warnings = append(warnings, Warning{
			Level:   level,
			Type:    "goroutine",
			Message: fmt.Sprintf("goroutine count at %d (threshold: %d)", s.Goroutines, th.Goroutines),
			Value:   float64(s.Goroutines),
			Limit:   float64(th.Goroutines),
		})
	}
	if th.HeapMB > 0 && s.HeapAllocMB > float64(th.HeapMB) {
		level := "warning"
		if s.HeapAllocMB > float64(th.HeapMB)*1.5 {
			level = "critical"
		}
		warnings = append(warnings, Warning{
			Level:   level,
			Type:    "memory",
			Message: fmt.Sprintf("heap at %.1f MB (threshold: %d MB)", s.HeapAllocMB, th.HeapMB),
			Value:   s.HeapAllocMB,
			Limit:   float64(th.HeapMB),
		})
	}
	if th.OpenFDs > 0 && s.OpenFDs > th.OpenFDs {
		warnings = append(warnings, Warning{
			Level:   "warning",
			Type:    "fd",
			Message: fmt.Sprintf("%d open descriptors (threshold: %d)", s.OpenFDs, th.OpenFDs),
			Value:   float64(s.OpenFDs),
			Limit:   float64(th.OpenFDs),
		})
	}
	return warnings
}

// Uptime is the time since the monitor was created.
func (m *ResourceMonitor) Uptime() time.Duration {
	return time.Since(m.started)
}
