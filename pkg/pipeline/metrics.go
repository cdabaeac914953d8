package pipeline

import (
	"sync"
	"time"
)

// StageStats aggregates timing for one pipeline stage.
type StageStats struct {
	Count    int64         `json:"count"`
	Failures int64         `json:"failures"`
	Total    time.Duration `json:"total"`
	Last     time.Duration `json:"last"`
}

// Average returns the mean stage duration.
func (s StageStats) Average() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// Collector records per-stage durations and success/failure counts.
// It is goroutine-safe; every session run reports into the same collector.
type Collector struct {
	mu       sync.Mutex
	stages   map[Stage]*StageStats
	runs     int64
	aborted  int64
	fallback int64
}

// NewCollector creates a metrics collector.
func NewCollector() *Collector {
	return &Collector{stages: make(map[Stage]*StageStats)}
}

// Observe records one stage execution.
func (c *Collector) Observe(stage Stage, d time.Duration, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.stages[stage]
	if !ok {
		stats = &StageStats{}
		c.stages[stage] = stats
	}
	stats.Count++
	stats.Total += d
	stats.Last = d
	if failed {
		stats.Failures++
	}
}

// RunCompleted records a finished session run.
func (c *Collector) RunCompleted(aborted, fellBack bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs++
	if aborted {
		c.aborted++
	}
	if fellBack {
		c.fallback++
	}
}

// Snapshot is a point-in-time copy of all collected metrics.
type Snapshot struct {
	Runs     int64                 `json:"runs"`
	Aborted  int64                 `json:"aborted"`
	Fallback int64                 `json:"fallback"`
	Stages   map[string]StageStats `json:"stages"`
}

// Snapshot returns a copy of the current metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := Snapshot{
		Runs:     c.runs,
		Aborted:  c.aborted,
		Fallback: c.fallback,
		Stages:   make(map[string]StageStats, len(c.stages)),
	}
	for stage, stats := range c.stages {
		out.Stages[stage.String()] = *stats
	}
	return out
}

// timeStage runs fn, records its duration against stage, and passes the
// error through.
func (c *Collector) timeStage(stage Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	c.Observe(stage, time.Since(start), err != nil)
	return err
}
