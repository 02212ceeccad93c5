// Package monitoring collects pipeline health metrics: in-process dispatcher
// counters plus store-backed run and signal statistics.
package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Dispatcher counters since process start.
	MessagesProcessed map[string]int64 `json:"messages_processed"`
	MessagesFailed    map[string]int64 `json:"messages_failed"`
	SignalsEmitted    int64            `json:"signals_emitted"`
	HighValueSignals  int64            `json:"high_value_signals"`
	UptimeSeconds     int64            `json:"uptime_seconds"`

	// Store metrics (within lookback window).
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsQueued   int     `json:"runs_queued"`
	RunFailRate  float64 `json:"run_fail_rate"`
	AvgScore     float64 `json:"avg_score"`

	SignalsStored   int `json:"signals_stored"`
	SignalsActioned int `json:"signals_actioned"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics. The counter methods are safe for concurrent use
// by the dispatcher's handlers.
type Collector struct {
	store     store.Store
	startedAt time.Time

	mu        sync.Mutex
	processed map[string]int64
	failed    map[string]int64
	emitted   int64
	highValue int64
}

// NewCollector creates a metrics collector. The store may be nil; Collect
// then returns counter metrics only.
func NewCollector(st store.Store) *Collector {
	return &Collector{
		store:     st,
		startedAt: time.Now().UTC(),
		processed: make(map[string]int64),
		failed:    make(map[string]int64),
	}
}

// MessageProcessed counts one handled message on the topic.
func (c *Collector) MessageProcessed(topic model.Topic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processed[string(topic)]++
}

// MessageFailed counts one failed handler invocation on the topic.
func (c *Collector) MessageFailed(topic model.Topic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed[string(topic)]++
}

// SignalEmitted counts one published signal; highValue marks scores at or
// above the action threshold.
func (c *Collector) SignalEmitted(highValue bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted++
	if highValue {
		c.highValue++
	}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		MessagesProcessed: make(map[string]int64),
		MessagesFailed:    make(map[string]int64),
		LookbackHours:     lookbackHours,
		CollectedAt:       now,
		UptimeSeconds:     int64(now.Sub(c.startedAt).Seconds()),
	}

	c.mu.Lock()
	for topic, n := range c.processed {
		snap.MessagesProcessed[topic] = n
	}
	for topic, n := range c.failed {
		snap.MessagesFailed[topic] = n
	}
	snap.SignalsEmitted = c.emitted
	snap.HighValueSignals = c.highValue
	c.mu.Unlock()

	if c.store == nil {
		return snap, nil
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var totalScore float64
	var scoredRuns int
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusQueued:
			snap.RunsQueued++
		}
		if r.Result != nil && r.Result.Scores != nil && r.Result.Scores.Overall > 0 {
			totalScore += r.Result.Scores.Overall
			scoredRuns++
		}
	}
	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if scoredRuns > 0 {
		snap.AvgScore = totalScore / float64(scoredRuns)
	}

	signals, err := c.store.ListSignals(ctx, store.SignalFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list signals")
	}
	snap.SignalsStored = len(signals)
	for _, sig := range signals {
		if sig.Actioned {
			snap.SignalsActioned++
		}
	}

	return snap, nil
}
