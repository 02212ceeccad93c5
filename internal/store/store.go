// Package store persists pipeline runs and detected signals. Two drivers are
// provided: sqlite for local and single-node deployments, postgres for shared
// ones.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/resilience"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	CompanyID    int64           `json:"company_id,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// SignalFilter specifies criteria for listing signals.
type SignalFilter struct {
	CompanyID  int64            `json:"company_id,omitempty"`
	Kind       model.SignalKind `json:"kind,omitempty"`
	MinScore   float64          `json:"min_score,omitempty"`
	ActiveOnly bool             `json:"active_only,omitempty"`
	Limit      int              `json:"limit,omitempty"`
}

// Store defines the persistence interface for the signal pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, companyID int64, agentType string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Signals
	SaveSignal(ctx context.Context, sig *model.Signal) error
	GetSignal(ctx context.Context, signalID string) (*model.Signal, error)
	ListSignals(ctx context.Context, filter SignalFilter) ([]model.Signal, error)
	// MarkSignalActioned flips the actioned flag false to true exactly once;
	// a second call for the same signal fails.
	MarkSignalActioned(ctx context.Context, signalID string) error

	// Dead letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	DeleteDLQ(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// New opens a store for the given driver ("sqlite" or "postgres").
func New(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "":
		return NewSQLite(dsn)
	case "postgres", "postgresql":
		return NewPostgres(ctx, dsn)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}
