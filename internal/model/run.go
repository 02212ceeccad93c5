package model

import "time"

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusEnriching RunStatus = "enriching"
	RunStatusScoring   RunStatus = "scoring"
	RunStatusProposing RunStatus = "proposing"
	RunStatusComplete  RunStatus = "complete"
	RunStatusFailed    RunStatus = "failed"
)

// Run represents a single agent pipeline execution for a company.
type Run struct {
	ID        string     `json:"id"`
	CompanyID int64      `json:"company_id"`
	AgentType string     `json:"agent_type"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	Scores      *ScoreSet `json:"scores,omitempty"`
	SignalCount int       `json:"signal_count"`
	EventCount  int       `json:"event_count"`
	Errors      []string  `json:"errors,omitempty"`
	Warnings    []string  `json:"warnings,omitempty"`
}
