package model

import "time"

// SignalKind classifies a buying signal.
type SignalKind string

const (
	SignalHiringSpike      SignalKind = "hiring_spike"
	SignalTechAdoption     SignalKind = "tech_adoption"
	SignalFundingEvent     SignalKind = "funding_event"
	SignalExpansion        SignalKind = "expansion"
	SignalProductLaunch    SignalKind = "product_launch"
	SignalLeadershipChange SignalKind = "leadership_change"
	SignalBudgetEvent      SignalKind = "budget_event"
	SignalPartnership      SignalKind = "partnership"
	SignalPainPoint        SignalKind = "pain_point"
)

// Evidence ties a signal to a concrete observation.
type Evidence struct {
	URL       string    `json:"url"`
	Snippet   string    `json:"snippet"`
	Timestamp time.Time `json:"timestamp"`
}

// Signal is a scored, evidenced indicator of buying intent tied to a company
// and a time window. Evidence is immutable once attached; Actioned transitions
// false→true exactly once when a downstream action fires.
type Signal struct {
	ID          string     `json:"id"`
	CompanyID   int64      `json:"company_id"`
	Kind        SignalKind `json:"kind"`
	Score       float64    `json:"score"`
	Confidence  float64    `json:"confidence,omitempty"`
	WindowStart time.Time  `json:"timestamp_start"`
	WindowEnd   time.Time  `json:"timestamp_end,omitzero"`
	Evidence    []Evidence `json:"evidence,omitempty"`
	Explanation string     `json:"explanation,omitempty"`
	Active      bool       `json:"active"`
	Actioned    bool       `json:"actioned"`
}

// ScoreSet holds the derived component scores for one run. All values are
// recomputed fresh from the state's inputs, never incrementally updated.
type ScoreSet struct {
	Overall        float64 `json:"overall"`
	Fit            float64 `json:"fit"`
	Intent         float64 `json:"intent"`
	Timing         float64 `json:"timing"`
	BANTQualified  bool    `json:"bant_qualified"`
	CHAMPQualified bool    `json:"champ_qualified"`
}

// Proposal is the generated sales proposal for a company.
type Proposal struct {
	Title          string     `json:"title"`
	Outline        string     `json:"outline"`
	Content        string     `json:"content"`
	Evidence       []Evidence `json:"evidence"`
	ContextSummary string     `json:"context_summary"`
}
