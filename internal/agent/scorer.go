package agent

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-pipeline/internal/model"
)

// Component weights for the overall lead score.
const (
	fitWeight    = 0.4
	intentWeight = 0.4
	timingWeight = 0.2
)

// targetIndustries are the ICP industry substrings worth full industry fit.
var targetIndustries = []string{"technology", "fintech", "saas", "healthcare", "enterprise"}

// modernTech are the stack substrings that count toward tech fit.
var modernTech = []string{
	"aws", "azure", "gcp", "kubernetes", "python", "react", "microservices", "api",
}

// hiringEventTypes are the event types counted as hiring activity.
var hiringEventTypes = map[string]bool{"job_posting": true, "careers": true}

// Scorer computes fit, intent, and timing scores plus BANT and CHAMP
// qualification for the company in the state. Scores are recomputed from
// scratch on every run.
type Scorer struct {
	now func() time.Time
}

// NewScorer creates a Scorer using the wall clock.
func NewScorer() *Scorer {
	return &Scorer{now: func() time.Time { return time.Now().UTC() }}
}

func (s *Scorer) Name() string { return "scorer" }

// Run derives the full ScoreSet and stores it on the state.
func (s *Scorer) Run(_ context.Context, state *model.PipelineState) error {
	if len(state.CompanyData) == 0 {
		return eris.New("no company data to score")
	}

	fit := s.fitScore(state)
	intent := s.intentScore(state)
	timing := s.timingScore(state)
	overall := fit*fitWeight + intent*intentWeight + timing*timingWeight

	state.Scores = &model.ScoreSet{
		Overall:        round2(overall),
		Fit:            round2(fit),
		Intent:         round2(intent),
		Timing:         round2(timing),
		BANTQualified:  s.bantQualified(state),
		CHAMPQualified: s.champQualified(state),
	}

	zap.L().Info("scorer: scored lead",
		zap.Int64("company_id", state.CompanyID),
		zap.Float64("score", state.Scores.Overall),
	)
	return nil
}

// fitScore measures ICP fit from firmographics and technographics, 0 to 100.
func (s *Scorer) fitScore(state *model.PipelineState) float64 {
	var score float64

	// Industry fit (30 points).
	industry := strings.ToLower(state.Industry())
	for _, target := range targetIndustries {
		if industry != "" && strings.Contains(industry, target) {
			score += 30
			break
		}
	}

	// Size fit (30 points). 200 to 5000 employees is the sweet spot.
	employees := state.EmployeeCount()
	switch {
	case employees >= 200 && employees <= 5000:
		score += 30
	case (employees >= 50 && employees < 200) || (employees > 5000 && employees <= 10000):
		score += 20
	case employees > 0:
		score += 10
	}

	// Tech stack fit (20 points).
	var modernCount int
	for _, tech := range state.TechStack() {
		lower := strings.ToLower(tech)
		for _, modern := range modernTech {
			if strings.Contains(lower, modern) {
				modernCount++
				break
			}
		}
	}
	score += math.Min(float64(modernCount)*5, 20)

	// Funding and revenue fit (20 points).
	if state.TotalFunding() > 0 {
		score += 10
	}
	if state.HasRevenue() {
		score += 10
	}

	return math.Min(score, 100)
}

// intentScore measures buying intent from events and detected signals,
// 0 to 100.
func (s *Scorer) intentScore(state *model.PipelineState) float64 {
	var score float64

	// Recent hiring activity (30 points).
	var hiring int
	for _, event := range state.Events {
		if s.isRecent(event.Timestamp, 30) && hiringEventTypes[event.EventType] {
			hiring++
		}
	}
	score += math.Min(float64(hiring)*5, 30)

	// Tech adoption (25 points).
	score += math.Min(float64(countSignals(state.Signals, model.SignalTechAdoption))*12.5, 25)

	// Funding or budget events (20 points).
	if countSignals(state.Signals, model.SignalFundingEvent, model.SignalBudgetEvent) > 0 {
		score += 20
	}

	// Expansion and product launches (15 points).
	expansion := countSignals(state.Signals, model.SignalExpansion, model.SignalProductLaunch)
	score += math.Min(float64(expansion)*7.5, 15)

	// Pain point mentions (10 points).
	score += math.Min(float64(countSignals(state.Signals, model.SignalPainPoint))*5, 10)

	return math.Min(score, 100)
}

// timingScore measures recency and velocity of activity, 0 to 100.
func (s *Scorer) timingScore(state *model.PipelineState) float64 {
	var score float64

	var recent7, recent30, recent90 int
	for _, event := range state.Events {
		if s.isRecent(event.Timestamp, 7) {
			recent7++
		}
		if s.isRecent(event.Timestamp, 30) {
			recent30++
		}
		if s.isRecent(event.Timestamp, 90) {
			recent90++
		}
	}

	// Recency (50 points).
	switch {
	case recent7 > 0:
		score += 50
	case recent30 > 0:
		score += 35
	case recent90 > 0:
		score += 20
	}

	// Velocity (50 points): accelerating activity beats steady activity.
	if recent30 > recent90-recent30 {
		score += 50
	} else if recent30 > 0 {
		score += 25
	}

	return math.Min(score, 100)
}

// bantQualified checks Budget, Authority, Need, Timeline. All four must hold.
func (s *Scorer) bantQualified(state *model.PipelineState) bool {
	hasBudget := state.TotalFunding() > 0 || state.HasRevenue()
	hasAuthority := state.EmployeeCount() < 5000

	hasNeed := len(state.Signals) > 0

	hasTimeline := false
	for _, sig := range state.Signals {
		if s.isRecent(sig.WindowStart, 90) {
			hasTimeline = true
			break
		}
	}

	return hasBudget && hasAuthority && hasNeed && hasTimeline
}

// champQualified checks Challenges, Authority, Money, Prioritization.
func (s *Scorer) champQualified(state *model.PipelineState) bool {
	hasChallenges := false
	hasPriority := false
	for _, sig := range state.Signals {
		if sig.Kind == model.SignalPainPoint || sig.Kind == model.SignalHiringSpike {
			hasChallenges = true
		}
		if sig.Score > 75 && s.isRecent(sig.WindowStart, 30) {
			hasPriority = true
		}
	}

	hasAuthority := state.EmployeeCount() < 5000
	hasMoney := state.TotalFunding() > 0

	return hasChallenges && hasAuthority && hasMoney && hasPriority
}

func (s *Scorer) isRecent(ts time.Time, days int) bool {
	if ts.IsZero() {
		return false
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	return ts.After(cutoff)
}

func countSignals(signals []model.Signal, kinds ...model.SignalKind) int {
	var n int
	for _, sig := range signals {
		for _, kind := range kinds {
			if sig.Kind == kind {
				n++
				break
			}
		}
	}
	return n
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
