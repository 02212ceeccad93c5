// Package dispatcher is the long-lived consumer over the four pipeline
// topics. It routes each message by topic, drives the agent stages over
// clean events and triggered actions, and feeds the store, search, and graph
// collaborators. Handler faults are logged per message and never stop the
// consumption loop.
package dispatcher

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-pipeline/internal/agent"
	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/monitoring"
	"github.com/sells-group/signal-pipeline/internal/resilience"
	"github.com/sells-group/signal-pipeline/internal/sink"
	"github.com/sells-group/signal-pipeline/internal/store"
	"github.com/sells-group/signal-pipeline/internal/stream"
)

// DefaultHighValueThreshold is the signal score at which follow-on actions
// are flagged.
const DefaultHighValueThreshold = 80

// dlqRetryBackoff is the per-attempt delay before a dead-lettered message is
// retried again.
const dlqRetryBackoff = 5 * time.Minute

// CRM pushes qualified companies into an external CRM.
type CRM interface {
	SyncAccount(ctx context.Context, companyID int64, attrs map[string]any, scores *model.ScoreSet, direction string) error
}

// ProposalStore persists generated proposal documents.
type ProposalStore interface {
	PutProposal(ctx context.Context, companyID int64, executionID string, content []byte) (string, error)
}

// Config wires the dispatcher's collaborators. Consumer, Publisher, and the
// four stages are required; everything else degrades to a no-op when unset.
type Config struct {
	Consumer  stream.Consumer
	Publisher stream.Publisher

	Discoverer agent.Stage
	Enricher   agent.Stage
	Scorer     agent.Stage
	Proposer   agent.Stage

	Store     store.Store
	Search    sink.SearchIndex
	Graph     sink.GraphStore
	CRM       CRM
	Proposals ProposalStore
	Metrics   *monitoring.Collector

	HighValueThreshold float64
}

// Dispatcher routes pipeline messages to their handlers.
type Dispatcher struct {
	cfg       Config
	threshold float64
	stages    map[string]agent.Stage
}

// New creates a Dispatcher, defaulting the optional collaborators.
func New(cfg Config) *Dispatcher {
	if cfg.Search == nil {
		cfg.Search = sink.NoopSearch{}
	}
	if cfg.Graph == nil {
		cfg.Graph = sink.NoopGraph{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = monitoring.NewCollector(cfg.Store)
	}
	threshold := cfg.HighValueThreshold
	if threshold <= 0 {
		threshold = DefaultHighValueThreshold
	}
	return &Dispatcher{
		cfg:       cfg,
		threshold: threshold,
		stages: map[string]agent.Stage{
			"discoverer": cfg.Discoverer,
			"enricher":   cfg.Enricher,
			"scorer":     cfg.Scorer,
			"proposer":   cfg.Proposer,
		},
	}
}

// Metrics exposes the dispatcher's collector.
func (d *Dispatcher) Metrics() *monitoring.Collector {
	return d.cfg.Metrics
}

// Run consumes messages until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	zap.L().Info("dispatcher: starting", zap.Float64("high_value_threshold", d.threshold))
	return d.cfg.Consumer.Consume(ctx, d.handle)
}

// handle routes one message by topic. Errors are counted and surfaced to the
// consumer for logging; consumption always continues.
func (d *Dispatcher) handle(ctx context.Context, msg stream.Message) error {
	zap.L().Debug("dispatcher: processing message",
		zap.String("topic", string(msg.Topic)),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	err := d.route(ctx, msg)

	if err != nil {
		d.cfg.Metrics.MessageFailed(msg.Topic)
		d.parkMessage(ctx, msg, err)
		return err
	}
	d.cfg.Metrics.MessageProcessed(msg.Topic)
	return nil
}

// route dispatches one message to its topic handler.
func (d *Dispatcher) route(ctx context.Context, msg stream.Message) error {
	switch msg.Topic {
	case model.TopicRawEvents:
		return d.handleRawEvent(ctx, msg.Value)
	case model.TopicCleanEvents:
		return d.handleCleanEvent(ctx, msg.Value)
	case model.TopicSignalsDetected:
		return d.handleSignal(ctx, msg.Value)
	case model.TopicActionsTriggered:
		return d.handleAction(ctx, msg.Value)
	default:
		zap.L().Warn("dispatcher: unhandled topic", zap.String("topic", string(msg.Topic)))
		return nil
	}
}

// parkMessage dead-letters a failed message for later replay.
func (d *Dispatcher) parkMessage(ctx context.Context, msg stream.Message, cause error) {
	if d.cfg.Store == nil {
		return
	}
	entry := resilience.NewDLQEntry(msg.Topic, msg.Key, msg.Value, cause)
	if err := d.cfg.Store.EnqueueDLQ(ctx, entry); err != nil {
		zap.L().Warn("dispatcher: enqueue dlq failed", zap.Error(err))
	}
}

// ReplayDLQ re-runs dead-lettered messages that are due for retry. Entries
// that succeed are removed; entries that fail again back off linearly.
func (d *Dispatcher) ReplayDLQ(ctx context.Context, limit int) error {
	if d.cfg.Store == nil {
		return nil
	}
	entries, err := d.cfg.Store.DequeueDLQ(ctx, resilience.DLQFilter{Limit: limit})
	if err != nil {
		return eris.Wrap(err, "dispatcher: dequeue dlq")
	}

	for _, entry := range entries {
		msg := stream.Message{Topic: entry.Topic, Key: entry.Key, Value: entry.Payload}
		if handleErr := d.route(ctx, msg); handleErr != nil {
			next := time.Now().UTC().Add(time.Duration(entry.RetryCount+1) * dlqRetryBackoff)
			if err := d.cfg.Store.IncrementDLQRetry(ctx, entry.ID, next, handleErr.Error()); err != nil {
				zap.L().Warn("dispatcher: increment dlq retry failed", zap.Error(err))
			}
			continue
		}
		if err := d.cfg.Store.DeleteDLQ(ctx, entry.ID); err != nil {
			zap.L().Warn("dispatcher: delete dlq entry failed", zap.Error(err))
		}
	}
	return nil
}

// handleRawEvent normalizes a raw event and republishes it on clean.events.
func (d *Dispatcher) handleRawEvent(ctx context.Context, payload []byte) error {
	var raw model.RawEventMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return eris.Wrap(err, "dispatcher: decode raw event")
	}
	if raw.CompanyID == 0 {
		zap.L().Debug("dispatcher: raw event without company id, dropping")
		return nil
	}

	clean := normalizeRawEvent(raw)
	if d.cfg.Publisher == nil {
		return eris.New("dispatcher: no publisher for clean events")
	}
	return d.cfg.Publisher.Publish(ctx, model.TopicCleanEvents,
		strconv.FormatInt(raw.CompanyID, 10), clean)
}

// handleCleanEvent runs enrichment and scoring over a fresh state, persists
// the run, feeds the sinks, and publishes a detected signal when the score
// clears the threshold.
func (d *Dispatcher) handleCleanEvent(ctx context.Context, payload []byte) error {
	var msg model.CleanEventMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return eris.Wrap(err, "dispatcher: decode clean event")
	}
	if msg.CompanyID == 0 {
		zap.L().Debug("dispatcher: clean event without company id, dropping")
		return nil
	}

	state := model.NewPipelineState(msg.CompanyID, msg.CompanyData)
	state.Events = []model.Event{msg.Event()}

	var run *model.Run
	if d.cfg.Store != nil {
		// Prior active signals feed intent scoring for this run.
		signals, err := d.cfg.Store.ListSignals(ctx, store.SignalFilter{
			CompanyID:  msg.CompanyID,
			ActiveOnly: true,
			Limit:      100,
		})
		if err != nil {
			zap.L().Warn("dispatcher: list signals failed", zap.Error(err))
		} else {
			state.Signals = signals
		}

		run, err = d.cfg.Store.CreateRun(ctx, msg.CompanyID, "enricher")
		if err != nil {
			zap.L().Warn("dispatcher: create run failed", zap.Error(err))
		}
	}

	state = agent.ExecuteAll(ctx, []agent.Stage{d.cfg.Enricher, d.cfg.Scorer}, state)

	d.feedSinks(ctx, state, msg)

	var overall float64
	if state.Scores != nil {
		overall = state.Scores.Overall
	}
	if state.Scores != nil && overall >= d.threshold {
		d.emitSignal(ctx, state, msg)
	}

	if d.cfg.Store != nil && run != nil {
		if err := d.cfg.Store.UpdateRunResult(ctx, run.ID, runResult(state)); err != nil {
			zap.L().Warn("dispatcher: update run result failed", zap.Error(err))
		}
	}

	zap.L().Info("dispatcher: event processed",
		zap.Int64("company_id", msg.CompanyID),
		zap.Float64("score", overall),
	)
	return nil
}

// handleSignal logs a detected signal; high-value signals are flagged for
// follow-on action, which is triggered externally.
func (d *Dispatcher) handleSignal(_ context.Context, payload []byte) error {
	var msg model.SignalMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return eris.Wrap(err, "dispatcher: decode signal")
	}

	log := zap.L().With(
		zap.String("signal_id", msg.SignalID),
		zap.Int64("company_id", msg.CompanyID),
		zap.String("kind", string(msg.Kind)),
		zap.Float64("score", msg.Score),
	)
	log.Info("dispatcher: processing signal")

	if msg.Score >= d.threshold {
		log.Info("dispatcher: high-value signal detected, flagging for action")
	}
	return nil
}

// handleAction routes an actions.triggered message by its action type.
// Unknown action types are logged and dropped.
func (d *Dispatcher) handleAction(ctx context.Context, payload []byte) error {
	var msg model.ActionMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return eris.Wrap(err, "dispatcher: decode action")
	}

	zap.L().Info("dispatcher: processing action", zap.String("action_type", string(msg.ActionType)))

	switch msg.ActionType {
	case model.ActionRunAgent:
		return d.runAgentPlaybook(ctx, msg)
	case model.ActionGenerateProposal:
		return d.generateProposal(ctx, msg)
	case model.ActionCRMSync:
		return d.syncCRM(ctx, msg)
	default:
		zap.L().Warn("dispatcher: unknown action type, dropping",
			zap.String("action_type", string(msg.ActionType)))
		return nil
	}
}

// runAgentPlaybook runs one named stage over state built from the action's
// input data.
func (d *Dispatcher) runAgentPlaybook(ctx context.Context, msg model.ActionMessage) error {
	stage, ok := d.stages[msg.AgentType]
	if !ok || stage == nil {
		zap.L().Warn("dispatcher: unknown agent type", zap.String("agent_type", msg.AgentType))
		return nil
	}

	state := stateFromAction(msg)
	state = agent.Execute(ctx, stage, state)

	zap.L().Info("dispatcher: agent playbook completed",
		zap.String("agent_type", msg.AgentType),
		zap.Int64("company_id", msg.CompanyID),
		zap.Int("error_count", len(state.Errors)),
	)

	if d.cfg.Store != nil {
		run, err := d.cfg.Store.CreateRun(ctx, msg.CompanyID, msg.AgentType)
		if err != nil {
			return eris.Wrap(err, "dispatcher: create run")
		}
		if err := d.cfg.Store.UpdateRunResult(ctx, run.ID, runResult(state)); err != nil {
			return eris.Wrap(err, "dispatcher: update run result")
		}
	}
	return nil
}

// generateProposal scores then proposes over the action's input, storing the
// generated document when a proposal store is configured.
func (d *Dispatcher) generateProposal(ctx context.Context, msg model.ActionMessage) error {
	state := stateFromAction(msg)
	state = agent.ExecuteAll(ctx, []agent.Stage{d.cfg.Scorer, d.cfg.Proposer}, state)

	if state.Proposal == nil {
		zap.L().Warn("dispatcher: no proposal generated",
			zap.Int64("company_id", msg.CompanyID),
			zap.Strings("errors", state.Errors),
		)
		return nil
	}

	zap.L().Info("dispatcher: proposal generated",
		zap.Int64("company_id", msg.CompanyID),
		zap.String("product_id", msg.ProductID),
		zap.Int("length", len(state.Proposal.Content)),
	)

	if d.cfg.Proposals != nil {
		location, err := d.cfg.Proposals.PutProposal(ctx, msg.CompanyID, state.ExecutionID,
			[]byte(state.Proposal.Content))
		if err != nil {
			return eris.Wrap(err, "dispatcher: store proposal")
		}
		zap.L().Info("dispatcher: proposal stored", zap.String("location", location))
	}
	return nil
}

// syncCRM pushes the action's company attributes and scores into the CRM.
func (d *Dispatcher) syncCRM(ctx context.Context, msg model.ActionMessage) error {
	zap.L().Info("dispatcher: crm sync triggered",
		zap.String("crm_type", msg.CRMType),
		zap.String("direction", msg.Direction),
	)

	if d.cfg.CRM == nil {
		zap.L().Warn("dispatcher: no crm configured, skipping sync")
		return nil
	}

	state := stateFromAction(msg)
	state = agent.Execute(ctx, d.cfg.Scorer, state)

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("crm", "sync_account")
	err := resilience.Do(ctx, retryCfg, func(ctx context.Context) error {
		return d.cfg.CRM.SyncAccount(ctx, msg.CompanyID, state.CompanyData, state.Scores, msg.Direction)
	})
	return eris.Wrap(err, "dispatcher: crm sync")
}

// feedSinks best-effort indexes the event and mirrors the company and its
// tech stack into the graph. Sink failures are logged, never fatal.
func (d *Dispatcher) feedSinks(ctx context.Context, state *model.PipelineState, msg model.CleanEventMessage) {
	docID := uuid.New().String()
	if err := d.cfg.Search.IndexDocument(ctx, sink.IndexEvents, docID, msg.Event()); err != nil {
		zap.L().Warn("dispatcher: index event failed", zap.Error(err))
	}

	if err := d.cfg.Graph.MergeCompany(ctx, state.CompanyID, state.CompanyData); err != nil {
		zap.L().Warn("dispatcher: merge company failed", zap.Error(err))
		return
	}
	for _, tech := range state.TechStack() {
		if err := d.cfg.Graph.LinkTechnology(ctx, state.CompanyID, tech); err != nil {
			zap.L().Warn("dispatcher: link technology failed", zap.String("tech", tech), zap.Error(err))
		}
	}
}

// emitSignal saves and publishes the signal derived from a high-scoring run.
func (d *Dispatcher) emitSignal(ctx context.Context, state *model.PipelineState, msg model.CleanEventMessage) {
	event := msg.Event()
	windowStart := event.Timestamp
	if windowStart.IsZero() {
		windowStart = time.Now().UTC()
	}

	sig := &model.Signal{
		ID:          uuid.New().String(),
		CompanyID:   state.CompanyID,
		Kind:        signalKind(event.EventType, state),
		Score:       state.Scores.Overall,
		Confidence:  state.Scores.Overall / 100,
		WindowStart: windowStart,
		Explanation: "lead score " + strconv.FormatFloat(state.Scores.Overall, 'f', 1, 64) +
			" from " + event.EventType + " activity",
		Active: true,
	}
	if event.URL != "" {
		sig.Evidence = []model.Evidence{{
			URL:       event.URL,
			Snippet:   event.Title,
			Timestamp: event.Timestamp,
		}}
	}

	if d.cfg.Store != nil {
		if err := d.cfg.Store.SaveSignal(ctx, sig); err != nil {
			zap.L().Warn("dispatcher: save signal failed", zap.Error(err))
		}
	}
	state.Signals = append(state.Signals, *sig)
	if err := d.cfg.Search.IndexDocument(ctx, sink.IndexSignals, sig.ID, sig); err != nil {
		zap.L().Warn("dispatcher: index signal failed", zap.Error(err))
	}

	if d.cfg.Publisher != nil {
		err := d.cfg.Publisher.Publish(ctx, model.TopicSignalsDetected,
			strconv.FormatInt(state.CompanyID, 10), model.SignalMessage{
				SignalID:  sig.ID,
				CompanyID: sig.CompanyID,
				Kind:      sig.Kind,
				Score:     sig.Score,
			})
		if err != nil {
			zap.L().Warn("dispatcher: publish signal failed", zap.Error(err))
			return
		}
	}
	d.cfg.Metrics.SignalEmitted(sig.Score >= d.threshold)
}

// signalKind maps an event type to the signal it evidences. Hiring activity
// maps directly; other events fall back on what enrichment found.
func signalKind(eventType string, state *model.PipelineState) model.SignalKind {
	switch eventType {
	case "job_posting", "careers":
		return model.SignalHiringSpike
	case "funding_announcement":
		return model.SignalFundingEvent
	case "product_launch":
		return model.SignalProductLaunch
	}
	if len(state.TechStack()) > 0 {
		return model.SignalTechAdoption
	}
	return model.SignalExpansion
}

// normalizeRawEvent flattens a raw event's data payload into the clean
// message shape, trimming text and forcing UTC timestamps.
func normalizeRawEvent(raw model.RawEventMessage) model.CleanEventMessage {
	clean := model.CleanEventMessage{
		CompanyID: raw.CompanyID,
		EventType: raw.EventType,
		Timestamp: raw.Timestamp.UTC(),
	}
	if clean.Timestamp.IsZero() || raw.Timestamp.IsZero() {
		clean.Timestamp = time.Now().UTC()
	}

	var data map[string]any
	if err := json.Unmarshal(raw.Data, &data); err != nil {
		return clean
	}

	if v, ok := data["company_data"].(map[string]any); ok {
		clean.CompanyData = v
	}
	if v, ok := data["url"].(string); ok {
		clean.URL = v
	}
	if v, ok := data["title"].(string); ok {
		clean.Title = strings.TrimSpace(v)
	}
	if v, ok := data["text"].(string); ok {
		clean.Text = strings.TrimSpace(v)
	}

	// Job posting payloads carry titles instead of page text.
	if clean.Text == "" {
		if jobs, ok := data["jobs"].([]any); ok {
			var titles []string
			for _, j := range jobs {
				if job, ok := j.(map[string]any); ok {
					if title, ok := job["title"].(string); ok {
						titles = append(titles, title)
					}
				}
			}
			clean.Text = strings.Join(titles, "\n")
		}
	}
	return clean
}

// stateFromAction builds the pipeline state for an action message.
func stateFromAction(msg model.ActionMessage) *model.PipelineState {
	var input model.ActionInput
	if msg.InputData != nil {
		input = *msg.InputData
	}
	state := model.NewPipelineState(msg.CompanyID, input.CompanyData)
	state.Events = input.Events
	state.Signals = input.Signals
	return state
}

// runResult summarizes a completed state for persistence.
func runResult(state *model.PipelineState) *model.RunResult {
	return &model.RunResult{
		Scores:      state.Scores,
		SignalCount: len(state.Signals),
		EventCount:  len(state.Events),
		Errors:      state.Errors,
		Warnings:    state.Warnings,
	}
}
