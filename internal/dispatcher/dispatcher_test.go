package dispatcher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-pipeline/internal/agent"
	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/resilience"
	"github.com/sells-group/signal-pipeline/internal/store"
	"github.com/sells-group/signal-pipeline/internal/stream"
)

type capturePublisher struct {
	topics []model.Topic
	keys   []string
	values [][]byte
}

func (p *capturePublisher) Publish(_ context.Context, topic model.Topic, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, key)
	p.values = append(p.values, payload)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

type stubStage struct {
	name string
	run  func(ctx context.Context, state *model.PipelineState) error
}

func (s stubStage) Name() string { return s.name }

func (s stubStage) Run(ctx context.Context, state *model.PipelineState) error {
	if s.run == nil {
		return nil
	}
	return s.run(ctx, state)
}

type captureCRM struct {
	companyID int64
	scores    *model.ScoreSet
	direction string
	calls     int
}

func (c *captureCRM) SyncAccount(_ context.Context, companyID int64, _ map[string]any, scores *model.ScoreSet, direction string) error {
	c.calls++
	c.companyID = companyID
	c.scores = scores
	c.direction = direction
	return nil
}

type captureProposals struct {
	companyID int64
	content   []byte
}

func (p *captureProposals) PutProposal(_ context.Context, companyID int64, executionID string, content []byte) (string, error) {
	p.companyID = companyID
	p.content = content
	return "proposals/" + executionID + ".md", nil
}

func testStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.New(context.Background(), "sqlite", "file:"+t.TempDir()+"/test.db")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// hotCompany scores well above the default threshold.
func hotCompany() map[string]any {
	return map[string]any{
		"name":           "Acme Robotics",
		"domain":         "acme.example",
		"industry":       "enterprise software",
		"employee_count": 800,
		"total_funding":  25_000_000.0,
		"revenue":        "40M",
		"description":    "We run kubernetes and python microservices on aws with react frontends and an api platform on gcp and azure",
	}
}

func cleanEventPayload(t *testing.T, msg model.CleanEventMessage) []byte {
	t.Helper()
	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	return payload
}

func newTestDispatcher(t *testing.T, cfg Config) *Dispatcher {
	t.Helper()
	if cfg.Enricher == nil {
		cfg.Enricher = agent.NewEnricher(nil, "")
	}
	if cfg.Scorer == nil {
		cfg.Scorer = agent.NewScorer()
	}
	return New(cfg)
}

func TestHandleRawEventPublishesClean(t *testing.T) {
	pub := &capturePublisher{}
	d := newTestDispatcher(t, Config{Publisher: pub})

	data, err := json.Marshal(map[string]any{
		"url":   "https://acme.example/careers",
		"title": "  Careers at Acme  ",
		"text":  "We are hiring engineers",
	})
	require.NoError(t, err)

	raw, err := json.Marshal(model.RawEventMessage{
		EventType: "web_crawl",
		CompanyID: 42,
		Data:      data,
		Timestamp: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.NoError(t, d.handle(context.Background(), stream.Message{
		Topic: model.TopicRawEvents,
		Value: raw,
	}))

	require.Len(t, pub.topics, 1)
	assert.Equal(t, model.TopicCleanEvents, pub.topics[0])
	assert.Equal(t, "42", pub.keys[0])

	var clean model.CleanEventMessage
	require.NoError(t, json.Unmarshal(pub.values[0], &clean))
	assert.Equal(t, int64(42), clean.CompanyID)
	assert.Equal(t, "web_crawl", clean.EventType)
	assert.Equal(t, "https://acme.example/careers", clean.URL)
	assert.Equal(t, "Careers at Acme", clean.Title)
	assert.Equal(t, "We are hiring engineers", clean.Text)
	assert.Equal(t, 2026, clean.Timestamp.Year())
}

func TestHandleRawEventJobPostings(t *testing.T) {
	pub := &capturePublisher{}
	d := newTestDispatcher(t, Config{Publisher: pub})

	data, err := json.Marshal(map[string]any{
		"url": "https://acme.example/jobs",
		"jobs": []map[string]any{
			{"title": "Senior Platform Engineer"},
			{"title": "Data Scientist"},
		},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(model.RawEventMessage{
		EventType: "job_postings",
		CompanyID: 42,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	require.NoError(t, d.handleRawEvent(context.Background(), raw))

	var clean model.CleanEventMessage
	require.NoError(t, json.Unmarshal(pub.values[0], &clean))
	assert.Equal(t, "Senior Platform Engineer\nData Scientist", clean.Text)
}

func TestHandleRawEventNoCompanyDropped(t *testing.T) {
	pub := &capturePublisher{}
	d := newTestDispatcher(t, Config{Publisher: pub})

	raw, err := json.Marshal(model.RawEventMessage{EventType: "web_crawl"})
	require.NoError(t, err)

	require.NoError(t, d.handleRawEvent(context.Background(), raw))
	assert.Empty(t, pub.topics)
}

func TestHandleCleanEventEmitsSignal(t *testing.T) {
	pub := &capturePublisher{}
	st := testStore(t)
	d := newTestDispatcher(t, Config{Publisher: pub, Store: st})

	// Prior active signals lift intent scoring over the threshold.
	recent := time.Now().UTC().Add(-48 * time.Hour)
	for _, kind := range []model.SignalKind{
		model.SignalTechAdoption, model.SignalTechAdoption,
		model.SignalFundingEvent,
		model.SignalExpansion, model.SignalExpansion,
		model.SignalPainPoint, model.SignalPainPoint,
	} {
		require.NoError(t, st.SaveSignal(context.Background(), &model.Signal{
			CompanyID:   42,
			Kind:        kind,
			Score:       60,
			WindowStart: recent,
			Active:      true,
		}))
	}

	payload := cleanEventPayload(t, model.CleanEventMessage{
		CompanyID:   42,
		CompanyData: hotCompany(),
		EventType:   "job_posting",
		URL:         "https://acme.example/careers",
		Title:       "Hiring platform engineers",
		Text:        "We are looking for a better solution to scale our kubernetes platform",
		Timestamp:   time.Now().UTC().Add(-24 * time.Hour),
	})

	require.NoError(t, d.handle(context.Background(), stream.Message{
		Topic: model.TopicCleanEvents,
		Value: payload,
	}))

	require.Len(t, pub.topics, 1)
	assert.Equal(t, model.TopicSignalsDetected, pub.topics[0])

	var sig model.SignalMessage
	require.NoError(t, json.Unmarshal(pub.values[0], &sig))
	assert.Equal(t, int64(42), sig.CompanyID)
	assert.Equal(t, model.SignalHiringSpike, sig.Kind)
	assert.GreaterOrEqual(t, sig.Score, float64(DefaultHighValueThreshold))

	stored, err := st.GetSignal(context.Background(), sig.SignalID)
	require.NoError(t, err)
	assert.Equal(t, sig.Kind, stored.Kind)
	assert.True(t, stored.Active)
	assert.False(t, stored.Actioned)
	require.Len(t, stored.Evidence, 1)
	assert.Equal(t, "https://acme.example/careers", stored.Evidence[0].URL)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{CompanyID: 42})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusComplete, runs[0].Status)
	require.NotNil(t, runs[0].Result)
	require.NotNil(t, runs[0].Result.Scores)
	assert.Equal(t, sig.Score, runs[0].Result.Scores.Overall)
}

func TestHandleCleanEventBelowThresholdNoSignal(t *testing.T) {
	pub := &capturePublisher{}
	d := newTestDispatcher(t, Config{Publisher: pub})

	payload := cleanEventPayload(t, model.CleanEventMessage{
		CompanyID:   7,
		CompanyData: map[string]any{"name": "Tiny Shop", "industry": "retail", "employee_count": 3},
		EventType:   "web_crawl",
		Text:        "About our store",
		Timestamp:   time.Now().UTC().Add(-200 * 24 * time.Hour),
	})

	require.NoError(t, d.handleCleanEvent(context.Background(), payload))
	assert.Empty(t, pub.topics)
}

func TestHandleSignalHighValue(t *testing.T) {
	d := newTestDispatcher(t, Config{})

	payload, err := json.Marshal(model.SignalMessage{
		SignalID:  "sig-1",
		CompanyID: 42,
		Kind:      model.SignalHiringSpike,
		Score:     91.5,
	})
	require.NoError(t, err)

	require.NoError(t, d.handle(context.Background(), stream.Message{
		Topic: model.TopicSignalsDetected,
		Value: payload,
	}))
}

func TestHandleActionUnknownTypeDropped(t *testing.T) {
	d := newTestDispatcher(t, Config{})

	payload, err := json.Marshal(model.ActionMessage{ActionType: "launch_rocket"})
	require.NoError(t, err)

	require.NoError(t, d.handle(context.Background(), stream.Message{
		Topic: model.TopicActionsTriggered,
		Value: payload,
	}))
}

func TestHandleActionRunAgent(t *testing.T) {
	st := testStore(t)
	var ran bool
	d := newTestDispatcher(t, Config{
		Store: st,
		Discoverer: stubStage{name: "discoverer", run: func(_ context.Context, state *model.PipelineState) error {
			ran = true
			state.Metadata["discovered_urls"] = []string{"https://acme.example/careers"}
			return nil
		}},
	})

	payload, err := json.Marshal(model.ActionMessage{
		ActionType: model.ActionRunAgent,
		AgentType:  "discoverer",
		CompanyID:  42,
		InputData:  &model.ActionInput{CompanyData: map[string]any{"domain": "acme.example"}},
	})
	require.NoError(t, err)

	require.NoError(t, d.handleAction(context.Background(), payload))
	assert.True(t, ran)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{CompanyID: 42})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "discoverer", runs[0].AgentType)
}

func TestHandleActionUnknownAgentType(t *testing.T) {
	d := newTestDispatcher(t, Config{})

	payload, err := json.Marshal(model.ActionMessage{
		ActionType: model.ActionRunAgent,
		AgentType:  "astrologer",
		CompanyID:  42,
	})
	require.NoError(t, err)

	require.NoError(t, d.handleAction(context.Background(), payload))
}

func TestHandleActionGenerateProposal(t *testing.T) {
	proposals := &captureProposals{}
	d := newTestDispatcher(t, Config{
		Proposals: proposals,
		Proposer: stubStage{name: "proposer", run: func(_ context.Context, state *model.PipelineState) error {
			state.Proposal = &model.Proposal{
				Title:   "Proposal for Acme Robotics",
				Content: "# Executive Summary\n...",
			}
			return nil
		}},
	})

	payload, err := json.Marshal(model.ActionMessage{
		ActionType: model.ActionGenerateProposal,
		CompanyID:  42,
		ProductID:  "platform-suite",
		InputData:  &model.ActionInput{CompanyData: hotCompany()},
	})
	require.NoError(t, err)

	require.NoError(t, d.handleAction(context.Background(), payload))
	assert.Equal(t, int64(42), proposals.companyID)
	assert.Contains(t, string(proposals.content), "Executive Summary")
}

func TestHandleActionGenerateProposalNoOutput(t *testing.T) {
	proposals := &captureProposals{}
	d := newTestDispatcher(t, Config{
		Proposals: proposals,
		Proposer: stubStage{name: "proposer", run: func(_ context.Context, _ *model.PipelineState) error {
			return assert.AnError
		}},
	})

	payload, err := json.Marshal(model.ActionMessage{
		ActionType: model.ActionGenerateProposal,
		CompanyID:  42,
		InputData:  &model.ActionInput{CompanyData: hotCompany()},
	})
	require.NoError(t, err)

	require.NoError(t, d.handleAction(context.Background(), payload))
	assert.Nil(t, proposals.content)
}

func TestHandleActionCRMSync(t *testing.T) {
	crm := &captureCRM{}
	d := newTestDispatcher(t, Config{CRM: crm})

	payload, err := json.Marshal(model.ActionMessage{
		ActionType: model.ActionCRMSync,
		CompanyID:  42,
		CRMType:    "salesforce",
		Direction:  "push",
		InputData:  &model.ActionInput{CompanyData: hotCompany()},
	})
	require.NoError(t, err)

	require.NoError(t, d.handleAction(context.Background(), payload))
	assert.Equal(t, 1, crm.calls)
	assert.Equal(t, int64(42), crm.companyID)
	assert.Equal(t, "push", crm.direction)
	require.NotNil(t, crm.scores)
	assert.Greater(t, crm.scores.Fit, 0.0)
}

func TestHandleActionCRMSyncUnconfigured(t *testing.T) {
	d := newTestDispatcher(t, Config{})

	payload, err := json.Marshal(model.ActionMessage{
		ActionType: model.ActionCRMSync,
		CompanyID:  42,
	})
	require.NoError(t, err)

	require.NoError(t, d.handleAction(context.Background(), payload))
}

func TestHandleMalformedPayloadCounted(t *testing.T) {
	d := newTestDispatcher(t, Config{})

	err := d.handle(context.Background(), stream.Message{
		Topic: model.TopicCleanEvents,
		Value: []byte("{not json"),
	})
	require.Error(t, err)

	snap, err := d.Metrics().Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.MessagesFailed[string(model.TopicCleanEvents)])
}

func TestFailedMessageParkedInDLQ(t *testing.T) {
	st := testStore(t)
	d := newTestDispatcher(t, Config{Store: st})

	err := d.handle(context.Background(), stream.Message{
		Topic: model.TopicCleanEvents,
		Key:   "42",
		Value: []byte("{not json"),
	})
	require.Error(t, err)

	entries, err := st.DequeueDLQ(context.Background(), resilience.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.TopicCleanEvents, entries[0].Topic)
	assert.Equal(t, "42", entries[0].Key)
	assert.Equal(t, "permanent", entries[0].ErrorType)
}

func TestReplayDLQ(t *testing.T) {
	st := testStore(t)
	pub := &capturePublisher{}
	d := newTestDispatcher(t, Config{Store: st, Publisher: pub})

	// One replayable raw event and one that keeps failing.
	data, err := json.Marshal(map[string]any{"url": "https://acme.example", "text": "hello"})
	require.NoError(t, err)
	good, err := json.Marshal(model.RawEventMessage{
		EventType: "web_crawl",
		CompanyID: 42,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, st.EnqueueDLQ(context.Background(),
		resilience.NewDLQEntry(model.TopicRawEvents, "42", good, assert.AnError)))
	require.NoError(t, st.EnqueueDLQ(context.Background(),
		resilience.NewDLQEntry(model.TopicCleanEvents, "7", []byte("{not json"), assert.AnError)))

	require.NoError(t, d.ReplayDLQ(context.Background(), 10))

	// The good entry republished and cleared; the bad one backed off.
	require.Len(t, pub.topics, 1)
	assert.Equal(t, model.TopicCleanEvents, pub.topics[0])

	entries, err := st.DequeueDLQ(context.Background(), resilience.DLQFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// TestRunLoop drives the full flow through the in-memory broker: a raw event
// is normalized onto clean.events, scored, and the detected signal is
// consumed in turn.
func TestRunLoop(t *testing.T) {
	broker := stream.NewMemory(16)
	d := newTestDispatcher(t, Config{Consumer: broker, Publisher: broker})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()

	data, err := json.Marshal(map[string]any{
		"url":   "https://acme.example/careers",
		"title": "Hiring engineers",
		"text":  "We are hiring platform engineers for our kubernetes team",
	})
	require.NoError(t, err)

	require.NoError(t, broker.Publish(ctx, model.TopicRawEvents, "42", model.RawEventMessage{
		EventType: "job_posting",
		CompanyID: 42,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}))

	require.Eventually(t, func() bool {
		snap, err := d.Metrics().Collect(ctx, 24)
		if err != nil {
			return false
		}
		return snap.MessagesProcessed[string(model.TopicRawEvents)] == 1 &&
			snap.MessagesProcessed[string(model.TopicCleanEvents)] == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
