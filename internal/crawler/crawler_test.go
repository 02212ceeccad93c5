package crawler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-pipeline/internal/config"
	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/politeness"
)

type capturedMessage struct {
	topic model.Topic
	key   string
	value any
}

type capturePublisher struct {
	messages []capturedMessage
}

func (p *capturePublisher) Publish(_ context.Context, topic model.Topic, key string, value any) error {
	p.messages = append(p.messages, capturedMessage{topic: topic, key: key, value: value})
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func newTestCrawler(cfg config.CrawlerConfig, pub *capturePublisher) *Crawler {
	engine := politeness.New(config.RobotsConfig{Respect: false}, cfg.UserAgent, 0, nil)
	return New(cfg, NewFetcher(cfg, engine), pub)
}

func TestCrawlCompanyPublishesWebCrawlEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("<html><head><title>Page</title></head><body>content</body></html>"))
	}))
	defer srv.Close()

	pub := &capturePublisher{}
	c := newTestCrawler(config.CrawlerConfig{UserAgent: "TestBot/1.0"}, pub)

	err := c.CrawlCompany(context.Background(), 42, "example.com", []string{
		srv.URL + "/",
		srv.URL + "/broken",
		srv.URL + "/about",
	})
	require.NoError(t, err)

	// The broken URL is skipped, not fatal.
	require.Len(t, pub.messages, 2)
	for _, msg := range pub.messages {
		assert.Equal(t, model.TopicRawEvents, msg.topic)
		assert.Equal(t, "42", msg.key)

		raw, ok := msg.value.(model.RawEventMessage)
		require.True(t, ok)
		assert.Equal(t, "web_crawl", raw.EventType)
		assert.Equal(t, int64(42), raw.CompanyID)
		assert.False(t, raw.Timestamp.IsZero())

		var result model.FetchResult
		require.NoError(t, json.Unmarshal(raw.Data, &result))
		assert.Equal(t, "Page", result.Title)
	}
}

func TestCrawlCompanyContextCancelled(t *testing.T) {
	pub := &capturePublisher{}
	c := newTestCrawler(config.CrawlerConfig{UserAgent: "TestBot/1.0"}, pub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.CrawlCompany(ctx, 1, "example.com", []string{"https://example.com/"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, pub.messages)
}

func TestCrawlCareersPagePublishesJobPostings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body>
			<h1>Careers</h1>
			<p>Senior Software Engineer</p>
			<p>Product Manager</p>
			<p>Nothing relevant here</p>
		</body></html>`))
	}))
	defer srv.Close()

	pub := &capturePublisher{}
	c := newTestCrawler(config.CrawlerConfig{UserAgent: "TestBot/1.0"}, pub)

	err := c.CrawlCareersPage(context.Background(), 7, srv.URL+"/careers")
	require.NoError(t, err)

	require.Len(t, pub.messages, 1)
	raw, ok := pub.messages[0].value.(model.RawEventMessage)
	require.True(t, ok)
	assert.Equal(t, "job_postings", raw.EventType)
	assert.Equal(t, int64(7), raw.CompanyID)

	var payload struct {
		URL      string             `json:"url"`
		Jobs     []model.JobPosting `json:"jobs"`
		JobCount int                `json:"job_count"`
	}
	require.NoError(t, json.Unmarshal(raw.Data, &payload))
	assert.Equal(t, srv.URL+"/careers", payload.URL)
	assert.Equal(t, 2, payload.JobCount)
	require.Len(t, payload.Jobs, 2)
	assert.Equal(t, "Senior Software Engineer", payload.Jobs[0].Title)
}

func TestCrawlCareersPageFetchFailureNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	pub := &capturePublisher{}
	c := newTestCrawler(config.CrawlerConfig{UserAgent: "TestBot/1.0"}, pub)

	err := c.CrawlCareersPage(context.Background(), 7, srv.URL+"/careers")
	require.NoError(t, err)
	assert.Empty(t, pub.messages)
}
