package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-pipeline/internal/config"
	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/politeness"
)

func newTestFetcher(cfg config.CrawlerConfig) *Fetcher {
	engine := politeness.New(config.RobotsConfig{Respect: false}, cfg.UserAgent, 0, nil)
	return NewFetcher(cfg, engine)
}

func TestFetchExtractsPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TestBot/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`<html><head>
			<title>Acme Corp</title>
			<meta name="description" content="We build things.">
			<script>var tracking = true;</script>
		</head><body>
			<style>.hidden{display:none}</style>
			<h1>Welcome to Acme</h1>
			<p>We   build    great   things.</p>
		</body></html>`))
	}))
	defer srv.Close()

	f := newTestFetcher(config.CrawlerConfig{UserAgent: "TestBot/1.0"})
	result, fetchErr := f.Fetch(context.Background(), srv.URL)
	require.Nil(t, fetchErr)

	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "Acme Corp", result.Title)
	assert.Equal(t, "We build things.", result.Description)
	assert.Contains(t, result.Text, "Welcome to Acme")
	assert.Contains(t, result.Text, "We build great things.")
	assert.NotContains(t, result.Text, "tracking")
	assert.NotContains(t, result.Text, "display:none")
	assert.False(t, result.CrawledAt.IsZero())
	assert.Positive(t, result.ContentLength)
}

func TestFetchBlockedSkipsRequest(t *testing.T) {
	var pageHits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
			return
		}
		pageHits.Add(1)
		_, _ = w.Write([]byte("<html><body>secret</body></html>"))
	}))
	defer srv.Close()

	engine := politeness.New(config.RobotsConfig{Respect: true}, "TestBot/1.0", 0, srv.Client())
	f := NewFetcher(config.CrawlerConfig{UserAgent: "TestBot/1.0"}, engine)

	_, fetchErr := f.Fetch(context.Background(), srv.URL+"/private/plans")
	require.NotNil(t, fetchErr)
	assert.Equal(t, model.FetchBlocked, fetchErr.Kind)
	assert.Equal(t, int64(0), pageHits.Load())
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := newTestFetcher(config.CrawlerConfig{UserAgent: "TestBot/1.0"})
	_, fetchErr := f.Fetch(context.Background(), srv.URL+"/gone")
	require.NotNil(t, fetchErr)
	assert.Equal(t, model.FetchHTTPError, fetchErr.Kind)
	assert.Equal(t, http.StatusForbidden, fetchErr.StatusCode)
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	f := newTestFetcher(config.CrawlerConfig{UserAgent: "TestBot/1.0"})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, fetchErr := f.Fetch(ctx, srv.URL)
	require.NotNil(t, fetchErr)
	assert.Equal(t, model.FetchTimeout, fetchErr.Kind)
}

func TestFetchInvalidURL(t *testing.T) {
	f := newTestFetcher(config.CrawlerConfig{UserAgent: "TestBot/1.0"})
	_, fetchErr := f.Fetch(context.Background(), "/relative/path")
	require.NotNil(t, fetchErr)
	assert.Equal(t, model.FetchOther, fetchErr.Kind)
}

func TestFetchTruncatesText(t *testing.T) {
	long := strings.Repeat("lorem ipsum dolor sit amet ", 200)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body><p>" + long + "</p></body></html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(config.CrawlerConfig{UserAgent: "TestBot/1.0", MaxTextChars: 100})
	result, fetchErr := f.Fetch(context.Background(), srv.URL)
	require.Nil(t, fetchErr)
	assert.Len(t, []rune(result.Text), 100)
}

func TestFetchExtractsSameDomainLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body>
			<a href="/about">About</a>
			<a href="/about">About again</a>
			<a href="/about#team">Team anchor</a>
			<a href="/careers">Careers</a>
			<a href="https://other.example.com/page">External</a>
			<a href="mailto:hi@example.com">Mail</a>
			<a href="javascript:void(0)">JS</a>
			<a href="#top">Top</a>
		</body></html>`))
	}))
	defer srv.Close()

	f := newTestFetcher(config.CrawlerConfig{UserAgent: "TestBot/1.0"})
	result, fetchErr := f.Fetch(context.Background(), srv.URL)
	require.Nil(t, fetchErr)

	assert.Equal(t, []string{srv.URL + "/about", srv.URL + "/careers"}, result.Links)
}

func TestFetchCapsLinks(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	for i := range 20 {
		sb.WriteString(`<a href="/page-`)
		sb.WriteString(strings.Repeat("x", i+1))
		sb.WriteString(`">link</a>`)
	}
	sb.WriteString("</body></html>")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(sb.String()))
	}))
	defer srv.Close()

	f := newTestFetcher(config.CrawlerConfig{UserAgent: "TestBot/1.0", MaxLinks: 5})
	result, fetchErr := f.Fetch(context.Background(), srv.URL)
	require.Nil(t, fetchErr)
	assert.Len(t, result.Links, 5)
}
