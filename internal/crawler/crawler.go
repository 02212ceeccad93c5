package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-pipeline/internal/config"
	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/resilience"
	"github.com/sells-group/signal-pipeline/internal/stream"
)

// Crawler harvests company pages and publishes raw events to the pipeline.
type Crawler struct {
	fetcher *Fetcher
	pub     stream.Publisher
	maxJobs int
}

// New creates a Crawler over the given fetcher and publisher.
func New(cfg config.CrawlerConfig, fetcher *Fetcher, pub stream.Publisher) *Crawler {
	maxJobs := cfg.MaxJobs
	if maxJobs <= 0 {
		maxJobs = 50
	}
	return &Crawler{fetcher: fetcher, pub: pub, maxJobs: maxJobs}
}

// CrawlCompany fetches each URL sequentially and publishes a web_crawl event
// per successful page. Blocked URLs and fetch failures are logged and
// skipped; they never abort the crawl.
func (c *Crawler) CrawlCompany(ctx context.Context, companyID int64, domain string, urls []string) error {
	log := zap.L().With(zap.Int64("company_id", companyID), zap.String("domain", domain))
	log.Info("crawler: starting company crawl", zap.Int("url_count", len(urls)))

	var published int
	for _, pageURL := range urls {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		result, fetchErr := c.fetchWithRetry(ctx, pageURL)
		if fetchErr != nil {
			logFetchError(log, fetchErr)
			continue
		}

		if err := c.publishEvent(ctx, "web_crawl", companyID, result); err != nil {
			log.Warn("crawler: publish failed", zap.String("url", pageURL), zap.Error(err))
			continue
		}
		published++
	}

	log.Info("crawler: company crawl completed", zap.Int("events_published", published))
	return nil
}

// CrawlCareersPage fetches a careers/jobs page and publishes a job_postings
// event with the detected titles.
func (c *Crawler) CrawlCareersPage(ctx context.Context, companyID int64, careersURL string) error {
	log := zap.L().With(zap.Int64("company_id", companyID), zap.String("url", careersURL))
	log.Info("crawler: crawling careers page")

	result, fetchErr := c.fetchWithRetry(ctx, careersURL)
	if fetchErr != nil {
		logFetchError(log, fetchErr)
		return nil
	}

	jobs := ExtractJobPostings(result.Text, c.maxJobs, time.Now().UTC())
	payload := map[string]any{
		"url":       careersURL,
		"jobs":      jobs,
		"job_count": len(jobs),
	}

	if err := c.publishEvent(ctx, "job_postings", companyID, payload); err != nil {
		return eris.Wrap(err, "crawler: publish job postings")
	}

	log.Info("crawler: job postings extracted", zap.Int("count", len(jobs)))
	return nil
}

// fetchWithRetry retries timeouts and retryable HTTP statuses once with a
// short backoff. Robots blocks and hard failures return immediately.
func (c *Crawler) fetchWithRetry(ctx context.Context, pageURL string) (*model.FetchResult, *model.FetchError) {
	cfg := resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: 2 * time.Second,
		OnRetry:        resilience.RetryLogger("crawler", "fetch"),
	}
	result, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*model.FetchResult, error) {
		r, fetchErr := c.fetcher.Fetch(ctx, pageURL)
		if fetchErr != nil {
			return nil, fetchErr
		}
		return r, nil
	})
	if err != nil {
		var fe *model.FetchError
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, &model.FetchError{Kind: model.FetchOther, URL: pageURL, Message: err.Error()}
	}
	return result, nil
}

func (c *Crawler) publishEvent(ctx context.Context, eventType string, companyID int64, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return eris.Wrap(err, "crawler: marshal event data")
	}
	msg := model.RawEventMessage{
		EventType: eventType,
		CompanyID: companyID,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}
	return c.pub.Publish(ctx, model.TopicRawEvents, strconv.FormatInt(companyID, 10), msg)
}

// logFetchError records a fetch outcome at the right level: a robots block is
// a normal negative result, everything else is a transient failure.
func logFetchError(log *zap.Logger, fetchErr *model.FetchError) {
	switch fetchErr.Kind {
	case model.FetchBlocked:
		log.Info("crawler: url blocked by policy", zap.String("url", fetchErr.URL))
	case model.FetchHTTPError:
		log.Warn("crawler: http error",
			zap.String("url", fetchErr.URL),
			zap.Int("status", fetchErr.StatusCode),
		)
	case model.FetchTimeout:
		log.Warn("crawler: request timeout", zap.String("url", fetchErr.URL))
	default:
		log.Warn("crawler: fetch error",
			zap.String("url", fetchErr.URL),
			zap.String("message", fetchErr.Message),
		)
	}
}
