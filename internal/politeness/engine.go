// Package politeness enforces per-domain crawl policy: robots.txt rules and
// minimum inter-request spacing. It owns the only state shared across
// concurrent fetch tasks.
package politeness

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/signal-pipeline/internal/config"
)

// Engine evaluates robots.txt rules and throttles per-domain request rates.
// Safe for use by concurrent fetch tasks; different domains proceed
// independently while requests to one domain are spaced out.
type Engine struct {
	client    *http.Client
	userAgent string
	respect   bool
	ttl       time.Duration
	interval  time.Duration

	mu       sync.Mutex
	robots   map[string]robotsEntry
	limiters map[string]*rate.Limiter
}

type robotsEntry struct {
	fetched time.Time
	rules   *robotstxt.RobotsData // nil means no restrictions
}

// New constructs an Engine. A nil client gets a default with the configured
// robots fetch timeout.
func New(robotsCfg config.RobotsConfig, userAgent string, interval time.Duration, client *http.Client) *Engine {
	if client == nil {
		timeout := time.Duration(robotsCfg.TimeoutSecs) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if interval < 0 {
		interval = 0
	}
	return &Engine{
		client:    client,
		userAgent: userAgent,
		respect:   robotsCfg.Respect,
		ttl:       robotsCfg.CacheTTL(),
		interval:  interval,
		robots:    make(map[string]robotsEntry),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Allowed reports whether the target URL may be fetched under the cached
// robots policy for its origin. The policy is fetched lazily on the first
// reference to a domain; fetch failures and non-200 responses are treated as
// "no restrictions". A blocked URL is reported here, not by the caller.
func (e *Engine) Allowed(ctx context.Context, rawURL string) bool {
	target, err := url.Parse(rawURL)
	if err != nil || !target.IsAbs() {
		return false
	}

	if !e.respect {
		return true
	}

	rules := e.rules(ctx, target)
	if rules == nil {
		return true
	}

	group := rules.FindGroup(e.userAgent)
	if group == nil {
		return true
	}
	allowed := group.Test(target.Path)
	if !allowed {
		zap.L().Info("politeness: url blocked by robots.txt", zap.String("url", rawURL))
	}
	return allowed
}

// Throttle suspends the caller until the minimum inter-request interval for
// the domain has elapsed since that domain's last dispatch. Domains are
// independent; there is no global throttle.
func (e *Engine) Throttle(ctx context.Context, domain string) error {
	if e.interval <= 0 || domain == "" {
		return nil
	}
	return e.limiter(domain).Wait(ctx)
}

// Reset drops all cached robots policies and throttle state. Primarily for
// tests; in production the caches live as long as the process.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.robots = make(map[string]robotsEntry)
	e.limiters = make(map[string]*rate.Limiter)
	e.mu.Unlock()
}

func (e *Engine) limiter(domain string) *rate.Limiter {
	domain = strings.ToLower(domain)
	e.mu.Lock()
	defer e.mu.Unlock()
	lim, ok := e.limiters[domain]
	if !ok {
		lim = rate.NewLimiter(rate.Every(e.interval), 1)
		e.limiters[domain] = lim
	}
	return lim
}

// rules returns the cached robots ruleset for the target's origin, fetching
// it on first reference. A nil return means no restrictions apply.
func (e *Engine) rules(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	origin := strings.ToLower(target.Scheme + "://" + target.Host)

	e.mu.Lock()
	entry, ok := e.robots[origin]
	e.mu.Unlock()
	if ok && (e.ttl <= 0 || time.Since(entry.fetched) < e.ttl) {
		return entry.rules
	}

	rules := e.fetchRobots(ctx, origin)

	e.mu.Lock()
	e.robots[origin] = robotsEntry{fetched: time.Now(), rules: rules}
	e.mu.Unlock()

	return rules
}

// fetchRobots retrieves and parses /robots.txt for an origin. Any failure is
// fail-open: the origin is treated as unrestricted, never as a pipeline error.
func (e *Engine) fetchRobots(ctx context.Context, origin string) *robotstxt.RobotsData {
	robotsURL := origin + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		zap.L().Debug("politeness: could not fetch robots.txt",
			zap.String("url", robotsURL),
			zap.Error(err),
		)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil
	}

	rules, err := robotstxt.FromBytes(body)
	if err != nil {
		zap.L().Debug("politeness: could not parse robots.txt",
			zap.String("url", robotsURL),
			zap.Error(err),
		)
		return nil
	}
	return rules
}
