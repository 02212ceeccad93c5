// Package crawler fetches company pages under the politeness engine's policy
// and extracts the text, metadata, and links that become raw pipeline events.
package crawler

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/signal-pipeline/internal/config"
	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/politeness"
)

const maxBodyBytes = 2 * 1024 * 1024

// Fetcher performs a single polite fetch-and-extract per URL.
type Fetcher struct {
	client *http.Client
	engine *politeness.Engine
	cfg    config.CrawlerConfig
}

// NewFetcher creates a Fetcher. Redirects are followed; the overall request
// timeout comes from the crawler config (default 30s).
func NewFetcher(cfg config.CrawlerConfig, engine *politeness.Engine) *Fetcher {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if cfg.MaxTextChars <= 0 {
		cfg.MaxTextChars = 10000
	}
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = 50
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		engine: engine,
		cfg:    cfg,
	}
}

// Fetch consults the politeness engine, throttles, then issues one GET and
// extracts the page. Every failure mode is classified into a FetchError;
// nothing crosses this boundary as an unhandled fault.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*model.FetchResult, *model.FetchError) {
	parsed, err := url.Parse(rawURL)
	if err != nil || !parsed.IsAbs() {
		return nil, &model.FetchError{Kind: model.FetchOther, URL: rawURL, Message: "invalid url"}
	}

	if !f.engine.Allowed(ctx, rawURL) {
		return nil, &model.FetchError{Kind: model.FetchBlocked, URL: rawURL, Message: "blocked by robots.txt"}
	}

	if err := f.engine.Throttle(ctx, parsed.Hostname()); err != nil {
		return nil, &model.FetchError{Kind: model.FetchOther, URL: rawURL, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &model.FetchError{Kind: model.FetchOther, URL: rawURL, Message: err.Error()}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, &model.FetchError{Kind: model.FetchTimeout, URL: rawURL, Message: err.Error()}
		}
		return nil, &model.FetchError{Kind: model.FetchOther, URL: rawURL, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &model.FetchError{Kind: model.FetchHTTPError, URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if isTimeout(err) {
			return nil, &model.FetchError{Kind: model.FetchTimeout, URL: rawURL, Message: err.Error()}
		}
		return nil, &model.FetchError{Kind: model.FetchOther, URL: rawURL, Message: err.Error()}
	}

	result, err := f.extract(parsed, resp.StatusCode, body)
	if err != nil {
		return nil, &model.FetchError{Kind: model.FetchOther, URL: rawURL, Message: err.Error()}
	}
	return result, nil
}

// extract parses the page into a FetchResult: title, meta description,
// script/style-free text capped at the configured length, and same-domain
// links deduplicated and capped.
func (f *Fetcher) extract(pageURL *url.URL, status int, body []byte) (*model.FetchResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}

	doc.Find("script, style, noscript").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	description, _ := doc.Find(`meta[name="description"]`).First().Attr("content")
	description = strings.TrimSpace(description)

	text := collapseWhitespace(doc.Find("body").Text())
	if text == "" {
		text = collapseWhitespace(doc.Text())
	}
	text = truncateRunes(text, f.cfg.MaxTextChars)

	links := extractLinks(doc, pageURL, f.cfg.MaxLinks)

	return &model.FetchResult{
		URL:           pageURL.String(),
		StatusCode:    status,
		Title:         title,
		Description:   description,
		Text:          text,
		Links:         links,
		CrawledAt:     time.Now().UTC(),
		ContentLength: len(body),
	}, nil
}

// extractLinks resolves href attributes to absolute URLs, keeps same-domain
// targets only, and dedupes up to the cap to bound link-following fan-out.
func extractLinks(doc *goquery.Document, base *url.URL, limit int) []string {
	seen := make(map[string]bool)
	var links []string

	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if !ok {
			return true
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return true
		}

		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		absolute := base.ResolveReference(ref)
		if absolute.Host != base.Host {
			return true
		}
		absolute.Fragment = ""

		normalized := absolute.String()
		if seen[normalized] {
			return true
		}
		seen[normalized] = true
		links = append(links, normalized)
		return len(links) < limit
	})

	return links
}

var (
	spaceRe   = regexp.MustCompile(`[ \t]+`)
	newlineRe = regexp.MustCompile(`\n{2,}`)
)

// collapseWhitespace trims each line and drops empty runs so extracted text
// reads line-per-block like a rendered page.
func collapseWhitespace(s string) string {
	s = spaceRe.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = newlineRe.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

func truncateRunes(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
