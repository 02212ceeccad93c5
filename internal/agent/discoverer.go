package agent

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-pipeline/internal/model"
)

// urlPatterns are the standard site paths probed for each company domain.
var urlPatterns = []string{
	"/careers", "/jobs", "/about", "/blog", "/news",
	"/press", "/team", "/company", "/about-us",
}

// Discoverer probes a company domain for crawlable URLs: the standard page
// paths plus the sitemap.
type Discoverer struct {
	client    *http.Client
	userAgent string
}

// NewDiscoverer creates a Discoverer. A nil client gets a 10s-timeout default.
func NewDiscoverer(client *http.Client, userAgent string) *Discoverer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Discoverer{client: client, userAgent: userAgent}
}

func (d *Discoverer) Name() string { return "discoverer" }

// Run probes the state's company domain and records the discovered URLs in
// the state metadata.
func (d *Discoverer) Run(ctx context.Context, state *model.PipelineState) error {
	domain := state.Domain()
	if domain == "" {
		return eris.New("no domain to discover")
	}

	urls := d.DiscoverURLs(ctx, domain)
	state.Metadata["discovered_urls"] = urls

	zap.L().Info("discoverer: discovered urls",
		zap.Int64("company_id", state.CompanyID),
		zap.String("domain", domain),
		zap.Int("count", len(urls)),
	)
	return nil
}

// DiscoverURLs HEAD-probes the standard paths and GETs the sitemap, returning
// every URL that answered 200.
func (d *Discoverer) DiscoverURLs(ctx context.Context, domain string) []string {
	base := domain
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	base = strings.TrimRight(base, "/")

	var urls []string
	for _, pattern := range urlPatterns {
		target := base + pattern
		if d.probe(ctx, http.MethodHead, target) {
			urls = append(urls, target)
			zap.L().Debug("discoverer: found url", zap.String("url", target))
		}
	}

	sitemap := base + "/sitemap.xml"
	if d.probe(ctx, http.MethodGet, sitemap) {
		urls = append(urls, sitemap)
		zap.L().Info("discoverer: found sitemap", zap.String("url", sitemap))
	}

	return urls
}

func (d *Discoverer) probe(ctx context.Context, method, target string) bool {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return false
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}
