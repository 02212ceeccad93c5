package main

import (
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/signal-pipeline/internal/agent"
	"github.com/sells-group/signal-pipeline/internal/crawler"
	"github.com/sells-group/signal-pipeline/internal/politeness"
)

var (
	crawlCompanyID  int64
	crawlDomain     string
	crawlURLs       []string
	crawlCareersURL string
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl one company and publish raw events",
	Long:  "Discovers and fetches a company's pages within robots.txt and per-domain rate limits, publishing each page as a raw event for the worker to process.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if crawlDomain == "" {
			return eris.New("--domain is required")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pub, _ := initBroker(false)
		defer pub.Close()

		engine := politeness.New(cfg.Robots, cfg.Crawler.UserAgent, cfg.Crawler.Delay(), nil)
		fetcher := crawler.NewFetcher(cfg.Crawler, engine)
		c := crawler.New(cfg.Crawler, fetcher, pub)

		urls := crawlURLs
		if len(urls) == 0 {
			discoverer := agent.NewDiscoverer(&http.Client{Timeout: 10 * time.Second}, cfg.Crawler.UserAgent)
			urls = discoverer.DiscoverURLs(ctx, crawlDomain)
			zap.L().Info("discovered urls",
				zap.String("domain", crawlDomain),
				zap.Int("count", len(urls)),
			)
		}
		if len(urls) == 0 {
			return eris.Errorf("no crawlable urls found for %s", crawlDomain)
		}

		if err := c.CrawlCompany(ctx, crawlCompanyID, crawlDomain, urls); err != nil {
			return err
		}
		if crawlCareersURL != "" {
			if err := c.CrawlCareersPage(ctx, crawlCompanyID, crawlCareersURL); err != nil {
				return err
			}
		}

		zap.L().Info("crawl complete",
			zap.Int64("company_id", crawlCompanyID),
			zap.Int("url_count", len(urls)),
		)
		return nil
	},
}

func init() {
	crawlCmd.Flags().Int64Var(&crawlCompanyID, "company-id", 0, "company identifier attached to published events")
	crawlCmd.Flags().StringVar(&crawlDomain, "domain", "", "company domain to crawl")
	crawlCmd.Flags().StringSliceVar(&crawlURLs, "urls", nil, "explicit urls to fetch (skips discovery)")
	crawlCmd.Flags().StringVar(&crawlCareersURL, "careers-url", "", "careers page to scan for job postings")
	rootCmd.AddCommand(crawlCmd)
}
