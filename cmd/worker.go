package main

import (
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/signal-pipeline/internal/agent"
	"github.com/sells-group/signal-pipeline/internal/dispatcher"
)

var (
	workerLocal       bool
	dlqReplayInterval time.Duration
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the pipeline worker",
	Long:  "Consumes the pipeline topics, runs enrichment and scoring over incoming events, and triggers signal detection and follow-on actions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		pub, consumer := initBroker(workerLocal)
		defer pub.Close()

		search := initSearch()
		defer search.Close()
		graph := initGraph(ctx)
		defer graph.Close(ctx)

		crm, err := initCRM()
		if err != nil {
			return err
		}
		proposals, err := initBlobstore(ctx)
		if err != nil {
			return err
		}

		llm := initLLM()
		d := dispatcher.New(dispatcher.Config{
			Consumer:           consumer,
			Publisher:          pub,
			Discoverer:         agent.NewDiscoverer(&http.Client{Timeout: 10 * time.Second}, cfg.Crawler.UserAgent),
			Enricher:           agent.NewEnricher(llm, cfg.Anthropic.Model),
			Scorer:             agent.NewScorer(),
			Proposer:           agent.NewProposer(llm, cfg.Anthropic.Model),
			Store:              st,
			Search:             search,
			Graph:              graph,
			CRM:                crm,
			Proposals:          proposals,
			HighValueThreshold: cfg.Scoring.HighValueThreshold,
		})

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return d.Run(ctx)
		})
		g.Go(func() error {
			ticker := time.NewTicker(dlqReplayInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					if err := d.ReplayDLQ(ctx, 50); err != nil {
						zap.L().Warn("dlq replay failed", zap.Error(err))
					}
				}
			}
		})

		zap.L().Info("worker started",
			zap.Bool("local", workerLocal),
			zap.String("group_id", cfg.Kafka.GroupID),
		)
		err = g.Wait()
		if ctx.Err() != nil {
			zap.L().Info("worker stopping")
			return nil
		}
		return err
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerLocal, "local", false, "use the in-process broker instead of Kafka")
	workerCmd.Flags().DurationVar(&dlqReplayInterval, "dlq-replay-interval", 5*time.Minute, "how often to retry dead-lettered messages")
	rootCmd.AddCommand(workerCmd)
}
