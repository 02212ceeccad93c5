package main

import (
	"context"
	"os"

	gosf "github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-pipeline/internal/dispatcher"
	"github.com/sells-group/signal-pipeline/internal/sink"
	"github.com/sells-group/signal-pipeline/internal/store"
	"github.com/sells-group/signal-pipeline/internal/stream"
	"github.com/sells-group/signal-pipeline/pkg/anthropic"
	"github.com/sells-group/signal-pipeline/pkg/blobstore"
	sfpkg "github.com/sells-group/signal-pipeline/pkg/salesforce"
)

func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.New(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// initBroker returns the message transport: Kafka normally, the in-process
// broker when --local is set.
func initBroker(local bool) (stream.Publisher, stream.Consumer) {
	if local {
		b := stream.NewMemory(0)
		return b, b
	}
	b := stream.NewKafka(cfg.Kafka)
	return b, b
}

func initLLM() anthropic.Client {
	if cfg.Anthropic.Key == "" {
		zap.L().Warn("no anthropic key configured, llm features disabled")
		return nil
	}
	return anthropic.NewClient(cfg.Anthropic.Key)
}

// initSearch returns the search sink, or a no-op when unconfigured.
func initSearch() sink.SearchIndex {
	if cfg.OpenSearch.URL == "" {
		return sink.NoopSearch{}
	}
	idx, err := sink.NewOpenSearch([]string{cfg.OpenSearch.URL})
	if err != nil {
		zap.L().Warn("opensearch unavailable, indexing disabled", zap.Error(err))
		return sink.NoopSearch{}
	}
	return idx
}

// initGraph returns the graph sink, or a no-op when unconfigured.
func initGraph(ctx context.Context) sink.GraphStore {
	if cfg.Neo4j.URI == "" {
		return sink.NoopGraph{}
	}
	g, err := sink.NewNeo4j(ctx, cfg.Neo4j.URI, cfg.Neo4j.User, cfg.Neo4j.Password)
	if err != nil {
		zap.L().Warn("neo4j unavailable, graph sink disabled", zap.Error(err))
		return sink.NoopGraph{}
	}
	return g
}

func initCRM() (dispatcher.CRM, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, nil
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := gosf.Init(gosf.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewAccountSyncer(sfpkg.NewClient(sf, sfpkg.WithRateLimit(5))), nil
}

func initBlobstore(ctx context.Context) (dispatcher.ProposalStore, error) {
	if cfg.Minio.Endpoint == "" {
		return nil, nil
	}
	bs, err := blobstore.New(blobstore.Config{
		Endpoint:  cfg.Minio.Endpoint,
		AccessKey: cfg.Minio.AccessKey,
		SecretKey: cfg.Minio.SecretKey,
		UseSSL:    cfg.Minio.Secure,
	})
	if err != nil {
		return nil, err
	}
	if err := bs.EnsureBuckets(ctx); err != nil {
		return nil, err
	}
	return bs, nil
}
