package sink

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-pipeline/internal/resilience"
)

// Index names used by the pipeline.
const (
	IndexEvents  = "events"
	IndexSignals = "signals"
)

// OpenSearchIndex implements SearchIndex against an OpenSearch cluster. A
// circuit breaker skips indexing while the cluster is flapping so event
// processing does not stall on it.
type OpenSearchIndex struct {
	client  *opensearch.Client
	breaker *resilience.CircuitBreaker
}

// NewOpenSearch connects to the cluster at the given addresses.
func NewOpenSearch(addresses []string) (*OpenSearchIndex, error) {
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: addresses,
	})
	if err != nil {
		return nil, eris.Wrap(err, "sink: opensearch client")
	}
	return &OpenSearchIndex{
		client:  client,
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
	}, nil
}

func (o *OpenSearchIndex) IndexDocument(ctx context.Context, index, id string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "sink: marshal document")
	}

	return o.breaker.Execute(ctx, func(ctx context.Context) error {
		req := opensearchapi.IndexRequest{
			Index:      index,
			DocumentID: id,
			Body:       bytes.NewReader(body),
		}
		resp, err := req.Do(ctx, o.client)
		if err != nil {
			return eris.Wrapf(err, "sink: index document %s/%s", index, id)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.IsError() {
			return eris.Errorf("sink: index document %s/%s: %s", index, id, resp.Status())
		}
		return nil
	})
}

func (o *OpenSearchIndex) Close() error { return nil }
