// Package sink holds the narrow interfaces to the downstream document and
// graph systems fed by the dispatcher. Both sinks are best-effort: the
// pipeline runs unchanged when they are unconfigured.
package sink

import "context"

// SearchIndex indexes pipeline documents (events, signals) for search.
type SearchIndex interface {
	IndexDocument(ctx context.Context, index, id string, doc any) error
	Close() error
}

// GraphStore maintains the company/technology knowledge graph.
type GraphStore interface {
	MergeCompany(ctx context.Context, companyID int64, attrs map[string]any) error
	LinkTechnology(ctx context.Context, companyID int64, tech string) error
	Close(ctx context.Context) error
}

// NoopSearch is the SearchIndex used when no cluster is configured.
type NoopSearch struct{}

func (NoopSearch) IndexDocument(context.Context, string, string, any) error { return nil }
func (NoopSearch) Close() error                                             { return nil }

// NoopGraph is the GraphStore used when no graph database is configured.
type NoopGraph struct{}

func (NoopGraph) MergeCompany(context.Context, int64, map[string]any) error { return nil }
func (NoopGraph) LinkTechnology(context.Context, int64, string) error       { return nil }
func (NoopGraph) Close(context.Context) error                               { return nil }
