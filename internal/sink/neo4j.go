package sink

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rotisserie/eris"
)

// Neo4jGraph implements GraphStore against a Neo4j instance.
type Neo4jGraph struct {
	driver neo4j.DriverWithContext
}

// NewNeo4j connects to the graph database and verifies connectivity.
func NewNeo4j(ctx context.Context, uri, user, password string) (*Neo4jGraph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, eris.Wrap(err, "sink: neo4j driver")
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, eris.Wrap(err, "sink: neo4j connectivity")
	}
	return &Neo4jGraph{driver: driver}, nil
}

func (g *Neo4jGraph) MergeCompany(ctx context.Context, companyID int64, attrs map[string]any) error {
	query := `
	MERGE (c:Company {company_id: $company_id})
	SET c.name = $name,
	    c.domain = $domain,
	    c.industry = $industry,
	    c.updated_at = datetime()
	RETURN c`

	params := map[string]any{
		"company_id": companyID,
		"name":       attrs["name"],
		"domain":     attrs["domain"],
		"industry":   attrs["industry"],
	}
	_, err := neo4j.ExecuteQuery(ctx, g.driver, query, params, neo4j.EagerResultTransformer)
	return eris.Wrapf(err, "sink: merge company %d", companyID)
}

func (g *Neo4jGraph) LinkTechnology(ctx context.Context, companyID int64, tech string) error {
	query := `
	MATCH (c:Company {company_id: $company_id})
	MERGE (t:Technology {name: $tech_name})
	MERGE (c)-[r:USES]->(t)
	SET r.detected_at = datetime()
	RETURN c, r, t`

	params := map[string]any{
		"company_id": companyID,
		"tech_name":  tech,
	}
	_, err := neo4j.ExecuteQuery(ctx, g.driver, query, params, neo4j.EagerResultTransformer)
	return eris.Wrapf(err, "sink: link technology %q", tech)
}

func (g *Neo4jGraph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}
