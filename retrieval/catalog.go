package retrieval

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// SourceCatalog resolves source URLs to display titles.
type SourceCatalog interface {
	Titles(ctx context.Context, sources []string) (map[string]string, error)
}

// StaticCatalog is a fixed URL to title table.
type StaticCatalog map[string]string

func (c StaticCatalog) Titles(ctx context.Context, sources []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, src := range sources {
		if title, ok := c[src]; ok {
			out[src] = title
		}
	}
	return out, nil
}

// Neo4jCatalog reads titles from Source nodes written by the ingest command.
type Neo4jCatalog struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jCatalog(driver neo4j.DriverWithContext) *Neo4jCatalog {
	return &Neo4jCatalog{driver: driver}
}

func (c *Neo4jCatalog) Titles(ctx context.Context, sources []string) (map[string]string, error) {
	if c.driver == nil {
		return nil, fmt.Errorf("neo4j driver is nil")
	}
	if len(sources) == 0 {
		return map[string]string{}, nil
	}

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (s:Source)
		WHERE s.url IN $urls AND s.title IS NOT NULL
		RETURN s.url AS url, s.title AS title
	`, map[string]any{"urls": sources})
	if err != nil {
		return nil, fmt.Errorf("run neo4j source query: %w", err)
	}

	titles := make(map[string]string, len(sources))
	for result.Next(ctx) {
		record := result.Record()
		urlVal, _ := record.Get("url")
		titleVal, _ := record.Get("title")
		url, ok := urlVal.(string)
		if !ok {
			continue
		}
		if title, ok := titleVal.(string); ok && title != "" {
			titles[url] = title
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("neo4j source result error: %w", err)
	}
	return titles, nil
}

// Sources lists the distinct sources of passages in rank order.
func Sources(passages []Passage) []string {
	seen := make(map[string]bool, len(passages))
	var out []string
	for _, p := range passages {
		if p.Source == "" || seen[p.Source] {
			continue
		}
		seen[p.Source] = true
		out = append(out, p.Source)
	}
	return out
}

var (
	_ SourceCatalog = StaticCatalog(nil)
	_ SourceCatalog = (*Neo4jCatalog)(nil)
)
