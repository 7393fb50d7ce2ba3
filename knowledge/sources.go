// Package knowledge keeps the Neo4j catalog of knowledge sources. Each
// indexed document becomes a Source node keyed by its URL; the retrieval
// catalog reads the titles back when citing passages.
package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type Source struct {
	URL    string
	Title  string
	Path   string
	SHA    string
	Format string
	Chunks int
	Topics []string
}

// SyncSource upserts the Source node and replaces its topic links.
func SyncSource(ctx context.Context, driver neo4j.DriverWithContext, src Source) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}
	if strings.TrimSpace(src.URL) == "" {
		return fmt.Errorf("source url is empty")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (s:Source {url: $url})
			SET s.title = $title,
			    s.path = $path,
			    s.sha256 = $sha,
			    s.format = $format,
			    s.chunks = $chunks,
			    s.updated_at = datetime()
		`, map[string]any{
			"url":    src.URL,
			"title":  src.Title,
			"path":   src.Path,
			"sha":    src.SHA,
			"format": src.Format,
			"chunks": src.Chunks,
		}); err != nil {
			return nil, fmt.Errorf("upsert source node: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (s:Source {url: $url})-[r:HAS_TOPIC]->(:Topic)
			DELETE r
		`, map[string]any{"url": src.URL}); err != nil {
			return nil, fmt.Errorf("clear existing topics: %w", err)
		}

		for _, topic := range src.Topics {
			if strings.TrimSpace(topic) == "" {
				continue
			}
			if _, err := tx.Run(ctx, `
				MATCH (s:Source {url: $url})
				MERGE (t:Topic {name: $topic})
				MERGE (s)-[:HAS_TOPIC]->(t)
			`, map[string]any{"url": src.URL, "topic": topic}); err != nil {
				return nil, fmt.Errorf("upsert topic: %w", err)
			}
		}
		return nil, nil
	})
	return err
}

// Purge removes every Source and Topic node.
func Purge(ctx context.Context, driver neo4j.DriverWithContext) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	for _, query := range []string{
		"MATCH (s:Source) DETACH DELETE s",
		"MATCH (t:Topic) DETACH DELETE t",
	} {
		result, err := session.Run(ctx, query, nil)
		if err != nil {
			return fmt.Errorf("run %q: %w", query, err)
		}
		if _, err := result.Consume(ctx); err != nil {
			return fmt.Errorf("consume %q: %w", query, err)
		}
	}
	return nil
}
