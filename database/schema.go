package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const documentsDDL = `CREATE TABLE IF NOT EXISTS rag_documents (
	id UUID PRIMARY KEY,
	source TEXT UNIQUE NOT NULL,
	title TEXT,
	path TEXT,
	format TEXT,
	sha256 TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const chunksDDL = `CREATE TABLE IF NOT EXISTS rag_chunks (
	id UUID PRIMARY KEY,
	document_id UUID NOT NULL REFERENCES rag_documents(id) ON DELETE CASCADE,
	chunk_index INT NOT NULL,
	content TEXT NOT NULL,
	embedding VECTOR(%d) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE(document_id, chunk_index)
)`

// SchemaStatements lists the DDL for the pgvector tables in execution order.
// Passages are keyed by the URL of their knowledge source.
func SchemaStatements(dimension int) ([]string, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dimension)
	}
	return []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		documentsDDL,
		"ALTER TABLE rag_documents ADD COLUMN IF NOT EXISTS path TEXT",
		"ALTER TABLE rag_documents ADD COLUMN IF NOT EXISTS format TEXT",
		fmt.Sprintf(chunksDDL, dimension),
		"CREATE INDEX IF NOT EXISTS idx_rag_chunks_document ON rag_chunks(document_id)",
		"CREATE INDEX IF NOT EXISTS idx_rag_chunks_embedding ON rag_chunks USING ivfflat (embedding vector_l2_ops)",
	}, nil
}

// EnsureRAGSchema creates the tables the ingest command fills and the
// pgvector retriever reads.
func EnsureRAGSchema(ctx context.Context, pool *pgxpool.Pool, dimension int) error {
	stmts, err := SchemaStatements(dimension)
	if err != nil {
		return err
	}
	if pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}

// TruncateRAG removes every indexed document and chunk.
func TruncateRAG(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, "TRUNCATE rag_chunks, rag_documents"); err != nil {
		return fmt.Errorf("truncate rag tables: %w", err)
	}
	return nil
}
