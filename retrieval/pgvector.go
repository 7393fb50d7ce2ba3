package retrieval

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/fabfab/survey-agent/embeddings"
)

// PgvectorRetriever serves passages from the rag_chunks table written by the
// ingest command.
type PgvectorRetriever struct {
	pool     *pgxpool.Pool
	embedder embeddings.Embedder
}

func NewPgvectorRetriever(pool *pgxpool.Pool, embedder embeddings.Embedder) *PgvectorRetriever {
	return &PgvectorRetriever{pool: pool, embedder: embedder}
}

func (r *PgvectorRetriever) Retrieve(ctx context.Context, prompt string, k int) ([]Passage, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("%w: postgres pool is nil", ErrRetrievalUnavailable)
	}
	if k <= 0 {
		k = 20
	}

	vectors, err := r.embedder.Embed(ctx, []string{prompt})
	if err != nil {
		return nil, fmt.Errorf("%w: embed prompt: %w", ErrRetrievalUnavailable, err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("%w: embedding is empty", ErrRetrievalUnavailable)
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire connection: %w", ErrRetrievalUnavailable, err)
	}
	defer conn.Release()

	probes := max(k*10, 10)
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET ivfflat.probes = %d", probes)); err != nil {
		return nil, fmt.Errorf("%w: set ivfflat probes: %w", ErrRetrievalUnavailable, err)
	}

	rows, err := conn.Query(ctx, `
        SELECT rd.source, rc.content
        FROM rag_chunks rc
        JOIN rag_documents rd ON rd.id = rc.document_id
        ORDER BY rc.embedding <-> $1::vector
        LIMIT $2
    `, pgvector.NewVector(vectors[0]), k)
	if err != nil {
		return nil, fmt.Errorf("%w: query similar chunks: %w", ErrRetrievalUnavailable, err)
	}
	defer rows.Close()

	passages := make([]Passage, 0, k)
	for rows.Next() {
		var p Passage
		if err := rows.Scan(&p.Source, &p.Content); err != nil {
			return nil, fmt.Errorf("%w: scan chunk: %w", ErrRetrievalUnavailable, err)
		}
		p.Rank = len(passages) + 1
		passages = append(passages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrievalUnavailable, err)
	}
	return passages, nil
}

var _ Retriever = (*PgvectorRetriever)(nil)
