package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/pgvector/pgvector-go"
	"github.com/philippgille/chromem-go"

	"github.com/fabfab/survey-agent/artifact"
	"github.com/fabfab/survey-agent/database"
	"github.com/fabfab/survey-agent/embeddings"
	"github.com/fabfab/survey-agent/knowledge"
	"github.com/fabfab/survey-agent/logging"
)

const (
	embedBatchSize = 32
	exportContent  = "application/gzip"
	addConcurrency = 4
)

// Options selects the index targets. Every target except the embedder is
// optional: an empty ExportPath skips the chromem export, a nil Pool skips
// pgvector and a nil Graph skips the source catalog.
type Options struct {
	Embedder   embeddings.Embedder
	Collection string
	ExportPath string
	Pool       *pgxpool.Pool
	Dimension  int
	Graph      neo4j.DriverWithContext
	Logger     *logging.Logger
}

type Service struct {
	embedder   embeddings.Embedder
	collection string
	exportPath string
	pool       *pgxpool.Pool
	dimension  int
	graph      neo4j.DriverWithContext
	log        *logging.Logger
}

// Report summarises one ingestion run.
type Report struct {
	Documents int
	Chunks    int
	Skipped   int
}

type indexed struct {
	doc     Document
	sha     string
	vectors [][]float32
}

func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Service{
		embedder:   opts.Embedder,
		collection: opts.Collection,
		exportPath: opts.ExportPath,
		pool:       opts.Pool,
		dimension:  opts.Dimension,
		graph:      opts.Graph,
		log:        opts.Logger.With("component", "ingestion"),
	}
}

// IngestDirectory indexes every supported document under dir. Files that
// fail to parse or embed are logged and skipped.
func (s *Service) IngestDirectory(ctx context.Context, dir string) (Report, error) {
	var report Report
	if s.embedder == nil {
		return report, fmt.Errorf("embedder not configured")
	}
	if _, err := os.Stat(dir); err != nil {
		return report, fmt.Errorf("data directory: %w", err)
	}

	var paths []string
	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() && DetectFormat(path) != FormatUnknown {
			paths = append(paths, path)
		}
		return nil
	}); err != nil {
		return report, fmt.Errorf("walk data directory: %w", err)
	}
	if len(paths) == 0 {
		s.log.Warn("no supported documents found", "dir", dir)
		return report, nil
	}

	items := make([]indexed, 0, len(paths))
	for _, path := range paths {
		item, err := s.prepare(ctx, dir, path)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			s.log.Warn("document skipped", "path", path, "error", err)
			report.Skipped++
			continue
		}
		if len(item.doc.Chunks) == 0 {
			s.log.Info("empty document skipped", "path", path)
			report.Skipped++
			continue
		}
		items = append(items, item)
		report.Documents++
		report.Chunks += len(item.doc.Chunks)
	}

	if s.exportPath != "" {
		if err := s.writeExport(ctx, items); err != nil {
			return report, err
		}
	}
	if s.pool != nil {
		if err := s.writePgvector(ctx, items); err != nil {
			return report, err
		}
	}
	if s.graph != nil {
		for _, item := range items {
			if err := knowledge.SyncSource(ctx, s.graph, sourceNode(item)); err != nil {
				return report, fmt.Errorf("sync source %s: %w", item.doc.Source, err)
			}
		}
	}

	s.log.Info("ingestion finished", "documents", report.Documents, "chunks", report.Chunks, "skipped", report.Skipped)
	return report, nil
}

func (s *Service) prepare(ctx context.Context, root, path string) (indexed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return indexed{}, fmt.Errorf("read file: %w", err)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}

	doc, err := Parse(ctx, filepath.ToSlash(rel), data)
	if err != nil {
		return indexed{}, err
	}
	sum := sha256.Sum256(data)

	vectors, err := embeddings.EmbedBatched(ctx, s.embedder, doc.Chunks, embedBatchSize)
	if err != nil {
		return indexed{}, err
	}
	return indexed{doc: doc, sha: hex.EncodeToString(sum[:]), vectors: vectors}, nil
}

// writeExport writes the gzipped chromem export the retriever imports.
func (s *Service) writeExport(ctx context.Context, items []indexed) error {
	db := chromem.NewDB()
	col, err := db.CreateCollection(s.collection, nil, embeddings.ChromemFunc(s.embedder))
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.collection, err)
	}

	var docs []chromem.Document
	for _, item := range items {
		for i, chunk := range item.doc.Chunks {
			docs = append(docs, chromem.Document{
				ID:        uuid.NewString(),
				Content:   chunk,
				Embedding: item.vectors[i],
				Metadata: map[string]string{
					"source": item.doc.Source,
					"title":  item.doc.Title,
					"path":   item.doc.Path,
				},
			})
		}
	}
	if len(docs) > 0 {
		if err := col.AddDocuments(ctx, docs, addConcurrency); err != nil {
			return fmt.Errorf("add documents: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.exportPath), 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	if err := db.Export(s.exportPath, true, ""); err != nil {
		return fmt.Errorf("export collection: %w", err)
	}
	s.log.Info("chromem export written", "path", s.exportPath, "chunks", len(docs))
	return nil
}

func (s *Service) writePgvector(ctx context.Context, items []indexed) error {
	if err := database.EnsureRAGSchema(ctx, s.pool, s.dimension); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	for _, item := range items {
		if err := s.upsertRows(ctx, item); err != nil {
			return fmt.Errorf("store %s: %w", item.doc.Path, err)
		}
	}
	return nil
}

func (s *Service) upsertRows(ctx context.Context, item indexed) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.log.Warn("rollback failed", "error", rbErr)
			}
		}
	}()

	docID, changed, err := upsertDocument(ctx, tx, item)
	if err != nil {
		return err
	}
	if !changed {
		s.log.Debug("document unchanged", "source", item.doc.Source)
		return tx.Commit(ctx)
	}

	if _, err = tx.Exec(ctx, "DELETE FROM rag_chunks WHERE document_id = $1", docID); err != nil {
		return fmt.Errorf("clear existing chunks: %w", err)
	}
	for idx, text := range item.doc.Chunks {
		if _, err = tx.Exec(ctx, `
			INSERT INTO rag_chunks (id, document_id, chunk_index, content, embedding)
			VALUES ($1, $2, $3, $4, $5)
		`, uuid.New(), docID, idx, text, pgvector.NewVector(item.vectors[idx])); err != nil {
			return fmt.Errorf("insert chunk %d: %w", idx, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func upsertDocument(ctx context.Context, tx pgx.Tx, item indexed) (uuid.UUID, bool, error) {
	doc := item.doc
	var (
		docID        uuid.UUID
		existingHash string
	)

	err := tx.QueryRow(ctx, "SELECT id, sha256 FROM rag_documents WHERE source = $1", doc.Source).Scan(&docID, &existingHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			newID := uuid.New()
			if _, execErr := tx.Exec(ctx, `
				INSERT INTO rag_documents (id, source, title, path, format, sha256)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, newID, doc.Source, doc.Title, doc.Path, string(doc.Format), item.sha); execErr != nil {
				return uuid.Nil, false, fmt.Errorf("insert document: %w", execErr)
			}
			return newID, true, nil
		}
		return uuid.Nil, false, fmt.Errorf("query document: %w", err)
	}

	if existingHash == item.sha {
		return docID, false, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE rag_documents
		SET title = $2,
		    path = $3,
		    format = $4,
		    sha256 = $5,
		    updated_at = NOW()
		WHERE id = $1
	`, docID, doc.Title, doc.Path, string(doc.Format), item.sha); err != nil {
		return uuid.Nil, false, fmt.Errorf("update document: %w", err)
	}

	return docID, true, nil
}

func sourceNode(item indexed) knowledge.Source {
	return knowledge.Source{
		URL:    item.doc.Source,
		Title:  item.doc.Title,
		Path:   item.doc.Path,
		SHA:    item.sha,
		Format: string(item.doc.Format),
		Chunks: len(item.doc.Chunks),
		Topics: item.doc.Topics,
	}
}

// Publish uploads the chromem export under prefix so Bootstrapper can fetch
// it. It returns the object name.
func (s *Service) Publish(ctx context.Context, store artifact.Store, prefix string) (string, error) {
	if s.exportPath == "" {
		return "", fmt.Errorf("no export path configured")
	}
	f, err := os.Open(s.exportPath)
	if err != nil {
		return "", fmt.Errorf("open export: %w", err)
	}
	defer f.Close()

	name := strings.TrimSuffix(prefix, "/") + "/" + filepath.Base(s.exportPath)
	if _, err := store.Put(ctx, name, exportContent, f); err != nil {
		return "", fmt.Errorf("upload export: %w", err)
	}
	s.log.Info("chromem export published", "name", name)
	return name, nil
}
