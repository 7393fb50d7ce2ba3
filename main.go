package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fabfab/survey-agent/api"
	"github.com/fabfab/survey-agent/config"
	"github.com/fabfab/survey-agent/database"
	"github.com/fabfab/survey-agent/embeddings"
	"github.com/fabfab/survey-agent/ingestion"
	"github.com/fabfab/survey-agent/knowledge"
	"github.com/fabfab/survey-agent/retrieval"
)

var (
	current *app

	ingestDir      string
	ingestExport   bool
	ingestPgvector bool
	ingestGraph    bool
	ingestPublish  bool
	clearConfirmed bool
)

var rootCmd = &cobra.Command{
	Use:           "survey-agent",
	Short:         "Answer questions about the PIRLS 2021 survey",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(config.Load())
		if err != nil {
			return err
		}
		current = a
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer one question and print the markdown document",
	Long:  "Answer one question and print the markdown document. Without arguments the question is read from stdin.",
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		if strings.TrimSpace(question) == "" {
			read, err := readQuestion(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			question = read
		}

		p, err := current.pipeline(cmd.Context())
		if err != nil {
			return err
		}
		doc, err := p.Run(cmd.Context(), question)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), doc)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the question endpoint over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p, err := current.pipeline(ctx)
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              current.cfg.HTTPAddr,
			Handler:           api.New(p, current.metrics, current.log),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			current.log.Info("http server listening", "addr", srv.Addr)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		current.log.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index survey documents for retrieval",
	Long: `Index the documents under --dir. The chromem export is written into the
RAG cache directory and can be published to the bucket; pgvector rows and the
Neo4j source catalog are written when enabled.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := current.cfg

		embedder, err := embeddings.NewEmbedder(cfg)
		if err != nil {
			return fmt.Errorf("embedder setup: %w", err)
		}
		opts := ingestion.Options{
			Embedder:   embedder,
			Collection: cfg.RAG.Collection,
			Dimension:  cfg.Embeddings.Dimension,
			Logger:     current.log,
		}
		if ingestExport || ingestPublish {
			opts.ExportPath = filepath.Join(cfg.RAG.CacheDir, retrieval.ExportFileName(cfg.RAG.Collection))
		}
		if ingestPgvector {
			pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
			if err != nil {
				return fmt.Errorf("postgres connection: %w", err)
			}
			defer pool.Close()
			opts.Pool = pool
		}
		if ingestGraph {
			driver, err := database.NewNeo4jDriver(ctx, cfg)
			if err != nil {
				return fmt.Errorf("neo4j connection: %w", err)
			}
			if driver != nil {
				defer driver.Close(ctx)
				opts.Graph = driver
			}
		}

		svc := ingestion.NewService(opts)
		current.log.Info("ingesting documents", "dir", ingestDir, "provider", strings.ToUpper(cfg.Embeddings.Provider), "model", cfg.Embeddings.Model)
		report, err := svc.IngestDirectory(ctx, ingestDir)
		if err != nil {
			return fmt.Errorf("ingestion failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents (%d chunks), skipped %d\n", report.Documents, report.Chunks, report.Skipped)

		if ingestPublish {
			store, err := current.store(ctx)
			if err != nil {
				return err
			}
			name, err := svc.Publish(ctx, store, cfg.RAG.Prefix)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", name)
		}
		return nil
	},
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Download the published index artifacts into the local cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := current.store(cmd.Context())
		if err != nil {
			return err
		}
		boot := current.bootstrapper(store)
		if err := boot.Ensure(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "index artifacts ready in %s\n", boot.Dir())
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove indexed data from Postgres and Neo4j",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearConfirmed {
			ok, err := confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), "This will permanently delete indexed data from Postgres and Neo4j. Continue? [y/N]: ")
			if err != nil {
				return err
			}
			if !ok {
				current.log.Info("clear aborted")
				return nil
			}
		}

		ctx := cmd.Context()
		pool, err := database.NewPostgresPool(ctx, current.cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("postgres connection: %w", err)
		}
		defer pool.Close()
		if err := database.TruncateRAG(ctx, pool); err != nil {
			return err
		}
		current.log.Info("cleared rag_documents and rag_chunks")

		driver, err := database.NewNeo4jDriver(ctx, current.cfg)
		if err != nil {
			return fmt.Errorf("neo4j connection: %w", err)
		}
		if driver == nil {
			return nil
		}
		defer driver.Close(ctx)
		if err := knowledge.Purge(ctx, driver); err != nil {
			return fmt.Errorf("clear neo4j: %w", err)
		}
		current.log.Info("cleared neo4j source catalog")
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "", "directory containing survey documents (defaults to DATA_DIR)")
	ingestCmd.Flags().BoolVar(&ingestExport, "export", true, "write the chromem export into the RAG cache directory")
	ingestCmd.Flags().BoolVar(&ingestPgvector, "pgvector", false, "write passages to Postgres")
	ingestCmd.Flags().BoolVar(&ingestGraph, "graph", false, "record sources in the Neo4j catalog")
	ingestCmd.Flags().BoolVar(&ingestPublish, "publish", false, "upload the chromem export to the artifact bucket")
	ingestCmd.PreRun = func(cmd *cobra.Command, args []string) {
		if ingestDir == "" {
			ingestDir = current.cfg.DataDir
		}
	}
	clearCmd.Flags().BoolVar(&clearConfirmed, "confirm", false, "skip confirmation prompt")

	rootCmd.AddCommand(askCmd, serveCmd, ingestCmd, bootstrapCmd, clearCmd)
}

func readQuestion(in io.Reader, prompt io.Writer) (string, error) {
	fmt.Fprint(prompt, "Enter your question: ")
	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read question: %w", err)
	}
	return "", nil
}

func confirm(in io.Reader, prompt io.Writer, question string) (bool, error) {
	fmt.Fprint(prompt, question)
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return false, fmt.Errorf("read confirmation: %w", err)
		}
		return false, nil
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes", nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := rootCmd.ExecuteContext(ctx)
	if current != nil {
		current.close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(1)
	}
}
