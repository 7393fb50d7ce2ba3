package main

import (
	"context"
	"fmt"

	"github.com/fabfab/survey-agent/artifact"
	"github.com/fabfab/survey-agent/chart"
	"github.com/fabfab/survey-agent/config"
	"github.com/fabfab/survey-agent/crew"
	"github.com/fabfab/survey-agent/database"
	"github.com/fabfab/survey-agent/embeddings"
	"github.com/fabfab/survey-agent/llm"
	"github.com/fabfab/survey-agent/logging"
	"github.com/fabfab/survey-agent/metrics"
	"github.com/fabfab/survey-agent/pipeline"
	"github.com/fabfab/survey-agent/retrieval"
	"github.com/fabfab/survey-agent/synth"
	"github.com/fabfab/survey-agent/tools"
)

// app owns the process-wide dependencies and closes them in reverse order.
type app struct {
	cfg     config.Config
	log     *logging.Logger
	metrics *metrics.Metrics
	closers []func()
}

func newApp(cfg config.Config) (*app, error) {
	logger, err := logging.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("logger setup: %w", err)
	}
	m, err := metrics.New()
	if err != nil {
		return nil, fmt.Errorf("metrics setup: %w", err)
	}
	return &app{cfg: cfg, log: logger, metrics: m}, nil
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.log.Sync()
}

// store opens the bucket, or an in-process store when no bucket is set.
func (a *app) store(ctx context.Context) (artifact.Store, error) {
	if a.cfg.Storage.Bucket == "" {
		a.log.Warn("ARTIFACT_BUCKET is empty, artifacts are kept in memory")
		return artifact.NewMemoryStore("local"), nil
	}
	gcs, err := artifact.NewGCSStore(ctx, a.cfg.Storage, a.log)
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}
	a.onClose(func() {
		if err := gcs.Close(); err != nil {
			a.log.Warn("close artifact store", "error", err)
		}
	})
	return gcs, nil
}

func (a *app) bootstrapper(store artifact.Store) *retrieval.Bootstrapper {
	rag := a.cfg.RAG
	return retrieval.NewBootstrapper(store, rag.Prefix, rag.CacheDir, retrieval.DefaultManifest(rag.Prefix, rag.Collection), a.log)
}

func (a *app) retriever(ctx context.Context, store artifact.Store, embedder embeddings.Embedder) (retrieval.Retriever, error) {
	switch a.cfg.RAG.Backend {
	case config.RetrieverChromem:
		return retrieval.NewChromemRetriever(a.bootstrapper(store), a.cfg.RAG.Collection, embeddings.ChromemFunc(embedder), a.log), nil
	case config.RetrieverPgvector:
		pool, err := database.NewPostgresPool(ctx, a.cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		a.onClose(pool.Close)
		return retrieval.NewPgvectorRetriever(pool, embedder), nil
	default:
		return nil, fmt.Errorf("unknown retrieval backend: %s", a.cfg.RAG.Backend)
	}
}

func (a *app) catalog(ctx context.Context) (retrieval.SourceCatalog, error) {
	driver, err := database.NewNeo4jDriver(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("neo4j connection: %w", err)
	}
	if driver == nil {
		return nil, nil
	}
	a.onClose(func() { _ = driver.Close(context.Background()) })
	return retrieval.NewNeo4jCatalog(driver), nil
}

// registry builds the crew's tools, optionally behind the Redis result cache.
func (a *app) registry(ctx context.Context) (*tools.Registry, error) {
	db, err := tools.OpenSurveyDB(a.cfg.DataSource)
	if err != nil {
		return nil, fmt.Errorf("survey database: %w", err)
	}
	a.onClose(func() { _ = db.Close() })

	all, err := db.Tools()
	if err != nil {
		return nil, err
	}
	search, err := tools.NewWebSearch().Tool()
	if err != nil {
		return nil, err
	}
	all = append(all, search)

	var cache tools.Cache
	if a.cfg.Cache.RedisURL != "" {
		redis, err := tools.NewRedisCache(ctx, a.cfg.Cache.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("tool cache: %w", err)
		}
		a.onClose(func() { _ = redis.Close() })
		cache = redis
	}

	registry := tools.NewRegistry()
	for _, t := range all {
		registry.Register(tools.WithCache(t, cache, a.cfg.Cache.TTL, a.log))
	}
	return registry, nil
}

func (a *app) pipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	client, err := llm.NewClient(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("llm setup: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("embedder setup: %w", err)
	}
	store, err := a.store(ctx)
	if err != nil {
		return nil, err
	}
	retriever, err := a.retriever(ctx, store, embedder)
	if err != nil {
		return nil, err
	}
	catalog, err := a.catalog(ctx)
	if err != nil {
		return nil, err
	}
	registry, err := a.registry(ctx)
	if err != nil {
		return nil, err
	}

	def, err := crew.LoadDefinition(a.cfg.CrewConfigPath)
	if err != nil {
		return nil, err
	}
	team, err := crew.New(def, client, registry, a.log, crew.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("crew setup: %w", err)
	}

	return pipeline.New(pipeline.Options{
		Retriever:        retriever,
		Catalog:          catalog,
		Crew:             team,
		Synthesizer:      synth.New(client, a.log),
		Renderer:         chart.NewRenderer(store, a.cfg.RenderTimeout, a.log),
		Store:            store,
		TopK:             a.cfg.RAG.TopK,
		SynthesisTimeout: a.cfg.SynthesisTimeout,
		Metrics:          a.metrics,
		Logger:           a.log,
	})
}
