package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/dangattringer/rust-rag/internal/chunker"
	"github.com/dangattringer/rust-rag/internal/config"
	"github.com/dangattringer/rust-rag/internal/domain"
	"github.com/dangattringer/rust-rag/internal/embedding"
	"github.com/dangattringer/rust-rag/internal/embedding/bedrock"
	"github.com/dangattringer/rust-rag/internal/embedding/hashing"
	"github.com/dangattringer/rust-rag/internal/embedding/openai"
	"github.com/dangattringer/rust-rag/internal/embedding/rediscache"
	"github.com/dangattringer/rust-rag/internal/generator"
	"github.com/dangattringer/rust-rag/internal/service"
	"github.com/dangattringer/rust-rag/internal/source"
	"github.com/dangattringer/rust-rag/internal/store"
	"github.com/dangattringer/rust-rag/internal/store/postgres"
	"github.com/dangattringer/rust-rag/internal/store/sqlite"
	"github.com/dangattringer/rust-rag/internal/vectorstore"
	"github.com/dangattringer/rust-rag/internal/vectorstore/memory"
	"github.com/dangattringer/rust-rag/internal/vectorstore/vptree"
)

// app holds the assembled components of one command invocation.
type app struct {
	cfg     *config.AppConfig
	svc     *service.RAGService
	store   store.Store
	source  domain.Source
	logger  zerolog.Logger
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("Close failed")
		}
	}
}

// assemble builds every component from cfg and loads the persisted index.
func assemble(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	chunkCfg, err := cfg.Chunker.ToChunker()
	if err != nil {
		return nil, err
	}
	ch, err := chunker.New(chunkCfg)
	if err != nil {
		return nil, err
	}
	emb, err := a.buildEmbedder(ctx)
	if err != nil {
		return nil, err
	}
	idx, err := buildIndex(cfg.VectorStore, emb.Dimension())
	if err != nil {
		return nil, err
	}
	st, err := a.buildStore(ctx)
	if err != nil {
		return nil, err
	}
	a.store = st
	gen, err := buildGenerator(ctx, cfg.Generator)
	if err != nil {
		return nil, err
	}

	a.svc, err = service.NewRAGService(service.Deps{
		Chunker:   ch,
		Embedder:  emb,
		Index:     idx,
		Store:     st,
		Generator: gen,
	}, service.Options{
		Workers:      cfg.Ingest.Workers,
		QueryTimeout: config.Seconds(cfg.Retrieval.TimeoutSecs),
	}, logger)
	if err != nil {
		return nil, err
	}
	report, err := a.svc.Load(ctx)
	if err != nil {
		return nil, err
	}
	logger.Debug().Int("entries", report.Entries).Bool("stale", report.Stale).Str("embedder", emb.Name()).Msg("Components ready")

	a.source = &source.Mux{
		Crates: source.NewDocsRS(source.DocsRSConfig{
			BaseURL:          cfg.Source.DocsRSURL,
			UserAgent:        cfg.Source.UserAgent,
			Timeout:          config.Seconds(cfg.Source.TimeoutSecs),
			MaxDownloadBytes: int64(cfg.Source.MaxDownloadMB) << 20,
			MaxPageBytes:     int64(cfg.Source.MaxPageMB) << 20,
		}, logger),
		Files: source.NewFiles(logger),
	}
	ok = true
	return a, nil
}

// buildEmbedder wraps the configured model as cache(retry(limit(model))).
// Limiter slots are released while a retry backs off.
func (a *app) buildEmbedder(ctx context.Context) (embedding.Embedder, error) {
	cfg := a.cfg
	var base embedding.Embedder
	switch cfg.Embedder.Type {
	case "hashing":
		base = hashing.NewEmbedder(cfg.Embedder.Dimension)
	case "openai":
		o := cfg.Embedder.OpenAI
		client, err := openai.NewClient(openai.Config{
			BaseURL:   o.BaseURL,
			APIKeyEnv: o.APIKeyEnv,
			Model:     o.Model,
			Dimension: o.Dimension,
			Timeout:   config.Seconds(o.TimeoutSecs),
		})
		if err != nil {
			return nil, err
		}
		base = client
	case "bedrock":
		b := cfg.Embedder.Bedrock
		e, err := bedrock.New(ctx, bedrock.Config{Region: b.Region, ModelID: b.ModelID, Dimension: b.Dimension})
		if err != nil {
			return nil, err
		}
		base = e
	default:
		return nil, fmt.Errorf("%w: unknown embedder %q", domain.ErrInvalidConfig, cfg.Embedder.Type)
	}

	emb := embedding.Embedder(embedding.WithLimit(base, cfg.Ingest.EmbedConcurrency, cfg.Ingest.BatchSize))
	emb = embedding.WithRetry(emb, cfg.Retry.Policy(), a.logger)

	switch cfg.Cache.Type {
	case "none":
	case "memory":
		emb = embedding.WithCache(emb, embedding.NewMemoryCache(cfg.Cache.MaxEntries), a.logger)
	case "redis":
		r := cfg.Cache.Redis
		client, err := rediscache.Connect(ctx, rediscache.Options{
			Addr:       r.Addr,
			Password:   os.Getenv(r.PasswordEnv),
			DB:         r.DB,
			MaxRetries: r.MaxRetries,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		emb = embedding.WithCache(emb, rediscache.New(client, r.Prefix, config.Seconds(r.TTLSecs)), a.logger)
	default:
		return nil, fmt.Errorf("%w: unknown cache %q", domain.ErrInvalidConfig, cfg.Cache.Type)
	}
	return emb, nil
}

func buildIndex(cfg config.VectorStoreConfig, dim int) (vectorstore.Index, error) {
	metric, err := vectorstore.ParseMetric(cfg.Metric)
	if err != nil {
		return nil, err
	}
	switch cfg.Type {
	case "exact":
		return memory.NewStorage(dim, metric)
	case "vptree":
		return vptree.New(dim, metric, cfg.MaxVisits)
	}
	return nil, fmt.Errorf("%w: unknown vector store %q", domain.ErrInvalidConfig, cfg.Type)
}

func (a *app) buildStore(ctx context.Context) (store.Store, error) {
	cfg := a.cfg.Storage
	var (
		st  store.Store
		err error
	)
	switch cfg.Type {
	case "sqlite":
		st, err = sqlite.Open(ctx, cfg.Path)
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, fmt.Errorf("%w: %s is not set", domain.ErrInvalidConfig, cfg.DSNEnv)
		}
		st, err = postgres.Open(ctx, dsn)
	default:
		return nil, fmt.Errorf("%w: unknown storage %q", domain.ErrInvalidConfig, cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, st.Close)
	return st, nil
}

func buildGenerator(ctx context.Context, cfg config.GeneratorConfig) (domain.Generator, error) {
	switch cfg.Type {
	case "extractive":
		return generator.NewExtractive(cfg.MaxSentences), nil
	case "openai":
		o := cfg.OpenAI
		return generator.NewOpenAI(generator.OpenAIConfig{
			BaseURL:     o.BaseURL,
			APIKeyEnv:   o.APIKeyEnv,
			Model:       o.Model,
			MaxTokens:   o.MaxTokens,
			Temperature: o.Temperature,
			Timeout:     config.Seconds(o.TimeoutSecs),
		})
	case "bedrock":
		b := cfg.Bedrock
		return generator.NewClaude(ctx, generator.ClaudeConfig{
			Region:      b.Region,
			ModelID:     b.ModelID,
			MaxTokens:   b.MaxTokens,
			Temperature: b.Temperature,
		})
	}
	return nil, fmt.Errorf("%w: unknown generator %q", domain.ErrInvalidConfig, cfg.Type)
}
