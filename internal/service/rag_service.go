// Package service composes chunking, embedding, indexing and retrieval into
// the ingest and query flows. The vector index is the only shared mutable
// state; every write to it goes through the service's single writer, and
// readers hold the index lock while resolving hits so a replaced document is
// never seen half swapped.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dangattringer/rust-rag/internal/chunker"
	"github.com/dangattringer/rust-rag/internal/domain"
	"github.com/dangattringer/rust-rag/internal/embedding"
	"github.com/dangattringer/rust-rag/internal/retriever"
	"github.com/dangattringer/rust-rag/internal/store"
	"github.com/dangattringer/rust-rag/internal/vectorstore"
)

// Deps are the collaborators of a RAGService. Generator may be nil when
// Ask is not used.
type Deps struct {
	Chunker   *chunker.Chunker
	Embedder  embedding.Embedder
	Index     vectorstore.Index
	Store     store.Store
	Generator domain.Generator
}

type Options struct {
	// Workers bounds how many documents are chunked and embedded at once.
	Workers int
	// QueryTimeout, when positive, bounds each Query and Ask call.
	QueryTimeout time.Duration
}

type RAGService struct {
	chunker     *chunker.Chunker
	embedder    embedding.Embedder
	index       vectorstore.Index
	store       store.Store
	generator   domain.Generator
	retriever   *retriever.Retriever
	fingerprint string
	opts        Options
	logger      zerolog.Logger

	// mu guards the index together with its stored chunks. Writers hold it
	// across the store write and index swap, queries hold it for reading.
	mu      sync.RWMutex
	stale   bool
	version string
}

func NewRAGService(deps Deps, opts Options, logger zerolog.Logger) (*RAGService, error) {
	if deps.Chunker == nil || deps.Embedder == nil || deps.Index == nil || deps.Store == nil {
		return nil, fmt.Errorf("%w: chunker, embedder, index and store are required", domain.ErrInvalidConfig)
	}
	if deps.Embedder.Dimension() != deps.Index.Dimension() {
		return nil, fmt.Errorf("%w: embedder %s has dimension %d, index has %d",
			domain.ErrDimensionMismatch, deps.Embedder.Name(), deps.Embedder.Dimension(), deps.Index.Dimension())
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &RAGService{
		chunker:     deps.Chunker,
		embedder:    deps.Embedder,
		index:       deps.Index,
		store:       deps.Store,
		generator:   deps.Generator,
		retriever:   retriever.New(deps.Embedder, deps.Index, deps.Store, logger),
		fingerprint: Fingerprint(deps.Embedder, deps.Index.Metric(), deps.Chunker.Config()),
		opts:        opts,
		logger:      logger,
	}, nil
}

// Fingerprint identifies the settings stored embeddings depend on. Entries
// produced under a different fingerprint are stale.
func Fingerprint(e embedding.Embedder, metric vectorstore.Metric, cfg chunker.Config) string {
	return fmt.Sprintf("embedder=%s;dim=%d;metric=%s;chunker=%s", e.Name(), e.Dimension(), metric, cfg.Fingerprint())
}

// LoadReport describes what Load restored.
type LoadReport struct {
	Entries int
	Stale   bool
}

// Load fills the index from the store. A store written under another
// fingerprint is left untouched and flagged stale; the next ingest rebuilds it.
func (s *RAGService) Load(ctx context.Context) (LoadReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Refresh reloads the index when the stored corpus version no longer matches
// the one the index was loaded at, as happens when another process ingests
// into the same store. It reports whether a reload took place.
func (s *RAGService) Refresh(ctx context.Context) (bool, error) {
	version, err := s.store.CorpusVersion(ctx)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	current := s.version == version
	s.mu.RUnlock()
	if current {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version == version {
		return false, nil
	}
	s.logger.Info().Str("from", s.version).Str("to", version).Msg("Corpus changed, reloading index")
	if _, err := s.load(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// load replaces the index contents with the stored entries. Callers hold mu.
func (s *RAGService) load(ctx context.Context) (LoadReport, error) {
	if existing := s.index.Entries(); len(existing) > 0 {
		ids := make([]string, len(existing))
		for i, e := range existing {
			ids[i] = e.ID
		}
		s.index.Delete(ids...)
	}
	version, err := s.store.CorpusVersion(ctx)
	if err != nil {
		return LoadReport{}, fmt.Errorf("read corpus version: %w", err)
	}

	fp, ok, err := s.store.GetMeta(ctx, store.MetaFingerprint)
	if err != nil {
		return LoadReport{}, fmt.Errorf("read fingerprint: %w", err)
	}
	if !ok {
		docs, err := s.store.ListDocuments(ctx)
		if err != nil {
			return LoadReport{}, err
		}
		if len(docs) == 0 {
			if err := s.store.SetMeta(ctx, store.MetaFingerprint, s.fingerprint); err != nil {
				return LoadReport{}, err
			}
			s.stale = false
			s.version, err = s.store.CorpusVersion(ctx)
			return LoadReport{}, err
		}
	}
	s.version = version
	if fp != s.fingerprint {
		s.stale = true
		s.logger.Warn().Str("stored", fp).Str("configured", s.fingerprint).Msg("Stored corpus is stale, re-ingest to rebuild")
		return LoadReport{Stale: true}, nil
	}

	const batchSize = 512
	batch := make([]domain.IndexEntry, 0, batchSize)
	n := 0
	flush := func() error {
		if err := s.index.Insert(batch...); err != nil {
			return err
		}
		n += len(batch)
		batch = batch[:0]
		return nil
	}
	err = s.store.LoadEntries(ctx, func(e domain.IndexEntry) error {
		batch = append(batch, e)
		if len(batch) == batchSize {
			return flush()
		}
		return nil
	})
	if err == nil && len(batch) > 0 {
		err = flush()
	}
	if err != nil {
		return LoadReport{Entries: n}, fmt.Errorf("load entries: %w", err)
	}
	s.stale = false
	s.logger.Info().Int("entries", n).Msg("Index loaded")
	return LoadReport{Entries: n}, nil
}

// Query runs the read-only query flow.
func (s *RAGService) Query(ctx context.Context, query string, k int, filters domain.Filters) (domain.RetrievalResult, error) {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()
	res, err := s.retrieve(ctx, query, k, filters)
	if err != nil {
		return domain.RetrievalResult{}, deadline(ctx, err)
	}
	return res, nil
}

// retrieve embeds outside the index lock; only the index search and chunk
// resolution run under it.
func (s *RAGService) retrieve(ctx context.Context, query string, k int, filters domain.Filters) (domain.RetrievalResult, error) {
	vec, err := s.retriever.EmbedQuery(ctx, query, k)
	if err != nil {
		return domain.RetrievalResult{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retriever.RetrieveVector(ctx, query, vec, k, filters)
}

// QueryVector runs the query flow for an already embedded query.
func (s *RAGService) QueryVector(ctx context.Context, vec []float32, k int, filters domain.Filters) (domain.RetrievalResult, error) {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()
	s.mu.RLock()
	res, err := s.retriever.RetrieveVector(ctx, "", vec, k, filters)
	s.mu.RUnlock()
	if err != nil {
		return domain.RetrievalResult{}, deadline(ctx, err)
	}
	return res, nil
}

// Answer is the outcome of Ask.
type Answer struct {
	Text      string
	Generator string
	Retrieval domain.RetrievalResult
}

// Ask retrieves context for question and hands it to the generator.
func (s *RAGService) Ask(ctx context.Context, question string, k int, filters domain.Filters) (Answer, error) {
	if s.generator == nil {
		return Answer{}, fmt.Errorf("%w: no generator configured", domain.ErrInvalidConfig)
	}
	ctx, cancel := s.queryContext(ctx)
	defer cancel()
	res, err := s.retrieve(ctx, question, k, filters)
	if err != nil {
		return Answer{}, deadline(ctx, err)
	}
	text, err := s.generator.Generate(ctx, question, res)
	if err != nil {
		return Answer{}, deadline(ctx, fmt.Errorf("generate with %s: %w", s.generator.Name(), err))
	}
	return Answer{Text: text, Generator: s.generator.Name(), Retrieval: res}, nil
}

func (s *RAGService) Documents(ctx context.Context) ([]domain.DocumentInfo, error) {
	return s.store.ListDocuments(ctx)
}

// Document returns the summary of one persisted document.
func (s *RAGService) Document(ctx context.Context, id string) (domain.DocumentInfo, error) {
	return s.store.GetInfo(ctx, id)
}

// Chunks lists a document's chunks, failing with domain.ErrNotFound for
// unknown documents.
func (s *RAGService) Chunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	if _, err := s.store.GetInfo(ctx, documentID); err != nil {
		return nil, err
	}
	return s.store.ListChunks(ctx, documentID)
}

// Status summarizes the corpus.
type Status struct {
	Version     string
	Fingerprint string
	Stale       bool
	Documents   int
	Entries     int
}

func (s *RAGService) Status(ctx context.Context) (Status, error) {
	version, err := s.store.CorpusVersion(ctx)
	if err != nil {
		return Status{}, err
	}
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return Status{}, err
	}
	s.mu.RLock()
	stale := s.stale
	s.mu.RUnlock()
	return Status{
		Version:     version,
		Fingerprint: s.fingerprint,
		Stale:       stale,
		Documents:   len(docs),
		Entries:     s.index.Len(),
	}, nil
}

func (s *RAGService) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.QueryTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.QueryTimeout)
	}
	return context.WithCancel(ctx)
}

// deadline reports an expired context as domain.ErrTimedOut.
func deadline(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, domain.ErrTimedOut) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTimedOut, err)
	}
	return err
}
