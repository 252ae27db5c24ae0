package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dangattringer/rust-rag/internal/domain"
	"github.com/dangattringer/rust-rag/internal/store"
)

// Stage is a step of the ingest flow.
type Stage string

const (
	StageFetching  Stage = "fetching"
	StageChunking  Stage = "chunking"
	StageEmbedding Stage = "embedding"
	StageIndexing  Stage = "indexing"
)

// Failure records why one document (or source identifier, for fetch
// failures) was not ingested.
type Failure struct {
	DocumentID string `json:"document_id"`
	Stage      Stage  `json:"stage"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

// Warning is a recoverable problem; the document was still ingested.
type Warning struct {
	DocumentID string `json:"document_id"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
}

// IngestSummary reports the outcome of one ingest run, in input order.
type IngestSummary struct {
	RunID     string        `json:"run_id"`
	Documents int           `json:"documents"`
	Chunks    int           `json:"chunks"`
	Succeeded []string      `json:"succeeded"`
	Unchanged []string      `json:"unchanged"`
	Failed    []Failure     `json:"failed"`
	Warnings  []Warning     `json:"warnings"`
	Duration  time.Duration `json:"duration"`
}

// Err returns the first failure, or nil when every document made it.
func (s *IngestSummary) Err() error {
	if len(s.Failed) == 0 {
		return nil
	}
	return s.Failed[0].Err
}

const (
	statusSucceeded = "succeeded"
	statusUnchanged = "unchanged"
)

type outcome struct {
	status  string
	chunks  int
	failure *Failure
	warning *Warning
}

func fail(docID string, stage Stage, err error) outcome {
	return outcome{failure: &Failure{DocumentID: docID, Stage: stage, Kind: domain.Kind(err), Message: err.Error(), Err: err}}
}

// IngestSources fetches every identifier from src and ingests the result as
// one run. A failed fetch is reported against its identifier.
func (s *RAGService) IngestSources(ctx context.Context, src domain.Source, identifiers []string) (*IngestSummary, error) {
	start := time.Now()
	var (
		docs    []domain.Document
		fetches []outcome
	)
	for _, id := range identifiers {
		fetched, err := src.Fetch(ctx, id)
		if err != nil {
			s.logger.Error().Err(err).Str("source", id).Str("stage", string(StageFetching)).Str("kind", domain.Kind(err)).Msg("Fetch failed")
			fetches = append(fetches, fail(id, StageFetching, deadline(ctx, err)))
			continue
		}
		s.logger.Debug().Str("source", id).Int("documents", len(fetched)).Msg("Fetched")
		docs = append(docs, fetched...)
	}
	summary, err := s.Ingest(ctx, docs)
	for _, o := range fetches {
		summary.Failed = append(summary.Failed, *o.failure)
	}
	summary.Duration = time.Since(start)
	return summary, err
}

// Ingest chunks, embeds and indexes docs. Documents are processed
// concurrently up to Options.Workers; a failure only drops its own document.
// The returned error is non-nil only when the run as a whole was cut short by
// ctx, in which case it wraps domain.ErrTimedOut or context.Canceled.
func (s *RAGService) Ingest(ctx context.Context, docs []domain.Document) (*IngestSummary, error) {
	start := time.Now()
	summary := &IngestSummary{RunID: uuid.NewString(), Documents: len(docs)}
	log := s.logger.With().Str("run_id", summary.RunID).Logger()

	if _, err := s.Refresh(ctx); err != nil {
		return summary, deadline(ctx, fmt.Errorf("refresh index: %w", err))
	}
	if err := s.rebuildIfStale(ctx); err != nil {
		return summary, deadline(ctx, err)
	}

	outcomes := make([]outcome, len(docs))
	seen := make(map[string]int, len(docs))
	g := new(errgroup.Group)
	g.SetLimit(s.opts.Workers)
	for i, doc := range docs {
		if first, dup := seen[doc.ID]; dup {
			outcomes[i] = fail(doc.ID, StageFetching, fmt.Errorf("%w: document %s appears twice in the batch (first at %d)", domain.ErrDuplicateID, doc.ID, first))
			continue
		}
		seen[doc.ID] = i
		g.Go(func() error {
			outcomes[i] = s.ingestOne(ctx, doc)
			return nil
		})
	}
	_ = g.Wait()
	if err := s.syncVersion(context.WithoutCancel(ctx)); err != nil {
		log.Warn().Err(err).Msg("Could not record corpus version")
	}

	for i, o := range outcomes {
		if o.warning != nil {
			summary.Warnings = append(summary.Warnings, *o.warning)
		}
		switch {
		case o.failure != nil:
			f := *o.failure
			log.Error().Err(f.Err).Str("doc_id", f.DocumentID).Str("stage", string(f.Stage)).Str("kind", f.Kind).Msg("Document ingest failed")
			summary.Failed = append(summary.Failed, f)
		case o.status == statusUnchanged:
			summary.Unchanged = append(summary.Unchanged, docs[i].ID)
		default:
			summary.Succeeded = append(summary.Succeeded, docs[i].ID)
			summary.Chunks += o.chunks
		}
	}
	summary.Duration = time.Since(start)

	log.Info().
		Int("documents", summary.Documents).
		Int("succeeded", len(summary.Succeeded)).
		Int("unchanged", len(summary.Unchanged)).
		Int("failed", len(summary.Failed)).
		Int("chunks", summary.Chunks).
		Dur("duration", summary.Duration).
		Msg("Ingest finished")

	if err := ctx.Err(); err != nil {
		return summary, deadline(ctx, fmt.Errorf("ingest interrupted: %w", err))
	}
	return summary, nil
}

func (s *RAGService) ingestOne(ctx context.Context, doc domain.Document) outcome {
	log := s.logger.With().Str("doc_id", doc.ID).Logger()
	if err := ctx.Err(); err != nil {
		return fail(doc.ID, StageChunking, err)
	}

	hash := store.ContentHash(doc.Content)
	info, err := s.store.GetInfo(ctx, doc.ID)
	switch {
	case err == nil && info.ContentHash == hash:
		log.Debug().Msg("Unchanged, skipping")
		return outcome{status: statusUnchanged, chunks: info.Chunks}
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return fail(doc.ID, StageIndexing, err)
	}

	log.Debug().Str("stage", string(StageChunking)).Msg("Stage")
	var warning *Warning
	chunks, err := s.chunker.Chunk(doc)
	if err != nil {
		if !errors.Is(err, domain.ErrMalformedInput) || len(chunks) == 0 {
			return fail(doc.ID, StageChunking, err)
		}
		log.Warn().Err(err).Msg("Malformed input, chunked with fallback tokenization")
		warning = &Warning{DocumentID: doc.ID, Kind: domain.Kind(err), Message: err.Error()}
	}

	log.Debug().Str("stage", string(StageEmbedding)).Int("chunks", len(chunks)).Msg("Stage")
	entries := make([]domain.IndexEntry, len(chunks))
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vecs, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			o := fail(doc.ID, StageEmbedding, deadline(ctx, err))
			o.warning = warning
			return o
		}
		for i, c := range chunks {
			entries[i] = domain.IndexEntry{ID: c.ID, DocumentID: doc.ID, Vector: vecs[i]}
		}
	}

	log.Debug().Str("stage", string(StageIndexing)).Msg("Stage")
	if err := s.replace(ctx, doc, chunks, entries); err != nil {
		o := fail(doc.ID, StageIndexing, deadline(ctx, err))
		o.warning = warning
		return o
	}
	return outcome{status: statusSucceeded, chunks: len(chunks), warning: warning}
}

// replace swaps a document's stored and indexed entries. The index lock is
// held across both so no query resolves an old id after its rows are gone.
func (s *RAGService) replace(ctx context.Context, doc domain.Document, chunks []domain.Chunk, entries []domain.IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	for _, e := range entries {
		if err := checkVector(e, s.index.Dimension()); err != nil {
			return err
		}
	}
	old, err := s.store.ListChunks(ctx, doc.ID)
	if err != nil {
		return err
	}
	if err := s.store.SaveDocument(ctx, doc, chunks, entries); err != nil {
		return err
	}
	oldIDs := make([]string, len(old))
	for i, c := range old {
		oldIDs[i] = c.ID
	}
	s.index.Delete(oldIDs...)
	if err := s.index.Insert(entries...); err != nil {
		// Keep store and index consistent: the document is dropped from both.
		if _, derr := s.store.DeleteDocument(context.WithoutCancel(ctx), doc.ID); derr != nil {
			s.logger.Error().Err(derr).Str("doc_id", doc.ID).Msg("Rollback of stored document failed")
		}
		return err
	}
	return nil
}

func checkVector(e domain.IndexEntry, dim int) error {
	if len(e.Vector) != dim {
		return fmt.Errorf("%w: chunk %s has %d dimensions, index has %d", domain.ErrDimensionMismatch, e.ID, len(e.Vector), dim)
	}
	return nil
}

// rebuildIfStale drops a corpus stored under an old fingerprint before new
// documents are written next to it.
func (s *RAGService) rebuildIfStale(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stale {
		return nil
	}
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return err
	}
	for _, d := range docs {
		if _, err := s.store.DeleteDocument(ctx, d.ID); err != nil {
			return fmt.Errorf("drop stale document %s: %w", d.ID, err)
		}
	}
	if err := s.store.SetMeta(ctx, store.MetaFingerprint, s.fingerprint); err != nil {
		return err
	}
	s.logger.Warn().Int("dropped", len(docs)).Msg("Dropped stale corpus")
	s.stale = false
	return nil
}

// syncVersion records the corpus version after this process's own writes so
// Refresh does not reload them.
func (s *RAGService) syncVersion(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	version, err := s.store.CorpusVersion(ctx)
	if err != nil {
		return err
	}
	s.version = version
	return nil
}
