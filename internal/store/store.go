// Package store persists documents, their chunks and chunk embeddings so the
// vector index can be rebuilt after a restart.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/dangattringer/rust-rag/internal/domain"
)

// MetaFingerprint is the meta key holding the index fingerprint the stored
// embeddings were produced under.
const MetaFingerprint = "index_fingerprint"

// Store is the durable provenance and entry store. Implementations are safe
// for concurrent use.
type Store interface {
	domain.ChunkLookup

	// SaveDocument replaces everything stored for doc.ID with the given chunks
	// and their embeddings in one transaction. entries[i] belongs to chunks[i].
	SaveDocument(ctx context.Context, doc domain.Document, chunks []domain.Chunk, entries []domain.IndexEntry) error
	// DeleteDocument removes a document and its chunks, reporting whether it existed.
	DeleteDocument(ctx context.Context, id string) (bool, error)
	// GetInfo returns domain.ErrNotFound for unknown ids.
	GetInfo(ctx context.Context, id string) (domain.DocumentInfo, error)
	GetDocument(ctx context.Context, id string) (domain.Document, error)
	ListDocuments(ctx context.Context) ([]domain.DocumentInfo, error)
	// ListChunks returns a document's chunks ordered by chunk index.
	ListChunks(ctx context.Context, documentID string) ([]domain.Chunk, error)
	// LoadEntries calls fn for every stored entry in insertion order.
	LoadEntries(ctx context.Context, fn func(domain.IndexEntry) error) error
	GetMeta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error
	// CorpusVersion hashes the fingerprint and every (document id, content hash)
	// pair. It changes whenever a document is added, removed or altered, or the
	// index configuration changes.
	CorpusVersion(ctx context.Context) (string, error)
	Close() error
}

// ContentHash returns the hex SHA-256 of a document body.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Version computes the corpus version from a fingerprint and document list.
func Version(fingerprint string, docs []domain.DocumentInfo) string {
	sorted := append([]domain.DocumentInfo(nil), docs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	h := sha256.New()
	fmt.Fprintf(h, "%s\n", fingerprint)
	for _, d := range sorted {
		fmt.Fprintf(h, "%s\x00%s\n", d.ID, d.ContentHash)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CheckSave validates the arguments of SaveDocument.
func CheckSave(doc domain.Document, chunks []domain.Chunk, entries []domain.IndexEntry) error {
	if doc.ID == "" {
		return fmt.Errorf("%w: empty document id", domain.ErrInvalidConfig)
	}
	if len(chunks) != len(entries) {
		return fmt.Errorf("%w: %d chunks but %d entries for %s", domain.ErrInvalidConfig, len(chunks), len(entries), doc.ID)
	}
	for i, c := range chunks {
		if c.ID != entries[i].ID || c.DocumentID != doc.ID {
			return fmt.Errorf("%w: chunk %d of %s does not match its entry", domain.ErrInvalidConfig, i, doc.ID)
		}
	}
	return nil
}
