// Package postgres is the server Store backed by pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dangattringer/rust-rag/internal/domain"
	"github.com/dangattringer/rust-rag/internal/store"
	"github.com/dangattringer/rust-rag/internal/vectorstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS rag_documents (
    id TEXT PRIMARY KEY,
    format TEXT NOT NULL,
    content TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    chunk_count INTEGER NOT NULL,
    ingested_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS rag_chunks (
    seq BIGSERIAL PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    doc_id TEXT NOT NULL REFERENCES rag_documents(id) ON DELETE CASCADE,
    idx INTEGER NOT NULL,
    start_off INTEGER NOT NULL,
    end_off INTEGER NOT NULL,
    token_count INTEGER NOT NULL,
    strategy TEXT NOT NULL,
    heading_path TEXT[] NOT NULL,
    text TEXT NOT NULL,
    embedding BYTEA NOT NULL
);
CREATE INDEX IF NOT EXISTS rag_chunks_doc_id ON rag_chunks(doc_id, idx);
CREATE TABLE IF NOT EXISTS rag_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn, pings and creates the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) SaveDocument(ctx context.Context, doc domain.Document, chunks []domain.Chunk, entries []domain.IndexEntry) error {
	if err := store.CheckSave(doc, chunks, entries); err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO rag_documents(id, format, content, content_hash, chunk_count, ingested_at)
		VALUES($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			format = EXCLUDED.format,
			content = EXCLUDED.content,
			content_hash = EXCLUDED.content_hash,
			chunk_count = EXCLUDED.chunk_count,
			ingested_at = EXCLUDED.ingested_at`,
		doc.ID, string(doc.Format), doc.Content, store.ContentHash(doc.Content), len(chunks), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM rag_chunks WHERE doc_id = $1`, doc.ID); err != nil {
		return fmt.Errorf("delete chunks of %s: %w", doc.ID, err)
	}

	batch := &pgx.Batch{}
	for i, c := range chunks {
		path := c.HeadingPath
		if path == nil {
			path = []string{}
		}
		batch.Queue(`
			INSERT INTO rag_chunks(id, doc_id, idx, start_off, end_off, token_count, strategy, heading_path, text, embedding)
			VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			c.ID, c.DocumentID, c.Index, c.Start, c.End, c.TokenCount, c.Strategy, path, c.Text,
			vectorstore.EncodeEmbedding(entries[i].Vector))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert chunks of %s: %w", doc.ID, err)
	}
	return tx.Commit(ctx)
}

func (s *Store) DeleteDocument(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rag_documents WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const infoColumns = `id, format, content_hash, chunk_count, octet_length(content), ingested_at`

func scanInfo(row pgx.Row) (domain.DocumentInfo, error) {
	var (
		info   domain.DocumentInfo
		format string
	)
	if err := row.Scan(&info.ID, &format, &info.ContentHash, &info.Chunks, &info.Bytes, &info.IngestedAt); err != nil {
		return domain.DocumentInfo{}, err
	}
	info.Format = domain.Format(format)
	info.IngestedAt = info.IngestedAt.UTC()
	return info, nil
}

func (s *Store) GetInfo(ctx context.Context, id string) (domain.DocumentInfo, error) {
	info, err := scanInfo(s.pool.QueryRow(ctx, `SELECT `+infoColumns+` FROM rag_documents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DocumentInfo{}, fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
	}
	return info, err
}

func (s *Store) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	var (
		doc    domain.Document
		format string
	)
	err := s.pool.QueryRow(ctx, `SELECT id, format, content FROM rag_documents WHERE id = $1`, id).Scan(&doc.ID, &format, &doc.Content)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Document{}, fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Document{}, err
	}
	doc.Format = domain.Format(format)
	return doc, nil
}

func (s *Store) ListDocuments(ctx context.Context) ([]domain.DocumentInfo, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+infoColumns+` FROM rag_documents ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.DocumentInfo
	for rows.Next() {
		info, err := scanInfo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

const chunkColumns = `id, doc_id, idx, start_off, end_off, token_count, strategy, heading_path, text`

func scanChunk(row pgx.Row) (domain.Chunk, error) {
	var c domain.Chunk
	err := row.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Start, &c.End, &c.TokenCount, &c.Strategy, &c.HeadingPath, &c.Text)
	return c, err
}

func (s *Store) ListChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+chunkColumns+` FROM rag_chunks WHERE doc_id = $1 ORDER BY idx`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetChunks(ctx context.Context, ids []string) (map[string]domain.Chunk, error) {
	out := make(map[string]domain.Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+chunkColumns+` FROM rag_chunks WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

func (s *Store) LoadEntries(ctx context.Context, fn func(domain.IndexEntry) error) error {
	rows, err := s.pool.Query(ctx, `SELECT id, doc_id, embedding FROM rag_chunks ORDER BY seq`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e    domain.IndexEntry
			blob []byte
		)
		if err := rows.Scan(&e.ID, &e.DocumentID, &blob); err != nil {
			return err
		}
		if e.Vector, err = vectorstore.DecodeEmbedding(blob); err != nil {
			return fmt.Errorf("chunk %s: %w", e.ID, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.pool.QueryRow(ctx, `SELECT value FROM rag_meta WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO rag_meta(key, value) VALUES($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return err
}

func (s *Store) CorpusVersion(ctx context.Context) (string, error) {
	fp, _, err := s.GetMeta(ctx, store.MetaFingerprint)
	if err != nil {
		return "", err
	}
	docs, err := s.ListDocuments(ctx)
	if err != nil {
		return "", err
	}
	return store.Version(fp, docs), nil
}
