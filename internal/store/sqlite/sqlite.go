// Package sqlite is the embedded Store backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dangattringer/rust-rag/internal/domain"
	"github.com/dangattringer/rust-rag/internal/store"
	"github.com/dangattringer/rust-rag/internal/vectorstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    format TEXT NOT NULL,
    content TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    chunk_count INTEGER NOT NULL,
    ingested_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    doc_id TEXT NOT NULL,
    idx INTEGER NOT NULL,
    start_off INTEGER NOT NULL,
    end_off INTEGER NOT NULL,
    token_count INTEGER NOT NULL,
    strategy TEXT NOT NULL,
    heading_path TEXT NOT NULL,
    text TEXT NOT NULL,
    embedding BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS chunks_doc_id ON chunks(doc_id, idx);
CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Store keeps everything in one SQLite file. Writes go through a single
// connection.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable wal: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) SaveDocument(ctx context.Context, doc domain.Document, chunks []domain.Chunk, entries []domain.IndexEntry) error {
	if err := store.CheckSave(doc, chunks, entries); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("delete chunks of %s: %w", doc.ID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents(id, format, content, content_hash, chunk_count, ingested_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			format = excluded.format,
			content = excluded.content,
			content_hash = excluded.content_hash,
			chunk_count = excluded.chunk_count,
			ingested_at = excluded.ingested_at`,
		doc.ID, string(doc.Format), doc.Content, store.ContentHash(doc.Content), len(chunks), time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks(id, doc_id, idx, start_off, end_off, token_count, strategy, heading_path, text, embedding)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, c := range chunks {
		path, err := json.Marshal(c.HeadingPath)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Index, c.Start, c.End, c.TokenCount, c.Strategy,
			string(path), c.Text, vectorstore.EncodeEmbedding(entries[i].Vector))
		if err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) DeleteDocument(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, id); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, tx.Commit()
}

const infoColumns = `id, format, content_hash, chunk_count, length(CAST(content AS BLOB)), ingested_at`

func scanInfo(row interface{ Scan(...any) error }) (domain.DocumentInfo, error) {
	var (
		info   domain.DocumentInfo
		format string
		at     int64
	)
	if err := row.Scan(&info.ID, &format, &info.ContentHash, &info.Chunks, &info.Bytes, &at); err != nil {
		return domain.DocumentInfo{}, err
	}
	info.Format = domain.Format(format)
	info.IngestedAt = time.Unix(0, at).UTC()
	return info, nil
}

func (s *Store) GetInfo(ctx context.Context, id string) (domain.DocumentInfo, error) {
	info, err := scanInfo(s.db.QueryRowContext(ctx, `SELECT `+infoColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DocumentInfo{}, fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
	}
	return info, err
}

func (s *Store) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	var (
		doc    domain.Document
		format string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, format, content FROM documents WHERE id = ?`, id).Scan(&doc.ID, &format, &doc.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Document{}, err
	}
	doc.Format = domain.Format(format)
	return doc, nil
}

func (s *Store) ListDocuments(ctx context.Context) ([]domain.DocumentInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+infoColumns+` FROM documents ORDER BY id`)
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

func scanChunk(row interface{ Scan(...any) error }) (domain.Chunk, error) {
	var (
		c    domain.Chunk
		path string
	)
	if err := row.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Start, &c.End, &c.TokenCount, &c.Strategy, &path, &c.Text); err != nil {
		return domain.Chunk{}, err
	}
	if err := json.Unmarshal([]byte(path), &c.HeadingPath); err != nil {
		return domain.Chunk{}, fmt.Errorf("chunk %s heading path: %w", c.ID, err)
	}
	return c, nil
}

func (s *Store) ListChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE doc_id = ? ORDER BY idx`, documentID)
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

// maxParams stays under SQLite's default bound variable limit.
const maxParams = 500

func (s *Store) GetChunks(ctx context.Context, ids []string) (map[string]domain.Chunk, error) {
	out := make(map[string]domain.Chunk, len(ids))
	for start := 0; start < len(ids); start += maxParams {
		batch := ids[start:min(start+maxParams, len(ids))]
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		rows, err := s.db.QueryContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			c, err := scanChunk(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out[c.ID] = c
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) LoadEntries(ctx context.Context, fn func(domain.IndexEntry) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, doc_id, embedding FROM chunks ORDER BY seq`)
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
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
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
