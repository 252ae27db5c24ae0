package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/dangattringer/rust-rag/internal/domain"
	"github.com/dangattringer/rust-rag/internal/store"
)

func fixture(docID string, n int) (domain.Document, []domain.Chunk, []domain.IndexEntry) {
	doc := domain.Document{ID: docID, Format: domain.FormatMarkdown, Content: "# Title\n\nbody of " + docID}
	chunks := make([]domain.Chunk, n)
	entries := make([]domain.IndexEntry, n)
	for i := range chunks {
		id := docID + "#" + string(rune('a'+i))
		chunks[i] = domain.Chunk{
			ID: id, DocumentID: docID, Index: i, Start: i, End: i + 1, TokenCount: 1,
			Strategy: "context_aware", HeadingPath: []string{"Title"}, Text: "x",
		}
		entries[i] = domain.IndexEntry{ID: id, DocumentID: docID, Vector: []float32{float32(i), 1}}
	}
	return doc, chunks, entries
}

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SaveAndList(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	doc, chunks, entries := fixture("b.md", 3)
	if err := s.SaveDocument(ctx, doc, chunks, entries); err != nil {
		t.Fatalf("SaveDocument failed: %v", err)
	}
	doc2, chunks2, entries2 := fixture("a.md", 1)
	if err := s.SaveDocument(ctx, doc2, chunks2, entries2); err != nil {
		t.Fatalf("SaveDocument failed: %v", err)
	}

	docs, err := s.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "a.md" || docs[1].Chunks != 3 {
		t.Fatalf("ListDocuments = %+v", docs)
	}
	if docs[1].ContentHash != store.ContentHash(doc.Content) || docs[1].Bytes != len(doc.Content) {
		t.Errorf("info = %+v", docs[1])
	}

	got, err := s.ListChunks(ctx, "b.md")
	if err != nil {
		t.Fatalf("ListChunks failed: %v", err)
	}
	if len(got) != 3 || got[2].Index != 2 || got[0].HeadingPath[0] != "Title" {
		t.Errorf("ListChunks = %+v", got)
	}

	byID, err := s.GetChunks(ctx, []string{"b.md#b", "a.md#a", "missing"})
	if err != nil {
		t.Fatalf("GetChunks failed: %v", err)
	}
	if len(byID) != 2 || byID["b.md#b"].Start != 1 {
		t.Errorf("GetChunks = %+v", byID)
	}

	var order []string
	err = s.LoadEntries(ctx, func(e domain.IndexEntry) error {
		order = append(order, e.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("LoadEntries failed: %v", err)
	}
	want := []string{"b.md#a", "b.md#b", "b.md#c", "a.md#a"}
	if len(order) != len(want) {
		t.Fatalf("LoadEntries = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("entry %d = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestStore_ReplaceDocument(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	doc, chunks, entries := fixture("d", 3)
	_ = s.SaveDocument(ctx, doc, chunks, entries)
	doc.Content = "changed"
	if err := s.SaveDocument(ctx, doc, chunks[:1], entries[:1]); err != nil {
		t.Fatalf("SaveDocument failed: %v", err)
	}
	info, err := s.GetInfo(ctx, "d")
	if err != nil {
		t.Fatalf("GetInfo failed: %v", err)
	}
	if info.Chunks != 1 || info.ContentHash != store.ContentHash("changed") {
		t.Errorf("info = %+v", info)
	}
	got, _ := s.ListChunks(ctx, "d")
	if len(got) != 1 {
		t.Errorf("expected old chunks removed, got %d", len(got))
	}
}

func TestStore_DeleteAndNotFound(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	doc, chunks, entries := fixture("d", 2)
	_ = s.SaveDocument(ctx, doc, chunks, entries)
	existed, err := s.DeleteDocument(ctx, "d")
	if err != nil || !existed {
		t.Fatalf("DeleteDocument = %v, %v", existed, err)
	}
	if existed, _ := s.DeleteDocument(ctx, "d"); existed {
		t.Error("second delete reported existing")
	}
	if _, err := s.GetInfo(ctx, "d"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetDocument(ctx, "d"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if chunks, _ := s.ListChunks(ctx, "d"); len(chunks) != 0 {
		t.Errorf("chunks survived delete: %d", len(chunks))
	}
}

func TestStore_RejectsMismatchedEntries(t *testing.T) {
	s := openMemory(t)
	doc, chunks, entries := fixture("d", 2)
	if err := s.SaveDocument(context.Background(), doc, chunks, entries[:1]); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestStore_CorpusVersion(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	empty, _ := s.CorpusVersion(ctx)
	doc, chunks, entries := fixture("d", 1)
	_ = s.SaveDocument(ctx, doc, chunks, entries)
	v1, _ := s.CorpusVersion(ctx)
	if v1 == empty {
		t.Error("version unchanged after ingest")
	}
	_ = s.SaveDocument(ctx, doc, chunks, entries)
	if v2, _ := s.CorpusVersion(ctx); v2 != v1 {
		t.Error("version changed for identical content")
	}
	if err := s.SetMeta(ctx, store.MetaFingerprint, "hashing/512/cosine"); err != nil {
		t.Fatalf("SetMeta failed: %v", err)
	}
	if v3, _ := s.CorpusVersion(ctx); v3 == v1 {
		t.Error("version unchanged after fingerprint change")
	}
	if fp, ok, _ := s.GetMeta(ctx, store.MetaFingerprint); !ok || fp != "hashing/512/cosine" {
		t.Errorf("GetMeta = %q, %v", fp, ok)
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "rag.db")
	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	doc, chunks, entries := fixture("d", 2)
	if err := s.SaveDocument(ctx, doc, chunks, entries); err != nil {
		t.Fatalf("SaveDocument failed: %v", err)
	}
	_ = s.Close()

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	n := 0
	_ = s.LoadEntries(ctx, func(e domain.IndexEntry) error {
		if len(e.Vector) != 2 {
			t.Errorf("entry %s has %d dims", e.ID, len(e.Vector))
		}
		n++
		return nil
	})
	if n != 2 {
		t.Errorf("loaded %d entries, want 2", n)
	}
}
