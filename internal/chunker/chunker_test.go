package chunker

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/dangattringer/rust-rag/internal/domain"
	"github.com/dangattringer/rust-rag/internal/segment"
)

// words returns "w<from> ... w<to-1>" separated by spaces.
func words(from, to int) string {
	parts := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		parts = append(parts, fmt.Sprintf("w%d", i))
	}
	return strings.Join(parts, " ")
}

func threeParagraphs() domain.Document {
	content := words(0, 100) + "\n\n" + words(100, 200) + "\n\n" + words(200, 300) + "\n"
	return domain.Document{ID: "guide.txt", Format: domain.FormatPlain, Content: content}
}

const markdownSample = `# Serde

Serde is a framework for serializing and deserializing Rust data structures efficiently and generically.

## Derive

Add the derive feature. Then annotate your structs with the derive macros. It works for enums too.

### Attributes

Container attributes change how a struct is serialized. Field attributes change a single field.

## Formats

JSON, YAML and many more formats are supported by community crates.
`

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Strategy: FixedToken, MaxTokens: 100, OverlapTokens: 20}, false},
		{"zero max", Config{Strategy: FixedToken, MaxTokens: 0}, true},
		{"negative overlap", Config{Strategy: FixedToken, MaxTokens: 10, OverlapTokens: -1}, true},
		{"overlap equals max", Config{Strategy: FixedToken, MaxTokens: 10, OverlapTokens: 10}, true},
		{"unknown strategy", Config{Strategy: Strategy(42), MaxTokens: 10}, true},
		{"empty separator", Config{Strategy: Recursive, MaxTokens: 10, Separators: []string{"\n\n", ""}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidConfig) {
					t.Errorf("expected ErrInvalidConfig, got %v", err)
				}
				if _, err := New(tt.cfg); err == nil {
					t.Error("New accepted an invalid config")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestParseStrategy(t *testing.T) {
	for name, want := range map[string]Strategy{
		"fixed_token":   FixedToken,
		"FixedToken":    FixedToken,
		"sentence":      Sentence,
		"Paragraph":     Paragraph,
		"recursive":     Recursive,
		"context-aware": ContextAware,
	} {
		got, err := ParseStrategy(name)
		if err != nil || got != want {
			t.Errorf("ParseStrategy(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseStrategy("semantic"); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestFixedToken_ThreeHundredTokens(t *testing.T) {
	doc := threeParagraphs()
	chunks, err := Chunk(doc, Config{Strategy: FixedToken, MaxTokens: 100, OverlapTokens: 20})
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}

	wantTokens := []int{100, 100, 100, 60}
	wantFirst := []string{"w0 ", "w80 ", "w160 ", "w240 "}
	for i, c := range chunks {
		if c.TokenCount != wantTokens[i] {
			t.Errorf("chunk %d: tokens = %d, want %d", i, c.TokenCount, wantTokens[i])
		}
		if c.TokenCount > 100 {
			t.Errorf("chunk %d exceeds max_tokens", i)
		}
		if !strings.HasPrefix(c.Text, wantFirst[i]) {
			t.Errorf("chunk %d starts with %q, want prefix %q", i, c.Text[:8], wantFirst[i])
		}
		if c.Strategy != "fixed_token" || c.Index != i || c.DocumentID != doc.ID {
			t.Errorf("chunk %d metadata = %+v", i, c)
		}
	}
	for i := 1; i < len(chunks); i++ {
		shared := doc.Content[chunks[i].Start:chunks[i-1].End]
		if n := segment.CountTokens(shared); n != 20 {
			t.Errorf("chunks %d and %d share %d tokens, want 20", i-1, i, n)
		}
	}
}

func TestChunk_CoverageAllStrategies(t *testing.T) {
	docs := []domain.Document{
		{ID: "serde.md", Format: domain.FormatMarkdown, Content: markdownSample},
		threeParagraphs(),
	}
	for _, s := range []Strategy{FixedToken, Sentence, Paragraph, Recursive, ContextAware} {
		for _, doc := range docs {
			t.Run(s.String()+"/"+doc.ID, func(t *testing.T) {
				cfg := Config{Strategy: s, MaxTokens: 24, OverlapTokens: 4}
				chunks, err := Chunk(doc, cfg)
				if err != nil {
					t.Fatalf("Chunk failed: %v", err)
				}
				if len(chunks) == 0 {
					t.Fatal("no chunks")
				}
				if chunks[0].Start != 0 {
					t.Errorf("first chunk starts at %d", chunks[0].Start)
				}
				if last := chunks[len(chunks)-1]; last.End != len(doc.Content) {
					t.Errorf("last chunk ends at %d, want %d", last.End, len(doc.Content))
				}
				for i, c := range chunks {
					if c.Start < 0 || c.End <= c.Start {
						t.Errorf("chunk %d has invalid span [%d,%d)", i, c.Start, c.End)
					}
					if c.Text != doc.Content[c.Start:c.End] {
						t.Errorf("chunk %d text does not match its span", i)
					}
					if i > 0 && c.Start > chunks[i-1].End {
						t.Errorf("gap between chunk %d and %d", i-1, i)
					}
					if i > 0 && c.Start < chunks[i-1].Start {
						t.Errorf("chunk %d starts before chunk %d", i, i-1)
					}
					if s != Sentence && c.TokenCount > cfg.MaxTokens {
						t.Errorf("chunk %d has %d tokens, max %d", i, c.TokenCount, cfg.MaxTokens)
					}
				}
			})
		}
	}
}

func TestChunk_Deterministic(t *testing.T) {
	doc := domain.Document{ID: "serde.md", Format: domain.FormatMarkdown, Content: markdownSample}
	for _, s := range []Strategy{FixedToken, Sentence, Paragraph, Recursive, ContextAware} {
		cfg := Config{Strategy: s, MaxTokens: 16, OverlapTokens: 3}
		first, err := Chunk(doc, cfg)
		if err != nil {
			t.Fatalf("%s: Chunk failed: %v", s, err)
		}
		second, _ := Chunk(doc, cfg)
		if !reflect.DeepEqual(first, second) {
			t.Errorf("%s: chunking is not deterministic", s)
		}
	}
}

func TestSentence_AlignsToSentences(t *testing.T) {
	content := "One two three. Four five six seven. Eight nine. Ten eleven twelve thirteen fourteen."
	doc := domain.Document{ID: "s.txt", Format: domain.FormatPlain, Content: content}
	chunks, err := Chunk(doc, Config{Strategy: Sentence, MaxTokens: 9})
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	want := []string{"One two three. Four five six seven. ", "Eight nine. Ten eleven twelve thirteen fourteen."}
	var got []string
	for _, c := range chunks {
		got = append(got, c.Text)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("chunks = %q, want %q", got, want)
	}
}

func TestParagraph_FixedFallback(t *testing.T) {
	doc := domain.Document{ID: "p.txt", Format: domain.FormatPlain, Content: words(0, 25)}
	chunks, err := Chunk(doc, Config{Strategy: Paragraph, MaxTokens: 10, OverlapTokens: 2})
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, want := range []string{"w0 ", "w8 ", "w16 "} {
		if !strings.HasPrefix(chunks[i].Text, want) {
			t.Errorf("chunk %d = %q, want prefix %q", i, chunks[i].Text, want)
		}
	}
}

func TestRecursive_DescendsIntoSentences(t *testing.T) {
	content := "Alpha beta gamma delta.\n\n" +
		"One two three four five. Six seven eight nine ten. Eleven twelve thirteen fourteen fifteen."
	doc := domain.Document{ID: "r.txt", Format: domain.FormatPlain, Content: content}
	chunks, err := Chunk(doc, Config{Strategy: Recursive, MaxTokens: 10})
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	want := []string{
		"Alpha beta gamma delta.",
		"One two three four five.",
		"Six seven eight nine ten.",
		"Eleven twelve thirteen fourteen fifteen.",
	}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, c := range chunks {
		if strings.TrimSpace(c.Text) != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, c.Text, want[i])
		}
	}
}

func TestRecursive_Separators(t *testing.T) {
	doc := domain.Document{ID: "sep.txt", Format: domain.FormatPlain, Content: "a b c; d e f; g h"}
	chunks, err := Chunk(doc, Config{Strategy: Recursive, MaxTokens: 4, Separators: []string{";"}})
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	var got []string
	for _, c := range chunks {
		got = append(got, c.Text)
	}
	want := []string{"a b c;", " d e f;", " g h"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("chunks = %q, want %q", got, want)
	}
}

func TestContextAware_HeadingPaths(t *testing.T) {
	content := "# Guide\n\nIntro.\n\n## Install\n\nRun cargo add.\n\n## Usage\n\nCall it.\n"
	doc := domain.Document{ID: "g.md", Format: domain.FormatMarkdown, Content: content}
	chunks, err := Chunk(doc, Config{Strategy: ContextAware, MaxTokens: 50})
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	want := [][]string{{"Guide"}, {"Guide", "Install"}, {"Guide", "Usage"}}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, c := range chunks {
		if !reflect.DeepEqual(c.HeadingPath, want[i]) {
			t.Errorf("chunk %d heading path = %q, want %q", i, c.HeadingPath, want[i])
		}
	}
	if !strings.HasPrefix(chunks[1].Text, "## Install") {
		t.Errorf("section chunk should start at its heading, got %q", chunks[1].Text)
	}
}

func TestChunk_MalformedInputDegrades(t *testing.T) {
	doc := domain.Document{ID: "bad.txt", Format: domain.FormatPlain, Content: "valid words \xff more words here"}
	chunks, err := Chunk(doc, Config{Strategy: Recursive, MaxTokens: 3})
	if !errors.Is(err, domain.ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 fallback chunks, got %d", len(chunks))
	}
	if chunks[len(chunks)-1].End != len(doc.Content) {
		t.Error("fallback chunks do not cover the document")
	}
}

func TestChunk_EmptyDocument(t *testing.T) {
	chunks, err := Chunk(domain.Document{ID: "empty.txt", Content: " \n\n "}, Config{Strategy: FixedToken, MaxTokens: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks, got %d", len(chunks))
	}
}

func TestChunkID(t *testing.T) {
	a := ChunkID("doc", 0, 10)
	if a != ChunkID("doc", 0, 10) {
		t.Error("ChunkID is not stable")
	}
	if a == ChunkID("doc", 0, 11) || a == ChunkID("doc2", 0, 10) {
		t.Error("ChunkID collides for different spans or documents")
	}
	if len(a) != 16 {
		t.Errorf("ChunkID length = %d, want 16", len(a))
	}
}
