package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dangattringer/rust-rag/internal/api"
	"github.com/dangattringer/rust-rag/internal/domain"
)

type cli struct {
	t      *testing.T
	config string
	docs   string
}

func newCLI(t *testing.T, chunker string) cli {
	t.Helper()
	dir := t.TempDir()
	docs := filepath.Join(dir, "docs")
	if err := os.MkdirAll(docs, 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"runtime.md": "# Runtime\n\nThe tokio runtime drives asynchronous tasks to completion.\n\nIt owns a scheduler.",
		"serde.md":   "# Serde\n\nSerde serializes and deserializes Rust data structures.",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(docs, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cfg := fmt.Sprintf(`
embedder:
  type: hashing
  dimension: 64
%s
storage:
  type: sqlite
  path: %s
cache:
  type: none
log:
  level: error
  format: json
`, chunker, filepath.Join(dir, "rag.db"))
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return cli{t: t, config: path, docs: docs}
}

const paragraphChunker = `chunker:
  strategy: paragraph
  max_tokens: 64
  overlap_tokens: 0`

func (c cli) run(args ...string) (int, string, string) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), append([]string{"--config", c.config}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Usage(t *testing.T) {
	var out bytes.Buffer
	if code := run(context.Background(), nil, &out, &out); code != exitUsage {
		t.Errorf("no args: code = %d", code)
	}
	if code := run(context.Background(), []string{"frobnicate"}, &out, &out); code != exitUsage {
		t.Errorf("unknown command: code = %d", code)
	}
	c := newCLI(t, paragraphChunker)
	if code, _, _ := c.run("query"); code != exitUsage {
		t.Errorf("query without text: code = %d", code)
	}
	if code, _, _ := c.run("chunks"); code != exitUsage {
		t.Errorf("chunks without id: code = %d", code)
	}
	if code, _, _ := c.run("query", "--k", "x", "text"); code != exitUsage {
		t.Errorf("bad flag: code = %d", code)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	c := newCLI(t, `chunker:
  strategy: fixed_token
  max_tokens: 10
  overlap_tokens: 10`)
	if code, _, stderr := c.run("status"); code != exitUsage {
		t.Errorf("code = %d, stderr %s", code, stderr)
	}
}

func TestRun_EmptyIndexAndFetchErrors(t *testing.T) {
	c := newCLI(t, paragraphChunker)
	if code, _, stderr := c.run("query", "anything"); code != exitEmptyIndex {
		t.Errorf("query on empty corpus: code = %d, stderr %s", code, stderr)
	}
	if code, _, _ := c.run("ingest", filepath.Join(c.docs, "missing.md")); code != exitFetch {
		t.Errorf("ingest of missing file: code = %d", code)
	}
}

func TestRun_IngestQueryInspect(t *testing.T) {
	c := newCLI(t, paragraphChunker)

	code, out, stderr := c.run("ingest", c.docs)
	if code != exitOK {
		t.Fatalf("ingest: code = %d, stderr %s", code, stderr)
	}
	if !strings.Contains(out, "succeeded 2, unchanged 0, failed 0") {
		t.Errorf("ingest output = %q", out)
	}

	// Second run over the same content changes nothing.
	code, out, _ = c.run("ingest", c.docs)
	if code != exitOK || !strings.Contains(out, "succeeded 0, unchanged 2") {
		t.Errorf("re-ingest: code = %d, output %q", code, out)
	}

	code, out, stderr = c.run("query", "tokio", "runtime", "--k", "1")
	if code != exitOK {
		t.Fatalf("query: code = %d, stderr %s", code, stderr)
	}
	if !strings.Contains(out, "runtime.md") || strings.Contains(out, "serde.md") {
		t.Errorf("query output = %q", out)
	}

	code, out, _ = c.run("docs", "--json")
	if code != exitOK {
		t.Fatalf("docs: code = %d", code)
	}
	var docs []api.DocumentResponse
	if err := json.Unmarshal([]byte(out), &docs); err != nil {
		t.Fatalf("docs json: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}

	var runtimeID string
	for _, d := range docs {
		if strings.HasSuffix(d.ID, "runtime.md") {
			runtimeID = d.ID
		}
	}
	code, out, _ = c.run("chunks", runtimeID)
	if code != exitOK || !strings.Contains(out, "scheduler") {
		t.Errorf("chunks: code = %d, output %q", code, out)
	}
	if code, _, _ := c.run("chunks", "nope.md"); code != exitError {
		t.Errorf("chunks of unknown document: code = %d", code)
	}

	code, out, _ = c.run("ask", "what drives asynchronous tasks?")
	if code != exitOK || strings.TrimSpace(out) == "" {
		t.Errorf("ask: code = %d, output %q", code, out)
	}

	code, out, _ = c.run("status")
	if code != exitOK || !strings.Contains(out, "stale:          false") || !strings.Contains(out, "documents:      2") {
		t.Errorf("status: code = %d, output %q", code, out)
	}
}

func TestRun_ChunkerChangeMarksStale(t *testing.T) {
	c := newCLI(t, paragraphChunker)
	if code, _, stderr := c.run("ingest", c.docs); code != exitOK {
		t.Fatalf("ingest: code = %d, stderr %s", code, stderr)
	}
	raw, err := os.ReadFile(c.config)
	if err != nil {
		t.Fatal(err)
	}
	changed := strings.Replace(string(raw), "strategy: paragraph", "strategy: sentence", 1)
	if err := os.WriteFile(c.config, []byte(changed), 0o644); err != nil {
		t.Fatal(err)
	}
	code, out, _ := c.run("status")
	if code != exitOK || !strings.Contains(out, "stale:          true") {
		t.Errorf("status after config change: code = %d, output %q", code, out)
	}
	if code, _, _ := c.run("query", "runtime"); code != exitEmptyIndex {
		t.Errorf("stale corpus should not be queried: code = %d", code)
	}
	if code, out, _ := c.run("ingest", c.docs); code != exitOK || !strings.Contains(out, "succeeded 2") {
		t.Errorf("rebuild: code = %d, output %q", code, out)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{usageError{"x"}, exitUsage},
		{domain.ErrInvalidConfig, exitUsage},
		{fmt.Errorf("wrap: %w", domain.ErrFetch), exitFetch},
		{domain.ErrEmbeddingUnavailable, exitEmbeddingUnavailable},
		{domain.ErrEmptyIndex, exitEmptyIndex},
		{fmt.Errorf("%w: %w", domain.ErrTimedOut, domain.ErrEmbeddingUnavailable), exitTimedOut},
		{errors.New("boom"), exitError},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
