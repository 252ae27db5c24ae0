package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dangattringer/rust-rag/internal/chunker"
	"github.com/dangattringer/rust-rag/internal/domain"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Embedder.Type != "hashing" || cfg.Embedder.Dimension != 512 {
		t.Fatalf("embedder defaults = %+v", cfg.Embedder)
	}
	if cfg.Chunker.MaxTokens != 256 || cfg.Chunker.OverlapTokens != 32 {
		t.Fatalf("chunker defaults = %+v", cfg.Chunker)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Fatalf("top_k = %d, want 5", cfg.Retrieval.TopK)
	}
	if cfg.Server.RefreshSecs != 10 {
		t.Fatalf("refresh_secs = %d, want 10", cfg.Server.RefreshSecs)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoad_YAMLAndTOML(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "config.yaml",
			content: `
embedder:
  type: openai
  openai:
    model: text-embedding-3-large
    dimension: 3072
chunker:
  strategy: sentence
  max_tokens: 128
  overlap_tokens: 0
vector_store:
  type: vptree
  metric: euclidean
storage:
  type: sqlite
  path: /tmp/x.db
retrieval:
  top_k: 7
  min_score: 0.25
`,
		},
		{
			name: "toml",
			file: "config.toml",
			content: `
[embedder]
type = "openai"
[embedder.openai]
model = "text-embedding-3-large"
dimension = 3072

[chunker]
strategy = "sentence"
max_tokens = 128
overlap_tokens = 0

[vector_store]
type = "vptree"
metric = "euclidean"

[storage]
type = "sqlite"
path = "/tmp/x.db"

[retrieval]
top_k = 7
min_score = 0.25
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Embedder.OpenAI == nil || cfg.Embedder.OpenAI.Model != "text-embedding-3-large" {
				t.Fatalf("openai = %+v", cfg.Embedder.OpenAI)
			}
			if cfg.Embedder.OpenAI.APIKeyEnv != "OPENAI_API_KEY" {
				t.Errorf("api_key_env default not applied: %q", cfg.Embedder.OpenAI.APIKeyEnv)
			}
			if cfg.Chunker.Strategy != "sentence" || cfg.Chunker.MaxTokens != 128 || cfg.Chunker.OverlapTokens != 0 {
				t.Errorf("chunker = %+v", cfg.Chunker)
			}
			if cfg.VectorStore.Type != "vptree" || cfg.VectorStore.Metric != "euclidean" {
				t.Errorf("vector_store = %+v", cfg.VectorStore)
			}
			if cfg.Retrieval.TopK != 7 || cfg.Retrieval.MinScore == nil || *cfg.Retrieval.MinScore != 0.25 {
				t.Errorf("retrieval = %+v", cfg.Retrieval)
			}
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

func TestLoad_ParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("chunker: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("Load() error = %v, want ErrInvalidConfig", err)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	for _, name := range []string{"out.yaml", "out.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := defaultConfig()
			cfg.Retrieval.TopK = 11
			cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}
			if err := Save(path, cfg); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if got.Retrieval.TopK != 11 {
				t.Errorf("top_k = %d, want 11", got.Retrieval.TopK)
			}
			if len(got.Server.AllowedOrigins) != 1 || got.Server.AllowedOrigins[0] != "http://localhost:3000" {
				t.Errorf("allowed_origins = %v", got.Server.AllowedOrigins)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"unknown embedder", func(c *AppConfig) { c.Embedder.Type = "word2vec" }},
		{"unknown strategy", func(c *AppConfig) { c.Chunker.Strategy = "semantic" }},
		{"overlap too large", func(c *AppConfig) { c.Chunker.OverlapTokens = c.Chunker.MaxTokens }},
		{"vptree with dot product", func(c *AppConfig) {
			c.VectorStore.Type = "vptree"
			c.VectorStore.Metric = "dot_product"
		}},
		{"bad metric", func(c *AppConfig) { c.VectorStore.Metric = "manhattan" }},
		{"zero top_k", func(c *AppConfig) { c.Retrieval.TopK = 0 }},
		{"bad jitter", func(c *AppConfig) { c.Retry.Jitter = 2 }},
		{"unknown cache", func(c *AppConfig) { c.Cache.Type = "memcached" }},
		{"negative workers", func(c *AppConfig) { c.Ingest.Workers = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, domain.ErrInvalidConfig) {
				t.Fatalf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestConverters(t *testing.T) {
	cc, err := ChunkerConfig{Strategy: "fixed_token", MaxTokens: 100, OverlapTokens: 10}.ToChunker()
	if err != nil {
		t.Fatalf("ToChunker() error = %v", err)
	}
	if cc.Strategy != chunker.FixedToken || cc.MaxTokens != 100 || cc.OverlapTokens != 10 {
		t.Fatalf("ToChunker() = %+v", cc)
	}
	p := RetryConfig{MaxAttempts: 3, BaseDelayMs: 50, MaxDelayMs: 1000, Jitter: 0.1}.Policy()
	if p.MaxAttempts != 3 || p.BaseDelay != 50*time.Millisecond || p.MaxDelay != time.Second {
		t.Fatalf("Policy() = %+v", p)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("RAG_LOG_LEVEL", "debug")
	t.Setenv("RAG_STORE_PATH", "/var/lib/rag/x.db")
	cfg := defaultConfig()
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	if cfg.Storage.Path != "/var/lib/rag/x.db" {
		t.Errorf("storage path = %q", cfg.Storage.Path)
	}
}
