// Package config loads the application configuration from YAML or TOML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/dangattringer/rust-rag/internal/chunker"
	"github.com/dangattringer/rust-rag/internal/domain"
	"github.com/dangattringer/rust-rag/internal/embedding"
	"github.com/dangattringer/rust-rag/internal/vectorstore"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url" toml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env" toml:"api_key_env"`
	Model       string `yaml:"model" toml:"model"`
	Dimension   int    `yaml:"dimension" toml:"dimension"`
	TimeoutSecs int    `yaml:"timeout_secs" toml:"timeout_secs"`
}

// BedrockEmbedderConfig configures Titan embeddings on AWS Bedrock.
type BedrockEmbedderConfig struct {
	Region    string `yaml:"region" toml:"region"`
	ModelID   string `yaml:"model_id" toml:"model_id"`
	Dimension int    `yaml:"dimension" toml:"dimension"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type string `yaml:"type" toml:"type"`
	// Dimension applies to the hashing embedder.
	Dimension int                    `yaml:"dimension" toml:"dimension"`
	OpenAI    *OpenAIEmbedderConfig  `yaml:"openai,omitempty" toml:"openai,omitempty"`
	Bedrock   *BedrockEmbedderConfig `yaml:"bedrock,omitempty" toml:"bedrock,omitempty"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Strategy      string   `yaml:"strategy" toml:"strategy"`
	MaxTokens     int      `yaml:"max_tokens" toml:"max_tokens"`
	OverlapTokens int      `yaml:"overlap_tokens" toml:"overlap_tokens"`
	Separators    []string `yaml:"separators,omitempty" toml:"separators,omitempty"`
}

// VectorStoreConfig selects the in-memory index.
type VectorStoreConfig struct {
	Type   string `yaml:"type" toml:"type"`
	Metric string `yaml:"metric" toml:"metric"`
	// MaxVisits bounds the nodes a vptree query visits; 0 is exact.
	// Smaller budgets trade recall for speed.
	MaxVisits int `yaml:"max_visits" toml:"max_visits"`
}

// StorageConfig selects where documents, chunks and embeddings persist.
type StorageConfig struct {
	Type   string `yaml:"type" toml:"type"`
	Path   string `yaml:"path" toml:"path"`
	DSNEnv string `yaml:"dsn_env" toml:"dsn_env"`
}

type RedisConfig struct {
	Addr        string `yaml:"addr" toml:"addr"`
	PasswordEnv string `yaml:"password_env" toml:"password_env"`
	DB          int    `yaml:"db" toml:"db"`
	Prefix      string `yaml:"prefix" toml:"prefix"`
	TTLSecs     int    `yaml:"ttl_secs" toml:"ttl_secs"`
	MaxRetries  int    `yaml:"max_retries" toml:"max_retries"`
}

// CacheConfig configures the embedding cache.
type CacheConfig struct {
	Type       string       `yaml:"type" toml:"type"`
	MaxEntries int          `yaml:"max_entries" toml:"max_entries"`
	Redis      *RedisConfig `yaml:"redis,omitempty" toml:"redis,omitempty"`
}

// RetryConfig bounds retries of failing embedding calls.
type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts" toml:"max_attempts"`
	BaseDelayMs int     `yaml:"base_delay_ms" toml:"base_delay_ms"`
	MaxDelayMs  int     `yaml:"max_delay_ms" toml:"max_delay_ms"`
	Jitter      float64 `yaml:"jitter" toml:"jitter"`
}

type OpenAIChatConfig struct {
	BaseURL     string  `yaml:"base_url" toml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env" toml:"api_key_env"`
	Model       string  `yaml:"model" toml:"model"`
	MaxTokens   int     `yaml:"max_tokens" toml:"max_tokens"`
	Temperature float32 `yaml:"temperature" toml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs" toml:"timeout_secs"`
}

type BedrockChatConfig struct {
	Region      string  `yaml:"region" toml:"region"`
	ModelID     string  `yaml:"model_id" toml:"model_id"`
	MaxTokens   int     `yaml:"max_tokens" toml:"max_tokens"`
	Temperature float64 `yaml:"temperature" toml:"temperature"`
}

// GeneratorConfig selects how answers are produced for ask.
type GeneratorConfig struct {
	Type         string             `yaml:"type" toml:"type"`
	MaxSentences int                `yaml:"max_sentences" toml:"max_sentences"`
	OpenAI       *OpenAIChatConfig  `yaml:"openai,omitempty" toml:"openai,omitempty"`
	Bedrock      *BedrockChatConfig `yaml:"bedrock,omitempty" toml:"bedrock,omitempty"`
}

type RetrievalConfig struct {
	TopK        int      `yaml:"top_k" toml:"top_k"`
	MinScore    *float64 `yaml:"min_score,omitempty" toml:"min_score,omitempty"`
	TimeoutSecs int      `yaml:"timeout_secs" toml:"timeout_secs"`
}

type IngestConfig struct {
	// Workers bounds documents processed concurrently.
	Workers int `yaml:"workers" toml:"workers"`
	// EmbedConcurrency bounds concurrent embedding calls across all workers.
	EmbedConcurrency int `yaml:"embed_concurrency" toml:"embed_concurrency"`
	BatchSize        int `yaml:"batch_size" toml:"batch_size"`
	TimeoutSecs      int `yaml:"timeout_secs" toml:"timeout_secs"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr" toml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
	// RefreshSecs is how often serve checks the store for a new corpus
	// version written by another process. Negative disables the check.
	RefreshSecs int `yaml:"refresh_secs" toml:"refresh_secs"`
}

type SourceConfig struct {
	DocsRSURL     string `yaml:"docs_rs_url" toml:"docs_rs_url"`
	UserAgent     string `yaml:"user_agent" toml:"user_agent"`
	TimeoutSecs   int    `yaml:"timeout_secs" toml:"timeout_secs"`
	MaxDownloadMB int    `yaml:"max_download_mb" toml:"max_download_mb"`
	// MaxPageMB caps one decompressed documentation page; larger pages are skipped.
	MaxPageMB int `yaml:"max_page_mb" toml:"max_page_mb"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder    EmbedderConfig    `yaml:"embedder" toml:"embedder"`
	Chunker     ChunkerConfig     `yaml:"chunker" toml:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store" toml:"vector_store"`
	Storage     StorageConfig     `yaml:"storage" toml:"storage"`
	Cache       CacheConfig       `yaml:"cache" toml:"cache"`
	Retry       RetryConfig       `yaml:"retry" toml:"retry"`
	Generator   GeneratorConfig   `yaml:"generator" toml:"generator"`
	Retrieval   RetrievalConfig   `yaml:"retrieval" toml:"retrieval"`
	Ingest      IngestConfig      `yaml:"ingest" toml:"ingest"`
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Source      SourceConfig      `yaml:"source" toml:"source"`
	Log         LogConfig         `yaml:"log" toml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Files ending in .toml are decoded as TOML, everything else as YAML.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if isTOML(path) {
		err = toml.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", domain.ErrInvalidConfig, path, err)
	}
	applyConfigDefaults(&cfg)
	applyEnv(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml and ./config.toml first, then ~/.config/rag/config.yaml.
// If none exists, it writes defaults to ~/.config/rag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	for _, cwdPath := range []string{"config.yaml", "config.toml"} {
		if _, err := os.Stat(cwdPath); err == nil {
			cfg, err := Load(cwdPath)
			return cfg, cwdPath, err
		}
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return err
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func isTOML(path string) bool { return strings.EqualFold(filepath.Ext(path), ".toml") }

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "rag", "config.yaml"), nil
}

func defaultDataPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "rag.db"
	}
	return filepath.Join(home, ".local", "share", "rag", "rag.db")
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{}
	applyConfigDefaults(cfg)
	applyEnv(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	if cfg.Embedder.Type == "hashing" && cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = 512
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		o := cfg.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "text-embedding-3-small"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
	}
	if cfg.Embedder.Type == "bedrock" {
		if cfg.Embedder.Bedrock == nil {
			cfg.Embedder.Bedrock = &BedrockEmbedderConfig{}
		}
		if cfg.Embedder.Bedrock.Region == "" {
			cfg.Embedder.Bedrock.Region = "us-east-1"
		}
	}

	if cfg.Chunker.Strategy == "" {
		cfg.Chunker.Strategy = chunker.ContextAware.String()
	}
	if cfg.Chunker.MaxTokens == 0 {
		cfg.Chunker.MaxTokens = 256
		if cfg.Chunker.OverlapTokens == 0 {
			cfg.Chunker.OverlapTokens = 32
		}
	}

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "exact"
	}
	if cfg.VectorStore.Metric == "" {
		cfg.VectorStore.Metric = vectorstore.Cosine.String()
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "sqlite"
	}
	if cfg.Storage.Type == "sqlite" && cfg.Storage.Path == "" {
		cfg.Storage.Path = defaultDataPath()
	}
	if cfg.Storage.DSNEnv == "" {
		cfg.Storage.DSNEnv = "RAG_POSTGRES_DSN"
	}

	if cfg.Cache.Type == "" {
		cfg.Cache.Type = "memory"
	}
	if cfg.Cache.Type == "memory" && cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 10000
	}
	if cfg.Cache.Type == "redis" {
		if cfg.Cache.Redis == nil {
			cfg.Cache.Redis = &RedisConfig{}
		}
		r := cfg.Cache.Redis
		if r.Addr == "" {
			r.Addr = "localhost:6379"
		}
		if r.PasswordEnv == "" {
			r.PasswordEnv = "RAG_REDIS_PASSWORD"
		}
		if r.Prefix == "" {
			r.Prefix = "rag:emb:"
		}
		if r.MaxRetries == 0 {
			r.MaxRetries = 3
		}
	}

	def := embedding.DefaultRetryPolicy()
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = def.MaxAttempts
	}
	if cfg.Retry.BaseDelayMs == 0 {
		cfg.Retry.BaseDelayMs = int(def.BaseDelay / time.Millisecond)
	}
	if cfg.Retry.MaxDelayMs == 0 {
		cfg.Retry.MaxDelayMs = int(def.MaxDelay / time.Millisecond)
	}
	if cfg.Retry.Jitter == 0 {
		cfg.Retry.Jitter = def.Jitter
	}

	if cfg.Generator.Type == "" {
		cfg.Generator.Type = "extractive"
	}
	if cfg.Generator.MaxSentences == 0 {
		cfg.Generator.MaxSentences = 5
	}
	if cfg.Generator.Type == "openai" {
		if cfg.Generator.OpenAI == nil {
			cfg.Generator.OpenAI = &OpenAIChatConfig{}
		}
		if cfg.Generator.OpenAI.APIKeyEnv == "" {
			cfg.Generator.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
	}
	if cfg.Generator.Type == "bedrock" {
		if cfg.Generator.Bedrock == nil {
			cfg.Generator.Bedrock = &BedrockChatConfig{}
		}
		if cfg.Generator.Bedrock.Region == "" {
			cfg.Generator.Bedrock.Region = "us-east-1"
		}
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.TimeoutSecs == 0 {
		cfg.Retrieval.TimeoutSecs = 30
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Ingest.EmbedConcurrency == 0 {
		cfg.Ingest.EmbedConcurrency = 4
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 32
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.RefreshSecs == 0 {
		cfg.Server.RefreshSecs = 10
	}
	if cfg.Source.TimeoutSecs == 0 {
		cfg.Source.TimeoutSecs = 120
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

// applyEnv lets the environment override the log level and the store path.
func applyEnv(cfg *AppConfig) {
	if v := os.Getenv("RAG_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("RAG_STORE_PATH"); v != "" && cfg.Storage.Type == "sqlite" {
		cfg.Storage.Path = v
	}
}

// Validate rejects settings that cannot work before any component is built.
func (c *AppConfig) Validate() error {
	var errs []error
	check := func(field, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: unknown value %q (want one of %s)", field, value, strings.Join(allowed, ", ")))
	}
	check("embedder.type", c.Embedder.Type, "hashing", "openai", "bedrock")
	check("vector_store.type", c.VectorStore.Type, "exact", "vptree")
	check("storage.type", c.Storage.Type, "sqlite", "postgres")
	check("cache.type", c.Cache.Type, "none", "memory", "redis")
	check("generator.type", c.Generator.Type, "extractive", "openai", "bedrock")
	check("log.format", c.Log.Format, "console", "json")

	if _, err := c.Chunker.ToChunker(); err != nil {
		errs = append(errs, err)
	}
	metric, err := vectorstore.ParseMetric(c.VectorStore.Metric)
	if err != nil {
		errs = append(errs, err)
	} else if c.VectorStore.Type == "vptree" && metric == vectorstore.DotProduct {
		errs = append(errs, errors.New("vector_store: vptree needs cosine or euclidean"))
	}
	if err := c.Retry.Policy().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Embedder.Type == "hashing" && c.Embedder.Dimension <= 0 {
		errs = append(errs, errors.New("embedder.dimension must be positive"))
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, errors.New("retrieval.top_k must be positive"))
	}
	if c.Ingest.Workers <= 0 || c.Ingest.EmbedConcurrency <= 0 || c.Ingest.BatchSize <= 0 {
		errs = append(errs, errors.New("ingest workers, embed_concurrency and batch_size must be positive"))
	}
	if c.Storage.Type == "sqlite" && c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required for sqlite"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidConfig, err)
	}
	return nil
}

// ToChunker converts the section to a chunker configuration and validates it.
func (c ChunkerConfig) ToChunker() (chunker.Config, error) {
	strategy, err := chunker.ParseStrategy(c.Strategy)
	if err != nil {
		return chunker.Config{}, err
	}
	cfg := chunker.Config{Strategy: strategy, MaxTokens: c.MaxTokens, OverlapTokens: c.OverlapTokens, Separators: c.Separators}
	return cfg, cfg.Validate()
}

func (r RetryConfig) Policy() embedding.RetryPolicy {
	return embedding.RetryPolicy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   time.Duration(r.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(r.MaxDelayMs) * time.Millisecond,
		Jitter:      r.Jitter,
	}
}

// Seconds converts a *_secs setting; zero means no limit.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }
