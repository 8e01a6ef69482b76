// Package config loads application configuration for lore tooling:
// defaults, then a TOML file, then environment variables (env wins).
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Embedding EmbeddingConfig `toml:"embedding"`
	Database  DatabaseConfig  `toml:"database"`
	Retriever RetrieverConfig `toml:"retriever"`
	Ingest    IngestConfig    `toml:"ingest"`
	Observer  ObserverConfig  `toml:"observer"`
}

type EmbeddingConfig struct {
	Provider   string `toml:"provider"`
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
	APIKey     string `toml:"api_key"`
	BaseURL    string `toml:"base_url"`
}

type DatabaseConfig struct {
	// Driver selects the store backend: "sqlite" or "postgres".
	Driver string `toml:"driver"`
	// Path is the SQLite database file.
	Path string `toml:"path"`
	// PostgresURL is the pgx connection string when Driver is "postgres".
	PostgresURL string `toml:"postgres_url"`
}

type RetrieverConfig struct {
	RRFK          int `toml:"rrf_k"`
	Oversample    int `toml:"oversample"`
	ContextWindow int `toml:"context_window"`
	EmbedTimeoutS int `toml:"embed_timeout_seconds"`
	QueryCacheSz  int `toml:"query_cache_size"`
}

type IngestConfig struct {
	TextBudget   int    `toml:"text_budget"`
	CodeBudget   int    `toml:"code_budget"`
	BatchSize    int    `toml:"batch_size"`
	MediaWorkers int    `toml:"media_workers"`
	VisionModel  string `toml:"vision_model"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Embedding: EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small", Dimensions: 1536},
		Database:  DatabaseConfig{Driver: "sqlite", Path: "lore.db"},
		Retriever: RetrieverConfig{RRFK: 60, Oversample: 2, QueryCacheSz: 256},
		Ingest:    IngestConfig{TextBudget: 1200, CodeBudget: 3000, BatchSize: 64, MediaWorkers: 4},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "lore.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("LORE_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("LORE_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("LORE_EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("LORE_EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Embedding.Dimensions = n
		}
	}
	if v := os.Getenv("LORE_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("LORE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("LORE_POSTGRES_URL"); v != "" {
		cfg.Database.PostgresURL = v
	}
	if v := os.Getenv("LORE_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.Database.PostgresURL != "" && cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	return cfg
}
