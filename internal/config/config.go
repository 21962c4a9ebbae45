package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port      int              `json:"port"`
	Database  DatabaseConfig   `json:"database"`
	LogConfig logger.LogConfig `json:"log_config"`
	FileStore FileStoreConfig  `json:"file_store"`
	Embedding EmbeddingConfig  `json:"embedding"`
	Ingest    IngestConfig     `json:"ingest"`
	Schedule  ScheduleConfig   `json:"schedule"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type EmbeddingProviderConfig struct {
	Name     string      `json:"name"`
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Data     interface{} `json:"data"`
}

type EmbeddingConfig struct {
	Providers        []EmbeddingProviderConfig `json:"providers"`
	MaxInputChars    int                       `json:"max_input_chars"`
	Timeout          int                       `json:"timeout"`
	MaxAttempts      int                       `json:"max_attempts"`
	RetryBaseDelayMs int                       `json:"retry_base_delay_ms"`
	CacheSize        int                       `json:"cache_size"`
	CacheTTLSeconds  int                       `json:"cache_ttl_seconds"`
	DBCache          bool                      `json:"db_cache"`
}

type IngestConfig struct {
	ChunkSize              int   `json:"chunk_size"`
	ChunkOverlap           int   `json:"chunk_overlap"`
	MaxChunksPerInvocation int   `json:"max_chunks_per_invocation"`
	MaxPendingScan         int   `json:"max_pending_scan"`
	MaxWorkers             int   `json:"max_workers"`
	MaxSourceBytes         int64 `json:"max_source_bytes"`
}

type ScheduleConfig struct {
	IngestSpec             string `json:"ingest_spec"`
	StaleReleaseSpec       string `json:"stale_release_spec"`
	StaleProcessingSeconds int    `json:"stale_processing_seconds"`
	CacheCleanupSpec       string `json:"cache_cleanup_spec"`
	CacheMaxAgeDays        int    `json:"cache_max_age_days"`
	TickRateLimitSeconds   int    `json:"tick_rate_limit_seconds"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if c.Database.DSN == "" && c.Database.Host == "" {
		return fmt.Errorf("database.dsn or database.host is required")
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	if c.FileStore.Type == "" {
		c.FileStore.Type = "local"
	}
	c.FileStore.Type = strings.ToLower(strings.TrimSpace(c.FileStore.Type))
	if c.FileStore.Type != "local" && c.FileStore.Type != "s3" {
		return fmt.Errorf("file_store.type must be local or s3")
	}

	if len(c.Embedding.Providers) == 0 {
		return fmt.Errorf("embedding.providers is required")
	}
	for i, p := range c.Embedding.Providers {
		if strings.TrimSpace(p.Provider) == "" {
			return fmt.Errorf("embedding.providers[%d].provider is required", i)
		}
		if strings.TrimSpace(p.Model) == "" {
			return fmt.Errorf("embedding.providers[%d].model is required", i)
		}
		if p.Name == "" {
			c.Embedding.Providers[i].Name = p.Provider + ":" + p.Model
		}
	}
	if c.Embedding.MaxInputChars == 0 {
		c.Embedding.MaxInputChars = 8000
	}
	if c.Embedding.Timeout == 0 {
		c.Embedding.Timeout = 30
	}
	if c.Embedding.MaxAttempts == 0 {
		c.Embedding.MaxAttempts = 3
	}
	if c.Embedding.RetryBaseDelayMs == 0 {
		c.Embedding.RetryBaseDelayMs = 500
	}
	if c.Embedding.CacheSize == 0 {
		c.Embedding.CacheSize = 10000
	}
	if c.Embedding.CacheTTLSeconds == 0 {
		c.Embedding.CacheTTLSeconds = 7200
	}

	// an explicit chunk_size keeps chunk_overlap as given, including 0
	if c.Ingest.ChunkSize == 0 {
		c.Ingest.ChunkSize = 1000
		if c.Ingest.ChunkOverlap == 0 {
			c.Ingest.ChunkOverlap = 200
		}
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkSize <= c.Ingest.ChunkOverlap {
		return fmt.Errorf("ingest.chunk_size must be greater than ingest.chunk_overlap (>= 0)")
	}
	if c.Ingest.MaxChunksPerInvocation == 0 {
		c.Ingest.MaxChunksPerInvocation = 10
	}
	if c.Ingest.MaxPendingScan == 0 {
		c.Ingest.MaxPendingScan = 5
	}
	if c.Ingest.MaxWorkers == 0 {
		c.Ingest.MaxWorkers = 3
	}
	if c.Ingest.MaxWorkers > c.Ingest.MaxPendingScan {
		c.Ingest.MaxWorkers = c.Ingest.MaxPendingScan
	}
	if c.Ingest.MaxSourceBytes == 0 {
		c.Ingest.MaxSourceBytes = 10 << 20
	}

	if c.Schedule.IngestSpec == "" {
		c.Schedule.IngestSpec = "* * * * *"
	}
	if c.Schedule.StaleReleaseSpec == "" {
		c.Schedule.StaleReleaseSpec = "*/5 * * * *"
	}
	if c.Schedule.StaleProcessingSeconds == 0 {
		c.Schedule.StaleProcessingSeconds = 900
	}
	if c.Schedule.CacheCleanupSpec == "" {
		c.Schedule.CacheCleanupSpec = "0 3 * * *"
	}
	if c.Schedule.CacheMaxAgeDays == 0 {
		c.Schedule.CacheMaxAgeDays = 30
	}
	if c.Schedule.TickRateLimitSeconds == 0 {
		c.Schedule.TickRateLimitSeconds = 5
	}
	return nil
}
