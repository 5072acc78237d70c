package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogConfig      LogConfig            `json:"log_config" yaml:"log_config"`
	Data           DataConfig           `json:"data" yaml:"data"`
	VertexAI       VertexAIConfig       `json:"vertexai" yaml:"vertexai"`
	Ingest         IngestConfig         `json:"ingest" yaml:"ingest"`
	Transcribe     TranscribeConfig     `json:"transcribe" yaml:"transcribe"`
	DocStore       DocStoreConfig       `json:"doc_store" yaml:"doc_store"`
	Database       DatabaseConfig       `json:"database" yaml:"database"`
	EmbeddingCache EmbeddingCacheConfig `json:"embedding_cache" yaml:"embedding_cache"`
	FileStore      FileStoreConfig      `json:"file_store" yaml:"file_store"`
	Server         ServerConfig         `json:"server" yaml:"server"`
	Schedule       ScheduleConfig       `json:"schedule" yaml:"schedule"`
}

type LogConfig struct {
	File      string `json:"file" yaml:"file"`
	Level     string `json:"level" yaml:"level"`
	FileCount int    `json:"file_count" yaml:"file_count"`
	FileSize  int    `json:"file_size" yaml:"file_size"`
	KeepDays  int    `json:"keep_days" yaml:"keep_days"`
	Console   bool   `json:"console" yaml:"console"`
}

type DataConfig struct {
	// Path is the line-delimited chunk file written by chunk and read by ingest.
	Path string `json:"path" yaml:"path"`
	// Source is the PDF document to chunk.
	Source string `json:"source" yaml:"source"`
}

type VertexAIConfig struct {
	ProjectID         string                 `json:"project_id" yaml:"project_id"`
	Region            string                 `json:"region" yaml:"region"`
	IndexName         string                 `json:"index_name" yaml:"index_name"`
	IndexEndpointName string                 `json:"index_endpoint_name" yaml:"index_endpoint_name"`
	Dimensions        int                    `json:"dimensions" yaml:"dimensions"`
	DataStoreKwargs   map[string]interface{} `json:"data_store_kwargs" yaml:"data_store_kwargs"`
}

type IngestConfig struct {
	EmbeddingModel string      `json:"embedding_model" yaml:"embedding_model"`
	Provider       string      `json:"provider" yaml:"provider"`
	Data           interface{} `json:"data" yaml:"data"`
}

type TranscribeConfig struct {
	Provider   string      `json:"provider" yaml:"provider"`
	Model      string      `json:"model" yaml:"model"`
	Data       interface{} `json:"data" yaml:"data"`
	MaxRetries *int        `json:"max_retries" yaml:"max_retries"`
	Timeout    int         `json:"timeout" yaml:"timeout"`
	RPM        int         `json:"rpm" yaml:"rpm"`
	CacheSize  int         `json:"cache_size" yaml:"cache_size"`
	CacheTTL   int         `json:"cache_ttl" yaml:"cache_ttl"`
}

type DocStoreConfig struct {
	Type string      `json:"type" yaml:"type"`
	Data interface{} `json:"data" yaml:"data"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"dbname" yaml:"dbname"`
	SSLMode  string `json:"sslmode" yaml:"sslmode"`
}

func (c DatabaseConfig) Enabled() bool {
	return c.DSN != "" || c.Host != ""
}

type EmbeddingCacheConfig struct {
	Enabled    bool `json:"enabled" yaml:"enabled"`
	MaxAgeDays int  `json:"max_age_days" yaml:"max_age_days"`
}

type FileStoreConfig struct {
	Type string      `json:"type" yaml:"type"`
	Data interface{} `json:"data" yaml:"data"`
}

type ServerConfig struct {
	Port int `json:"port" yaml:"port"`
	// SyncWindow is the minimum number of seconds between two /sync calls from one client.
	SyncWindow  int      `json:"sync_window" yaml:"sync_window"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins"`
}

type ScheduleConfig struct {
	SyncCron         string `json:"sync_cron" yaml:"sync_cron"`
	CacheCleanupCron string `json:"cache_cleanup_cron" yaml:"cache_cleanup_cron"`
}

const (
	defaultDimensions     = 768
	defaultMaxRetries     = 2
	defaultTranscribeLLM  = "gemini-1.5-flash-001"
	defaultEmbeddingModel = "text-embedding-004"
	defaultPort           = 8080
	defaultSyncWindow     = 60
)

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	if c.Data.Path == "" {
		return fmt.Errorf("data.path is required")
	}
	if c.VertexAI.ProjectID == "" {
		return fmt.Errorf("vertexai.project_id is required")
	}
	if c.VertexAI.Region == "" {
		return fmt.Errorf("vertexai.region is required")
	}
	if c.VertexAI.IndexName == "" {
		return fmt.Errorf("vertexai.index_name is required")
	}
	if c.VertexAI.IndexEndpointName == "" {
		c.VertexAI.IndexEndpointName = c.VertexAI.IndexName + "_endpoint"
	}
	if c.VertexAI.Dimensions == 0 {
		c.VertexAI.Dimensions = defaultDimensions
	}
	if c.VertexAI.Dimensions < 0 {
		return fmt.Errorf("vertexai.dimensions must be positive")
	}
	if c.Ingest.EmbeddingModel == "" {
		c.Ingest.EmbeddingModel = defaultEmbeddingModel
	}
	if c.Ingest.Provider == "" {
		c.Ingest.Provider = "gemini"
	}
	if c.Transcribe.Provider == "" {
		c.Transcribe.Provider = "gemini"
	}
	if c.Transcribe.Model == "" {
		c.Transcribe.Model = defaultTranscribeLLM
	}
	if c.Transcribe.MaxRetries == nil {
		n := defaultMaxRetries
		c.Transcribe.MaxRetries = &n
	}
	if *c.Transcribe.MaxRetries < 0 {
		return fmt.Errorf("transcribe.max_retries must not be negative")
	}
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	if c.DocStore.Type == "" {
		c.DocStore.Type = "datastore"
	}
	switch c.DocStore.Type {
	case "datastore", "postgres":
	default:
		return fmt.Errorf("doc_store.type %q is not supported, use datastore or postgres", c.DocStore.Type)
	}
	if c.DocStore.Type == "postgres" && !c.Database.Enabled() {
		return fmt.Errorf("database is required for postgres doc_store")
	}
	if c.EmbeddingCache.Enabled && !c.Database.Enabled() {
		return fmt.Errorf("database is required for embedding_cache")
	}
	if c.Database.Enabled() && c.Database.DSN == "" && c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.SyncWindow == 0 {
		c.Server.SyncWindow = defaultSyncWindow
	}
	return nil
}

// RetryCount returns the configured number of transcription retries.
func (c *Config) RetryCount() int {
	if c.Transcribe.MaxRetries == nil {
		return defaultMaxRetries
	}
	return *c.Transcribe.MaxRetries
}
