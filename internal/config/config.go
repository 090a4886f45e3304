// Package config provides configuration loading and structs for the docgate server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool          `yaml:"debug"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Ingest  IngestConfig  `yaml:"ingest"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string          `yaml:"host"`
	Port           int             `yaml:"port"`
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	MaxUploadBytes int64           `yaml:"max_upload_bytes"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds the per-client token bucket.
type RateLimitConfig struct {
	Enabled   *bool   `yaml:"enabled"`
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// EnabledOrDefault returns whether rate limiting is on; defaults to true when unset.
func (r *RateLimitConfig) EnabledOrDefault() bool {
	if r.Enabled != nil {
		return *r.Enabled
	}
	return true
}

// StorageConfig selects and configures the document store backend.
type StorageConfig struct {
	Backend                 string        `yaml:"backend"`
	MongoURI                string        `yaml:"mongo_uri"`
	ConnectTimeout          time.Duration `yaml:"connect_timeout"`
	DatabasePath            string        `yaml:"database_path"`
	DefaultDatabase         string        `yaml:"default_database"`
	ProductsCollection      string        `yaml:"products_collection"`
	ColumnConfigsCollection string        `yaml:"column_configs_collection"`
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	Backend   string        `yaml:"backend"`
	Capacity  int           `yaml:"capacity"`
	TTL       time.Duration `yaml:"ttl"`
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
}

// IngestConfig holds spreadsheet ingestion settings.
type IngestConfig struct {
	BatchSize        int              `yaml:"batch_size"`
	JobsCollection   string           `yaml:"jobs_collection"`
	ErrorsCollection string           `yaml:"errors_collection"`
	Validation       ValidationConfig `yaml:"validation"`
	Inbox            InboxConfig      `yaml:"inbox"`
}

// ValidationConfig configures the row validator. Disabled by default.
type ValidationConfig struct {
	Enabled       bool   `yaml:"enabled"`
	RequiredField string `yaml:"required_field"`
	PositiveField string `yaml:"positive_field"`
}

// InboxConfig holds directories watched for dropped spreadsheets.
type InboxConfig struct {
	Directories []string `yaml:"directories"`
	Recursive   *bool    `yaml:"recursive"`
	Database    string   `yaml:"database"`
	Collection  string   `yaml:"collection"`
	UploadedBy  string   `yaml:"uploaded_by"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *InboxConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Address returns host:port.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	for i := range cfg.Ingest.Inbox.Directories {
		cfg.Ingest.Inbox.Directories[i] = expandPath(cfg.Ingest.Inbox.Directories[i], configDir)
	}

	return &cfg, nil
}

// Validate rejects settings no backend can run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "mongo", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown storage backend: %q (supported: mongo, sqlite, memory)", c.Storage.Backend)
	}
	switch c.Cache.Backend {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("unknown cache backend: %q (supported: memory, redis, none)", c.Cache.Backend)
	}
	if c.Ingest.BatchSize < 1 {
		return fmt.Errorf("ingest.batch_size must be positive, got %d", c.Ingest.BatchSize)
	}
	if len(c.Ingest.Inbox.Directories) > 0 && (c.Ingest.Inbox.Database == "" || c.Ingest.Inbox.Collection == "") {
		return fmt.Errorf("ingest.inbox requires database and collection when directories are set")
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
