package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 32 << 20
	}
	if cfg.Server.RateLimit.PerSecond == 0 {
		cfg.Server.RateLimit.PerSecond = 20
	}
	if cfg.Server.RateLimit.Burst == 0 {
		cfg.Server.RateLimit.Burst = 40
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "mongo"
	}
	if cfg.Storage.MongoURI == "" {
		cfg.Storage.MongoURI = "mongodb://localhost:27017"
	}
	if cfg.Storage.ConnectTimeout == 0 {
		cfg.Storage.ConnectTimeout = 10 * time.Second
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/docgate/data/documents.db"
	}
	if cfg.Storage.DefaultDatabase == "" {
		cfg.Storage.DefaultDatabase = "ecommercedb"
	}
	if cfg.Storage.ProductsCollection == "" {
		cfg.Storage.ProductsCollection = "products"
	}
	if cfg.Storage.ColumnConfigsCollection == "" {
		cfg.Storage.ColumnConfigsCollection = "columns_config"
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.Capacity == 0 {
		cfg.Cache.Capacity = 1000
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 5 * time.Minute
	}
	if cfg.Cache.RedisAddr == "" {
		cfg.Cache.RedisAddr = "127.0.0.1:6379"
	}

	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 500
	}
	if cfg.Ingest.JobsCollection == "" {
		cfg.Ingest.JobsCollection = "file_uploads"
	}
	if cfg.Ingest.ErrorsCollection == "" {
		cfg.Ingest.ErrorsCollection = "validation_errors"
	}
	if cfg.Ingest.Validation.RequiredField == "" {
		cfg.Ingest.Validation.RequiredField = "department"
	}
	if cfg.Ingest.Validation.PositiveField == "" {
		cfg.Ingest.Validation.PositiveField = "amount"
	}
	if cfg.Ingest.Inbox.UploadedBy == "" {
		cfg.Ingest.Inbox.UploadedBy = "inbox"
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Ingest.Inbox.Directories) > 0 && cfg.Ingest.Inbox.Recursive == nil {
		t := true
		cfg.Ingest.Inbox.Recursive = &t
	}
}
