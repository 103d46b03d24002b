package config

import "time"

const (
	DefaultPort       = 8000
	DefaultConfigName = "config"
	DefaultConfigType = "yaml"

	DefaultBodyLimit = 500 * 1024 * 1024

	DefaultDatabaseDriver = "sqlite3"
	DefaultDatabasePath   = "data/updates.db"

	DefaultStorageRootDir = "storage"

	DefaultSigningKeyID     = "main"
	DefaultSigningAlgorithm = "rsa-v1_5-sha256"

	DefaultPatcherBinary         = "bsdiff"
	DefaultPatcherTimeout        = 15 * time.Second
	DefaultPatcherMaxOutputBytes = 10 * 1024 * 1024
)
