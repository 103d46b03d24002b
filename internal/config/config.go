package config

import (
	"log"

	"github.com/spf13/viper"
)

var CFG *Config

func New() *Config {
	v := viper.New()
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.body_limit", DefaultBodyLimit)
	v.SetDefault("database.driver", DefaultDatabaseDriver)
	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("storage.root_dir", DefaultStorageRootDir)
	v.SetDefault("signing.key_id", DefaultSigningKeyID)
	v.SetDefault("signing.algorithm", DefaultSigningAlgorithm)
	v.SetDefault("patcher.binary", DefaultPatcherBinary)
	v.SetDefault("patcher.timeout", DefaultPatcherTimeout)
	v.SetDefault("patcher.max_output_bytes", DefaultPatcherMaxOutputBytes)

	v.SetConfigName(DefaultConfigName)
	v.SetConfigType(DefaultConfigType)
	v.AddConfigPath(".")
	v.AddConfigPath("config")

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("Failed to read config file, %v", err)
	}

	var c = new(Config)
	if err := v.Unmarshal(c); err != nil {
		log.Fatalf("Failed to unmarshal config file, %v", err)
	}
	return c
}
