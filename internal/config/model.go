package config

import "time"

type (
	Config struct {
		Server   ServerConfig   `mapstructure:"server"`
		Log      LogConfig      `mapstructure:"log"`
		Database DatabaseConfig `mapstructure:"database"`
		Storage  StorageConfig  `mapstructure:"storage"`
		Signing  SigningConfig  `mapstructure:"signing"`
		Patcher  PatcherConfig  `mapstructure:"patcher"`
		Auth     AuthConfig     `mapstructure:"auth"`
	}

	ServerConfig struct {
		Port int `mapstructure:"port"`
		// BaseURL overrides the origin asset URLs are rewritten against.
		// Empty means infer it from the request.
		BaseURL   string `mapstructure:"base_url"`
		BodyLimit int    `mapstructure:"body_limit"`
	}

	LogConfig struct {
		Level      string `mapstructure:"level"`
		MaxSize    int    `mapstructure:"max_size"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAge     int    `mapstructure:"max_age"`
		Compress   bool   `mapstructure:"compress"`
	}

	DatabaseConfig struct {
		Driver   string `mapstructure:"driver"`
		Host     string `mapstructure:"host"`
		Port     string `mapstructure:"port"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		// Path is the database file for the sqlite3 driver.
		Path string `mapstructure:"path"`
	}

	StorageConfig struct {
		RootDir string `mapstructure:"root_dir"`
	}

	SigningConfig struct {
		PrivateKeyPEM string `mapstructure:"private_key_pem"`
		KeyID         string `mapstructure:"key_id"`
		Algorithm     string `mapstructure:"algorithm"`
	}

	PatcherConfig struct {
		Binary         string        `mapstructure:"binary"`
		Timeout        time.Duration `mapstructure:"timeout"`
		MaxOutputBytes int64         `mapstructure:"max_output_bytes"`
	}

	AuthConfig struct {
		AdminToken string `mapstructure:"admin_token"`
	}
)
