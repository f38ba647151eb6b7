package config

import (
	"github.com/streamforge/backend/internal/queue"
	"github.com/streamforge/backend/internal/storage"
	"github.com/streamforge/backend/internal/transcode"
	"github.com/streamforge/backend/internal/video"
)

// Config represents the application configuration
type Config struct {
	Environment string           `mapstructure:"environment" yaml:"environment"`
	Server      ServerConfig     `mapstructure:"server" yaml:"server"`
	Database    DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Redis       RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Storage     StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Upload      video.Config     `mapstructure:"upload" yaml:"upload"`
	Queue       queue.Config     `mapstructure:"queue" yaml:"queue"`
	Ffmpeg      transcode.Config `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	Logging     LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig represents server configuration settings
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig represents database configuration settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Dbname   string `mapstructure:"dbname"`
	Port     int    `mapstructure:"port"`
	Sslmode  string `mapstructure:"sslmode"`
	Timezone string `mapstructure:"timezone"`
	Pool     struct {
		MaxOpen int `mapstructure:"maxOpen"`
		MaxIdle int `mapstructure:"maxIdle"`
	} `mapstructure:"pool"`
}

// RedisConfig represents Redis configuration settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StorageConfig represents storage configuration settings
type StorageConfig struct {
	TempDir string           `mapstructure:"tempDir"`
	S3      storage.S3Config `mapstructure:"s3"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	Output      string `mapstructure:"output" yaml:"output"`
	Development bool   `mapstructure:"development" yaml:"development"`
}
