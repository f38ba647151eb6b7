package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// ConfigService implements the Service interface
type ConfigService struct {
	logger Logger
}

// NewConfigService creates a new configuration service
func NewConfigService(logger Logger) *ConfigService {
	return &ConfigService{logger: logger}
}

// Load loads the configuration from the specified path
func (s *ConfigService) Load(path string) (*Config, error) {
	viper.AddConfigPath(path)
	// Use test configuration file if ENV is set to test
	if os.Getenv("ENV") == "test" {
		viper.SetConfigName("config_test")
	} else {
		viper.SetConfigName("config")
	}
	viper.SetConfigType("yaml")

	s.setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %v", err)
	}

	if err := s.validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}

	if err := s.resolveStoragePaths(&config, path); err != nil {
		return nil, fmt.Errorf("failed to resolve storage paths: %v", err)
	}

	s.logger.LogInfo("Configuration loaded successfully", nil)
	return &config, nil
}

// setDefaults sets default values for configuration
func (s *ConfigService) setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.timezone", "UTC")
	viper.SetDefault("database.pool.maxOpen", 100)
	viper.SetDefault("database.pool.maxIdle", 10)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("storage.tempDir", "tmp")
	viper.SetDefault("upload.maxFileSize", int64(1024*1024*1024)) // 1GiB
	viper.SetDefault("upload.multipartThreshold", int64(50*1024*1024))
	viper.SetDefault("upload.partSize", int64(16*1024*1024))
	viper.SetDefault("upload.maxParts", 10000)
	viper.SetDefault("upload.urlTTL", 2*time.Hour)
	viper.SetDefault("queue.name", "video-processing")
	viper.SetDefault("queue.concurrency", 2)
	viper.SetDefault("queue.maxAttempts", 3)
	viper.SetDefault("queue.backoffBase", 5*time.Second)
	viper.SetDefault("queue.pollInterval", 500*time.Millisecond)
	viper.SetDefault("queue.completedRetained", 100)
	viper.SetDefault("queue.completedMaxAge", 24*time.Hour)
	viper.SetDefault("queue.failedRetained", 1000)
	viper.SetDefault("queue.failedMaxAge", 7*24*time.Hour)
	viper.SetDefault("ffmpeg.path", "ffmpeg")
	viper.SetDefault("ffmpeg.probePath", "ffprobe")
	viper.SetDefault("ffmpeg.preset", "fast")
	viper.SetDefault("ffmpeg.crf", 23)
	viper.SetDefault("ffmpeg.segmentSeconds", 4)
	viper.SetDefault("ffmpeg.thumbnailInterval", 4)
	viper.SetDefault("logging.level", "info")
}

// validate performs validation on the configuration
func (s *ConfigService) validate(config *Config) error {
	if config.Server.Port <= 0 {
		return fmt.Errorf("invalid server port")
	}
	if config.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if config.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if config.Database.Dbname == "" {
		return fmt.Errorf("database name is required")
	}
	if config.Database.Port <= 0 {
		return fmt.Errorf("invalid database port")
	}
	if config.Storage.S3.Bucket == "" {
		return fmt.Errorf("object store bucket is required")
	}
	if config.Upload.PartSize <= 0 {
		return fmt.Errorf("invalid upload part size")
	}
	if config.Upload.MultipartThreshold <= 0 {
		return fmt.Errorf("invalid multipart threshold")
	}
	return nil
}

// resolveStoragePaths converts relative paths to absolute paths
func (s *ConfigService) resolveStoragePaths(config *Config, basePath string) error {
	tempDir := config.Storage.TempDir
	if !filepath.IsAbs(tempDir) {
		absPath, err := filepath.Abs(filepath.Join(basePath, tempDir))
		if err != nil {
			return fmt.Errorf("failed to resolve temp directory path: %v", err)
		}
		config.Storage.TempDir = absPath
	}
	return nil
}
