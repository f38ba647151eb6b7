package config

// Service defines the interface for configuration loading
type Service interface {
	Load(path string) (*Config, error)
}

// Logger defines the logging operations needed by the config service
type Logger interface {
	LogInfo(msg string, fields map[string]interface{})
	LogFatal(err error, context string)
}
