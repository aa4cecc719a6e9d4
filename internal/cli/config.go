package cli

import (
	"os"
)

// Config carries the kevoctl runtime configuration, sourced from the
// environment. Credentials are held in process memory only.
type Config struct {
	Username string // Required: Kevo account email (KEVO_USERNAME)
	Password string // Required: Kevo account password (KEVO_PASSWORD)

	APIBaseURL    string   // Optional: override the REST API host
	LoginBaseURL  string   // Optional: override the identity host
	StreamBaseURL string   // Optional: override the event stream host
	Locks         []string // Optional: lock ids to track (empty = all)

	Env       string // Environment name for log fields (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: text)
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() Config {
	return Config{
		Username:      os.Getenv("KEVO_USERNAME"),
		Password:      os.Getenv("KEVO_PASSWORD"),
		APIBaseURL:    os.Getenv("KEVO_API_BASE_URL"),
		LoginBaseURL:  os.Getenv("KEVO_LOGIN_BASE_URL"),
		StreamBaseURL: os.Getenv("KEVO_STREAM_BASE_URL"),
		Env:           getEnvOrDefault("ENV", "dev"),
		LogLevel:      getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:     getEnvOrDefault("LOG_FORMAT", "text"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
