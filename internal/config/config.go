package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the PointCarve server
type Config struct {
	Server    ServerConfig
	Pipeline  PipelineConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Environment  string

	// AllowedOrigins are the browser origins accepted by the CORS
	// middleware and the WebSocket origin check.
	AllowedOrigins []string
}

// PipelineConfig holds point-cloud processing service configuration
type PipelineConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	// MaxUploadBytes caps the size of an uploaded .pcd file.
	MaxUploadBytes int64
}

// RateLimitConfig holds rate limiting configuration for upload endpoints
type RateLimitConfig struct {
	UploadLimit  int
	UploadWindow time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string
}

// Load reads configuration from environment variables and .env file.
// The .env file is loaded from the current working directory; plain
// environment variables win when both are set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found (this is OK if using environment variables): %v", err)
	}

	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
			AllowedOrigins: getListEnv("ALLOWED_ORIGINS", []string{
				"http://localhost:3000",
				"http://localhost:5173", // Vite default port
				"http://127.0.0.1:3000",
				"http://127.0.0.1:5173",
			}),
		},
		Pipeline: PipelineConfig{
			// Use 127.0.0.1 instead of localhost for better Windows compatibility (avoids IPv6 issues)
			BaseURL: getEnv("PIPELINE_BASE_URL", "http://127.0.0.1:8000"),
			// Clustering plus inference can take minutes on large clouds.
			Timeout:        getDurationEnv("PIPELINE_TIMEOUT", 10*time.Minute),
			RetryCount:     getIntEnv("PIPELINE_RETRY_COUNT", 3),
			MaxUploadBytes: getInt64Env("PIPELINE_MAX_UPLOAD_BYTES", 512<<20),
		},
		RateLimit: RateLimitConfig{
			UploadLimit:  getIntEnv("RATE_LIMIT_UPLOADS", 10),
			UploadWindow: getDurationEnv("RATE_LIMIT_UPLOAD_WINDOW", 1*time.Minute),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate checks that all required configuration values are sensible
func (c *Config) Validate() error {
	if c.Pipeline.BaseURL == "" {
		return fmt.Errorf("PIPELINE_BASE_URL is required")
	}
	if c.Pipeline.RetryCount < 0 {
		return fmt.Errorf("PIPELINE_RETRY_COUNT must be >= 0")
	}
	if c.Pipeline.MaxUploadBytes <= 0 {
		return fmt.Errorf("PIPELINE_MAX_UPLOAD_BYTES must be > 0")
	}
	if c.RateLimit.UploadLimit <= 0 {
		return fmt.Errorf("RATE_LIMIT_UPLOADS must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *ServerConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// Helper functions for environment variable access

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: invalid integer value for %s: %s, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return intValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		log.Printf("Warning: invalid integer value for %s: %s, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return intValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	list := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			list = append(list, trimmed)
		}
	}
	if len(list) == 0 {
		return defaultValue
	}
	return list
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: invalid duration value for %s: %s, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return duration
}
