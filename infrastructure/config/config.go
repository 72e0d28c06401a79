// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/engramdb/engram/infrastructure/persistence"
)

// Config holds all server configuration
type Config struct {
	Environment string
	Port        int
	LogLevel    string
	Debug       bool

	// Storage backend selection
	Backend persistence.BackendConfig

	// Graph behavior
	AllowCycles bool

	// Auth; empty secret disables authentication
	JWTSecret string

	CORSOrigins []string
}

// LoadConfig reads configuration from environment variables with defaults
// suitable for local development
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENGRAM_ENV", "development"),
		Port:        getEnvInt("ENGRAM_PORT", 8080),
		LogLevel:    getEnv("ENGRAM_LOG_LEVEL", "info"),
		Debug:       getEnvBool("ENGRAM_DEBUG", false),
		Backend: persistence.BackendConfig{
			Type:     getEnv("ENGRAM_BACKEND", persistence.BackendSQLite),
			Path:     getEnv("ENGRAM_SQLITE_PATH", "engram.db"),
			Table:    getEnv("ENGRAM_DYNAMODB_TABLE", ""),
			Region:   getEnv("ENGRAM_AWS_REGION", ""),
			Endpoint: getEnv("ENGRAM_REMOTE_ENDPOINT", ""),
			Token:    getEnv("ENGRAM_REMOTE_TOKEN", ""),
		},
		AllowCycles: getEnvBool("ENGRAM_ALLOW_CYCLES", false),
		JWTSecret:   getEnv("ENGRAM_JWT_SECRET", ""),
		CORSOrigins: getEnvList("ENGRAM_CORS_ORIGINS", []string{"http://localhost:3000"}),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	switch c.Backend.Type {
	case persistence.BackendSQLite:
		if c.Backend.Path == "" {
			return fmt.Errorf("ENGRAM_SQLITE_PATH is required for the sqlite backend")
		}
	case persistence.BackendDynamoDB:
		if c.Backend.Table == "" {
			return fmt.Errorf("ENGRAM_DYNAMODB_TABLE is required for the dynamodb backend")
		}
	case persistence.BackendRemote:
		if c.Backend.Endpoint == "" {
			return fmt.Errorf("ENGRAM_REMOTE_ENDPOINT is required for the remote backend")
		}
	default:
		return fmt.Errorf("unknown backend type %q", c.Backend.Type)
	}

	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("ENGRAM_JWT_SECRET is required in production")
	}
	return nil
}

// IsDevelopment reports whether this is a development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether this is a production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
