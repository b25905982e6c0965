// Package config handles application configuration loading and management.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Server ServerConfig
	Cache  CacheConfig
	DocDB  DocDBConfig
	Tokens TokenConfig
	Abuse  AbuseConfig
	Log    LogConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Host    string
	Port    int
	GinMode string
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CacheConfig holds cache-related configuration.
type CacheConfig struct {
	Type     string
	Host     string
	Port     string
	Password string
	DB       int
}

// DocDBConfig holds document database configuration.
type DocDBConfig struct {
	Type     string
	URI      string
	Database string
}

// TokenConfig holds the bootstrap token signing configuration. Keys live
// here until the configuration document carries its own; the document
// always wins when both are present.
type TokenConfig struct {
	// SigningKeys maps key id to base64url-encoded secret, parsed from
	// SIGNING_KEYS ("id1:secret1,id2:secret2").
	SigningKeys map[string]string

	// DefaultKeyID names the key that signs new tokens. Every key
	// verifies.
	DefaultKeyID string

	// SettingsPollInterval is how often the configuration document is
	// re-read.
	SettingsPollInterval time.Duration
}

// AbuseConfig holds abuse recording configuration.
type AbuseConfig struct {
	Window time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	signingKeys, err := parseSigningKeys(os.Getenv("SIGNING_KEYS"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:    getEnv("SERVER_HOST", "0.0.0.0"),
			Port:    getEnvAsInt("SERVER_PORT", 8080),
			GinMode: getEnv("GIN_MODE", "debug"),
		},
		Cache: CacheConfig{
			Type:     getEnv("CACHE_TYPE", "redis"),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		DocDB: DocDBConfig{
			Type:     getEnv("DOCDB_TYPE", "mongodb"),
			URI:      getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database: getEnv("MONGODB_DATABASE", "leyline"),
		},
		Tokens: TokenConfig{
			SigningKeys:          signingKeys,
			DefaultKeyID:         getEnv("SIGNING_KEY_DEFAULT", ""),
			SettingsPollInterval: time.Duration(getEnvAsInt("SETTINGS_POLL_INTERVAL_SECONDS", 30)) * time.Second,
		},
		Abuse: AbuseConfig{
			Window: time.Duration(getEnvAsInt("ABUSE_WINDOW_SECONDS", 86400)) * time.Second,
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if cfg.Tokens.DefaultKeyID == "" && len(signingKeys) == 1 {
		for id := range signingKeys {
			cfg.Tokens.DefaultKeyID = id
		}
	}

	return cfg, nil
}

// parseSigningKeys parses "id1:secret1,id2:secret2" into a map.
func parseSigningKeys(raw string) (map[string]string, error) {
	keys := map[string]string{}
	if raw == "" {
		return keys, nil
	}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, secret, found := strings.Cut(pair, ":")
		if !found || id == "" || secret == "" {
			return nil, fmt.Errorf("malformed SIGNING_KEYS entry %q", pair)
		}
		if _, exists := keys[id]; exists {
			return nil, fmt.Errorf("duplicate SIGNING_KEYS id %q", id)
		}
		keys[id] = secret
	}
	return keys, nil
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
