// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir              string // Base directory for all generated artifacts (always absolute)
	PolygonAPIKey        string // Required: Polygon.io REST API key
	FinancialsCacheHours int    // TTL for the per-ticker filing cache in live mode
	CoarseMaxConcurrent  int    // Bounded concurrency for coarse row building
	LiveMode             bool   // Live deployments re-check filing caches; batch runs trust them
	LogLevel             string
	Port                 int
	DevMode              bool
	Backup               *BackupConfig
}

// BackupConfig holds S3 backup configuration.
// Backups are disabled when the bucket is empty.
type BackupConfig struct {
	Bucket          string
	Endpoint        string // Optional custom endpoint (e.g., Cloudflare R2)
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether backups are configured.
func (b *BackupConfig) Enabled() bool {
	return b != nil && b.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory with fallback logic:
	// 1. Check REFDATA_DATA_DIR environment variable
	// 2. If not set, default to ./data
	// 3. Always resolve to absolute path and ensure it exists
	dataDir := getEnv("REFDATA_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:              absDataDir,
		PolygonAPIKey:        getEnv("POLYGON_API_KEY", ""),
		FinancialsCacheHours: getEnvAsInt("POLYGON_FINANCIALS_CACHE_HOURS", 24),
		CoarseMaxConcurrent:  getEnvAsInt("POLYGON_COARSE_MAX_CONCURRENT", 10),
		LiveMode:             getEnvAsBool("REFDATA_LIVE_MODE", false),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		Port:                 getEnvAsInt("PORT", 8002),
		DevMode:              getEnvAsBool("DEV_MODE", false),
		Backup:               loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	// The process cannot do anything useful without upstream credentials,
	// so this is the one error that aborts startup.
	if c.PolygonAPIKey == "" {
		return fmt.Errorf("POLYGON_API_KEY is required")
	}
	if c.FinancialsCacheHours <= 0 {
		c.FinancialsCacheHours = 24
	}
	if c.CoarseMaxConcurrent <= 0 {
		c.CoarseMaxConcurrent = 10
	}
	return nil
}

func loadBackupConfig() *BackupConfig {
	bucket := getEnv("BACKUP_S3_BUCKET", "")
	if bucket == "" {
		return nil
	}
	return &BackupConfig{
		Bucket:          bucket,
		Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
		Region:          getEnv("BACKUP_S3_REGION", "auto"),
		AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
