// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// MongoConfig provides document store connection settings.
type MongoConfig interface {
	GetMongoURI() string
	GetMongoDatabase() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
	GetRateLimitRPS() float64
	GetRateLimitBurst() int
}

// SchedulerConfig provides settings for the asynq client and worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetLastActivityRecalcInterval() time.Duration
}

// LockConfig provides settings for the redis run lock.
type LockConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetBulkRecalcLockTTL() time.Duration
}

// PipelineConfig provides defaults for the stage and scoring engine.
type PipelineConfig interface {
	GetStalledStageAgeDays() int
	GetStalledNoActivityDays() int
	GetScoringTaxonomyPath() string
	GetAutoSyncDeals() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                   string
	HTTPAddr              string
	MongoURI              string
	MongoDatabase         string
	JWTAccessSecret       string
	CORSAllowAll          bool
	CORSOrigins           []string
	CORSAllowCreds        bool
	RateLimitRPS          float64
	RateLimitBurst        int
	RedisURL              string
	RedisTLSInsecure      bool
	AsynqQueueName        string
	AsynqConcurrency      int
	BulkRecalcLockTTL     time.Duration
	RecalcInterval        time.Duration
	StalledStageAgeDays   int
	StalledNoActivityDays int
	ScoringTaxonomyPath   string
	AutoSyncDeals         bool
}

// =============================================================================
// Interface Implementations
// =============================================================================

// MongoConfig implementation
func (c *Config) GetMongoURI() string      { return c.MongoURI }
func (c *Config) GetMongoDatabase() string { return c.MongoDatabase }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }
func (c *Config) GetRateLimitRPS() float64 { return c.RateLimitRPS }
func (c *Config) GetRateLimitBurst() int   { return c.RateLimitBurst }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }
func (c *Config) GetLastActivityRecalcInterval() time.Duration {
	return c.RecalcInterval
}

// LockConfig implementation
func (c *Config) GetBulkRecalcLockTTL() time.Duration { return c.BulkRecalcLockTTL }

// PipelineConfig implementation
func (c *Config) GetStalledStageAgeDays() int    { return c.StalledStageAgeDays }
func (c *Config) GetStalledNoActivityDays() int  { return c.StalledNoActivityDays }
func (c *Config) GetScoringTaxonomyPath() string { return c.ScoringTaxonomyPath }
func (c *Config) GetAutoSyncDeals() bool         { return c.AutoSyncDeals }

// Load reads configuration from environment variables, after merging a
// local .env file when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                   getEnv("APP_ENV", "development"),
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		MongoURI:              getEnv("MONGODB_URI", ""),
		MongoDatabase:         getEnv("MONGODB_DATABASE", "estate_crm"),
		JWTAccessSecret:       getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:          corsAllowAll,
		CORSOrigins:           corsOrigins,
		CORSAllowCreds:        strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RateLimitRPS:          mustFloat(getEnv("RATE_LIMIT_RPS", "20")),
		RateLimitBurst:        mustInt(getEnv("RATE_LIMIT_BURST", "40")),
		RedisURL:              getEnv("REDIS_URL", ""),
		RedisTLSInsecure:      strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:        getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:      mustInt(getEnv("ASYNQ_CONCURRENCY", "4")),
		BulkRecalcLockTTL:     mustDuration(getEnv("BULK_RECALC_LOCK_TTL", "15m")),
		RecalcInterval:        mustDuration(getEnv("LAST_ACTIVITY_RECALC_INTERVAL", "0s")),
		StalledStageAgeDays:   mustInt(getEnv("STALLED_STAGE_AGE_DAYS", "21")),
		StalledNoActivityDays: mustInt(getEnv("STALLED_NO_ACTIVITY_DAYS", "14")),
		ScoringTaxonomyPath:   getEnv("SCORING_TAXONOMY_PATH", ""),
		AutoSyncDeals:         strings.EqualFold(getEnv("PIPELINE_AUTO_SYNC_DEALS", "false"), "true"),
	}

	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("MONGODB_URI is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.StalledStageAgeDays <= 0 || cfg.StalledNoActivityDays <= 0 {
		return nil, fmt.Errorf("STALLED_STAGE_AGE_DAYS and STALLED_NO_ACTIVITY_DAYS must be positive integers")
	}
	if cfg.BulkRecalcLockTTL <= 0 {
		return nil, fmt.Errorf("BULK_RECALC_LOCK_TTL must be a positive duration")
	}
	if cfg.RecalcInterval < 0 {
		return nil, fmt.Errorf("LAST_ACTIVITY_RECALC_INTERVAL must not be negative")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
