package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds all configuration for the logsift server.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Fetch      FetchConfig
	Processing ProcessingConfig
	BugIndex   BugIndexConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	RateLimitPerMin int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// FetchConfig bounds raw log downloads.
type FetchConfig struct {
	Timeout      time.Duration
	MaxBytes     int64
	MaxLineBytes int
	RPS          float64
}

// ProcessingConfig drives the background processing pass.
type ProcessingConfig struct {
	BatchSize     int
	Workers       int
	Schedule      string
	JobTimeout    time.Duration
	MaxErrorLines int
}

type BugIndexConfig struct {
	Schedule      string
	SourceFile    string
	MaxCandidates int
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("LOGSIFT_PORT", 8080),
			Env:             envString("LOGSIFT_ENV", "development"),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Fetch: FetchConfig{
			Timeout:      envDuration("LOG_FETCH_TIMEOUT", 30*time.Second),
			MaxBytes:     envInt64("LOG_MAX_BYTES", 50<<20),
			MaxLineBytes: envInt("LOG_MAX_LINE_BYTES", 64<<10),
			RPS:          envFloat("LOG_FETCH_RPS", 20),
		},
		Processing: ProcessingConfig{
			BatchSize:     envInt("PROCESS_BATCH_SIZE", 10),
			Workers:       envInt("PROCESS_WORKERS", 4),
			Schedule:      envString("PROCESS_SCHEDULE", "@every 10s"),
			JobTimeout:    envDurationSecs("PROCESS_JOB_TIMEOUT_SECS", 5*time.Minute),
			MaxErrorLines: envInt("MAX_ERROR_LINES", 100),
		},
		BugIndex: BugIndexConfig{
			Schedule:      envString("BUG_INDEX_SCHEDULE", "@every 5m"),
			SourceFile:    os.Getenv("BUG_SOURCE_FILE"),
			MaxCandidates: envInt("MAX_BUG_CANDIDATES", 20),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Fetch.MaxBytes <= 0 {
		return fmt.Errorf("LOG_MAX_BYTES must be positive, got %d", c.Fetch.MaxBytes)
	}
	if c.Fetch.MaxLineBytes < 1024 {
		return fmt.Errorf("LOG_MAX_LINE_BYTES must be at least 1024, got %d", c.Fetch.MaxLineBytes)
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("LOG_FETCH_TIMEOUT must be positive, got %s", c.Fetch.Timeout)
	}

	if c.Processing.BatchSize <= 0 {
		return fmt.Errorf("PROCESS_BATCH_SIZE must be positive, got %d", c.Processing.BatchSize)
	}
	if c.Processing.Workers <= 0 {
		return fmt.Errorf("PROCESS_WORKERS must be positive, got %d", c.Processing.Workers)
	}
	if c.Processing.MaxErrorLines <= 0 {
		return fmt.Errorf("MAX_ERROR_LINES must be positive, got %d", c.Processing.MaxErrorLines)
	}
	if c.BugIndex.MaxCandidates <= 0 {
		return fmt.Errorf("MAX_BUG_CANDIDATES must be positive, got %d", c.BugIndex.MaxCandidates)
	}

	if _, err := cron.ParseStandard(c.Processing.Schedule); err != nil {
		return fmt.Errorf("PROCESS_SCHEDULE is invalid: %w", err)
	}
	if _, err := cron.ParseStandard(c.BugIndex.Schedule); err != nil {
		return fmt.Errorf("BUG_INDEX_SCHEDULE is invalid: %w", err)
	}

	if c.BugIndex.SourceFile != "" {
		if _, err := os.Stat(c.BugIndex.SourceFile); err != nil {
			return fmt.Errorf("BUG_SOURCE_FILE is not readable: %w", err)
		}
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
