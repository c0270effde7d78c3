package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `envconfig:"SERVER"`
	Database DatabaseConfig `envconfig:"DATABASE"`
	Redis    RedisConfig    `envconfig:"REDIS"`
	App      AppConfig      `envconfig:"APP"`
	Stats    StatsConfig    `envconfig:"STATS"`
	Geo      GeoConfig      `envconfig:"GEO"`
	Log      LogConfig      `envconfig:"LOG"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	GracefulTimeout time.Duration `envconfig:"GRACEFUL_TIMEOUT" default:"30s"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL             string        `envconfig:"POSTGRES_URL" required:"true"`
	MaxOpenConns    int           `envconfig:"MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"CONN_MAX_LIFETIME" default:"5m"`
	ConnMaxIdleTime time.Duration `envconfig:"CONN_MAX_IDLE_TIME" default:"5m"`
}

// RedisConfig holds Redis-related configuration
type RedisConfig struct {
	URL          string        `envconfig:"REDIS_URL" required:"true"`
	PoolSize     int           `envconfig:"POOL_SIZE" default:"10"`
	MinIdleConn  int           `envconfig:"MIN_IDLE_CONN" default:"5"`
	DialTimeout  time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Domain          string        `envconfig:"DOMAIN" default:"http://localhost:8080"`
	NotFoundURL     string        `envconfig:"NOT_FOUND_URL" default:"/page/notfound"`
	CodeLength      int           `envconfig:"CODE_LENGTH" default:"6"`
	PermuteA        int64         `envconfig:"PERMUTE_A" default:"1103515245"`
	PermuteB        int64         `envconfig:"PERMUTE_B" default:"12345"`
	SegmentStep     int64         `envconfig:"SEGMENT_STEP" default:"1000"`
	PrefetchRatio   float64       `envconfig:"PREFETCH_RATIO" default:"0.2"`
	CacheTTLCeiling time.Duration `envconfig:"CACHE_TTL_CEILING" default:"720h"` // 30 days
	TombstoneTTL    time.Duration `envconfig:"TOMBSTONE_TTL" default:"30m"`
	LocalCacheTTL   time.Duration `envconfig:"LOCAL_CACHE_TTL" default:"5m"`
	CreateRetries   int           `envconfig:"CREATE_RETRIES" default:"10"`
}

// StatsConfig holds configuration for the access-stats pipeline
type StatsConfig struct {
	Stream            string        `envconfig:"STREAM" default:"shortlink:stats:stream"`
	Group             string        `envconfig:"GROUP" default:"stats-consumer-group"`
	Consumer          string        `envconfig:"CONSUMER" default:"stats-consumer-1"`
	BatchSize         int64         `envconfig:"BATCH_SIZE" default:"32"`
	PollTimeout       time.Duration `envconfig:"POLL_TIMEOUT" default:"2s"`
	IdempotencyTTL    time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"2m"`
	RegisterTTL       time.Duration `envconfig:"REGISTER_TTL" default:"24h"`
	RecoveryInterval  time.Duration `envconfig:"RECOVERY_INTERVAL" default:"1m"`
	PendingIdle       time.Duration `envconfig:"PENDING_IDLE" default:"5m"`
	RetentionInterval time.Duration `envconfig:"RETENTION_INTERVAL" default:"5m"`
	RetentionBuffer   int64         `envconfig:"RETENTION_BUFFER" default:"1024"`
	Timezone          string        `envconfig:"TIMEZONE" default:"UTC"`
}

// GeoConfig holds configuration for the geo lookup collaborator
type GeoConfig struct {
	Provider    string        `envconfig:"PROVIDER" default:"offline"` // offline or remote
	DatasetPath string        `envconfig:"DATASET_PATH" default:""`
	APIEndpoint string        `envconfig:"API_ENDPOINT" default:""`
	APIKey      string        `envconfig:"API_KEY" default:""`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"3s"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"` // json or console
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.CodeLength != 6 && c.App.CodeLength != 7 {
		return fmt.Errorf("code length must be 6 or 7, got %d", c.App.CodeLength)
	}

	if c.App.SegmentStep < 1 {
		c.App.SegmentStep = 1000
	}

	if c.App.PrefetchRatio <= 0 || c.App.PrefetchRatio >= 1 {
		c.App.PrefetchRatio = 0.2
	}

	if c.Stats.BatchSize < 1 {
		c.Stats.BatchSize = 32
	}

	if _, err := time.LoadLocation(c.Stats.Timezone); err != nil {
		return fmt.Errorf("invalid stats timezone %q: %w", c.Stats.Timezone, err)
	}

	if c.Geo.Provider != "offline" && c.Geo.Provider != "remote" {
		return fmt.Errorf("geo provider must be offline or remote, got %q", c.Geo.Provider)
	}

	return nil
}
