// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/ratemystay/internal/housing"
	"github.com/JakeFAU/ratemystay/internal/places"
)

// Storage backends for the raw place archive.
const (
	StorageNone  = "none"
	StorageLocal = "local"
	StorageGCS   = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Places  PlacesConfig  `mapstructure:"places"`
	Ingest  IngestConfig  `mapstructure:"ingest"`
	Query   QueryConfig   `mapstructure:"query"`
	DB      DBConfig      `mapstructure:"db"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Storage StorageConfig `mapstructure:"storage"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles for admin routes.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// PlacesConfig configures the Places API client.
type PlacesConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RPS            float64       `mapstructure:"rps"`
	Burst          int           `mapstructure:"burst"`
	PageTokenDelay time.Duration `mapstructure:"page_token_delay"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	PhotoMaxWidth  int           `mapstructure:"photo_max_width"`
}

// IngestConfig governs ingestion runs and the background job pool.
type IngestConfig struct {
	MaxPages         int           `mapstructure:"max_pages"`
	PlaceConcurrency int           `mapstructure:"place_concurrency"`
	Workers          int           `mapstructure:"workers"`
	QueueDepth       int           `mapstructure:"queue_depth"`
	RunTimeout       time.Duration `mapstructure:"run_timeout"`
	DormitoryRadius  int           `mapstructure:"dormitory_radius_meters"`
	ApartmentRadius  int           `mapstructure:"apartment_radius_meters"`
	TownhomeRadius   int           `mapstructure:"townhome_radius_meters"`
}

// QueryConfig controls search paging.
type QueryConfig struct {
	Paging   string `mapstructure:"paging"`
	PageSize int    `mapstructure:"page_size"`
}

// DBConfig controls access to Postgres. An empty DSN selects in-memory stores.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// CacheConfig configures the Redis search cache. An empty Addr disables it.
type CacheConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
	Prefix   string        `mapstructure:"prefix"`
}

// StorageConfig selects where raw place payloads are archived.
type StorageConfig struct {
	Backend      string `mapstructure:"backend"`
	LocalDir     string `mapstructure:"local_dir"`
	GCSBucket    string `mapstructure:"gcs_bucket"`
	Prefix       string `mapstructure:"prefix"`
	CacheControl string `mapstructure:"cache_control"`
}

// PubSubConfig holds metadata for ingest completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	// Level overrides the default level (debug in development, info otherwise).
	Level string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RATEMYSTAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("places.base_url", "https://maps.googleapis.com/maps/api/place")
	v.SetDefault("places.api_key", "")
	v.SetDefault("places.timeout", "10s")
	v.SetDefault("places.rps", 10.0)
	v.SetDefault("places.burst", 5)
	v.SetDefault("places.page_token_delay", "2s")
	v.SetDefault("places.max_retries", 3)
	v.SetDefault("places.backoff_initial", "500ms")
	v.SetDefault("places.backoff_max", "8s")
	v.SetDefault("places.photo_max_width", 0)
	v.SetDefault("ingest.max_pages", 3)
	v.SetDefault("ingest.place_concurrency", 8)
	v.SetDefault("ingest.workers", 2)
	v.SetDefault("ingest.queue_depth", 64)
	v.SetDefault("ingest.run_timeout", "10m")
	v.SetDefault("ingest.dormitory_radius_meters", 2000)
	v.SetDefault("ingest.apartment_radius_meters", 10000)
	v.SetDefault("ingest.townhome_radius_meters", 10000)
	v.SetDefault("query.paging", string(housing.PagingOffset))
	v.SetDefault("query.page_size", 20)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("db.auto_migrate", false)
	v.SetDefault("cache.addr", "")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", "30s")
	v.SetDefault("cache.prefix", "listings")
	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "places")
	v.SetDefault("storage.cache_control", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Places.BaseURL == "" {
		return fmt.Errorf("places.base_url is required")
	}
	if c.Places.PageTokenDelay < places.MinPageTokenDelay {
		return fmt.Errorf("places.page_token_delay must be >= %s", places.MinPageTokenDelay)
	}
	if c.Places.MaxRetries < 0 {
		return fmt.Errorf("places.max_retries must be >= 0")
	}
	if c.Ingest.PlaceConcurrency <= 0 {
		return fmt.Errorf("ingest.place_concurrency must be > 0")
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest.workers must be > 0")
	}
	if c.Ingest.MaxPages <= 0 {
		return fmt.Errorf("ingest.max_pages must be > 0")
	}
	switch housing.PagingMode(c.Query.Paging) {
	case housing.PagingOffset, housing.PagingCursor:
	default:
		return fmt.Errorf("query.paging must be %q or %q", housing.PagingOffset, housing.PagingCursor)
	}
	if c.Query.PageSize <= 0 {
		return fmt.Errorf("query.page_size must be > 0")
	}
	switch c.Storage.Backend {
	case StorageNone:
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	return nil
}

// PagingMode returns the configured paging mode.
func (c Config) PagingMode() housing.PagingMode {
	return housing.PagingMode(c.Query.Paging)
}
