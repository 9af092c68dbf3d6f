package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Catalog backends.
const (
	BackendS3  = "s3"
	BackendGCS = "gcs"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Remote catalog.
	CatalogBackend   string        `env:"CATALOG_BACKEND" envDefault:"s3"`
	S3Bucket         string        `env:"S3_BUCKET" envDefault:"ciroh-community-ngen-datastream"`
	S3Region         string        `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint       string        `env:"S3_ENDPOINT"`
	CatalogRateLimit float64       `env:"CATALOG_RATE_LIMIT" envDefault:"10"`
	CatalogTimeout   time.Duration `env:"CATALOG_TIMEOUT" envDefault:"15s"`
	GCSBucket        string        `env:"GCS_BUCKET"`
	GCSCredentials   string        `env:"GCS_CREDENTIALS_FILE"`

	// Listing cache. Disabled when the directory is empty.
	ListingCacheDir string        `env:"LISTING_CACHE_DIR"`
	ListingCacheTTL time.Duration `env:"LISTING_CACHE_TTL" envDefault:"10m"`

	// Content cache and query engine.
	CacheDir string `env:"CACHE_DIR" envDefault:"./data/nrds-arrow-cache"`
	// EnginePath is the query engine's database file. It must live outside
	// CACHE_DIR, which a cache reset empties. ENGINE_DSN overrides it, e.g.
	// ":memory:".
	EnginePath        string `env:"ENGINE_PATH" envDefault:"./data/nrds-engine.db"`
	EngineDSN         string `env:"ENGINE_DSN"`
	ResidentVariables int    `env:"RESIDENT_VARIABLES" envDefault:"3"`

	// NetCDF to Arrow conversion service.
	ConverterURL     string        `env:"CONVERTER_URL" envDefault:"http://localhost:8000/apps/nrds/getParquetPerVpu/"`
	ConverterTimeout time.Duration `env:"CONVERTER_TIMEOUT" envDefault:"5m"`

	// Hydrofabric reference table.
	IndexParquetURL string `env:"INDEX_PARQUET_URL" envDefault:"https://communityhydrofabric.s3.us-east-1.amazonaws.com/map/hydrofabric_index.parquet"`
	IndexEnabled    bool   `env:"INDEX_ENABLED" envDefault:"true"`

	// Dataset lifecycle events.
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"datastream-dataset-events"`

	// Tracing. Disabled when the endpoint is empty.
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.KafkaBrokers = trimBrokers(cfg.KafkaBrokers)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ShutdownTimeout <= 0 {
		return errors.New("SHUTDOWN_TIMEOUT must be positive")
	}
	switch c.CatalogBackend {
	case BackendS3:
		if c.S3Bucket == "" {
			return errors.New("S3_BUCKET is required")
		}
	case BackendGCS:
		if c.GCSBucket == "" {
			return errors.New("GCS_BUCKET is required when CATALOG_BACKEND is gcs")
		}
	default:
		return fmt.Errorf("invalid CATALOG_BACKEND %q", c.CatalogBackend)
	}
	if c.CatalogRateLimit <= 0 {
		return errors.New("CATALOG_RATE_LIMIT must be positive")
	}
	if c.CacheDir == "" {
		return errors.New("CACHE_DIR is required")
	}
	if c.EngineDSN == "" {
		if c.EnginePath == "" {
			return errors.New("ENGINE_PATH is required when ENGINE_DSN is not set")
		}
		if filepath.Clean(filepath.Dir(c.EnginePath)) == filepath.Clean(c.CacheDir) {
			return errors.New("ENGINE_PATH must not be inside CACHE_DIR")
		}
	}
	if c.ResidentVariables < 1 {
		return errors.New("RESIDENT_VARIABLES must be at least 1")
	}
	if c.ConverterURL == "" {
		return errors.New("CONVERTER_URL is required")
	}
	if c.IndexEnabled && c.IndexParquetURL == "" {
		return errors.New("INDEX_ENABLED is true but INDEX_PARQUET_URL is not set")
	}
	if c.KafkaEnabled {
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required")
		}
		if c.KafkaTopic == "" {
			return errors.New("KAFKA_TOPIC is required")
		}
	}
	return nil
}

// EngineSource returns the DSN of the query engine: ENGINE_DSN when set,
// otherwise the ENGINE_PATH file in WAL mode.
func (c *Config) EngineSource() string {
	if c.EngineDSN != "" {
		return c.EngineDSN
	}
	return "file:" + filepath.Clean(c.EnginePath) + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
}

// S3BaseURL returns the virtual-hosted endpoint of the catalog bucket.
func (c *Config) S3BaseURL() string {
	if c.S3Endpoint != "" {
		return strings.TrimSuffix(c.S3Endpoint, "/")
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", c.S3Bucket, c.S3Region)
}

func trimBrokers(in []string) []string {
	out := make([]string, 0, len(in))
	for _, b := range in {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
