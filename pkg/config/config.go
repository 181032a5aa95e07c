package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ekaya-geoenrich.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// StateBackend selects the job state store: "postgres" or "memory".
	StateBackend string `yaml:"state_backend" env:"STATE_BACKEND" env-default:"postgres"`

	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Overpass   OverpassConfig   `yaml:"overpass"`
	Indexing   IndexingConfig   `yaml:"indexing"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	API        APIConfig        `yaml:"api"`
	MCP        MCPConfig        `yaml:"mcp"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_geoenrich"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds the feature cache configuration. Caching is disabled when Host is empty.
type RedisConfig struct {
	Host            string        `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port            int           `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password        string        `yaml:"-" env:"REDIS_PASSWORD"`
	DB              int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	FeatureCacheTTL time.Duration `yaml:"feature_cache_ttl" env:"REDIS_FEATURE_CACHE_TTL" env-default:"24h"`
}

// OverpassConfig holds the feature service endpoint settings.
type OverpassConfig struct {
	URL            string        `yaml:"url" env:"OVERPASS_URL" env-default:"https://overpass-api.de/api/interpreter"`
	Timeout        time.Duration `yaml:"timeout" env:"OVERPASS_TIMEOUT" env-default:"90s"`
	UserAgent      string        `yaml:"user_agent" env:"OVERPASS_USER_AGENT" env-default:"ekaya-geoenrich"`
	QueryTimeoutS  int           `yaml:"query_timeout_seconds" env:"OVERPASS_QUERY_TIMEOUT_SECONDS" env-default:"60"`
	MaxFeatureSize int64         `yaml:"max_response_bytes" env:"OVERPASS_MAX_RESPONSE_BYTES" env-default:"268435456"`
}

// IndexingConfig controls cell fetching.
type IndexingConfig struct {
	Workers            int           `yaml:"workers" env:"INDEXING_WORKERS" env-default:"2"`
	MinRequestInterval time.Duration `yaml:"min_request_interval" env:"INDEXING_MIN_REQUEST_INTERVAL" env-default:"1s"`
	RateLimitRetries   int           `yaml:"rate_limit_retries" env:"INDEXING_RATE_LIMIT_RETRIES" env-default:"3"`
	RateLimitBackoff   time.Duration `yaml:"rate_limit_backoff" env:"INDEXING_RATE_LIMIT_BACKOFF" env-default:"5s"`
	RateLimitMaxWait   time.Duration `yaml:"rate_limit_max_wait" env:"INDEXING_RATE_LIMIT_MAX_WAIT" env-default:"2m"`
	DefaultGridTiles   int           `yaml:"default_grid_tiles" env:"INDEXING_DEFAULT_GRID_TILES" env-default:"4"`
	MaxGridTiles       int           `yaml:"max_grid_tiles" env:"INDEXING_MAX_GRID_TILES" env-default:"64"`
	DensityTiles       int           `yaml:"density_tiles" env:"INDEXING_DENSITY_TILES" env-default:"32"`
	ResumeInterrupted  bool          `yaml:"resume_interrupted" env:"INDEXING_RESUME_INTERRUPTED" env-default:"true"`
	ProgressLogEvery   time.Duration `yaml:"progress_log_interval" env:"INDEXING_PROGRESS_LOG_INTERVAL" env-default:"30s"` // 0 disables
}

// EnrichmentConfig controls record enrichment jobs.
type EnrichmentConfig struct {
	Workers          int           `yaml:"workers" env:"ENRICHMENT_WORKERS" env-default:"4"`
	BatchSize        int           `yaml:"batch_size" env:"ENRICHMENT_BATCH_SIZE" env-default:"500"`
	MaxMappingErrors int           `yaml:"max_mapping_errors" env:"ENRICHMENT_MAX_MAPPING_ERRORS" env-default:"100"`
	ProgressInterval time.Duration `yaml:"progress_interval" env:"ENRICHMENT_PROGRESS_INTERVAL" env-default:"500ms"`
	MappingFiles     []string      `yaml:"mapping_files" env:"ENRICHMENT_MAPPING_FILES" env-separator:","` // YAML mapping configs imported at startup
}

// APIConfig controls the operator HTTP API.
type APIConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" env:"API_REQUESTS_PER_MINUTE" env-default:"300"`
}

// MCPConfig controls the MCP operator endpoint.
type MCPConfig struct {
	Enabled bool `yaml:"enabled" env:"MCP_ENABLED" env-default:"true"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// A missing config.yaml is not an error: defaults and environment variables apply.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StateBackend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("state_backend must be \"postgres\" or \"memory\", got %q", c.StateBackend)
	}
	if c.Indexing.Workers < 1 {
		return fmt.Errorf("indexing.workers must be at least 1")
	}
	if c.Indexing.MaxGridTiles < 1 || c.Indexing.DefaultGridTiles < 1 || c.Indexing.DefaultGridTiles > c.Indexing.MaxGridTiles {
		return fmt.Errorf("indexing grid tiles must satisfy 1 <= default_grid_tiles <= max_grid_tiles")
	}
	if c.Enrichment.Workers < 1 || c.Enrichment.BatchSize < 1 {
		return fmt.Errorf("enrichment.workers and enrichment.batch_size must be at least 1")
	}
	return nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		ResolveHostForDocker(c.Host), c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
