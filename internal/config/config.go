// Package config provides engine configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.workbench/config.yaml, or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Storage: PostgreSQL connection for the persistent vector store
//   - Embedding: embedder model and vector dimension
//   - Retrieval: confidence threshold, ranking weights, timeouts
//   - RateLimits: per-tool admission ceilings, loaded once and immutable
//   - Sources: external search client settings
//   - Maintenance: cache eviction sweep interval
//
// Error handling uses sentinel errors so callers can branch with errors.Is;
// validation happens at load time and fails fast with a precise error.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidEmbedderModel indicates the embedder model name is empty.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbedderDimension indicates the embedder dimension is not positive.
	ErrInvalidEmbedderDimension = errors.New("invalid embedder dimension")

	// ErrInvalidConfidenceThreshold indicates the threshold is outside [0, 1].
	ErrInvalidConfidenceThreshold = errors.New("invalid confidence threshold")

	// ErrInvalidRankingWeight indicates a negative ranking weight.
	ErrInvalidRankingWeight = errors.New("invalid ranking weight")

	// ErrInvalidRateLimit indicates a rate limit with a non-positive ceiling or window.
	ErrInvalidRateLimit = errors.New("invalid rate limit")

	// ErrInvalidSweepInterval indicates a non-positive maintenance sweep interval.
	ErrInvalidSweepInterval = errors.New("invalid sweep interval")
)

// DefaultEmbedderModel is the default embedding model. text-embedding-3-small
// class models and gemini-embedding-001 both support 1536-dimension output;
// the persistent store schema is fixed at 1536 (see knowledge.VectorDimension).
const DefaultEmbedderModel = "gemini-embedding-001"

// RateLimit is the admission ceiling for one tool: at most Ceiling allowed
// calls within any trailing Window.
type RateLimit struct {
	Ceiling int           `mapstructure:"ceiling" json:"ceiling"`
	Window  time.Duration `mapstructure:"window" json:"window"`
}

// RetrievalConfig tunes the hybrid retriever.
type RetrievalConfig struct {
	// ConfidenceThreshold is the minimum cosine similarity at which a cached
	// hit is trusted without live fan-out. Range [0, 1].
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" json:"confidence_threshold"`

	// Ranking weights for the stored quality signals. They are combined at
	// ranking time, never persisted pre-combined, so reweighting does not
	// require rewriting rows.
	RelevanceWeight float64 `mapstructure:"relevance_weight" json:"relevance_weight"`
	AuthorityWeight float64 `mapstructure:"authority_weight" json:"authority_weight"`
	FeedbackWeight  float64 `mapstructure:"feedback_weight" json:"feedback_weight"`

	// MaxResults is the default result count when the caller does not ask
	// for a specific one.
	MaxResults int `mapstructure:"max_results" json:"max_results"`

	// EmbedTimeout bounds each embedding call. Expiry downgrades the request
	// to cache-only rather than failing it.
	EmbedTimeout time.Duration `mapstructure:"embed_timeout" json:"embed_timeout"`

	// FetchTimeout bounds each outbound source call, per attempt.
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" json:"fetch_timeout"`

	// CacheTTL is how long a live-fetched chunk stays in the persistent
	// cache before the maintenance sweep may evict it. Zero disables
	// expiry for newly persisted chunks.
	CacheTTL time.Duration `mapstructure:"cache_ttl" json:"cache_ttl"`
}

// SourceConfig holds settings shared by the external search clients.
type SourceConfig struct {
	UserAgent    string        `mapstructure:"user_agent" json:"user_agent"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout" json:"http_timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts" json:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" json:"max_delay"`

	// DocsBaseURL is the documentation site queried by the doc-site client.
	DocsBaseURL string `mapstructure:"docs_base_url" json:"docs_base_url"`
}

// Config stores engine configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON.
type Config struct {
	// Storage configuration for the persistent vector store.
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Embedding configuration.
	EmbedderModel     string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDimension int    `mapstructure:"embedder_dimension" json:"embedder_dimension"`

	// Retrieval configuration.
	Retrieval RetrievalConfig `mapstructure:"retrieval" json:"retrieval"`

	// RateLimits maps tool name to its admission ceiling. Loaded once at
	// startup; hot reload is out of scope.
	RateLimits map[string]RateLimit `mapstructure:"rate_limits" json:"rate_limits"`

	// Source client configuration.
	Sources SourceConfig `mapstructure:"sources" json:"sources"`

	// SweepInterval is the cache maintenance sweep period.
	SweepInterval time.Duration `mapstructure:"sweep_interval" json:"sweep_interval"`

	// SessionMaxIdle is how long an idle session keeps its ephemeral index.
	SessionMaxIdle time.Duration `mapstructure:"session_max_idle" json:"session_max_idle"`

	// Server configuration (serve mode only).
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	TrustProxy bool   `mapstructure:"trust_proxy" json:"trust_proxy"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".workbench")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// PostgreSQL defaults (matching docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "workbench")
	v.SetDefault("postgres_password", "workbench_dev_password")
	v.SetDefault("postgres_db_name", "workbench")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Embedding defaults
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("embedder_dimension", 1536)

	// Retrieval defaults
	v.SetDefault("retrieval.confidence_threshold", 0.82)
	v.SetDefault("retrieval.relevance_weight", 1.0)
	v.SetDefault("retrieval.authority_weight", 0.5)
	v.SetDefault("retrieval.feedback_weight", 0.25)
	v.SetDefault("retrieval.max_results", 5)
	v.SetDefault("retrieval.embed_timeout", 10*time.Second)
	v.SetDefault("retrieval.fetch_timeout", 15*time.Second)
	v.SetDefault("retrieval.cache_ttl", 7*24*time.Hour)

	// Per-tool rate limits (requests per trailing window)
	v.SetDefault("rate_limits.qa_site.ceiling", 10)
	v.SetDefault("rate_limits.qa_site.window", time.Minute)
	v.SetDefault("rate_limits.code_host.ceiling", 10)
	v.SetDefault("rate_limits.code_host.window", time.Minute)
	v.SetDefault("rate_limits.official_doc.ceiling", 20)
	v.SetDefault("rate_limits.official_doc.window", time.Minute)
	v.SetDefault("rate_limits.http.ceiling", 60)
	v.SetDefault("rate_limits.http.window", time.Minute)

	// Source client defaults
	v.SetDefault("sources.user_agent", "Workbench/1.0 (+https://github.com/ingnisage/workbench)")
	v.SetDefault("sources.http_timeout", 15*time.Second)
	v.SetDefault("sources.max_attempts", 3)
	v.SetDefault("sources.initial_delay", time.Second)
	v.SetDefault("sources.max_delay", 10*time.Second)
	v.SetDefault("sources.docs_base_url", "https://spark.apache.org/docs/latest")

	// Maintenance defaults
	v.SetDefault("sweep_interval", 10*time.Minute)
	v.SetDefault("session_max_idle", time.Hour)

	// Server defaults
	v.SetDefault("listen_addr", "127.0.0.1:8080")
	v.SetDefault("trust_proxy", false)
}

// bindEnvVariables binds environment overrides explicitly.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("postgres_host", "WORKBENCH_POSTGRES_HOST")
	mustBind("postgres_port", "WORKBENCH_POSTGRES_PORT")
	mustBind("postgres_user", "WORKBENCH_POSTGRES_USER")
	mustBind("postgres_password", "WORKBENCH_POSTGRES_PASSWORD")
	mustBind("postgres_db_name", "WORKBENCH_POSTGRES_DB")
	mustBind("embedder_model", "WORKBENCH_EMBEDDER_MODEL")
	mustBind("listen_addr", "WORKBENCH_LISTEN_ADDR")
	mustBind("trust_proxy", "WORKBENCH_TRUST_PROXY")

	// NOTE: GEMINI_API_KEY is read directly by the embedding provider.
	// NOTE: GITHUB_TOKEN is read directly by the code-host client.
}

// ConnURL returns the postgres:// connection URL for the configured store.
func (c *Config) ConnURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword,
		c.PostgresHost, c.PostgresPort,
		c.PostgresDBName, c.PostgresSSLMode)
}

// Validate checks the configuration for invalid values, failing fast with a
// sentinel error that callers can match with errors.Is.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: model must not be empty", ErrInvalidEmbedderModel)
	}
	if c.EmbedderDimension <= 0 {
		return fmt.Errorf("%w: dimension %d must be positive", ErrInvalidEmbedderDimension, c.EmbedderDimension)
	}
	if c.Retrieval.ConfidenceThreshold < 0 || c.Retrieval.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: %v not in [0, 1]", ErrInvalidConfidenceThreshold, c.Retrieval.ConfidenceThreshold)
	}
	for name, w := range map[string]float64{
		"relevance": c.Retrieval.RelevanceWeight,
		"authority": c.Retrieval.AuthorityWeight,
		"feedback":  c.Retrieval.FeedbackWeight,
	} {
		if w < 0 {
			return fmt.Errorf("%w: %s weight %v is negative", ErrInvalidRankingWeight, name, w)
		}
	}
	for tool, rl := range c.RateLimits {
		if rl.Ceiling <= 0 || rl.Window <= 0 {
			return fmt.Errorf("%w: tool %q ceiling=%d window=%v", ErrInvalidRateLimit, tool, rl.Ceiling, rl.Window)
		}
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidSweepInterval, c.SweepInterval)
	}
	return nil
}
