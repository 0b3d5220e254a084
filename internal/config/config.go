// Package config holds the provider configuration and its viper loader.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/database"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/kgerr"
)

const (
	ProviderNone  = "none"
	ProviderNeo4j = "neo4j"

	DefaultBatchSize          = 1
	DefaultExtractionPrompt   = "ner_kg_extraction"
	DefaultQueryTimeout       = 30 * time.Second
	DefaultFetchConcurrency   = 4
	MaxEmbeddingDims          = 65536
	DefaultBreakerMaxRequests = 1
	DefaultBreakerInterval    = 60 * time.Second
	DefaultBreakerTimeout     = 30 * time.Second
	DefaultBreakerTripRatio   = 0.6
)

// SupportedProviders lists the accepted provider identifiers.
var SupportedProviders = []string{ProviderNone, ProviderNeo4j}

// ProviderConfig selects and tunes a knowledge-graph provider.
type ProviderConfig struct {
	Provider           string `mapstructure:"provider"`
	BatchSize          int    `mapstructure:"batch_size"`
	KGExtractionPrompt string `mapstructure:"kg_extraction_prompt"`

	// EmbeddingDims fixes the vector dimension; 0 adopts the first stored vector.
	EmbeddingDims int           `mapstructure:"embedding_dims"`
	PruneOrphans  bool          `mapstructure:"prune_orphans"`
	QueryTimeout  time.Duration `mapstructure:"query_timeout"`

	Store          database.Config `mapstructure:"store"`
	Neo4j          Neo4jConfig     `mapstructure:"neo4j"`
	CircuitBreaker BreakerConfig   `mapstructure:"circuit_breaker"`
	Log            LogConfig       `mapstructure:"log"`
	Metrics        MetricsConfig   `mapstructure:"metrics"`
}

type Neo4jConfig struct {
	URI              string `mapstructure:"uri"`
	Username         string `mapstructure:"username"`
	Password         string `mapstructure:"password"`
	Database         string `mapstructure:"database"`
	FetchConcurrency int    `mapstructure:"fetch_concurrency"`
}

type BreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	ReadyToTripRatio float64       `mapstructure:"ready_to_trip_ratio"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Prometheus bool   `mapstructure:"prometheus"`
	Addr       string `mapstructure:"addr"`
}

// Default returns a "none" provider config with every default applied.
func Default() ProviderConfig {
	return ProviderConfig{
		Provider:           ProviderNone,
		BatchSize:          DefaultBatchSize,
		KGExtractionPrompt: DefaultExtractionPrompt,
		PruneOrphans:       true,
		QueryTimeout:       DefaultQueryTimeout,
		Store:              *database.NewConfig(),
		Neo4j: Neo4jConfig{
			Database:         "neo4j",
			FetchConcurrency: DefaultFetchConcurrency,
		},
		CircuitBreaker: BreakerConfig{
			Enabled:          true,
			MaxRequests:      DefaultBreakerMaxRequests,
			Interval:         DefaultBreakerInterval,
			Timeout:          DefaultBreakerTimeout,
			ReadyToTripRatio: DefaultBreakerTripRatio,
		},
		Log:     LogConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Addr: ":9090"},
	}
}

// SetDefaults registers Default() on v so env overrides resolve for every key.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("provider", d.Provider)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("kg_extraction_prompt", d.KGExtractionPrompt)
	v.SetDefault("embedding_dims", d.EmbeddingDims)
	v.SetDefault("prune_orphans", d.PruneOrphans)
	v.SetDefault("query_timeout", d.QueryTimeout)

	v.SetDefault("store.url", d.Store.URL)
	v.SetDefault("store.auth_token", "")
	v.SetDefault("store.max_open_conns", 0)
	v.SetDefault("store.max_idle_conns", 0)
	v.SetDefault("store.conn_max_idle_sec", 0)
	v.SetDefault("store.conn_max_life_sec", 0)

	v.SetDefault("neo4j.uri", "")
	v.SetDefault("neo4j.username", "")
	v.SetDefault("neo4j.password", "")
	v.SetDefault("neo4j.database", d.Neo4j.Database)
	v.SetDefault("neo4j.fetch_concurrency", d.Neo4j.FetchConcurrency)

	v.SetDefault("circuit_breaker.enabled", d.CircuitBreaker.Enabled)
	v.SetDefault("circuit_breaker.max_requests", d.CircuitBreaker.MaxRequests)
	v.SetDefault("circuit_breaker.interval", d.CircuitBreaker.Interval)
	v.SetDefault("circuit_breaker.timeout", d.CircuitBreaker.Timeout)
	v.SetDefault("circuit_breaker.ready_to_trip_ratio", d.CircuitBreaker.ReadyToTripRatio)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("metrics.prometheus", d.Metrics.Prometheus)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// NewViper returns a viper instance with defaults and KG_ env binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("KG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads defaults, then the optional file at path, then KG_* env vars.
func Load(path string) (*ProviderConfig, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, kgerr.Errorf(kgerr.CodeConfigInvalid, "reading config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates a config from v.
func FromViper(v *viper.Viper) (*ProviderConfig, error) {
	var cfg ProviderConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, kgerr.Errorf(kgerr.CodeConfigInvalid, "unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem in one ConfigError. It touches no resources.
func (c *ProviderConfig) Validate() error {
	var errs []error
	errs = append(errs, c.validateCore()...)
	errs = append(errs, c.validateVector()...)
	errs = append(errs, c.validateBackend()...)
	if len(errs) == 0 {
		return nil
	}
	return kgerr.Errorf(kgerr.CodeConfigInvalid, "validating config: %w", errors.Join(errs...))
}

func (c *ProviderConfig) validateCore() []error {
	var errs []error
	switch {
	case c.Provider == "":
		errs = append(errs, invalid("config: provider must be set, one of [%s]", strings.Join(SupportedProviders, ", ")))
	case !isSupported(c.Provider):
		errs = append(errs, invalid("config: provider must be one of [%s], got %q",
			strings.Join(SupportedProviders, ", "), c.Provider))
	}
	if c.BatchSize < 1 {
		errs = append(errs, invalid("config: batch_size must be >= 1, got %d", c.BatchSize))
	}
	return errs
}

func (c *ProviderConfig) validateVector() []error {
	var errs []error
	if c.EmbeddingDims < 0 || c.EmbeddingDims > MaxEmbeddingDims {
		errs = append(errs, invalid("config: embedding_dims must be between 0 and %d, got %d",
			MaxEmbeddingDims, c.EmbeddingDims))
	}
	if c.QueryTimeout < 0 {
		errs = append(errs, invalid("config: query_timeout must not be negative, got %s", c.QueryTimeout))
	}
	return errs
}

func (c *ProviderConfig) validateBackend() []error {
	var errs []error
	switch c.Provider {
	case ProviderNone:
		if c.Store.URL == "" {
			errs = append(errs, invalid("config: store.url must not be empty"))
		}
		if c.Store.MaxOpenConns < 0 || c.Store.MaxIdleConns < 0 {
			errs = append(errs, invalid("config: store connection limits must not be negative"))
		}
	case ProviderNeo4j:
		if c.Neo4j.URI == "" {
			errs = append(errs, invalid("config: neo4j.uri is required for provider %q", ProviderNeo4j))
		}
		if c.Neo4j.FetchConcurrency < 1 {
			errs = append(errs, invalid("config: neo4j.fetch_concurrency must be >= 1, got %d", c.Neo4j.FetchConcurrency))
		}
		if c.CircuitBreaker.Enabled {
			if r := c.CircuitBreaker.ReadyToTripRatio; r <= 0 || r > 1 {
				errs = append(errs, invalid("config: circuit_breaker.ready_to_trip_ratio must be in (0, 1], got %v", r))
			}
		}
	}
	return errs
}

func invalid(format string, args ...any) error {
	return kgerr.Errorf(kgerr.CodeConfigInvalid, format, args...)
}

func isSupported(p string) bool {
	for _, s := range SupportedProviders {
		if s == p {
			return true
		}
	}
	return false
}
