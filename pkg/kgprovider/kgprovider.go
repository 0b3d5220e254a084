// Package kgprovider is the library entry point: it validates a config,
// sets up logging and metrics once, and opens the selected provider.
package kgprovider

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/config"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/kg"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/kg/memory"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/kg/neo4jkg"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/kgerr"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/logging"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/metrics"
)

// Stable aliases for package users.
type (
	Provider       = kg.Provider
	Config         = config.ProviderConfig
	Extractor      = kg.Extractor
	PromptProvider = kg.PromptProvider
	PromptUpdate   = kg.PromptUpdate
	StaticPrompts  = kg.StaticPrompts

	EntityNode        = apptype.EntityNode
	Relation          = apptype.Relation
	Triplet           = apptype.Triplet
	LabelledNode      = apptype.LabelledNode
	ScoredNode        = apptype.ScoredNode
	NodeFilter        = apptype.NodeFilter
	VectorQuery       = apptype.VectorQuery
	VectorQueryResult = apptype.VectorQueryResult
	SchemaSnapshot    = apptype.SchemaSnapshot
	ParamMap          = apptype.ParamMap
	QueryResult       = apptype.QueryResult
	Stats             = apptype.Stats
)

// DefaultConfig returns a "none" provider config with defaults applied.
func DefaultConfig() Config { return config.Default() }

// LoadConfig reads defaults, an optional file and KG_* env vars.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

type options struct {
	logger    *log.Logger
	extractor kg.Extractor
}

// Option configures New.
type Option func(*options)

// WithLogger uses l instead of a logger built from cfg.Log.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithExtractor sets the extraction pipeline collaborator.
func WithExtractor(x kg.Extractor) Option {
	return func(o *options) { o.extractor = x }
}

// New validates cfg and opens the provider it selects. An invalid config
// fails before any storage is touched.
func New(ctx context.Context, cfg Config, opts ...Option) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
		if err != nil {
			return nil, kgerr.Wrap(err, kgerr.CodeConfigInvalid, "configure logging")
		}
		o.logger = logger
	}
	if err := metrics.Init(cfg.Metrics.Prometheus, cfg.Metrics.Addr); err != nil {
		o.logger.Warn("metrics exporter disabled", "err", err)
	}

	switch cfg.Provider {
	case config.ProviderNeo4j:
		return neo4jkg.Open(ctx, cfg, neo4jkg.WithLogger(o.logger), neo4jkg.WithExtractor(o.extractor))
	default:
		return memory.Open(ctx, cfg, memory.WithLogger(o.logger), memory.WithExtractor(o.extractor))
	}
}
