// Package memory is the reference knowledge-graph provider ("none"). The
// graph and vector index live in memory behind one lock and are mirrored to
// libsql, which also serves structured SQL queries.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/config"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/database"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/graph"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/kg"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/kgerr"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/logging"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/metrics"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/schema"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/vector"
)

// Engine implements kg.Provider.
type Engine struct {
	cfg       config.ProviderConfig
	logger    *log.Logger
	extractor kg.Extractor
	db        *database.DBManager

	// mu guards graph, vectors and closed together so readers never see a
	// node without its embedding or the reverse.
	mu      sync.RWMutex
	graph   *graph.Store
	vectors *vector.Index
	closed  bool

	schema *schema.Cache
}

var _ kg.Provider = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger injects the logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithExtractor sets the extraction collaborator.
func WithExtractor(x kg.Extractor) Option {
	return func(e *Engine) { e.extractor = x }
}

// Open validates cfg, opens the libsql mirror and reloads the stored graph.
func Open(ctx context.Context, cfg config.ProviderConfig, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:     cfg,
		graph:   graph.NewStore(),
		vectors: vector.NewIndex(cfg.EmbeddingDims),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.Component(e.logger, "kg.memory")
	e.schema = schema.NewCache(e.computeSchema)

	store := cfg.Store
	db, err := database.NewDBManager(ctx, &store, e.logger)
	if err != nil {
		return nil, kgerr.Wrap(err, kgerr.CodeBackendUnavailable, "open store")
	}
	e.db = db
	if err := e.reload(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	e.logger.Info("provider ready", "nodes", e.graph.Stats().Nodes, "embeddings", e.vectors.Len(), "dims", e.vectors.Dims())
	return e, nil
}

// reload rebuilds in-memory state from the mirror.
func (e *Engine) reload(ctx context.Context) error {
	nodes, rels, err := e.db.LoadGraph(ctx)
	if err != nil {
		return kgerr.Wrap(err, kgerr.CodeDatabaseFailure, "load graph")
	}
	for _, n := range nodes {
		e.graph.UpsertNode(n.Labelled())
		if n.Embedding == nil {
			continue
		}
		if err := e.vectors.Put(n.ID, n.Embedding); err != nil {
			return kgerr.Wrap(err, kgerr.CodeDimensionMismatch, fmt.Sprintf("stored embedding of %q", n.ID))
		}
	}
	for _, r := range rels {
		e.graph.UpsertRelation(r)
	}
	e.observeSizes()
	return nil
}

func (e *Engine) Name() string { return config.ProviderNone }

// Client returns the *sql.DB of the libsql mirror.
func (e *Engine) Client() any { return e.db.DB() }

// Close releases the store. Later calls fail with an unavailable error.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.db.Close()
}

// Stats reports store sizes and detected SQL capabilities.
func (e *Engine) Stats(ctx context.Context) (apptype.Stats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.usable(ctx); err != nil {
		return apptype.Stats{}, err
	}
	st := e.graph.Stats()
	st.Embeddings = e.vectors.Len()
	st.Dims = e.vectors.Dims()
	st.Capabilities = e.db.Capabilities().Map()
	return st, nil
}

// UpdateExtractionPrompt forwards the merged extraction vocabulary to the
// extractor. Without an extractor it does nothing.
func (e *Engine) UpdateExtractionPrompt(ctx context.Context, prompts kg.PromptProvider, entityTypes, relations []string) error {
	if e.extractor == nil {
		return nil
	}
	snap, err := e.GetSchema(ctx, false)
	if err != nil {
		return err
	}
	e.extractor.UpdatePrompt(ctx, kg.BuildPromptUpdate(e.cfg.KGExtractionPrompt, prompts, snap, entityTypes, relations))
	return nil
}

// usable must be called with mu held.
func (e *Engine) usable(ctx context.Context) error {
	if e.closed {
		return kgerr.New(kgerr.CodeBackendUnavailable, "provider is closed")
	}
	return kgerr.FromContext(ctx.Err(), kgerr.CodeQueryFailure, "operation cancelled")
}

// queryContext applies the configured query timeout.
func (e *Engine) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.QueryTimeout > 0 {
		return context.WithTimeout(ctx, e.cfg.QueryTimeout)
	}
	return context.WithCancel(ctx)
}

// observeSizes must be called with mu held.
func (e *Engine) observeSizes() {
	st := e.graph.Stats()
	rec := metrics.Default()
	rec.SetIndexSize("nodes", st.Nodes)
	rec.SetIndexSize("relations", st.Relations)
	rec.SetIndexSize("embeddings", e.vectors.Len())
}
