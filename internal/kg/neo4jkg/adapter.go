// Package neo4jkg implements the "neo4j" knowledge-graph provider. Nodes
// carry a shared base label plus their type label; traversal ordering and
// vector ranking run client-side so results match the reference engine.
package neo4jkg

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/config"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/kg"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/kgerr"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/logging"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/schema"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/vector"
)

// Adapter implements kg.Provider on a neo4j database.
type Adapter struct {
	cfg       config.ProviderConfig
	logger    *log.Logger
	extractor kg.Extractor
	driver    neo4j.DriverWithContext
	guard     *guard
	schema    *schema.Cache

	dimsMu sync.Mutex
	dims   int

	seq    atomic.Int64
	closed atomic.Bool
}

var _ kg.Provider = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger injects the logger.
func WithLogger(l *log.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// WithExtractor sets the extraction collaborator.
func WithExtractor(x kg.Extractor) Option {
	return func(a *Adapter) { a.extractor = x }
}

// Open validates cfg, connects to neo4j and ensures the id constraint.
func Open(ctx context.Context, cfg config.ProviderConfig, opts ...Option) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Provider != config.ProviderNeo4j {
		return nil, kgerr.Errorf(kgerr.CodeConfigInvalid, "neo4j adapter cannot serve provider %q", cfg.Provider)
	}
	a := &Adapter{cfg: cfg, dims: cfg.EmbeddingDims}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.Component(a.logger, "kg.neo4j")
	a.guard = newGuard(cfg.CircuitBreaker, a.logger)
	a.schema = schema.NewCache(a.computeSchema)
	a.seq.Store(time.Now().UnixNano())

	driver, err := neo4j.NewDriverWithContext(cfg.Neo4j.URI, neo4j.BasicAuth(cfg.Neo4j.Username, cfg.Neo4j.Password, ""))
	if err != nil {
		return nil, kgerr.Wrap(err, kgerr.CodeBackendUnavailable, "create neo4j driver")
	}
	a.driver = driver
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, kgerr.Wrap(err, kgerr.CodeBackendUnavailable, "connect to neo4j")
	}
	if err := a.bootstrap(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	a.logger.Info("provider ready", "uri", cfg.Neo4j.URI, "database", cfg.Neo4j.Database, "dims", a.dims)
	return a, nil
}

// bootstrap creates the id constraint and adopts the stored dimension.
func (a *Adapter) bootstrap(ctx context.Context) error {
	_, err := a.write(ctx, "create constraint", func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, constraintCypher(), nil)
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return err
	}
	if a.dims > 0 {
		return nil
	}
	out, err := a.read(ctx, "load dimension", func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, storedDimsCypher(), nil)
		if err != nil {
			return nil, err
		}
		recs, err := res.Collect(ctx)
		if err != nil || len(recs) == 0 {
			return int64(0), err
		}
		n, _ := asInt64(record(recs[0], "dims"))
		return n, nil
	})
	if err != nil {
		return err
	}
	a.dims = int(out.(int64))
	return nil
}

func (a *Adapter) Name() string { return config.ProviderNeo4j }

// Client returns the neo4j.DriverWithContext.
func (a *Adapter) Client() any { return a.driver }

// Close releases the driver. Later calls fail with an unavailable error.
func (a *Adapter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	return a.driver.Close(context.Background())
}

// UpdateExtractionPrompt forwards the merged extraction vocabulary to the
// extractor. Without an extractor it does nothing.
func (a *Adapter) UpdateExtractionPrompt(ctx context.Context, prompts kg.PromptProvider, entityTypes, relations []string) error {
	if a.extractor == nil {
		return nil
	}
	snap, err := a.GetSchema(ctx, false)
	if err != nil {
		return err
	}
	a.extractor.UpdatePrompt(ctx, kg.BuildPromptUpdate(a.cfg.KGExtractionPrompt, prompts, snap, entityTypes, relations))
	return nil
}

type txWork func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error)

func (a *Adapter) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.cfg.Neo4j.Database, AccessMode: mode})
}

func (a *Adapter) read(ctx context.Context, msg string, work txWork) (any, error) {
	return a.exec(ctx, neo4j.AccessModeRead, msg, kgerr.CodeQueryFailure, work)
}

func (a *Adapter) write(ctx context.Context, msg string, work txWork) (any, error) {
	return a.exec(ctx, neo4j.AccessModeWrite, msg, kgerr.CodeDatabaseFailure, work)
}

// exec runs work in a managed transaction behind the circuit breaker.
func (a *Adapter) exec(ctx context.Context, mode neo4j.AccessMode, msg string, fallback kgerr.Code, work txWork) (any, error) {
	if a.closed.Load() {
		return nil, kgerr.New(kgerr.CodeBackendUnavailable, "provider is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, kgerr.FromContext(err, fallback, msg)
	}
	out, err := a.guard.run(func() (any, error) {
		sess := a.session(ctx, mode)
		defer sess.Close(ctx)
		fn := func(tx neo4j.ManagedTransaction) (any, error) { return work(ctx, tx) }
		if mode == neo4j.AccessModeRead {
			return sess.ExecuteRead(ctx, fn)
		}
		return sess.ExecuteWrite(ctx, fn)
	})
	if err != nil {
		return nil, classify(err, fallback, msg)
	}
	return out, nil
}

// nextSeq returns a process-unique, increasing creation sequence.
func (a *Adapter) nextSeq() int64 { return a.seq.Add(1) }

// reserveDims validates a batch against the known dimension. While no
// dimension is known, a batch carrying vectors keeps dimsMu held until the
// returned release is called, so concurrent first writes cannot store
// mixed dimensions. release(true) adopts the batch's dimension.
func (a *Adapter) reserveDims(vecs [][]float32) (release func(committed bool), err error) {
	a.dimsMu.Lock()
	if err := vector.NewIndex(a.dims).CheckAll(vecs); err != nil {
		a.dimsMu.Unlock()
		return nil, err
	}
	first := 0
	if a.dims == 0 {
		for _, v := range vecs {
			if len(v) > 0 {
				first = len(v)
				break
			}
		}
	}
	if first == 0 {
		a.dimsMu.Unlock()
		return func(bool) {}, nil
	}
	return func(committed bool) {
		if committed {
			a.dims = first
		}
		a.dimsMu.Unlock()
	}, nil
}

func (a *Adapter) currentDims() int {
	a.dimsMu.Lock()
	defer a.dimsMu.Unlock()
	return a.dims
}

// queryContext applies the configured query timeout.
func (a *Adapter) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.QueryTimeout > 0 {
		return context.WithTimeout(ctx, a.cfg.QueryTimeout)
	}
	return context.WithCancel(ctx)
}

// Stats counts nodes, relations and embeddings in the database.
func (a *Adapter) Stats(ctx context.Context) (apptype.Stats, error) {
	out, err := a.read(ctx, "stats", func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, statsCypher(), nil)
		if err != nil {
			return nil, err
		}
		return res.Single(ctx)
	})
	if err != nil {
		return apptype.Stats{}, err
	}
	rec := out.(*neo4j.Record)
	count := func(k string) int {
		n, _ := asInt64(record(rec, k))
		return int(n)
	}
	return apptype.Stats{
		Nodes:        count("nodes"),
		Relations:    count("relations"),
		Dangling:     count("dangling"),
		Embeddings:   count("embeddings"),
		Dims:         a.currentDims(),
		Capabilities: map[string]bool{"cypher": true, "vector": true},
	}, nil
}
