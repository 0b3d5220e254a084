package memory

import (
	"context"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/graph"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/kg"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/kgerr"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/metrics"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/schema"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/vector"
)

// Get returns the active triplets of subj in insertion order.
func (e *Engine) Get(ctx context.Context, subj string) ([]apptype.Triplet, error) {
	done := metrics.TimeOp("kg_get")
	success := false
	defer func() { done(success) }()

	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.usable(ctx); err != nil {
		return nil, err
	}
	out := e.graph.Get(subj)
	success = true
	return out, nil
}

// GetRelMap expands subjs breadth-first; see graph.RelMap for ordering.
func (e *Engine) GetRelMap(ctx context.Context, subjs []string, depth, limit int) (map[string][]apptype.Triplet, error) {
	done := metrics.TimeOp("kg_get_rel_map")
	success := false
	defer func() { done(success) }()

	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.usable(ctx); err != nil {
		return nil, err
	}
	out, err := e.relMap(ctx, subjs, depth, limit)
	if err != nil {
		return nil, err
	}
	success = true
	return out, nil
}

// relMap must be called with mu held.
func (e *Engine) relMap(ctx context.Context, subjs []string, depth, limit int) (map[string][]apptype.Triplet, error) {
	seeds := subjs
	if len(seeds) == 0 {
		seeds = e.graph.Subjects()
	}
	out, err := graph.RelMap(ctx, seeds, depth, limit, graph.StoreNeighbors(e.graph))
	if err != nil {
		return nil, kgerr.FromContext(err, kgerr.CodeQueryFailure, "rel map")
	}
	return out, nil
}

// GetSchema returns the cached schema snapshot unless refresh is set.
func (e *Engine) GetSchema(ctx context.Context, refresh bool) (apptype.SchemaSnapshot, error) {
	done := metrics.TimeOp("kg_get_schema")
	success := false
	defer func() { done(success) }()

	snap, err := e.schema.Get(ctx, refresh)
	if err != nil {
		return apptype.SchemaSnapshot{}, err
	}
	success = true
	return snap, nil
}

func (e *Engine) computeSchema(ctx context.Context) (apptype.SchemaSnapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.usable(ctx); err != nil {
		return apptype.SchemaSnapshot{}, err
	}
	v := e.graph.Vocabulary()
	return schema.Build(v.Labels, v.Predicates, v.PropertyKeys, v.Patterns), nil
}

// StructuredQuery runs read-only SQL against the libsql mirror.
func (e *Engine) StructuredQuery(ctx context.Context, query string, params apptype.ParamMap) (*apptype.QueryResult, error) {
	done := metrics.TimeOp("kg_structured_query")
	success := false
	defer func() { done(success) }()

	ctx, cancel := e.queryContext(ctx)
	defer cancel()

	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.usable(ctx); err != nil {
		return nil, err
	}
	res, err := e.db.Query(ctx, query, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, kgerr.FromContext(ctx.Err(), kgerr.CodeQueryFailure, "structured query")
		}
		return nil, kgerr.Wrap(err, kgerr.CodeQueryFailure, "structured query")
	}
	success = true
	return res, nil
}

// VectorQuery ranks node embeddings by cosine similarity to q.Embedding.
func (e *Engine) VectorQuery(ctx context.Context, q apptype.VectorQuery) (*apptype.VectorQueryResult, error) {
	done := metrics.TimeOp("kg_vector_query")
	success := false
	defer func() { done(success) }()

	ctx, cancel := e.queryContext(ctx)
	defer cancel()

	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.usable(ctx); err != nil {
		return nil, err
	}
	result := &apptype.VectorQueryResult{Matches: []apptype.ScoredNode{}}
	if q.TopK <= 0 {
		success = true
		return result, nil
	}

	vec, replaced := vector.Sanitize(q.Embedding)
	if replaced > 0 {
		e.logger.Warn("replaced non-finite query values with 0", "count", replaced)
	}
	matches, err := e.vectors.Query(ctx, vec, q.TopK, q.Filter, e.graph.Node)
	if err != nil {
		return nil, err
	}
	result.Matches = matches

	if q.IncludeContext && len(matches) > 0 {
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.Node.ID
		}
		limit := q.ContextLimit
		if limit <= 0 {
			limit = kg.DefaultRelMapLimit
		}
		rm, err := e.relMap(ctx, ids, q.ContextDepth, limit)
		if err != nil {
			return nil, err
		}
		result.Context = rm
	}
	success = true
	return result, nil
}
