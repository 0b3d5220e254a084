package neo4jkg

import (
	"context"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/graph"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/kg"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/kgerr"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/metrics"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/schema"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/vector"
)

// Get returns the active triplets of subj in creation order.
func (a *Adapter) Get(ctx context.Context, subj string) ([]apptype.Triplet, error) {
	done := metrics.TimeOp("kg_get")
	success := false
	defer func() { done(success) }()

	out, err := a.read(ctx, "get triplets", func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, getCypher(), map[string]any{"id": subj})
		if err != nil {
			return nil, err
		}
		recs, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		triplets := make([]apptype.Triplet, 0, len(recs))
		for _, rec := range recs {
			triplets = append(triplets, tripletOf(rec))
		}
		return triplets, nil
	})
	if err != nil {
		return nil, err
	}
	success = true
	return out.([]apptype.Triplet), nil
}

// GetRelMap expands subjs breadth-first. Each level's frontier is fetched
// in parallel slices bounded by the configured fetch concurrency.
func (a *Adapter) GetRelMap(ctx context.Context, subjs []string, depth, limit int) (map[string][]apptype.Triplet, error) {
	done := metrics.TimeOp("kg_get_rel_map")
	success := false
	defer func() { done(success) }()

	out, err := a.relMap(ctx, subjs, depth, limit)
	if err != nil {
		return nil, err
	}
	success = true
	return out, nil
}

func (a *Adapter) relMap(ctx context.Context, subjs []string, depth, limit int) (map[string][]apptype.Triplet, error) {
	if limit <= 0 {
		return map[string][]apptype.Triplet{}, nil
	}
	seeds := subjs
	if len(seeds) == 0 {
		var err error
		if seeds, err = a.subjects(ctx); err != nil {
			return nil, err
		}
	}
	out, err := graph.RelMap(ctx, seeds, depth, limit, a.neighbours)
	if err != nil {
		return nil, classify(err, kgerr.CodeQueryFailure, "rel map")
	}
	return out, nil
}

func (a *Adapter) subjects(ctx context.Context) ([]string, error) {
	out, err := a.read(ctx, "list subjects", func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, subjectsCypher(), nil)
		if err != nil {
			return nil, err
		}
		recs, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(recs))
		for _, rec := range recs {
			if id, ok := asString(record(rec, "id")); ok {
				ids = append(ids, id)
			}
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]string), nil
}

// neighbours is the graph.NeighborFunc backed by neo4j.
func (a *Adapter) neighbours(ctx context.Context, frontier []string) (map[string][]graph.Edge, error) {
	parts := split(frontier, a.cfg.Neo4j.FetchConcurrency)
	results := make([]map[string][]graph.Edge, len(parts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Neo4j.FetchConcurrency)
	for i, part := range parts {
		g.Go(func() error {
			m, err := a.fetchEdges(gctx, part)
			results[i] = m
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string][]graph.Edge, len(frontier))
	for _, m := range results {
		for id, edges := range m {
			merged[id] = edges
		}
	}
	return merged, nil
}

func (a *Adapter) fetchEdges(ctx context.Context, ids []string) (map[string][]graph.Edge, error) {
	out, err := a.read(ctx, "fetch neighbours", func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, neighboursCypher(), map[string]any{"ids": ids})
		if err != nil {
			return nil, err
		}
		recs, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		return edgesByNode(recs), nil
	})
	if err != nil {
		return nil, err
	}
	return out.(map[string][]graph.Edge), nil
}

// edgesByNode groups neighbour rows by the frontier node they were found
// from, dropping the duplicate rows a self loop produces.
func edgesByNode(recs []*neo4j.Record) map[string][]graph.Edge {
	out := make(map[string][]graph.Edge)
	seen := make(map[string]map[apptype.Triplet]struct{})
	for _, rec := range recs {
		via, _ := asString(record(rec, "via"))
		seq, _ := asInt64(record(rec, "seq"))
		t := tripletOf(rec)
		if seen[via] == nil {
			seen[via] = make(map[apptype.Triplet]struct{})
		}
		if _, dup := seen[via][t]; dup {
			continue
		}
		seen[via][t] = struct{}{}
		out[via] = append(out[via], graph.Edge{Triplet: t, Seq: seq})
	}
	return out
}

func tripletOf(rec *neo4j.Record) apptype.Triplet {
	s, _ := asString(record(rec, "s"))
	p, _ := asString(record(rec, "p"))
	o, _ := asString(record(rec, "o"))
	return apptype.Triplet{s, p, o}
}

// split divides ids into at most n contiguous slices.
func split(ids []string, n int) [][]string {
	if n < 1 {
		n = 1
	}
	if len(ids) == 0 {
		return nil
	}
	size := (len(ids) + n - 1) / n
	out := make([][]string, 0, n)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}

// GetSchema returns the cached schema snapshot unless refresh is set.
func (a *Adapter) GetSchema(ctx context.Context, refresh bool) (apptype.SchemaSnapshot, error) {
	done := metrics.TimeOp("kg_get_schema")
	success := false
	defer func() { done(success) }()

	snap, err := a.schema.Get(ctx, refresh)
	if err != nil {
		return apptype.SchemaSnapshot{}, err
	}
	success = true
	return snap, nil
}

func (a *Adapter) computeSchema(ctx context.Context) (apptype.SchemaSnapshot, error) {
	out, err := a.read(ctx, "compute schema", func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		params := map[string]any{"reserved": reservedKeys}
		column := func(cypher string) ([]string, error) {
			res, err := tx.Run(ctx, cypher, params)
			if err != nil {
				return nil, err
			}
			recs, err := res.Collect(ctx)
			if err != nil {
				return nil, err
			}
			vals := make([]string, 0, len(recs))
			for _, rec := range recs {
				if v, ok := asString(record(rec, "v")); ok {
					vals = append(vals, v)
				}
			}
			return kg.MergeVocabulary(vals), nil
		}
		labels, err := column(schemaLabelsCypher())
		if err != nil {
			return nil, err
		}
		predicates, err := column(schemaPredicatesCypher())
		if err != nil {
			return nil, err
		}
		keys, err := column(schemaKeysCypher())
		if err != nil {
			return nil, err
		}

		res, err := tx.Run(ctx, schemaPatternsCypher(), nil)
		if err != nil {
			return nil, err
		}
		recs, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		patterns := make([]string, 0, len(recs))
		for _, rec := range recs {
			t := tripletOf(rec)
			patterns = append(patterns, graph.Pattern(t.Subject(), t.Predicate(), t.Object()))
		}
		return schema.Build(labels, predicates, keys, kg.MergeVocabulary(patterns)), nil
	})
	if err != nil {
		return apptype.SchemaSnapshot{}, err
	}
	return out.(apptype.SchemaSnapshot), nil
}

// StructuredQuery runs Cypher in a read transaction with the bound
// parameters passed through to the driver.
func (a *Adapter) StructuredQuery(ctx context.Context, query string, params apptype.ParamMap) (*apptype.QueryResult, error) {
	done := metrics.TimeOp("kg_structured_query")
	success := false
	defer func() { done(success) }()

	if strings.TrimSpace(query) == "" {
		return nil, kgerr.New(kgerr.CodeQueryFailure, "query cannot be empty")
	}
	ctx, cancel := a.queryContext(ctx)
	defer cancel()

	out, err := a.read(ctx, "structured query", func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, driverParams(params))
		if err != nil {
			return nil, err
		}
		keys, err := res.Keys()
		if err != nil {
			return nil, err
		}
		recs, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		return resultFromRecords(keys, recs), nil
	})
	if err != nil {
		return nil, err
	}
	success = true
	return out.(*apptype.QueryResult), nil
}

// VectorQuery loads embedded candidates narrowed by label and id, applies
// the property filter and ranks them client-side by cosine similarity.
func (a *Adapter) VectorQuery(ctx context.Context, q apptype.VectorQuery) (*apptype.VectorQueryResult, error) {
	done := metrics.TimeOp("kg_vector_query")
	success := false
	defer func() { done(success) }()

	result := &apptype.VectorQueryResult{Matches: []apptype.ScoredNode{}}
	if q.TopK <= 0 {
		success = true
		return result, nil
	}
	vec, replaced := vector.Sanitize(q.Embedding)
	if replaced > 0 {
		a.logger.Warn("replaced non-finite query values with 0", "count", replaced)
	}
	if err := vector.NewIndex(a.currentDims()).Check(vec); err != nil {
		return nil, err
	}

	ctx, cancel := a.queryContext(ctx)
	defer cancel()

	cands, err := a.candidates(ctx, q.Filter)
	if err != nil {
		return nil, err
	}
	matches, err := vector.Rank(ctx, vec, cands, q.TopK)
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
		rm, err := a.relMap(ctx, ids, q.ContextDepth, limit)
		if err != nil {
			return nil, err
		}
		result.Context = rm
	}
	success = true
	return result, nil
}

func (a *Adapter) candidates(ctx context.Context, filter *apptype.NodeFilter) ([]vector.Candidate, error) {
	params := map[string]any{}
	byLabel := filter != nil && len(filter.Labels) > 0
	byID := filter != nil && len(filter.IDs) > 0
	if byLabel {
		params["labels"] = filter.Labels
	}
	if byID {
		params["ids"] = filter.IDs
	}
	out, err := a.read(ctx, "vector candidates", func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, candidatesCypher(byLabel, byID), params)
		if err != nil {
			return nil, err
		}
		recs, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		cands := make([]vector.Candidate, 0, len(recs))
		for _, rec := range recs {
			n, ok := record(rec, "n").(dbtype.Node)
			if !ok {
				continue
			}
			node, vec := nodeFromDB(n)
			if vec == nil || !filter.Match(node) {
				continue
			}
			cands = append(cands, vector.Candidate{Node: node, Vector: vec})
		}
		return cands, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]vector.Candidate), nil
}
