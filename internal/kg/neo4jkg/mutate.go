package neo4jkg

import (
	"context"
	"slices"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/kg"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/metrics"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/vector"
)

// UpsertNodes creates or replaces nodes, one transaction per BatchSize
// chunk. A failing chunk leaves earlier ones committed.
func (a *Adapter) UpsertNodes(ctx context.Context, nodes []apptype.EntityNode) error {
	done := metrics.TimeOp("kg_upsert_nodes")
	success := false
	defer func() { done(success) }()

	prepared, err := kg.PrepareNodes(nodes)
	if err != nil {
		return err
	}
	for i := range prepared {
		vec, replaced := vector.Sanitize(prepared[i].Embedding)
		if replaced > 0 {
			a.logger.Warn("replaced non-finite embedding values with 0", "id", prepared[i].ID, "count", replaced)
		}
		prepared[i].Embedding = vec
	}

	for _, c := range kg.Chunks(len(prepared), a.cfg.BatchSize) {
		chunk := prepared[c[0]:c[1]]
		vecs := make([][]float32, len(chunk))
		for i, n := range chunk {
			vecs[i] = n.Embedding
		}
		release, err := a.reserveDims(vecs)
		if err != nil {
			return err
		}
		out, err := a.write(ctx, "upsert nodes", func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
			structural := false
			for _, n := range chunk {
				changed, err := upsertNode(ctx, tx, n, a.nextSeq())
				if err != nil {
					return nil, err
				}
				structural = structural || changed
			}
			return structural, nil
		})
		release(err == nil)
		if err != nil {
			return err
		}
		if out.(bool) {
			a.schema.Invalidate()
		}
	}
	success = true
	return nil
}

// upsertNode writes one node and reports whether the schema vocabulary may
// have changed.
func upsertNode(ctx context.Context, tx neo4j.ManagedTransaction, n apptype.EntityNode, seq int64) (bool, error) {
	res, err := tx.Run(ctx, upsertNodeCypher(), map[string]any{
		"id":       n.ID,
		"seq":      seq,
		"props":    nodeProps(n),
		"reserved": reservedKeys,
	})
	if err != nil {
		return false, err
	}
	rec, err := res.Single(ctx)
	if err != nil {
		return false, err
	}
	created, _ := asBool(record(rec, "created"))
	wasPlaceholder, _ := asBool(record(rec, "wasPlaceholder"))
	oldLabel, _ := asString(record(rec, "oldLabel"))
	oldKeys := asStrings(record(rec, "oldKeys"))

	if created || wasPlaceholder || oldLabel != n.Label {
		if oldLabel != n.Label {
			relabel, err := tx.Run(ctx, relabelCypher(oldLabel, n.Label), map[string]any{"id": n.ID})
			if err != nil {
				return false, err
			}
			if _, err := relabel.Consume(ctx); err != nil {
				return false, err
			}
		}
		return true, nil
	}
	return !sameKeys(oldKeys, userProps(n.Properties)), nil
}

// UpsertRelations creates or replaces relations. Missing endpoints are
// created as placeholders and stay invisible until upserted.
func (a *Adapter) UpsertRelations(ctx context.Context, relations []apptype.Relation) error {
	done := metrics.TimeOp("kg_upsert_relations")
	success := false
	defer func() { done(success) }()

	prepared, err := kg.PrepareRelations(relations)
	if err != nil {
		return err
	}
	for _, c := range kg.Chunks(len(prepared), a.cfg.BatchSize) {
		chunk := prepared[c[0]:c[1]]
		out, err := a.write(ctx, "upsert relations", func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
			structural := false
			for _, r := range chunk {
				res, err := tx.Run(ctx, upsertRelationCypher(r.Predicate), map[string]any{
					"subject": r.SubjectID,
					"object":  r.ObjectID,
					"seq":     a.nextSeq(),
					"props":   userProps(r.Properties),
				})
				if err != nil {
					return nil, err
				}
				rec, err := res.Single(ctx)
				if err != nil {
					return nil, err
				}
				created, _ := asBool(record(rec, "created"))
				if created || !sameKeys(asStrings(record(rec, "oldKeys")), userProps(r.Properties)) {
					structural = true
				}
			}
			return structural, nil
		})
		if err != nil {
			return err
		}
		if out.(bool) {
			a.schema.Invalidate()
		}
	}
	success = true
	return nil
}

// Delete removes one triplet and prunes endpoints left without relations.
func (a *Adapter) Delete(ctx context.Context, subj, rel, obj string) error {
	done := metrics.TimeOp("kg_delete")
	success := false
	defer func() { done(success) }()

	if subj == "" || rel == "" || obj == "" {
		success = true
		return nil
	}
	out, err := a.write(ctx, "delete triplet", func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, deleteRelationCypher(rel), map[string]any{"subject": subj, "object": obj})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		removed, _ := asInt64(record(rec, "removed"))
		if removed == 0 {
			return false, nil
		}
		pruned, err := prune(ctx, tx, []string{subj, obj}, a.cfg.PruneOrphans)
		if err != nil {
			return nil, err
		}
		for _, id := range pruned {
			a.logger.Debug("pruned orphan node", "id", id)
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	if out.(bool) {
		a.schema.Invalidate()
	}
	success = true
	return nil
}

// DeleteNodes removes nodes with their incident relations. Placeholders
// left without relations are cleaned up.
func (a *Adapter) DeleteNodes(ctx context.Context, ids []string) error {
	done := metrics.TimeOp("kg_delete_nodes")
	success := false
	defer func() { done(success) }()

	if len(ids) == 0 {
		success = true
		return nil
	}
	out, err := a.write(ctx, "delete nodes", func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, deleteNodesCypher(), map[string]any{"ids": ids})
		if err != nil {
			return nil, err
		}
		recs, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			return false, nil
		}
		var neighbours []string
		for _, rec := range recs {
			neighbours = append(neighbours, asStrings(record(rec, "neighbours"))...)
		}
		if _, err := prune(ctx, tx, neighbours, false); err != nil {
			return nil, err
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	if out.(bool) {
		a.schema.Invalidate()
	}
	success = true
	return nil
}

func prune(ctx context.Context, tx neo4j.ManagedTransaction, ids []string, orphans bool) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	res, err := tx.Run(ctx, pruneCypher(), map[string]any{"ids": ids, "prune": orphans})
	if err != nil {
		return nil, err
	}
	recs, err := res.Collect(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		if id, ok := asString(record(rec, "id")); ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// sameKeys reports whether old (sorted) matches the keys of props.
func sameKeys(old []string, props map[string]any) bool {
	if len(old) != len(props) {
		return false
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return slices.Equal(keys, old)
}
