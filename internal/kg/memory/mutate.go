package memory

import (
	"context"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/database"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/kg"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/kgerr"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/metrics"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/vector"
)

// UpsertNodes creates or replaces nodes in BatchSize chunks. Each chunk is
// committed on its own; a failing chunk leaves earlier ones in place.
func (e *Engine) UpsertNodes(ctx context.Context, nodes []apptype.EntityNode) error {
	done := metrics.TimeOp("kg_upsert_nodes")
	success := false
	defer func() { done(success) }()

	prepared, err := kg.PrepareNodes(nodes)
	if err != nil {
		return err
	}
	for i := range prepared {
		if prepared[i].Embedding == nil {
			continue
		}
		vec, replaced := vector.Sanitize(prepared[i].Embedding)
		if replaced > 0 {
			e.logger.Warn("replaced non-finite embedding values with 0", "id", prepared[i].ID, "count", replaced)
		}
		prepared[i].Embedding = vec
	}

	for _, c := range kg.Chunks(len(prepared), e.cfg.BatchSize) {
		if err := e.upsertNodeChunk(ctx, prepared[c[0]:c[1]]); err != nil {
			return err
		}
	}
	success = true
	return nil
}

func (e *Engine) upsertNodeChunk(ctx context.Context, chunk []apptype.EntityNode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usable(ctx); err != nil {
		return err
	}

	vecs := make([][]float32, len(chunk))
	for i, n := range chunk {
		vecs[i] = n.Embedding
	}
	if err := e.vectors.CheckAll(vecs); err != nil {
		return err
	}
	if err := e.db.Apply(ctx, database.Batch{UpsertNodes: chunk}); err != nil {
		return kgerr.FromContext(err, kgerr.CodeDatabaseFailure, "upsert nodes")
	}

	changed := false
	for _, n := range chunk {
		changed = e.graph.UpsertNode(n.Labelled()) || changed
		if n.Embedding == nil {
			e.vectors.Delete(n.ID)
			continue
		}
		if err := e.vectors.Put(n.ID, n.Embedding); err != nil {
			// CheckAll passed, so this only trips on a broken invariant.
			return err
		}
	}
	if changed {
		e.schema.Invalidate()
	}
	e.observeSizes()
	return nil
}

// UpsertRelations creates or replaces relations in BatchSize chunks.
// Relations with a missing endpoint are stored but stay inactive until the
// endpoint exists.
func (e *Engine) UpsertRelations(ctx context.Context, relations []apptype.Relation) error {
	done := metrics.TimeOp("kg_upsert_relations")
	success := false
	defer func() { done(success) }()

	prepared, err := kg.PrepareRelations(relations)
	if err != nil {
		return err
	}
	for _, c := range kg.Chunks(len(prepared), e.cfg.BatchSize) {
		if err := e.upsertRelationChunk(ctx, prepared[c[0]:c[1]]); err != nil {
			return err
		}
	}
	success = true
	return nil
}

func (e *Engine) upsertRelationChunk(ctx context.Context, chunk []apptype.Relation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usable(ctx); err != nil {
		return err
	}
	if err := e.db.Apply(ctx, database.Batch{UpsertRelations: chunk}); err != nil {
		return kgerr.FromContext(err, kgerr.CodeDatabaseFailure, "upsert relations")
	}
	changed := false
	for _, r := range chunk {
		changed = e.graph.UpsertRelation(r) || changed
	}
	if changed {
		e.schema.Invalidate()
	}
	e.observeSizes()
	return nil
}

// Delete removes one triplet. With pruning enabled, endpoints left without
// relations are removed with their embeddings in the same call.
func (e *Engine) Delete(ctx context.Context, subj, rel, obj string) error {
	done := metrics.TimeOp("kg_delete")
	success := false
	defer func() { done(success) }()

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usable(ctx); err != nil {
		return err
	}

	t := apptype.Triplet{subj, rel, obj}
	if _, ok := e.graph.Relation(t); !ok {
		success = true
		return nil
	}
	var prune []string
	if e.cfg.PruneOrphans {
		for _, id := range uniq(subj, obj) {
			if e.graph.HasNode(id) && e.graph.Degree(id) == 1 {
				prune = append(prune, id)
			}
		}
	}
	if err := e.db.Apply(ctx, database.Batch{DeleteRelations: []apptype.Triplet{t}, DeleteNodes: prune}); err != nil {
		return kgerr.FromContext(err, kgerr.CodeDatabaseFailure, "delete triplet")
	}

	_, changed := e.graph.DeleteRelation(t)
	for _, id := range prune {
		_, c := e.graph.DeleteNode(id)
		changed = c || changed
		e.vectors.Delete(id)
		e.logger.Debug("pruned orphan node", "id", id)
	}
	if changed {
		e.schema.Invalidate()
	}
	e.observeSizes()
	success = true
	return nil
}

// DeleteNodes removes nodes, their embeddings and every relation touching
// them. Unknown ids are ignored.
func (e *Engine) DeleteNodes(ctx context.Context, ids []string) error {
	done := metrics.TimeOp("kg_delete_nodes")
	success := false
	defer func() { done(success) }()

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usable(ctx); err != nil {
		return err
	}

	var targets []string
	for _, id := range uniq(ids...) {
		if e.graph.HasNode(id) || e.graph.Degree(id) > 0 {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		success = true
		return nil
	}
	if err := e.db.Apply(ctx, database.Batch{DeleteNodes: targets}); err != nil {
		return kgerr.FromContext(err, kgerr.CodeDatabaseFailure, "delete nodes")
	}
	changed := false
	for _, id := range targets {
		_, c := e.graph.DeleteNode(id)
		changed = c || changed
		e.vectors.Delete(id)
	}
	if changed {
		e.schema.Invalidate()
	}
	e.observeSizes()
	success = true
	return nil
}

func uniq(ids ...string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
