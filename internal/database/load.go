package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/metrics"
)

// LoadGraph reads every entity in creation order and every relation in
// insertion order.
func (dm *DBManager) LoadGraph(ctx context.Context) ([]apptype.EntityNode, []apptype.Relation, error) {
	done := metrics.TimeOp("db_load_graph")
	success := false
	defer func() { done(success) }()

	nodes, err := dm.loadEntities(ctx)
	if err != nil {
		return nil, nil, err
	}
	rels, err := dm.loadRelations(ctx)
	if err != nil {
		return nil, nil, err
	}
	success = true
	return nodes, rels, nil
}

func (dm *DBManager) loadEntities(ctx context.Context) ([]apptype.EntityNode, error) {
	stmt, err := dm.getPreparedStmt(ctx, "SELECT id, label, name, properties, embedding FROM entities ORDER BY seq")
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var nodes []apptype.EntityNode
	for rows.Next() {
		var (
			n     apptype.EntityNode
			props sql.NullString
			blob  []byte
		)
		if err := rows.Scan(&n.ID, &n.Label, &n.Name, &props, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		if n.Properties, err = decodeProps(props); err != nil {
			return nil, fmt.Errorf("entity %q: %w", n.ID, err)
		}
		if n.Embedding, err = DecodeVector(blob); err != nil {
			return nil, fmt.Errorf("entity %q: %w", n.ID, err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}
	return nodes, nil
}

func (dm *DBManager) loadRelations(ctx context.Context) ([]apptype.Relation, error) {
	stmt, err := dm.getPreparedStmt(ctx, "SELECT subject, predicate, object, properties FROM relations ORDER BY id")
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query relations: %w", err)
	}
	defer rows.Close()

	var rels []apptype.Relation
	for rows.Next() {
		var (
			r     apptype.Relation
			props sql.NullString
		)
		if err := rows.Scan(&r.SubjectID, &r.Predicate, &r.ObjectID, &props); err != nil {
			return nil, fmt.Errorf("failed to scan relation: %w", err)
		}
		if r.Properties, err = decodeProps(props); err != nil {
			return nil, fmt.Errorf("relation %s: %w", r.Triplet(), err)
		}
		rels = append(rels, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating relations: %w", err)
	}
	return rels, nil
}
