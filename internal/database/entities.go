package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
)

const (
	upsertEntitySQL = `INSERT INTO entities (id, label, name, properties, embedding, seq)
        VALUES (?, ?, ?, ?, ?, COALESCE((SELECT MAX(seq) FROM entities), 0) + 1)
        ON CONFLICT(id) DO UPDATE SET
            label = excluded.label,
            name = excluded.name,
            properties = excluded.properties,
            embedding = excluded.embedding,
            updated_at = CURRENT_TIMESTAMP`
	deleteEntitySQL          = `DELETE FROM entities WHERE id = ?`
	deleteEntityRelationsSQL = `DELETE FROM relations WHERE subject = ? OR object = ?`
)

// upsertEntities writes nodes within tx, replacing existing rows but keeping
// their creation order.
func (dm *DBManager) upsertEntities(ctx context.Context, tx *sql.Tx, nodes []apptype.EntityNode) error {
	if len(nodes) == 0 {
		return nil
	}
	stmt, err := dm.txStmt(ctx, tx, upsertEntitySQL)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if n.ID == "" {
			return fmt.Errorf("entity id cannot be empty")
		}
		props, err := encodeProps(n.Properties)
		if err != nil {
			return fmt.Errorf("entity %q: %w", n.ID, err)
		}
		var embedding any
		if n.Embedding != nil {
			embedding = EncodeVector(n.Embedding)
		}
		if _, err := stmt.ExecContext(ctx, n.ID, n.Label, n.Name, props, embedding); err != nil {
			return fmt.Errorf("failed to upsert entity %q: %w", n.ID, err)
		}
	}
	return nil
}

// deleteEntities removes nodes and every relation touching them within tx.
func (dm *DBManager) deleteEntities(ctx context.Context, tx *sql.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	relStmt, err := dm.txStmt(ctx, tx, deleteEntityRelationsSQL)
	if err != nil {
		return err
	}
	entStmt, err := dm.txStmt(ctx, tx, deleteEntitySQL)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := relStmt.ExecContext(ctx, id, id); err != nil {
			return fmt.Errorf("failed to delete relations of entity %q: %w", id, err)
		}
		if _, err := entStmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("failed to delete entity %q: %w", id, err)
		}
	}
	return nil
}
