package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
)

const (
	upsertRelationSQL = `INSERT INTO relations (subject, predicate, object, properties)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(subject, predicate, object) DO UPDATE SET properties = excluded.properties`
	deleteRelationSQL = `DELETE FROM relations WHERE subject = ? AND predicate = ? AND object = ?`
)

var mutationStatements = []string{
	upsertEntitySQL,
	deleteEntitySQL,
	deleteEntityRelationsSQL,
	upsertRelationSQL,
	deleteRelationSQL,
}

// upsertRelations writes relations within tx. Endpoints need not exist.
func (dm *DBManager) upsertRelations(ctx context.Context, tx *sql.Tx, relations []apptype.Relation) error {
	if len(relations) == 0 {
		return nil
	}
	stmt, err := dm.txStmt(ctx, tx, upsertRelationSQL)
	if err != nil {
		return err
	}
	for _, r := range relations {
		if r.SubjectID == "" || r.Predicate == "" || r.ObjectID == "" {
			return fmt.Errorf("relation fields cannot be empty")
		}
		props, err := encodeProps(r.Properties)
		if err != nil {
			return fmt.Errorf("relation %s: %w", r.Triplet(), err)
		}
		if _, err := stmt.ExecContext(ctx, r.SubjectID, r.Predicate, r.ObjectID, props); err != nil {
			return fmt.Errorf("failed to upsert relation %s: %w", r.Triplet(), err)
		}
	}
	return nil
}

// deleteRelations removes exact triplets within tx.
func (dm *DBManager) deleteRelations(ctx context.Context, tx *sql.Tx, triplets []apptype.Triplet) error {
	if len(triplets) == 0 {
		return nil
	}
	stmt, err := dm.txStmt(ctx, tx, deleteRelationSQL)
	if err != nil {
		return err
	}
	for _, t := range triplets {
		if _, err := stmt.ExecContext(ctx, t.Subject(), t.Predicate(), t.Object()); err != nil {
			return fmt.Errorf("failed to delete relation %s: %w", t, err)
		}
	}
	return nil
}
