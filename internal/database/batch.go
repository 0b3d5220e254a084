package database

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/metrics"
)

// Batch is a set of mutations committed in one transaction. Deletions run
// before upserts.
type Batch struct {
	UpsertNodes     []apptype.EntityNode
	UpsertRelations []apptype.Relation
	DeleteRelations []apptype.Triplet
	DeleteNodes     []string
}

// Empty reports whether the batch has nothing to apply.
func (b Batch) Empty() bool {
	return len(b.UpsertNodes) == 0 && len(b.UpsertRelations) == 0 &&
		len(b.DeleteRelations) == 0 && len(b.DeleteNodes) == 0
}

// Apply commits b atomically; on error nothing is written.
func (dm *DBManager) Apply(ctx context.Context, b Batch) error {
	done := metrics.TimeOp("db_apply_batch")
	success := false
	defer func() { done(success) }()
	if b.Empty() {
		success = true
		return nil
	}

	tx, err := dm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if !success {
			_ = tx.Rollback()
		}
	}()

	if err := dm.deleteRelations(ctx, tx, b.DeleteRelations); err != nil {
		return err
	}
	if err := dm.deleteEntities(ctx, tx, b.DeleteNodes); err != nil {
		return err
	}
	if err := dm.upsertEntities(ctx, tx, b.UpsertNodes); err != nil {
		return err
	}
	if err := dm.upsertRelations(ctx, tx, b.UpsertRelations); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	success = true
	return nil
}
