package database

import (
	"context"
	"database/sql"
	"fmt"
)

// getPreparedStmt returns or prepares and caches a statement
func (dm *DBManager) getPreparedStmt(ctx context.Context, sqlText string) (*sql.Stmt, error) {
	// fast path read
	dm.stmtMu.RLock()
	if stmt, ok := dm.stmtCache[sqlText]; ok {
		dm.stmtMu.RUnlock()
		return stmt, nil
	}
	dm.stmtMu.RUnlock()

	dm.stmtMu.Lock()
	defer dm.stmtMu.Unlock()
	if stmt, ok := dm.stmtCache[sqlText]; ok {
		return stmt, nil
	}
	stmt, err := dm.db.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	dm.stmtCache[sqlText] = stmt
	return stmt, nil
}

// warmStatements prepares the mutation statements up front. Inside a
// transaction a single-connection pool has no spare connection to prepare on.
func (dm *DBManager) warmStatements(ctx context.Context) error {
	for _, q := range mutationStatements {
		if _, err := dm.getPreparedStmt(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// txStmt binds a cached statement to tx, preparing on tx when not cached.
func (dm *DBManager) txStmt(ctx context.Context, tx *sql.Tx, sqlText string) (*sql.Stmt, error) {
	dm.stmtMu.RLock()
	stmt, ok := dm.stmtCache[sqlText]
	dm.stmtMu.RUnlock()
	if ok {
		return tx.StmtContext(ctx, stmt), nil
	}
	stmt, err := tx.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	return stmt, nil
}
