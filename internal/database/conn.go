package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/logging"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/metrics"
)

// DBManager owns the libsql handle that mirrors the knowledge graph.
type DBManager struct {
	config *Config
	db     *sql.DB
	logger *log.Logger

	stmtMu    sync.RWMutex
	stmtCache map[string]*sql.Stmt

	caps Capabilities
}

// NewDBManager opens the database, creates the schema and probes
// capabilities.
func NewDBManager(ctx context.Context, config *Config, logger *log.Logger) (*DBManager, error) {
	if config == nil {
		config = NewConfig()
	}
	if config.URL == "" {
		return nil, fmt.Errorf("database url cannot be empty")
	}
	manager := &DBManager{
		config:    config,
		logger:    logging.Component(logger, "database"),
		stmtCache: make(map[string]*sql.Stmt),
	}

	db, err := sql.Open("libsql", manager.connURL())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connector: %w", err)
	}
	manager.applyPool(db)

	if err := manager.initialize(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	manager.db = db
	if err := manager.warmStatements(ctx); err != nil {
		manager.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	manager.caps = detectCapabilities(ctx, db)
	manager.logger.Debug("database ready", "json", manager.caps.JSON, "vector", manager.caps.Vector)
	return manager, nil
}

// connURL appends the auth token for remote URLs.
func (dm *DBManager) connURL() string {
	dbURL := dm.config.URL
	if strings.HasPrefix(dbURL, "file:") || dm.config.AuthToken == "" {
		return dbURL
	}
	if u, perr := url.Parse(dbURL); perr == nil {
		q := u.Query()
		q.Set("authToken", dm.config.AuthToken)
		u.RawQuery = q.Encode()
		return u.String()
	}
	if strings.Contains(dbURL, "?") {
		return dbURL + "&authToken=" + url.QueryEscape(dm.config.AuthToken)
	}
	return dbURL + "?authToken=" + url.QueryEscape(dm.config.AuthToken)
}

// applyPool applies connection pool tuning. Local files default to a single
// connection since sqlite serialises writers anyway.
func (dm *DBManager) applyPool(db *sql.DB) {
	maxOpen := dm.config.MaxOpenConns
	if maxOpen <= 0 && strings.HasPrefix(dm.config.URL, "file:") {
		maxOpen = 1
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if dm.config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(dm.config.MaxIdleConns)
	}
	if dm.config.ConnMaxIdleSec > 0 {
		db.SetConnMaxIdleTime(time.Duration(dm.config.ConnMaxIdleSec) * time.Second)
	}
	if dm.config.ConnMaxLifeSec > 0 {
		db.SetConnMaxLifetime(time.Duration(dm.config.ConnMaxLifeSec) * time.Second)
	}
}

// initialize creates tables and indexes if they don't exist
func (dm *DBManager) initialize(ctx context.Context, db *sql.DB) error {
	done := metrics.TimeOp("db_initialize")
	success := false
	defer func() { done(success) }()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for initialization: %w", err)
	}
	defer tx.Rollback()

	for _, statement := range schemaStatements() {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	success = true
	return nil
}

// DB returns the underlying handle.
func (dm *DBManager) DB() *sql.DB { return dm.db }

// Capabilities reports the optional SQL features detected at open.
func (dm *DBManager) Capabilities() Capabilities { return dm.caps }

// Close releases cached statements and the database handle.
func (dm *DBManager) Close() error {
	dm.stmtMu.Lock()
	for k, stmt := range dm.stmtCache {
		if err := stmt.Close(); err != nil {
			dm.logger.Warn("failed to close statement", "err", err)
		}
		delete(dm.stmtCache, k)
	}
	dm.stmtMu.Unlock()
	if dm.db == nil {
		return nil
	}
	return dm.db.Close()
}

// StoredDims infers the embedding dimension from a stored vector, or 0.
func (dm *DBManager) StoredDims(ctx context.Context) (int, error) {
	var blob []byte
	err := dm.db.QueryRowContext(ctx,
		"SELECT embedding FROM entities WHERE embedding IS NOT NULL ORDER BY seq LIMIT 1").Scan(&blob)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to detect embedding dims: %w", err)
	}
	if len(blob)%4 != 0 {
		return 0, fmt.Errorf("stored embedding has invalid size %d", len(blob))
	}
	return len(blob) / 4, nil
}
