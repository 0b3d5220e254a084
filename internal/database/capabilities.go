package database

import (
	"context"
	"database/sql"
	"time"
)

// Capabilities records optional SQL features available to structured queries.
type Capabilities struct {
	JSON   bool `json:"json"`
	Vector bool `json:"vector"`
}

// Map renders the flags for health reporting.
func (c Capabilities) Map() map[string]bool {
	return map[string]bool{"json": c.JSON, "vector": c.Vector}
}

// detectCapabilities probes json_extract and vector_distance_cos with short
// timeouts.
func detectCapabilities(ctx context.Context, db *sql.DB) Capabilities {
	var caps Capabilities
	caps.JSON = probe(ctx, db, `SELECT json_extract('{"a":1}', '$.a')`)
	caps.Vector = probe(ctx, db, `SELECT vector_distance_cos(vector32('[1,0]'), vector32('[0,1]'))`)
	return caps
}

func probe(ctx context.Context, db *sql.DB, query string) bool {
	ctx2, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	rows, err := db.QueryContext(ctx2, query)
	if err != nil {
		return false
	}
	defer rows.Close()
	ok := rows.Next()
	return ok && rows.Err() == nil
}
