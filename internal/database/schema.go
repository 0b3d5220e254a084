package database

// schemaStatements returns the DDL for the graph mirror. Embeddings are
// stored as little-endian float32 blobs, the layout libsql vector functions
// read.
func schemaStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS entities (
        id TEXT PRIMARY KEY,
        label TEXT NOT NULL DEFAULT '',
        name TEXT NOT NULL DEFAULT '',
        properties TEXT,
        embedding BLOB,
        seq INTEGER NOT NULL,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    )`,

		`CREATE TABLE IF NOT EXISTS relations (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        subject TEXT NOT NULL,
        predicate TEXT NOT NULL,
        object TEXT NOT NULL,
        properties TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        UNIQUE (subject, predicate, object)
    )`,

		`CREATE INDEX IF NOT EXISTS idx_entities_seq ON entities(seq)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_label ON entities(label)`,
		`CREATE INDEX IF NOT EXISTS idx_relations_subject ON relations(subject)`,
		`CREATE INDEX IF NOT EXISTS idx_relations_object ON relations(object)`,
		`CREATE INDEX IF NOT EXISTS idx_relations_predicate ON relations(predicate)`,
	}
}
