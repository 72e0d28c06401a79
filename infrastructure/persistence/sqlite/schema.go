package sqlite

// Schema DDL. Every statement is idempotent so InitializeSchema can run on
// every startup.

const schemaMemories = `
CREATE TABLE IF NOT EXISTS memories (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	title       TEXT NOT NULL,
	content     TEXT NOT NULL DEFAULT '',
	summary     TEXT NOT NULL DEFAULT '',
	tags        TEXT NOT NULL DEFAULT '[]',
	importance  REAL NOT NULL DEFAULT 0.5,
	context     TEXT NOT NULL DEFAULT '{}',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);`

const schemaRelationships = `
CREATE TABLE IF NOT EXISTS relationships (
	id             TEXT PRIMARY KEY,
	from_id        TEXT NOT NULL REFERENCES memories(id),
	to_id          TEXT NOT NULL REFERENCES memories(id),
	type           TEXT NOT NULL,
	properties     TEXT NOT NULL DEFAULT '{}',
	valid_from     TEXT NOT NULL,
	valid_until    TEXT,
	recorded_at    TEXT NOT NULL,
	invalidated_by TEXT
);`

var schemaIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type);`,
	`CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_memories_updated_at ON memories(updated_at);`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_from ON relationships(from_id);`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_to ON relationships(to_id);`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_type ON relationships(type);`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_valid_until ON relationships(valid_until);`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_recorded_at ON relationships(recorded_at);`,
}

// FTS5 virtual table synced by triggers. Creation may fail when the build
// lacks the fts5 extension; the store then degrades to LIKE search.
const schemaFTS = `
CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	id UNINDEXED,
	title,
	content,
	summary
);`

var schemaFTSTriggers = []string{
	`CREATE TRIGGER IF NOT EXISTS memories_fts_insert AFTER INSERT ON memories BEGIN
		INSERT INTO memories_fts(id, title, content, summary)
		VALUES (new.id, new.title, new.content, new.summary);
	END;`,
	`CREATE TRIGGER IF NOT EXISTS memories_fts_delete AFTER DELETE ON memories BEGIN
		DELETE FROM memories_fts WHERE id = old.id;
	END;`,
	`CREATE TRIGGER IF NOT EXISTS memories_fts_update AFTER UPDATE ON memories BEGIN
		DELETE FROM memories_fts WHERE id = old.id;
		INSERT INTO memories_fts(id, title, content, summary)
		VALUES (new.id, new.title, new.content, new.summary);
	END;`,
}
