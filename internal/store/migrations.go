package store

import (
	"fmt"
)

func (s *Store) migrate() error {
	if err := s.migrateV1(); err != nil {
		return err
	}
	return s.migrateV2()
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY,
		email      TEXT NOT NULL UNIQUE,
		name       TEXT NOT NULL DEFAULT '',
		tier       TEXT NOT NULL DEFAULT 'free',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS projects (
		id          TEXT PRIMARY KEY,
		owner_id    TEXT NOT NULL,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT 'draft',
		tier        TEXT NOT NULL,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner_id, updated_at);

	CREATE TABLE IF NOT EXISTS spec_documents (
		id             TEXT PRIMARY KEY,
		project_id     TEXT NOT NULL REFERENCES projects(id),
		doc_type       TEXT NOT NULL,
		content        TEXT NOT NULL DEFAULT '',
		version        INTEGER NOT NULL DEFAULT 1,
		last_edited_by TEXT NOT NULL DEFAULT '',
		created_at     INTEGER NOT NULL,
		updated_at     INTEGER NOT NULL,
		UNIQUE (project_id, doc_type)
	);

	CREATE TABLE IF NOT EXISTS spec_versions (
		id               TEXT PRIMARY KEY,
		spec_document_id TEXT NOT NULL REFERENCES spec_documents(id),
		version          INTEGER NOT NULL,
		content          TEXT NOT NULL,
		change_summary   TEXT NOT NULL DEFAULT '',
		created_by       TEXT NOT NULL DEFAULT '',
		created_at       INTEGER NOT NULL,
		UNIQUE (spec_document_id, version)
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id           TEXT PRIMARY KEY,
		project_id   TEXT NOT NULL REFERENCES projects(id),
		capability   TEXT NOT NULL,
		description  TEXT NOT NULL,
		status       TEXT NOT NULL DEFAULT 'pending',
		context      TEXT NOT NULL,
		output       TEXT,
		error        TEXT,
		created_at   INTEGER NOT NULL,
		updated_at   INTEGER NOT NULL,
		completed_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

	CREATE TABLE IF NOT EXISTS code_changes (
		id          TEXT PRIMARY KEY,
		task_id     TEXT NOT NULL REFERENCES tasks(id),
		file_path   TEXT NOT NULL,
		change_type TEXT NOT NULL,
		diff        TEXT NOT NULL,
		capability  TEXT NOT NULL,
		reasoning   TEXT NOT NULL DEFAULT '',
		approved    INTEGER,
		created_at  INTEGER NOT NULL,
		decided_at  INTEGER,
		decided_by  TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_changes_task ON code_changes(task_id);
	CREATE INDEX IF NOT EXISTS idx_changes_pending ON code_changes(task_id) WHERE approved IS NULL;

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}

	return nil
}

// migrateV2 links tasks to the change that requested them.
func (s *Store) migrateV2() error {
	var version string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
	if err != nil || version >= "2" {
		return nil
	}

	// ALTER TABLE tasks ADD COLUMN origin_change_id (ignore if already exists)
	_, _ = s.db.Exec(`ALTER TABLE tasks ADD COLUMN origin_change_id TEXT`)
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_tasks_origin ON tasks(origin_change_id)`); err != nil {
		return fmt.Errorf("failed to execute migration v2: %w", err)
	}

	if _, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '2')`); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return nil
}
