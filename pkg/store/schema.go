package store

// schemaDDL creates the four logical tables from spec §6 ("Persistent
// layout") with the indices it names, grounded on the teacher's
// pkg/persistence/schema.go createSchema idiom (a flat table per entity plus
// a join table for dependencies, never in-memory back-pointers, per spec §9).
const schemaDDL = `
CREATE TABLE IF NOT EXISTS work_items (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	type                 TEXT NOT NULL,
	title                TEXT NOT NULL,
	description          TEXT NOT NULL,
	acceptance_criteria  TEXT NOT NULL DEFAULT '',
	priority             INTEGER NOT NULL,
	status               TEXT NOT NULL,
	error_message        TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMP NOT NULL,
	updated_at           TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_work_items_status ON work_items(status);

CREATE TABLE IF NOT EXISTS developer_stories (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	work_item_id      INTEGER NOT NULL REFERENCES work_items(id) ON DELETE CASCADE,
	story_type        INTEGER NOT NULL,
	title             TEXT NOT NULL,
	description       TEXT NOT NULL,
	instructions      TEXT NOT NULL DEFAULT '',
	priority          INTEGER NOT NULL DEFAULT 5,
	status            TEXT NOT NULL,
	started_at        TIMESTAMP,
	completed_at      TIMESTAMP,
	error_message     TEXT NOT NULL DEFAULT '',
	session_id        TEXT NOT NULL DEFAULT '',
	tokens_used       INTEGER NOT NULL DEFAULT 0,
	cost_usd          REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_stories_status ON developer_stories(status);
CREATE INDEX IF NOT EXISTS idx_stories_work_item_id ON developer_stories(work_item_id);

CREATE TABLE IF NOT EXISTS developer_story_dependencies (
	dependent_story_id INTEGER NOT NULL REFERENCES developer_stories(id) ON DELETE CASCADE,
	required_story_id  INTEGER NOT NULL REFERENCES developer_stories(id) ON DELETE CASCADE,
	description        TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMP NOT NULL,
	PRIMARY KEY (dependent_story_id, required_story_id)
);

CREATE INDEX IF NOT EXISTS idx_deps_dependent ON developer_story_dependencies(dependent_story_id);
CREATE INDEX IF NOT EXISTS idx_deps_required ON developer_story_dependencies(required_story_id);

CREATE TABLE IF NOT EXISTS execution_logs (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	developer_story_id   INTEGER NOT NULL REFERENCES developer_stories(id) ON DELETE CASCADE,
	timestamp            TIMESTAMP NOT NULL,
	event_type           TEXT NOT NULL,
	details              TEXT NOT NULL DEFAULT '',
	error_message        TEXT NOT NULL DEFAULT '',
	metadata             TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_logs_story_timestamp ON execution_logs(developer_story_id, timestamp);
`
