package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	id              TEXT PRIMARY KEY,
	source_filename TEXT NOT NULL,
	source_path     TEXT NOT NULL DEFAULT '',
	model           TEXT NOT NULL,
	detail_level    TEXT NOT NULL DEFAULT 'medium',
	guidance        TEXT NOT NULL DEFAULT '',
	notes           TEXT NOT NULL DEFAULT '',
	chunk_hint      TEXT NOT NULL DEFAULT '',
	refine_hint     TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'queued',
	current_step    TEXT NOT NULL DEFAULT '',
	progress        INTEGER NOT NULL DEFAULT 0,
	log_text        TEXT NOT NULL DEFAULT '',
	error_message   TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL REFERENCES requests(id) ON DELETE CASCADE,
	idx        INTEGER NOT NULL,
	path_json  TEXT NOT NULL DEFAULT '[]',
	title      TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL,
	approved   INTEGER NOT NULL DEFAULT 0,
	UNIQUE (request_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_chunks_request_approved
	ON chunks (request_id, approved);

CREATE TABLE IF NOT EXISTS cards (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id    TEXT NOT NULL REFERENCES requests(id) ON DELETE CASCADE,
	chunk_index   INTEGER NOT NULL DEFAULT 0,
	front         TEXT NOT NULL,
	back          TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'kept',
	refined_front TEXT NOT NULL DEFAULT '',
	refined_back  TEXT NOT NULL DEFAULT '',
	refine_reason TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_cards_request_chunk
	ON cards (request_id, chunk_index);
`

func migrate(db *sqlx.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
