// Package store implements every Butler repository interface over a single
// SQLite database (spec §6's persisted-state layout): WAL journal mode,
// foreign keys enforced, a 5s busy timeout, and a single writer connection
// since SQLite itself serializes writes. Grounded on the teacher's
// internal/adapter/tenant/sqlite.go and internal/adapter/memory/vector/store.go.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// DB wraps the shared *sql.DB handle. Each repository in this package is a
// thin struct embedding *DB, so all ten entities share one connection pool
// and one migration.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) a SQLite database at path, applies the pragmas
// spec §6 requires, and runs the schema migration.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}

	// A single writer connection matches SQLite's own serialization of
	// writes and avoids "database is locked" under WAL with concurrent
	// writers from this process.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate store db: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

func migrate(conn *sql.DB) error {
	_, err := conn.Exec(schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS guests (
	id            TEXT PRIMARY KEY,
	first_name    TEXT NOT NULL DEFAULT '',
	last_name     TEXT NOT NULL DEFAULT '',
	phone         TEXT UNIQUE,
	email         TEXT UNIQUE,
	vip_tier      TEXT NOT NULL DEFAULT '',
	loyalty_tier  TEXT NOT NULL DEFAULT '',
	external_ids  TEXT NOT NULL DEFAULT '{}',
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS reservations (
	id                  TEXT PRIMARY KEY,
	confirmation_number TEXT NOT NULL UNIQUE,
	guest_id            TEXT NOT NULL REFERENCES guests(id),
	status              TEXT NOT NULL,
	room_number         TEXT NOT NULL DEFAULT '',
	arrival_date        TEXT NOT NULL,
	departure_date      TEXT NOT NULL,
	external_source     TEXT NOT NULL DEFAULT '',
	external_id         TEXT NOT NULL DEFAULT '',
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reservations_guest ON reservations(guest_id);
CREATE INDEX IF NOT EXISTS idx_reservations_external ON reservations(external_source, external_id);

CREATE TABLE IF NOT EXISTS conversations (
	id             TEXT PRIMARY KEY,
	channel_type   TEXT NOT NULL,
	channel_id     TEXT NOT NULL,
	state          TEXT NOT NULL,
	guest_id       TEXT NOT NULL DEFAULT '',
	reservation_id TEXT NOT NULL DEFAULT '',
	priority       TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	UNIQUE(channel_type, channel_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id                 TEXT PRIMARY KEY,
	conversation_id    TEXT NOT NULL REFERENCES conversations(id),
	direction          TEXT NOT NULL,
	sender_type        TEXT NOT NULL,
	content            TEXT NOT NULL,
	content_type       TEXT NOT NULL DEFAULT 'text',
	delivery_status    TEXT NOT NULL,
	confidence         REAL,
	intent             TEXT NOT NULL DEFAULT '',
	channel_message_id TEXT NOT NULL DEFAULT '',
	metadata           TEXT NOT NULL DEFAULT '{}',
	created_at         TEXT NOT NULL,
	seq                INTEGER
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);

CREATE TABLE IF NOT EXISTS tasks (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	source          TEXT NOT NULL,
	status          TEXT NOT NULL,
	priority        TEXT NOT NULL,
	conversation_id TEXT NOT NULL DEFAULT '',
	guest_id        TEXT NOT NULL DEFAULT '',
	assignee_id     TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL,
	started_at      TEXT,
	completed_at    TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

CREATE TABLE IF NOT EXISTS automation_rules (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	description          TEXT NOT NULL DEFAULT '',
	trigger              TEXT NOT NULL DEFAULT '{}',
	actions              TEXT NOT NULL DEFAULT '[]',
	enabled              INTEGER NOT NULL DEFAULT 1,
	run_count            INTEGER NOT NULL DEFAULT 0,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	last_run_at          TEXT,
	last_error           TEXT NOT NULL DEFAULT '',
	retry                TEXT NOT NULL DEFAULT '{}',
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS automation_executions (
	id             TEXT PRIMARY KEY,
	rule_id        TEXT NOT NULL REFERENCES automation_rules(id),
	trigger_data   TEXT NOT NULL DEFAULT '{}',
	status         TEXT NOT NULL,
	attempt_number INTEGER NOT NULL DEFAULT 1,
	next_retry_at  TEXT,
	action_results TEXT NOT NULL DEFAULT '[]',
	duration_ms    INTEGER NOT NULL DEFAULT 0,
	error          TEXT NOT NULL DEFAULT '',
	triggered_at   TEXT NOT NULL,
	completed_at   TEXT
);
CREATE INDEX IF NOT EXISTS idx_executions_retry ON automation_executions(status, next_retry_at);
CREATE INDEX IF NOT EXISTS idx_executions_rule ON automation_executions(rule_id);

CREATE TABLE IF NOT EXISTS extension_configs (
	id            TEXT PRIMARY KEY,
	category      TEXT NOT NULL,
	config        TEXT NOT NULL DEFAULT '{}',
	enabled       INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'unconfigured',
	last_test_at  TEXT,
	last_test_ok  INTEGER NOT NULL DEFAULT 0,
	last_error    TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_extensions_category ON extension_configs(category);

CREATE TABLE IF NOT EXISTS audit_entries (
	id            TEXT PRIMARY KEY,
	actor_type    TEXT NOT NULL,
	actor_id      TEXT NOT NULL DEFAULT '',
	action        TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id   TEXT NOT NULL,
	detail        TEXT NOT NULL DEFAULT '',
	client_ip     TEXT NOT NULL DEFAULT '',
	user_agent    TEXT NOT NULL DEFAULT '',
	timestamp     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_resource ON audit_entries(resource_type, resource_id);

CREATE TABLE IF NOT EXISTS knowledge_entries (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	content    TEXT NOT NULL,
	embedding  BLOB,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// rowsAffectedOrNotFound translates a zero-row UPDATE/DELETE into the
// domain's NotFound kind.
func rowsAffectedOrNotFound(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return domain.WrapError(op, domain.KindTransient, err, "rows affected")
	}
	if n == 0 {
		return domain.NewError(op, domain.KindNotFound, "")
	}
	return nil
}

// noRowsToNotFound maps sql.ErrNoRows to the domain's NotFound kind;
// anything else is wrapped as Transient (e.g. database busy/locked).
func noRowsToNotFound(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return domain.NewError(op, domain.KindNotFound, "")
	}
	return domain.WrapError(op, domain.KindTransient, err, "")
}
