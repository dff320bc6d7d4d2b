package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Rewind store (SQLite).
var Migrations = migrate.NewGroup("rewind")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_rewind_sessions",
			Version: "20260301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS rewind_sessions (
    id              TEXT PRIMARY KEY,
    project_id      TEXT NOT NULL,
    user_id         TEXT NOT NULL DEFAULT '',
    user_agent      TEXT NOT NULL DEFAULT '',
    browser         TEXT NOT NULL DEFAULT '',
    os              TEXT NOT NULL DEFAULT '',
    device          TEXT NOT NULL DEFAULT '',
    country         TEXT NOT NULL DEFAULT '',
    entry_url       TEXT NOT NULL DEFAULT '',
    started_at      TEXT NOT NULL,
    ended_at        TEXT,
    last_seen_at    TEXT NOT NULL,
    partial         INTEGER NOT NULL DEFAULT 1,
    next_seq        INTEGER NOT NULL DEFAULT 1,
    duration_ms     INTEGER NOT NULL DEFAULT 0,
    page_count      INTEGER NOT NULL DEFAULT 0,
    event_count     INTEGER NOT NULL DEFAULT 0,
    click_count     INTEGER NOT NULL DEFAULT 0,
    error_count     INTEGER NOT NULL DEFAULT 0,
    has_rage_clicks INTEGER NOT NULL DEFAULT 0,
    has_errors      INTEGER NOT NULL DEFAULT 0,
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_rewind_sessions_project ON rewind_sessions (project_id, started_at);
CREATE INDEX IF NOT EXISTS idx_rewind_sessions_idle ON rewind_sessions (last_seen_at) WHERE ended_at IS NULL;

CREATE TABLE IF NOT EXISTS rewind_session_batches (
    session_id  TEXT NOT NULL,
    batch_id    TEXT NOT NULL,
    claimed_at  TEXT NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (session_id, batch_id)
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS rewind_session_batches;
DROP TABLE IF EXISTS rewind_sessions;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_rewind_events",
			Version: "20260301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS rewind_events (
    session_id  TEXT NOT NULL,
    seq         INTEGER NOT NULL,
    ts          INTEGER NOT NULL,
    type        INTEGER NOT NULL,
    url         TEXT NOT NULL DEFAULT '',
    data        TEXT NOT NULL,
    PRIMARY KEY (session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_rewind_events_order ON rewind_events (session_id, ts, seq);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS rewind_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_rewind_error_groups",
			Version: "20260301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS rewind_error_groups (
    id           TEXT PRIMARY KEY,
    project_id   TEXT NOT NULL,
    fingerprint  TEXT NOT NULL,
    message      TEXT NOT NULL DEFAULT '',
    top_frame    TEXT NOT NULL DEFAULT '',
    count        INTEGER NOT NULL DEFAULT 0,
    first_seen   TEXT NOT NULL,
    last_seen    TEXT NOT NULL,
    session_ids  TEXT NOT NULL DEFAULT '[]',
    pages        TEXT NOT NULL DEFAULT '[]',
    created_at   TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at   TEXT NOT NULL DEFAULT (datetime('now')),
    UNIQUE (project_id, fingerprint)
);

CREATE INDEX IF NOT EXISTS idx_rewind_error_groups_count ON rewind_error_groups (project_id, count DESC);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS rewind_error_groups`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_rewind_event_definitions",
			Version: "20260301000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS rewind_event_definitions (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL UNIQUE,
    description     TEXT NOT NULL DEFAULT '',
    group_name      TEXT NOT NULL DEFAULT '',
    schema          TEXT,
    version         TEXT NOT NULL DEFAULT '',
    example         TEXT,
    is_deprecated   INTEGER NOT NULL DEFAULT 0,
    deprecated_at   TEXT,
    metadata        TEXT NOT NULL DEFAULT '{}',
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_rewind_event_definitions_group ON rewind_event_definitions (group_name);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS rewind_event_definitions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_rewind_quarantine",
			Version: "20260301000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS rewind_quarantine (
    id           TEXT PRIMARY KEY,
    project_id   TEXT NOT NULL DEFAULT '',
    session_id   TEXT NOT NULL DEFAULT '',
    batch_id     TEXT NOT NULL DEFAULT '',
    idx          INTEGER NOT NULL DEFAULT 0,
    code         INTEGER NOT NULL DEFAULT 0,
    kind         TEXT NOT NULL DEFAULT '',
    reason       TEXT NOT NULL DEFAULT '',
    raw          BLOB,
    failed_at    TEXT NOT NULL,
    replayed_at  TEXT,
    created_at   TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at   TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_rewind_quarantine_failed ON rewind_quarantine (failed_at);
CREATE INDEX IF NOT EXISTS idx_rewind_quarantine_session ON rewind_quarantine (session_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS rewind_quarantine`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_rewind_projects",
			Version: "20260301000006",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS rewind_projects (
    id                 TEXT PRIMARY KEY,
    name               TEXT NOT NULL,
    ingest_key         TEXT NOT NULL UNIQUE,
    recording_enabled  INTEGER NOT NULL DEFAULT 1,
    consent_required   INTEGER NOT NULL DEFAULT 0,
    mask_all_inputs    INTEGER NOT NULL DEFAULT 0,
    mask_selectors     TEXT NOT NULL DEFAULT '[]',
    retention_days     INTEGER NOT NULL DEFAULT 0,
    rate_limit         INTEGER NOT NULL DEFAULT 0,
    metadata           TEXT NOT NULL DEFAULT '{}',
    created_at         TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at         TEXT NOT NULL DEFAULT (datetime('now'))
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS rewind_projects`)
				return err
			},
		},
	)
}
