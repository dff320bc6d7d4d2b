package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Rewind store.
// It can be registered with the grove extension for orchestrated migration
// management (locking, version tracking, rollback support).
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
    started_at      TIMESTAMPTZ NOT NULL,
    ended_at        TIMESTAMPTZ,
    last_seen_at    TIMESTAMPTZ NOT NULL,
    partial         BOOLEAN NOT NULL DEFAULT TRUE,
    next_seq        BIGINT NOT NULL DEFAULT 1,
    duration_ms     BIGINT NOT NULL DEFAULT 0,
    page_count      BIGINT NOT NULL DEFAULT 0,
    event_count     BIGINT NOT NULL DEFAULT 0,
    click_count     BIGINT NOT NULL DEFAULT 0,
    error_count     BIGINT NOT NULL DEFAULT 0,
    has_rage_clicks BOOLEAN NOT NULL DEFAULT FALSE,
    has_errors      BOOLEAN NOT NULL DEFAULT FALSE,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_rewind_sessions_project ON rewind_sessions (project_id, started_at);
CREATE INDEX IF NOT EXISTS idx_rewind_sessions_idle ON rewind_sessions (last_seen_at) WHERE ended_at IS NULL;

CREATE TABLE IF NOT EXISTS rewind_session_batches (
    session_id  TEXT NOT NULL,
    batch_id    TEXT NOT NULL,
    claimed_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
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
    seq         BIGINT NOT NULL,
    ts          BIGINT NOT NULL,
    type        INTEGER NOT NULL,
    url         TEXT NOT NULL DEFAULT '',
    data        JSONB NOT NULL,
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
    count        BIGINT NOT NULL DEFAULT 0,
    first_seen   TIMESTAMPTZ NOT NULL,
    last_seen    TIMESTAMPTZ NOT NULL,
    session_ids  TEXT[] NOT NULL DEFAULT '{}',
    pages        TEXT[] NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
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
    schema          JSONB,
    version         TEXT NOT NULL DEFAULT '',
    example         JSONB,
    is_deprecated   BOOLEAN NOT NULL DEFAULT FALSE,
    deprecated_at   TIMESTAMPTZ,
    metadata        JSONB NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    raw          BYTEA,
    failed_at    TIMESTAMPTZ NOT NULL,
    replayed_at  TIMESTAMPTZ,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    recording_enabled  BOOLEAN NOT NULL DEFAULT TRUE,
    consent_required   BOOLEAN NOT NULL DEFAULT FALSE,
    mask_all_inputs    BOOLEAN NOT NULL DEFAULT FALSE,
    mask_selectors     TEXT[] NOT NULL DEFAULT '{}',
    retention_days     INTEGER NOT NULL DEFAULT 0,
    rate_limit         INTEGER NOT NULL DEFAULT 0,
    metadata           JSONB NOT NULL DEFAULT '{}',
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
