package migrations

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

const createCoreTablesSQL = `
CREATE TABLE IF NOT EXISTS quizzes (
	id   TEXT PRIMARY KEY,
	data JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS submissions (
	id             TEXT PRIMARY KEY,
	quiz_id        TEXT NOT NULL,
	quiz_title     TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	username       TEXT NOT NULL,
	answers        JSONB NOT NULL DEFAULT '[]'::jsonb,
	cheat_attempts JSONB NOT NULL DEFAULT '[]'::jsonb,
	submitted_at   TIMESTAMPTZ NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	admin_id       TEXT,
	admin_username TEXT,
	reason         TEXT
);

CREATE INDEX IF NOT EXISTS submissions_user_idx   ON submissions (user_id);
CREATE INDEX IF NOT EXISTS submissions_status_idx ON submissions (status);

CREATE TABLE IF NOT EXISTS role_permissions (
	role_id     TEXT PRIMARY KEY,
	permissions JSONB NOT NULL DEFAULT '[]'::jsonb
);
`

const dropCoreTablesSQL = `
DROP TABLE IF EXISTS role_permissions;
DROP TABLE IF EXISTS submissions;
DROP TABLE IF EXISTS quizzes;
`

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, createCoreTablesSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, dropCoreTablesSQL)
			return err
		},
	)
}
