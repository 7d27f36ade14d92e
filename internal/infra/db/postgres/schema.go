package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS bundles (
  id            TEXT PRIMARY KEY,
  access_group  TEXT NOT NULL,
  project_id    TEXT NOT NULL,
  name          TEXT NOT NULL,
  status        TEXT NOT NULL,
  feeds         JSONB NOT NULL DEFAULT '[]'::jsonb,
  center_lat    DOUBLE PRECISION NOT NULL DEFAULT 0,
  center_lon    DOUBLE PRECISION NOT NULL DEFAULT 0,
  error_message TEXT NOT NULL DEFAULT '',
  created_at    TIMESTAMPTZ NOT NULL,
  updated_at    TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_bundles_group_project ON bundles (access_group, project_id)`,
	`CREATE TABLE IF NOT EXISTS regional_analyses (
  id           TEXT PRIMARY KEY,
  access_group TEXT NOT NULL,
  project_id   TEXT NOT NULL,
  name         TEXT NOT NULL,
  request      JSONB NOT NULL,
  complete     BOOLEAN NOT NULL DEFAULT FALSE,
  deleted      BOOLEAN NOT NULL DEFAULT FALSE,
  created_at   TIMESTAMPTZ NOT NULL,
  bounds       JSONB,
  zoom         INTEGER NOT NULL,
  west         INTEGER NOT NULL,
  north        INTEGER NOT NULL,
  width        INTEGER NOT NULL,
  height       INTEGER NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_regional_group_project ON regional_analyses (access_group, project_id) WHERE NOT deleted`,
}

// EnsureSchema creates tables and indexes when they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
