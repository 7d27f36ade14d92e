package mysql

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS bundles (
  id            VARCHAR(64)  NOT NULL PRIMARY KEY,
  access_group  VARCHAR(128) NOT NULL,
  project_id    VARCHAR(128) NOT NULL,
  name          VARCHAR(255) NOT NULL,
  status        VARCHAR(32)  NOT NULL,
  feeds         JSON         NOT NULL,
  center_lat    DOUBLE       NOT NULL DEFAULT 0,
  center_lon    DOUBLE       NOT NULL DEFAULT 0,
  error_message TEXT         NULL,
  created_at    DATETIME(3)  NOT NULL,
  updated_at    DATETIME(3)  NOT NULL,
  INDEX idx_bundles_group_project (access_group, project_id)
)`,
	`CREATE TABLE IF NOT EXISTS regional_analyses (
  id           VARCHAR(64)  NOT NULL PRIMARY KEY,
  access_group VARCHAR(128) NOT NULL,
  project_id   VARCHAR(128) NOT NULL,
  name         VARCHAR(255) NOT NULL,
  request      JSON         NOT NULL,
  complete     BOOLEAN      NOT NULL DEFAULT FALSE,
  deleted      BOOLEAN      NOT NULL DEFAULT FALSE,
  created_at   DATETIME(3)  NOT NULL,
  bounds       JSON         NULL,
  zoom         INT          NOT NULL,
  west         INT          NOT NULL,
  north        INT          NOT NULL,
  width        INT          NOT NULL,
  height       INT          NOT NULL,
  INDEX idx_regional_group_project (access_group, project_id, deleted)
)`,
}

// EnsureSchema creates the tables when they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
