package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/bryanwahyu/transit-analyst/internal/domain/bundles"
)

type BundleRepository struct {
	db *sql.DB
}

func NewBundleRepository(db *sql.DB) *BundleRepository {
	return &BundleRepository{db: db}
}

const bundleColumns = `id, access_group, project_id, name, status, feeds,
       center_lat, center_lon, error_message, created_at, updated_at`

// Save insert/update Bundle record
func (r *BundleRepository) Save(ctx context.Context, b *domain.Bundle) error {
	const q = `
INSERT INTO bundles
(id, access_group, project_id, name, status, feeds,
 center_lat, center_lon, error_message, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 name=VALUES(name), status=VALUES(status), feeds=VALUES(feeds),
 center_lat=VALUES(center_lat), center_lon=VALUES(center_lon),
 error_message=VALUES(error_message), updated_at=VALUES(updated_at);
`
	feeds, err := encodeFeeds(b.Feeds)
	if err != nil {
		return fmt.Errorf("encode feeds: %w", err)
	}
	created := b.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	updated := b.UpdatedAt
	if updated.IsZero() {
		updated = created
	}
	var errMsg sql.NullString
	if b.ErrorMessage != "" {
		errMsg = sql.NullString{String: b.ErrorMessage, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, q,
		b.ID, stringOrDash(b.AccessGroup), stringOrDash(b.ProjectID), b.Name, string(b.Status), feeds,
		b.CenterLat, b.CenterLon, errMsg, created, updated,
	)
	return err
}

// Finish writes the final state of b, guarded by the status the record must
// still have. A deleted or already finished record yields ErrNotFound.
func (r *BundleRepository) Finish(ctx context.Context, b *domain.Bundle, from domain.Status) error {
	const q = `
UPDATE bundles
SET status=?, feeds=?, center_lat=?, center_lon=?, error_message=?, updated_at=?
WHERE access_group=? AND id=? AND status=?;
`
	feeds, err := encodeFeeds(b.Feeds)
	if err != nil {
		return fmt.Errorf("encode feeds: %w", err)
	}
	var errMsg sql.NullString
	if b.ErrorMessage != "" {
		errMsg = sql.NullString{String: b.ErrorMessage, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, q,
		string(b.Status), feeds, b.CenterLat, b.CenterLon, errMsg, b.UpdatedAt,
		stringOrDash(b.AccessGroup), b.ID, string(from),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s is no longer %s", domain.ErrNotFound, b.ID, from)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBundle(row rowScanner) (*domain.Bundle, error) {
	var (
		b      domain.Bundle
		feeds  []byte
		errMsg sql.NullString
	)
	if err := row.Scan(
		&b.ID, &b.AccessGroup, &b.ProjectID, &b.Name, &b.Status, &feeds,
		&b.CenterLat, &b.CenterLon, &errMsg, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if b.Feeds, err = decodeFeeds(feeds); err != nil {
		return nil, fmt.Errorf("decode feeds of %s: %w", b.ID, err)
	}
	b.ErrorMessage = errMsg.String
	return &b, nil
}

// Get by ID + access group
func (r *BundleRepository) Get(ctx context.Context, group string, id domain.BundleID) (*domain.Bundle, error) {
	q := `SELECT ` + bundleColumns + ` FROM bundles WHERE access_group=? AND id=? LIMIT 1;`
	b, err := scanBundle(r.db.QueryRowContext(ctx, q, group, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return b, err
}

// List bundles of a group, newest first. An empty projectID lists all.
func (r *BundleRepository) List(ctx context.Context, group, projectID string) ([]*domain.Bundle, error) {
	q := `SELECT ` + bundleColumns + ` FROM bundles WHERE access_group=?`
	args := []any{group}
	if projectID != "" {
		q += ` AND project_id=?`
		args = append(args, projectID)
	}
	q += ` ORDER BY created_at DESC;`
	return r.query(ctx, q, args...)
}

// ListDone returns the DONE bundles of every group, oldest first.
func (r *BundleRepository) ListDone(ctx context.Context) ([]*domain.Bundle, error) {
	q := `SELECT ` + bundleColumns + ` FROM bundles WHERE status=? ORDER BY created_at ASC, id ASC;`
	return r.query(ctx, q, string(domain.StatusDone))
}

func (r *BundleRepository) query(ctx context.Context, q string, args ...any) ([]*domain.Bundle, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.Bundle{}
	for rows.Next() {
		b, err := scanBundle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *BundleRepository) Delete(ctx context.Context, group string, id domain.BundleID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM bundles WHERE access_group=? AND id=?;`, group, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return nil
}
