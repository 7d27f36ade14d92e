package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/bryanwahyu/transit-analyst/internal/domain/bundles"
)

type BundleRepository struct{ db *sql.DB }

func NewBundleRepository(db *sql.DB) *BundleRepository { return &BundleRepository{db: db} }

const bundleColumns = `id, access_group, project_id, name, status, feeds,
       center_lat, center_lon, error_message, created_at, updated_at`

// Save insert/update Bundle record
func (r *BundleRepository) Save(ctx context.Context, b *domain.Bundle) error {
	const q = `
INSERT INTO bundles
(id, access_group, project_id, name, status, feeds,
 center_lat, center_lon, error_message, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
 name = EXCLUDED.name,
 status = EXCLUDED.status,
 feeds = EXCLUDED.feeds,
 center_lat = EXCLUDED.center_lat,
 center_lon = EXCLUDED.center_lon,
 error_message = EXCLUDED.error_message,
 updated_at = EXCLUDED.updated_at;`

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

	_, err = r.db.ExecContext(ctx, q,
		b.ID, stringOrDash(b.AccessGroup), stringOrDash(b.ProjectID), b.Name, string(b.Status), feeds,
		b.CenterLat, b.CenterLon, b.ErrorMessage, created, updated,
	)
	return err
}

// Finish writes the final state of b, guarded by the status the record must
// still have. A deleted or already finished record yields ErrNotFound.
func (r *BundleRepository) Finish(ctx context.Context, b *domain.Bundle, from domain.Status) error {
	const q = `
UPDATE bundles
SET status=$1, feeds=$2::jsonb, center_lat=$3, center_lon=$4, error_message=$5, updated_at=$6
WHERE access_group=$7 AND id=$8 AND status=$9;`

	feeds, err := encodeFeeds(b.Feeds)
	if err != nil {
		return fmt.Errorf("encode feeds: %w", err)
	}
	res, err := r.db.ExecContext(ctx, q,
		string(b.Status), feeds, b.CenterLat, b.CenterLon, b.ErrorMessage, b.UpdatedAt,
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
		b     domain.Bundle
		feeds []byte
	)
	if err := row.Scan(
		&b.ID, &b.AccessGroup, &b.ProjectID, &b.Name, &b.Status, &feeds,
		&b.CenterLat, &b.CenterLon, &b.ErrorMessage, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if b.Feeds, err = decodeFeeds(feeds); err != nil {
		return nil, fmt.Errorf("decode feeds of %s: %w", b.ID, err)
	}
	return &b, nil
}

// Get by ID + access group
func (r *BundleRepository) Get(ctx context.Context, group string, id domain.BundleID) (*domain.Bundle, error) {
	q := `SELECT ` + bundleColumns + ` FROM bundles WHERE access_group=$1 AND id=$2 LIMIT 1;`
	b, err := scanBundle(r.db.QueryRowContext(ctx, q, group, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return b, err
}

// List bundles of a group, newest first. An empty projectID lists all.
func (r *BundleRepository) List(ctx context.Context, group, projectID string) ([]*domain.Bundle, error) {
	q := `SELECT ` + bundleColumns + ` FROM bundles
WHERE access_group=$1 AND ($2 = '' OR project_id=$2)
ORDER BY created_at DESC;`
	return r.query(ctx, q, group, projectID)
}

// ListDone returns the DONE bundles of every group, oldest first.
func (r *BundleRepository) ListDone(ctx context.Context) ([]*domain.Bundle, error) {
	q := `SELECT ` + bundleColumns + ` FROM bundles WHERE status=$1 ORDER BY created_at ASC, id ASC;`
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
	res, err := r.db.ExecContext(ctx, `DELETE FROM bundles WHERE access_group=$1 AND id=$2;`, group, id)
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
