package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "github.com/bryanwahyu/transit-analyst/internal/domain/regional"
)

type RegionalRepository struct{ db *sql.DB }

func NewRegionalRepository(db *sql.DB) *RegionalRepository { return &RegionalRepository{db: db} }

const regionalColumns = `id, access_group, project_id, name, request, complete, deleted,
       created_at, bounds, zoom, west, north, width, height`

// encodeRegional returns the JSON columns of a; bounds is NULL when absent.
func encodeRegional(a *domain.RegionalAnalysis) (string, sql.NullString, error) {
	request, err := json.Marshal(a.Request)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("encode request: %w", err)
	}
	var bounds sql.NullString
	if a.Bounds != nil {
		raw, err := json.Marshal(a.Bounds)
		if err != nil {
			return "", sql.NullString{}, fmt.Errorf("encode bounds: %w", err)
		}
		bounds = sql.NullString{String: string(raw), Valid: true}
	}
	return string(request), bounds, nil
}

// Save insert/update RegionalAnalysis record
func (r *RegionalRepository) Save(ctx context.Context, a *domain.RegionalAnalysis) error {
	const q = `
INSERT INTO regional_analyses
(` + regionalColumns + `)
VALUES ($1,$2,$3,$4,$5::jsonb,$6,$7,$8,$9::jsonb,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO UPDATE SET
 name = EXCLUDED.name,
 request = EXCLUDED.request,
 complete = EXCLUDED.complete,
 deleted = EXCLUDED.deleted,
 bounds = EXCLUDED.bounds,
 zoom = EXCLUDED.zoom, west = EXCLUDED.west, north = EXCLUDED.north,
 width = EXCLUDED.width, height = EXCLUDED.height;`

	request, bounds, err := encodeRegional(a)
	if err != nil {
		return err
	}
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx, q,
		a.ID, stringOrDash(a.AccessGroup), stringOrDash(a.ProjectID), a.Name, request,
		a.Complete, a.Deleted, created, bounds,
		a.Zoom, a.West, a.North, a.Width, a.Height,
	)
	return err
}

// Update rewrites a stored analysis; the access group and project are fixed.
func (r *RegionalRepository) Update(ctx context.Context, a *domain.RegionalAnalysis) error {
	const q = `
UPDATE regional_analyses
SET name=$1, request=$2::jsonb, complete=$3, deleted=$4, bounds=$5::jsonb,
    zoom=$6, west=$7, north=$8, width=$9, height=$10
WHERE id=$11;`
	request, bounds, err := encodeRegional(a)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, q,
		a.Name, request, a.Complete, a.Deleted, bounds, a.Zoom, a.West, a.North, a.Width, a.Height,
		a.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, a.ID)
	}
	return nil
}

// SoftDelete flags a live analysis as deleted and reports whether its job had
// completed. Only one of several concurrent calls succeeds; the others get
// ErrNotFound.
func (r *RegionalRepository) SoftDelete(ctx context.Context, group string, id domain.AnalysisID) (bool, error) {
	const q = `
UPDATE regional_analyses SET deleted=TRUE
WHERE id=$1 AND access_group=$2 AND NOT deleted
RETURNING complete;`
	var complete bool
	err := r.db.QueryRowContext(ctx, q, id, group).Scan(&complete)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return complete, err
}

func scanRegional(row rowScanner) (*domain.RegionalAnalysis, error) {
	var (
		a       domain.RegionalAnalysis
		request []byte
		bounds  []byte
	)
	if err := row.Scan(
		&a.ID, &a.AccessGroup, &a.ProjectID, &a.Name, &request, &a.Complete, &a.Deleted,
		&a.CreatedAt, &bounds, &a.Zoom, &a.West, &a.North, &a.Width, &a.Height,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(request, &a.Request); err != nil {
		return nil, fmt.Errorf("decode request of %s: %w", a.ID, err)
	}
	if len(bounds) > 0 {
		a.Bounds = &domain.Bounds{}
		if err := json.Unmarshal(bounds, a.Bounds); err != nil {
			return nil, fmt.Errorf("decode bounds of %s: %w", a.ID, err)
		}
	}
	return &a, nil
}

// Get by ID + access group. Soft-deleted rows are returned; callers decide.
func (r *RegionalRepository) Get(ctx context.Context, group string, id domain.AnalysisID) (*domain.RegionalAnalysis, error) {
	q := `SELECT ` + regionalColumns + ` FROM regional_analyses WHERE access_group=$1 AND id=$2 LIMIT 1;`
	a, err := scanRegional(r.db.QueryRowContext(ctx, q, group, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return a, err
}

// ListByProject returns live analyses of a project, newest first.
func (r *RegionalRepository) ListByProject(ctx context.Context, group, projectID string) ([]*domain.RegionalAnalysis, error) {
	q := `SELECT ` + regionalColumns + ` FROM regional_analyses
WHERE access_group=$1 AND project_id=$2 AND NOT deleted
ORDER BY created_at DESC;`
	rows, err := r.db.QueryContext(ctx, q, group, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.RegionalAnalysis{}
	for rows.Next() {
		a, err := scanRegional(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkComplete is idempotent; unknown ids are ignored.
func (r *RegionalRepository) MarkComplete(ctx context.Context, id domain.AnalysisID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE regional_analyses SET complete=TRUE WHERE id=$1;`, id)
	return err
}
