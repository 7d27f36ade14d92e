package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "github.com/bryanwahyu/transit-analyst/internal/domain/regional"
)

type RegionalRepository struct {
	db *sql.DB
}

func NewRegionalRepository(db *sql.DB) *RegionalRepository {
	return &RegionalRepository{db: db}
}

const regionalColumns = `id, access_group, project_id, name, request, complete, deleted,
       created_at, bounds, zoom, west, north, width, height`

// encodeRegional returns the JSON columns of a. bounds is nil (SQL NULL)
// when the analysis has none.
func encodeRegional(a *domain.RegionalAnalysis) (request []byte, bounds any, err error) {
	if request, err = json.Marshal(a.Request); err != nil {
		return nil, nil, fmt.Errorf("encode request: %w", err)
	}
	if a.Bounds != nil {
		b, err := json.Marshal(a.Bounds)
		if err != nil {
			return nil, nil, fmt.Errorf("encode bounds: %w", err)
		}
		bounds = b
	}
	return jsonOrEmpty(request), bounds, nil
}

// Save insert/update RegionalAnalysis record
func (r *RegionalRepository) Save(ctx context.Context, a *domain.RegionalAnalysis) error {
	const q = `
INSERT INTO regional_analyses
(` + regionalColumns + `)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 name=VALUES(name), request=VALUES(request), complete=VALUES(complete), deleted=VALUES(deleted),
 bounds=VALUES(bounds), zoom=VALUES(zoom), west=VALUES(west), north=VALUES(north),
 width=VALUES(width), height=VALUES(height);
`
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
SET name=?, request=?, complete=?, deleted=?, bounds=?, zoom=?, west=?, north=?, width=?, height=?
WHERE id=?;`
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
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// MySQL reports 0 for unchanged rows too, so confirm the row exists
		var one int
		err := r.db.QueryRowContext(ctx, `SELECT 1 FROM regional_analyses WHERE id=?;`, a.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, a.ID)
		}
		return err
	}
	return nil
}

// SoftDelete flags a live analysis as deleted and reports whether its job had
// completed. Only one of several concurrent calls succeeds; the others get
// ErrNotFound.
func (r *RegionalRepository) SoftDelete(ctx context.Context, group string, id domain.AnalysisID) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var complete bool
	err = tx.QueryRowContext(ctx,
		`SELECT complete FROM regional_analyses WHERE id=? AND access_group=? AND deleted=FALSE FOR UPDATE;`,
		id, group).Scan(&complete)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE regional_analyses SET deleted=TRUE WHERE id=? AND access_group=? AND deleted=FALSE;`,
		id, group); err != nil {
		return false, err
	}
	return complete, tx.Commit()
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
	q := `SELECT ` + regionalColumns + ` FROM regional_analyses WHERE access_group=? AND id=? LIMIT 1;`
	a, err := scanRegional(r.db.QueryRowContext(ctx, q, group, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return a, err
}

// ListByProject returns live analyses of a project, newest first.
func (r *RegionalRepository) ListByProject(ctx context.Context, group, projectID string) ([]*domain.RegionalAnalysis, error) {
	q := `SELECT ` + regionalColumns + ` FROM regional_analyses
WHERE access_group=? AND project_id=? AND deleted=FALSE
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
	_, err := r.db.ExecContext(ctx, `UPDATE regional_analyses SET complete=TRUE WHERE id=?;`, id)
	return err
}
