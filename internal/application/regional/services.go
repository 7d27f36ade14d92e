package regional

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/transit-analyst/internal/application"
	domain "github.com/bryanwahyu/transit-analyst/internal/domain/regional"
)

// Service implements use-cases untuk RegionalAnalysis: it records analyses
// and keeps the job broker in step with their lifecycle.
type Service struct {
	Repo   domain.Repository
	Broker domain.Broker
	Clock  application.Clock
	Log    *slog.Logger

	// CancelTimeout bounds the broker cancel issued by Delete. Zero means
	// DefaultCancelTimeout.
	CancelTimeout time.Duration
}

// DefaultCancelTimeout is used when Service.CancelTimeout is zero.
const DefaultCancelTimeout = 3 * time.Second

// Command untuk membuat regional analysis
type CreateAnalysisCommand struct {
	ProjectID            string          `json:"projectId" validate:"required"`
	Name                 string          `json:"name" validate:"required"`
	TravelTimePercentile int             `json:"travelTimePercentile" validate:"gte=-1,lte=100"`
	Bounds               *domain.Bounds  `json:"bounds" validate:"required"`
	Params               json.RawMessage `json:"params,omitempty"`
	AccessGroup          string          `json:"-"`
}

func (s *Service) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

// Create persists a new analysis and submits it to the broker. When the
// broker refuses the job the record is soft-deleted so it never shows up
// as a pending analysis.
func (s *Service) Create(ctx context.Context, cmd CreateAnalysisCommand) (*domain.RegionalAnalysis, error) {
	if strings.TrimSpace(cmd.ProjectID) == "" || cmd.Bounds == nil {
		return nil, fmt.Errorf("%w: projectId and bounds are required", domain.ErrInvalidRequest)
	}
	if cmd.TravelTimePercentile == domain.LegacyAveragePercentile {
		return nil, fmt.Errorf("%w: average accessibility is no longer computed, pick a percentile", domain.ErrInvalidRequest)
	}

	id := domain.AnalysisID(strings.ReplaceAll(uuid.NewString(), "-", ""))
	a := &domain.RegionalAnalysis{
		ID:          id,
		ProjectID:   cmd.ProjectID,
		AccessGroup: cmd.AccessGroup,
		Name:        cmd.Name,
		Request: domain.AnalysisRequest{
			TravelTimePercentile: cmd.TravelTimePercentile,
			ScenarioID:           string(id),
			Params:               cmd.Params,
		},
		CreatedAt: s.Clock.Now(),
		Bounds:    cmd.Bounds,
		Zoom:      domain.DefaultZoom,
	}
	a.ComputeBoundingBox()
	if a.Width <= 0 || a.Height <= 0 {
		return nil, fmt.Errorf("%w: empty bounds", domain.ErrInvalidRequest)
	}

	if err := s.Repo.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("save analysis: %w", err)
	}

	if err := s.Broker.Enqueue(ctx, a); err != nil {
		a.Deleted = true
		if uerr := s.Repo.Update(context.WithoutCancel(ctx), a); uerr != nil {
			s.logger().Error("retire unsubmitted analysis", "analysis", id, "err", uerr)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrBrokerUnavailable, err)
	}

	s.logger().Info("regional analysis submitted", "analysis", id, "project", a.ProjectID,
		"width", a.Width, "height", a.Height)
	return a, nil
}

// Delete soft-deletes the analysis and cancels its job when it is still
// running. Cancellation problems are logged only; the delete stands.
func (s *Service) Delete(ctx context.Context, group string, id domain.AnalysisID) (*domain.RegionalAnalysis, error) {
	a, err := s.Repo.Get(ctx, group, id)
	if err != nil {
		return nil, err
	}
	if a.Deleted {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	wasComplete, err := s.Repo.SoftDelete(ctx, group, id)
	if err != nil {
		return nil, err
	}
	a.Deleted = true
	a.Complete = wasComplete

	if !wasComplete {
		// the cancel outlives the request but not by much
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cancelTimeout())
		defer cancel()
		if err := s.Broker.Cancel(cctx, a.ID); err != nil {
			s.logger().Warn("cancel regional job", "analysis", id, "err", err)
		}
	}
	return a, nil
}

func (s *Service) cancelTimeout() time.Duration {
	if s.CancelTimeout <= 0 {
		return DefaultCancelTimeout
	}
	return s.CancelTimeout
}

// MarkComplete records that the broker finished id. Repeated calls are
// harmless.
func (s *Service) MarkComplete(ctx context.Context, id domain.AnalysisID) error {
	return s.Repo.MarkComplete(ctx, id)
}

// Get ambil 1 analysis by id
func (s *Service) Get(ctx context.Context, group string, id domain.AnalysisID) (*domain.RegionalAnalysis, error) {
	a, err := s.Repo.Get(ctx, group, id)
	if err != nil {
		return nil, err
	}
	if a.Deleted {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return a, nil
}

// List analyses of a project that have not been deleted.
func (s *Service) List(ctx context.Context, group, projectID string) ([]*domain.RegionalAnalysis, error) {
	return s.Repo.ListByProject(ctx, group, projectID)
}
