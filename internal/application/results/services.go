package results

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/bryanwahyu/transit-analyst/internal/application"
	"github.com/bryanwahyu/transit-analyst/internal/domain/grid"
	"github.com/bryanwahyu/transit-analyst/internal/domain/regional"
	domain "github.com/bryanwahyu/transit-analyst/internal/domain/results"
)

// DefaultURLExpiry is how long a delivered URL stays valid.
const DefaultURLExpiry = 15 * time.Second

// maxMercatorLat is the latitude where web mercator tiles end.
const maxMercatorLat = 85.0511287798

// Service implements use-cases untuk hasil regional analysis: lazy
// materialisation of derived grids and their delivery.
type Service struct {
	Analyses     regional.Repository
	Reducer      domain.Reducer
	Blobs        domain.BlobStore
	Materializer *Materializer
	Clock        application.Clock

	// Bucket holds the replicate objects and every derived artifact.
	Bucket    string
	URLExpiry time.Duration
}

// Delivery is a short-lived link to an artifact.
type Delivery struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// analysis loads id for group. Deleted analyses are reported as missing.
func (s *Service) analysis(ctx context.Context, group string, id regional.AnalysisID) (*regional.RegionalAnalysis, error) {
	a, err := s.Analyses.Get(ctx, group, id)
	if err != nil {
		return nil, err
	}
	if a.Deleted {
		return nil, fmt.Errorf("%w: %s", regional.ErrNotFound, id)
	}
	return a, nil
}

// Percentile materialises the point-estimate grid of analysis id.
func (s *Service) Percentile(ctx context.Context, group string, id regional.AnalysisID, format string) (Artifact, error) {
	f, err := domain.ParseFormat(format)
	if err != nil {
		return Artifact{}, err
	}
	a, err := s.analysis(ctx, group, id)
	if err != nil {
		return Artifact{}, err
	}
	enc, err := EncodingFor(f)
	if err != nil {
		return Artifact{}, err
	}

	percentile := a.Request.TravelTimePercentile
	key := domain.PercentileKey(a.ID, percentile, f)
	compute := func(ctx context.Context) (*grid.Grid, error) {
		// legacy average grids are served only while already cached
		if percentile == regional.LegacyAveragePercentile {
			return nil, fmt.Errorf("%w: %s uses the retired average accessibility mode", domain.ErrUnsupportedAnalysis, a.ID)
		}
		return s.Reducer.PointEstimate(ctx, s.Bucket, domain.AccessKey(a.ID))
	}
	return s.Materializer.Materialize(ctx, "percentile", key, compute, enc)
}

// Probability materialises the probability that scenario improves on base.
// Both analyses must be visible to group.
func (s *Service) Probability(ctx context.Context, group string, base, scenario regional.AnalysisID, format string) (Artifact, error) {
	f, err := domain.ParseFormat(format)
	if err != nil {
		return Artifact{}, err
	}
	if _, err := s.analysis(ctx, group, base); err != nil {
		return Artifact{}, err
	}
	if _, err := s.analysis(ctx, group, scenario); err != nil {
		return Artifact{}, err
	}
	enc, err := EncodingFor(f)
	if err != nil {
		return Artifact{}, err
	}

	key := domain.ProbabilityKey(base, scenario, f)
	compute := func(ctx context.Context) (*grid.Grid, error) {
		return s.Reducer.ProbabilityOfImprovement(ctx, s.Bucket, domain.AccessKey(base), domain.AccessKey(scenario))
	}
	return s.Materializer.Materialize(ctx, "probability", key, compute, enc)
}

// SamplingDistribution returns every replicate value of analysis id at the
// pixel containing (lat, lon).
func (s *Service) SamplingDistribution(ctx context.Context, group string, id regional.AnalysisID, lat, lon float64) ([]int32, error) {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.Abs(lat) > maxMercatorLat || math.Abs(lon) > 180 {
		return nil, fmt.Errorf("%w: (%g, %g)", domain.ErrOutOfBounds, lat, lon)
	}
	a, err := s.analysis(ctx, group, id)
	if err != nil {
		return nil, err
	}
	zoom := a.Zoom
	if zoom == 0 {
		zoom = regional.DefaultZoom
	}
	px, py := regional.LonToPixel(lon, zoom), regional.LatToPixel(lat, zoom)
	return s.Reducer.Samples(ctx, s.Bucket, domain.AccessKey(a.ID), px, py)
}

// Deliver signs a GET URL for art.
func (s *Service) Deliver(ctx context.Context, art Artifact) (Delivery, error) {
	expiry := s.URLExpiry
	if expiry <= 0 {
		expiry = DefaultURLExpiry
	}
	issued := s.Clock.Now()
	u, err := s.Blobs.SignedURL(ctx, art.Bucket, art.Key, expiry)
	if err != nil {
		return Delivery{}, fmt.Errorf("sign %s: %w", art.Key, err)
	}
	return Delivery{URL: u.String(), ExpiresAt: issued.Add(expiry)}, nil
}

// Open streams art directly. The caller closes the reader.
func (s *Service) Open(ctx context.Context, art Artifact) (io.ReadCloser, domain.ObjectMeta, error) {
	return s.Blobs.Get(ctx, art.Bucket, art.Key)
}
