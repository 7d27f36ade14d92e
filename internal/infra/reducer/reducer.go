package reducer

import (
	"context"
	"fmt"

	"github.com/klauspost/compress/gzip"

	"github.com/bryanwahyu/transit-analyst/internal/domain/grid"
	"github.com/bryanwahyu/transit-analyst/internal/domain/results"
)

// ProbabilityScale is the value of a cell where every replicate improves.
const ProbabilityScale = 100000

// Reducer turns the replicate objects written by the broker into
// deliverable grids. Replicate objects are gzip compressed access grids.
type Reducer struct {
	Blobs results.BlobStore
}

func New(blobs results.BlobStore) *Reducer { return &Reducer{Blobs: blobs} }

func (r *Reducer) load(ctx context.Context, bucket, key string) (*grid.AccessGrid, error) {
	body, _, err := r.Blobs.Get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	zr, err := gzip.NewReader(body)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	defer zr.Close()
	a, err := grid.ReadAccess(zr)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return a, nil
}

// PointEstimate selects sample 0, the estimate over all draws.
func (r *Reducer) PointEstimate(ctx context.Context, bucket, key string) (*grid.Grid, error) {
	a, err := r.load(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	return a.Select(0)
}

// ProbabilityOfImprovement compares paired bootstrap replicates: for each
// pixel the share of replicates 1..n where scenario beats base, scaled to
// ProbabilityScale. Both grids must have the same extent and sample count.
func (r *Reducer) ProbabilityOfImprovement(ctx context.Context, bucket, baseKey, scenarioKey string) (*grid.Grid, error) {
	base, err := r.load(ctx, bucket, baseKey)
	if err != nil {
		return nil, err
	}
	scen, err := r.load(ctx, bucket, scenarioKey)
	if err != nil {
		return nil, err
	}
	if base.Zoom != scen.Zoom || base.West != scen.West || base.North != scen.North ||
		base.Width != scen.Width || base.Height != scen.Height {
		return nil, fmt.Errorf("%w: %s and %s cover different extents", results.ErrUnsupportedAnalysis, baseKey, scenarioKey)
	}
	if base.Samples != scen.Samples || base.Samples < 2 {
		return nil, fmt.Errorf("%w: %s and %s need matching bootstrap replicates", results.ErrUnsupportedAnalysis, baseKey, scenarioKey)
	}

	out := grid.New(base.Zoom, base.West, base.North, base.Width, base.Height)
	replicates := base.Samples - 1
	for y := 0; y < base.Height; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := 0; x < base.Width; x++ {
			b, s := base.PixelSamples(x, y), scen.PixelSamples(x, y)
			better := 0
			for i := 1; i <= replicates; i++ {
				if s[i] > b[i] {
					better++
				}
			}
			out.Set(x, y, float64(better*ProbabilityScale/replicates))
		}
	}
	return out, nil
}

// Samples returns a copy of every sample at web mercator pixel (px, py).
func (r *Reducer) Samples(ctx context.Context, bucket, key string, px, py int) ([]int32, error) {
	a, err := r.load(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	if !a.Contains(px, py) {
		return nil, fmt.Errorf("%w: pixel (%d, %d)", results.ErrOutOfBounds, px, py)
	}
	return append([]int32(nil), a.PixelSamples(px-a.West, py-a.North)...), nil
}
