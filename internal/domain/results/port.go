package results

import (
	"context"
	"io"
	"net/url"
	"time"

	"github.com/bryanwahyu/transit-analyst/internal/domain/grid"
)

// ObjectMeta is the HTTP metadata stored alongside a blob.
type ObjectMeta struct {
	ContentType     string
	ContentEncoding string
	Size            int64
}

// BlobStore port (interface untuk penyimpanan objek). Existence of an object
// is the only cache-hit signal; objects are never rewritten once present.
type BlobStore interface {
	Exists(ctx context.Context, bucket, key string) (bool, error)
	// Put stores r under key. size may be -1 when unknown. The call returns
	// only once the object is durable, or with an error and no object.
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64, meta ObjectMeta) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, ObjectMeta, error)
	Delete(ctx context.Context, bucket, key string) error
	// SignedURL returns a GET URL for key that stops working after expiry.
	SignedURL(ctx context.Context, bucket, key string, expiry time.Duration) (*url.URL, error)
}

// Reducer port for the statistical reducers that turn replicate objects
// into deliverable grids.
type Reducer interface {
	// PointEstimate selects the point-estimate replicate of the access
	// object at key.
	PointEstimate(ctx context.Context, bucket, key string) (*grid.Grid, error)
	// ProbabilityOfImprovement compares the replicates of scenario against
	// base and returns a probability surface.
	ProbabilityOfImprovement(ctx context.Context, bucket, baseKey, scenarioKey string) (*grid.Grid, error)
	// Samples returns every replicate value at the web mercator pixel
	// (px, py) of the access object at key.
	Samples(ctx context.Context, bucket, key string, px, py int) ([]int32, error)
}
