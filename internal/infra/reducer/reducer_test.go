package reducer

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/transit-analyst/internal/domain/grid"
	"github.com/bryanwahyu/transit-analyst/internal/domain/results"
	"github.com/bryanwahyu/transit-analyst/internal/infra/storage"
)

type clock struct{}

func (clock) Now() time.Time { return time.Unix(0, 0) }

func putAccess(t *testing.T, store *storage.MemoryStore, key string, a *grid.AccessGrid) {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	require.NoError(t, a.WriteAccess(zw))
	require.NoError(t, zw.Close())
	require.NoError(t, store.Put(context.Background(), "results", key, &buf, int64(buf.Len()),
		results.ObjectMeta{ContentType: "application/octet-stream", ContentEncoding: "gzip"}))
}

// twoPixels builds a 2x1 grid at (100, 50) with the given samples per pixel.
func twoPixels(left, right []int32) *grid.AccessGrid {
	a := grid.NewAccessGrid(9, 100, 50, 2, 1, len(left))
	copy(a.PixelSamples(0, 0), left)
	copy(a.PixelSamples(1, 0), right)
	return a
}

func newReducer(t *testing.T) (*Reducer, *storage.MemoryStore) {
	t.Helper()
	store, err := storage.NewMemory("http://localhost/blobs", []byte("k"), clock{})
	require.NoError(t, err)
	return New(store), store
}

func TestPointEstimateSelectsFirstSample(t *testing.T) {
	r, store := newReducer(t)
	putAccess(t, store, "a.access", twoPixels([]int32{30, 1, 2}, []int32{70, 3, 4}))

	g, err := r.PointEstimate(context.Background(), "results", "a.access")
	require.NoError(t, err)
	assert.Equal(t, 9, g.Zoom)
	assert.Equal(t, 100, g.West)
	assert.Equal(t, 50, g.North)
	assert.Equal(t, []float64{30, 70}, g.Values)
}

func TestPointEstimateCorruptHeader(t *testing.T) {
	r, store := newReducer(t)
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("ACCESSGR"))
	require.NoError(t, err)
	// version, zoom, west, north, width, height, samples
	require.NoError(t, binary.Write(zw, binary.LittleEndian, []int32{0, 9, 100, 50, -2, 1, 3}))
	require.NoError(t, zw.Close())
	require.NoError(t, store.Put(context.Background(), "results", "bad.access", &buf, int64(buf.Len()),
		results.ObjectMeta{ContentType: "application/octet-stream", ContentEncoding: "gzip"}))

	_, err = r.PointEstimate(context.Background(), "results", "bad.access")
	assert.ErrorIs(t, err, grid.ErrBadHeader)
}

func TestPointEstimateMissingObject(t *testing.T) {
	r, _ := newReducer(t)
	_, err := r.PointEstimate(context.Background(), "results", "nope.access")
	assert.ErrorIs(t, err, results.ErrArtifactNotFound)
}

func TestProbabilityOfImprovement(t *testing.T) {
	r, store := newReducer(t)
	// sample 0 is ignored; four paired replicates follow
	putAccess(t, store, "base.access", twoPixels([]int32{0, 10, 10, 10, 10}, []int32{0, 5, 5, 5, 5}))
	putAccess(t, store, "scen.access", twoPixels([]int32{99, 11, 12, 10, 9}, []int32{0, 1, 2, 3, 4}))

	g, err := r.ProbabilityOfImprovement(context.Background(), "results", "base.access", "scen.access")
	require.NoError(t, err)
	assert.Equal(t, []float64{50000, 0}, g.Values)
}

func TestProbabilityRejectsMismatchedGrids(t *testing.T) {
	r, store := newReducer(t)
	putAccess(t, store, "base.access", twoPixels([]int32{0, 1, 2}, []int32{0, 1, 2}))
	putAccess(t, store, "short.access", twoPixels([]int32{0, 1}, []int32{0, 1}))
	putAccess(t, store, "elsewhere.access", grid.NewAccessGrid(9, 0, 0, 2, 1, 3))

	_, err := r.ProbabilityOfImprovement(context.Background(), "results", "base.access", "short.access")
	assert.ErrorIs(t, err, results.ErrUnsupportedAnalysis)
	_, err = r.ProbabilityOfImprovement(context.Background(), "results", "base.access", "elsewhere.access")
	assert.ErrorIs(t, err, results.ErrUnsupportedAnalysis)
}

func TestSamples(t *testing.T) {
	r, store := newReducer(t)
	putAccess(t, store, "a.access", twoPixels([]int32{30, 1, 2}, []int32{70, 3, 4}))

	s, err := r.Samples(context.Background(), "results", "a.access", 101, 50)
	require.NoError(t, err)
	assert.Equal(t, []int32{70, 3, 4}, s)

	_, err = r.Samples(context.Background(), "results", "a.access", 102, 50)
	assert.ErrorIs(t, err, results.ErrOutOfBounds)
	_, err = r.Samples(context.Background(), "results", "a.access", 100, 49)
	assert.ErrorIs(t, err, results.ErrOutOfBounds)
}
