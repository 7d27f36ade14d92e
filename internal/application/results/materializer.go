package results

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/singleflight"

	"github.com/bryanwahyu/transit-analyst/internal/domain/grid"
	domain "github.com/bryanwahyu/transit-analyst/internal/domain/results"
	"github.com/bryanwahyu/transit-analyst/internal/metrics"
)

// ComputeFunc produces the grid for a cache miss.
type ComputeFunc func(ctx context.Context) (*grid.Grid, error)

// Encoding serialises a grid into one deliverable format.
type Encoding struct {
	Format domain.Format
	Encode func(g *grid.Grid, w io.Writer) error
}

// EncodingFor returns the encoder of f.
func EncodingFor(f domain.Format) (Encoding, error) {
	switch f {
	case domain.FormatGrid:
		return Encoding{Format: f, Encode: encodeGzipGrid}, nil
	case domain.FormatPNG:
		return Encoding{Format: f, Encode: (*grid.Grid).WritePNG}, nil
	case domain.FormatTIFF:
		return Encoding{Format: f, Encode: (*grid.Grid).WriteGeoTIFF}, nil
	default:
		return Encoding{}, fmt.Errorf("%w: %q", domain.ErrInvalidFormat, f)
	}
}

func encodeGzipGrid(g *grid.Grid, w io.Writer) error {
	zw := gzip.NewWriter(w)
	if err := g.WriteBinary(zw); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// Artifact locates a materialised result.
type Artifact struct {
	Bucket string
	Key    string
	Format domain.Format
	// Cached is true when the object existed before this request.
	Cached bool
}

// Materializer computes derived artifacts at most once per key. Concurrent
// requests for the same key share one existence check, one computation and
// one upload; the object is visible only once fully written.
type Materializer struct {
	Blobs  domain.BlobStore
	Bucket string
	Log    *slog.Logger

	inflight singleflight.Group
}

func (m *Materializer) logger() *slog.Logger {
	if m.Log == nil {
		return slog.Default()
	}
	return m.Log
}

// Materialize returns the artifact under key, computing and uploading it on
// a miss. kind labels metrics and logs. The shared work is detached from
// ctx so one caller giving up does not fail the others; that caller still
// returns early with ctx.Err().
func (m *Materializer) Materialize(ctx context.Context, kind, key string, compute ComputeFunc, enc Encoding) (Artifact, error) {
	detached := context.WithoutCancel(ctx)
	ch := m.inflight.DoChan(key, func() (art any, err error) {
		// DoChan re-panics on its own goroutine
		defer func() {
			if r := recover(); r != nil {
				metrics.MaterializationsTotal.WithLabelValues(kind, "error").Inc()
				m.logger().Error("artifact computation panicked", "key", key, "kind", kind, "panic", r)
				art, err = nil, fmt.Errorf("materialise %s: panic: %v", key, r)
			}
		}()
		return m.materialize(detached, kind, key, compute, enc)
	})

	select {
	case res := <-ch:
		if res.Shared {
			metrics.MaterializationsTotal.WithLabelValues(kind, "shared").Inc()
		}
		if res.Err != nil {
			return Artifact{}, res.Err
		}
		return res.Val.(Artifact), nil
	case <-ctx.Done():
		return Artifact{}, ctx.Err()
	}
}

func (m *Materializer) materialize(ctx context.Context, kind, key string, compute ComputeFunc, enc Encoding) (Artifact, error) {
	art := Artifact{Bucket: m.Bucket, Key: key, Format: enc.Format}
	log := m.logger().With("key", key, "kind", kind)

	exists, err := m.Blobs.Exists(ctx, m.Bucket, key)
	if err != nil {
		metrics.MaterializationsTotal.WithLabelValues(kind, "error").Inc()
		return Artifact{}, fmt.Errorf("check %s: %w", key, err)
	}
	if exists {
		metrics.MaterializationsTotal.WithLabelValues(kind, "hit").Inc()
		art.Cached = true
		return art, nil
	}
	metrics.MaterializationsTotal.WithLabelValues(kind, "miss").Inc()

	start := time.Now()
	g, err := compute(ctx)
	metrics.ComputeDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.MaterializationsTotal.WithLabelValues(kind, "error").Inc()
		return Artifact{}, err
	}

	if err := m.upload(ctx, key, g, enc); err != nil {
		metrics.MaterializationsTotal.WithLabelValues(kind, "error").Inc()
		log.Error("artifact upload failed", "err", err)
		return Artifact{}, err
	}
	log.Info("artifact materialised", "format", enc.Format, "elapsed", time.Since(start))
	return art, nil
}

// upload encodes g on its own goroutine into a pipe while the store reads
// the other end. An encode error closes the pipe with that error, which
// aborts the upload.
func (m *Materializer) upload(ctx context.Context, key string, g *grid.Grid, enc Encoding) error {
	start := time.Now()
	pr, pw := io.Pipe()
	encoded := make(chan error, 1)
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("encoder panic: %v", r)
			}
			pw.CloseWithError(err)
			encoded <- err
		}()
		err = enc.Encode(g, pw)
	}()

	meta := domain.ObjectMeta{
		ContentType:     enc.Format.ContentType(),
		ContentEncoding: enc.Format.ContentEncoding(),
	}
	putErr := m.Blobs.Put(ctx, m.Bucket, key, pr, -1, meta)
	// unblocks the encoder if the store stopped reading early
	pr.CloseWithError(putErr)
	encErr := <-encoded

	metrics.UploadDuration.WithLabelValues(string(enc.Format)).Observe(time.Since(start).Seconds())
	switch {
	case putErr != nil && encErr != nil && errors.Is(putErr, encErr):
		return fmt.Errorf("encode %s: %w", key, encErr)
	case putErr != nil:
		return fmt.Errorf("upload %s: %w", key, putErr)
	case encErr != nil:
		return fmt.Errorf("encode %s: %w", key, encErr)
	}
	return nil
}
