package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bryanwahyu/transit-analyst/internal/domain/results"
	"github.com/bryanwahyu/transit-analyst/internal/metrics"
)

// MinioOptions holds the connection settings of an S3 compatible endpoint.
type MinioOptions struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// MinioStore implements results.BlobStore on top of MinIO / S3.
type MinioStore struct {
	client  *minio.Client
	region  string
	buckets []string
	// probe retry policy, replaced in tests
	newBackOff func() backoff.BackOff
}

// NewMinio buat koneksi MinIO and makes sure every bucket exists.
func NewMinio(ctx context.Context, opts MinioOptions, buckets ...string) (*MinioStore, error) {
	cli, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, err
	}

	s := &MinioStore{client: cli, region: opts.Region, buckets: buckets, newBackOff: defaultBackOff}

	// pastikan bucket ada
	for _, bucket := range buckets {
		if err := s.ensureBucket(ctx, bucket); err != nil {
			return nil, fmt.Errorf("ensure bucket %s: %w", bucket, err)
		}
	}
	return s, nil
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = 3 * time.Second
	return bo
}

func (s *MinioStore) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region})
}

// Exists probes key with StatObject. Transient failures are retried; a
// missing key is a definite answer and is not.
func (s *MinioStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	var found bool
	op := func() error {
		_, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
		if err == nil {
			found = true
			return nil
		}
		if isNotFound(err) {
			found = false
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(s.newBackOff(), ctx))
	metrics.StorageOperationsTotal.WithLabelValues("stat", metrics.Status(err)).Inc()
	return found, err
}

// Put streams r into key. The object becomes visible only after the upload
// completed; a reader error aborts it.
func (s *MinioStore) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, meta results.ObjectMeta) error {
	_, err := s.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{
		ContentType:     meta.ContentType,
		ContentEncoding: meta.ContentEncoding,
	})
	metrics.StorageOperationsTotal.WithLabelValues("put", metrics.Status(err)).Inc()
	return err
}

func (s *MinioStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, results.ObjectMeta, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		metrics.StorageOperationsTotal.WithLabelValues("get", "failure").Inc()
		return nil, results.ObjectMeta{}, err
	}
	// GetObject is lazy, Stat surfaces a missing key
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		metrics.StorageOperationsTotal.WithLabelValues("get", "failure").Inc()
		if isNotFound(err) {
			return nil, results.ObjectMeta{}, fmt.Errorf("%w: %s/%s", results.ErrArtifactNotFound, bucket, key)
		}
		return nil, results.ObjectMeta{}, err
	}
	metrics.StorageOperationsTotal.WithLabelValues("get", "success").Inc()
	return obj, results.ObjectMeta{
		ContentType:     info.ContentType,
		ContentEncoding: info.Metadata.Get("Content-Encoding"),
		Size:            info.Size,
	}, nil
}

func (s *MinioStore) Delete(ctx context.Context, bucket, key string) error {
	err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
	metrics.StorageOperationsTotal.WithLabelValues("delete", metrics.Status(err)).Inc()
	return err
}

// SignedURL presigns a GET for key.
func (s *MinioStore) SignedURL(ctx context.Context, bucket, key string, expiry time.Duration) (*url.URL, error) {
	u, err := s.client.PresignedGetObject(ctx, bucket, key, expiry, url.Values{})
	metrics.StorageOperationsTotal.WithLabelValues("presign", metrics.Status(err)).Inc()
	return u, err
}

// Check is the health probe: every configured bucket must still exist.
func (s *MinioStore) Check(ctx context.Context) error {
	for _, bucket := range s.buckets {
		ok, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("bucket %s missing", bucket)
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey" || resp.StatusCode == 404
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
