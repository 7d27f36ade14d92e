package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bryanwahyu/transit-analyst/internal/application"
	appbundles "github.com/bryanwahyu/transit-analyst/internal/application/bundles"
	appregional "github.com/bryanwahyu/transit-analyst/internal/application/regional"
	appresults "github.com/bryanwahyu/transit-analyst/internal/application/results"
	"github.com/bryanwahyu/transit-analyst/internal/config"
	"github.com/bryanwahyu/transit-analyst/internal/domain/bundles"
	"github.com/bryanwahyu/transit-analyst/internal/domain/regional"
	"github.com/bryanwahyu/transit-analyst/internal/domain/results"
	"github.com/bryanwahyu/transit-analyst/internal/infra/broker/rabbitmq"
	mysqlp "github.com/bryanwahyu/transit-analyst/internal/infra/db/mysql"
	postgresp "github.com/bryanwahyu/transit-analyst/internal/infra/db/postgres"
	"github.com/bryanwahyu/transit-analyst/internal/infra/executor"
	"github.com/bryanwahyu/transit-analyst/internal/infra/gtfs"
	"github.com/bryanwahyu/transit-analyst/internal/infra/httpserver"
	"github.com/bryanwahyu/transit-analyst/internal/infra/reducer"
	"github.com/bryanwahyu/transit-analyst/internal/infra/registry"
	"github.com/bryanwahyu/transit-analyst/internal/infra/storage"
	"github.com/bryanwahyu/transit-analyst/internal/middleware"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run() error {
	// .env opsional, biasanya cuma ada di local dev
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	log := newLogger(cfg)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, bundleRepo, regionalRepo, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	clock := application.SystemClock{}
	blobs, blobHandler, err := openBlobs(ctx, cfg, clock)
	if err != nil {
		return err
	}

	broker, err := rabbitmq.Dial(ctx, rabbitmq.Options{
		URL:           cfg.Broker.URL,
		JobQueue:      cfg.Broker.JobQueue,
		CancelQueue:   cfg.Broker.CancelQueue,
		CompleteQueue: cfg.Broker.CompleteQueue,
		Prefetch:      cfg.Broker.Prefetch,
	}, log.With("component", "broker"))
	if err != nil {
		return err
	}
	defer broker.Close()

	pool := executor.NewPool(cfg.Ingest.Workers, cfg.Ingest.QueueSize, log.With("component", "ingest"))

	feeds := registry.NewFeeds()
	bundleSvc := &appbundles.Service{
		Repo:     bundleRepo,
		Parser:   gtfs.NewParser(),
		Registry: feeds,
		Blobs:    blobs,
		Tasks:    pool,
		Clock:    clock,
		Log:      log.With("component", "bundles"),
		Bucket:   cfg.Minio.BundleBucket,
		TempDir:  cfg.Ingest.TempDir,
	}
	// feed yang sudah DONE dimuat ulang sebelum menerima request
	loaded, err := bundleSvc.LoadFeeds(ctx)
	if err != nil {
		return err
	}
	log.Info("feeds restored", "bundles", loaded, "feeds", feeds.Len())

	regionalSvc := &appregional.Service{
		Repo:   regionalRepo,
		Broker: broker,
		Clock:  clock,
		Log:    log.With("component", "regional"),
	}
	resultsSvc := &appresults.Service{
		Analyses: regionalRepo,
		Reducer:  reducer.New(blobs),
		Blobs:    blobs,
		Materializer: &appresults.Materializer{
			Blobs:  blobs,
			Bucket: cfg.Minio.ResultsBucket,
			Log:    log.With("component", "materializer"),
		},
		Clock:     clock,
		Bucket:    cfg.Minio.ResultsBucket,
		URLExpiry: cfg.Results.SignedURLExpiry,
	}

	// worker broker kirim pesan selesai, analysis ditandai complete
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := broker.ConsumeCompletions(ctx, regionalSvc.MarkComplete); err != nil {
			log.Error("completion consumer", "err", err)
		}
	}()

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	go limiter.Cleanup(ctx, 5*time.Minute, 10*time.Minute)

	checkers := map[string]middleware.HealthChecker{
		"database": &middleware.DatabaseHealthChecker{DB: db},
	}
	if c, ok := blobs.(middleware.HealthChecker); ok {
		checkers["storage"] = c
	}

	handler := httpserver.NewRouter(httpserver.Options{
		Bundles:           bundleSvc,
		Regional:          regionalSvc,
		Results:           resultsSvc,
		APIKeys:           cfg.Auth.APIKeys,
		RateLimiter:       limiter,
		HealthCheckers:    checkers,
		AllowedOrigins:    cfg.CORS.AllowedOrigins,
		RedirectByDefault: cfg.Redirect(),
		MaxUploadBytes:    cfg.Server.MaxUploadMB << 20,
		Blobs:             blobHandler,
		Log:               log,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", addr, "storage", cfg.Storage.Driver, "database", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", "err", err)
	}
	stop()
	<-consumerDone
	// tunggu ingestion yang sudah antri selesai
	pool.Close()
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	_ = level.UnmarshalText([]byte(cfg.Log.Level))
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func openStore(ctx context.Context, cfg *config.Config) (*sql.DB, bundles.Repository, regional.Repository, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgresp.Connect(ctx, postgresp.Options{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Name:     cfg.Database.Name,
			SSLMode:  cfg.Database.SSLMode,
		}.DSN())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("postgres connect: %w", err)
		}
		if err := postgresp.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return db, postgresp.NewBundleRepository(db), postgresp.NewRegionalRepository(db), nil
	default:
		db, err := mysqlp.Connect(ctx, mysqlp.Options{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Name:     cfg.Database.Name,
		}.DSN())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("mysql connect: %w", err)
		}
		if err := mysqlp.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return db, mysqlp.NewBundleRepository(db), mysqlp.NewRegionalRepository(db), nil
	}
}

// openBlobs returns the blob store and, for the memory driver, the handler
// serving its signed URLs.
func openBlobs(ctx context.Context, cfg *config.Config, clock application.Clock) (results.BlobStore, http.Handler, error) {
	if cfg.Storage.Driver == "memory" {
		store, err := storage.NewMemory(cfg.Storage.PublicURL, []byte(cfg.Storage.SigningKey), clock)
		if err != nil {
			return nil, nil, fmt.Errorf("memory store: %w", err)
		}
		return store, store, nil
	}
	store, err := storage.NewMinio(ctx, storage.MinioOptions{
		Endpoint:  cfg.Minio.Endpoint,
		Region:    cfg.Minio.Region,
		AccessKey: cfg.Minio.AccessKey,
		SecretKey: cfg.Minio.SecretKey,
		UseSSL:    cfg.Minio.UseSSL,
	}, cfg.Minio.BundleBucket, cfg.Minio.ResultsBucket)
	if err != nil {
		return nil, nil, fmt.Errorf("minio init: %w", err)
	}
	return store, nil, nil
}
