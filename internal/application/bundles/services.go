package bundles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"

	"github.com/bryanwahyu/transit-analyst/internal/application"
	domain "github.com/bryanwahyu/transit-analyst/internal/domain/bundles"
	"github.com/bryanwahyu/transit-analyst/internal/domain/geo"
	"github.com/bryanwahyu/transit-analyst/internal/domain/results"
	"github.com/bryanwahyu/transit-analyst/internal/metrics"
)

// maxNameAttempts is how many numeric suffixes are tried before a colliding
// file name is replaced by a random one.
const maxNameAttempts = 100

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Service implements use-cases untuk Bundle.
// Service is safe for concurrent use.
type Service struct {
	Repo     domain.Repository
	Parser   domain.FeedParser
	Registry domain.FeedRegistry
	Blobs    results.BlobStore
	Tasks    domain.Submitter
	Clock    application.Clock
	Log      *slog.Logger

	// Bucket holds the repackaged upload archives.
	Bucket string
	// TempDir is the parent of per-upload working directories; empty means
	// the OS default.
	TempDir string
}

// UploadFile is one schedule archive of an upload.
type UploadFile struct {
	Name    string
	Content io.Reader
}

// Command untuk membuat bundle
type CreateBundleCommand struct {
	Name        string
	ProjectID   string
	AccessGroup string
	Files       []UploadFile
}

func (s *Service) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

//
// ==== USE CASES ====
//

// Create stores the upload, persists the bundle in PROCESSING_GTFS and
// schedules ingestion. The returned bundle is the initial record; the final
// status is observed through Get.
func (s *Service) Create(ctx context.Context, cmd CreateBundleCommand) (*domain.Bundle, error) {
	if strings.TrimSpace(cmd.Name) == "" || strings.TrimSpace(cmd.ProjectID) == "" || len(cmd.Files) == 0 {
		return nil, fmt.Errorf("%w: name, projectId and at least one file are required", domain.ErrInvalidUpload)
	}

	id := domain.BundleID(strings.ReplaceAll(uuid.NewString(), "-", ""))
	workDir, err := os.MkdirTemp(s.TempDir, "bundle-"+string(id)+"-")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	paths, archive, err := stage(workDir, cmd.Files)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}

	if err := s.uploadArchive(ctx, archive, domain.ArchiveKey(id)); err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("upload bundle archive: %w", err)
	}

	now := s.Clock.Now()
	b := &domain.Bundle{
		ID:          id,
		Name:        cmd.Name,
		ProjectID:   cmd.ProjectID,
		AccessGroup: cmd.AccessGroup,
		Status:      domain.StatusProcessingGTFS,
		Feeds:       []domain.FeedSummary{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Repo.Save(ctx, b); err != nil {
		s.discard(ctx, b, workDir, false)
		return nil, fmt.Errorf("save bundle: %w", err)
	}

	job := b.Clone()
	if err := s.Tasks.Submit(func() { s.ingest(job, workDir, paths) }); err != nil {
		s.discard(ctx, b, workDir, true)
		metrics.IngestionsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	s.logger().Info("bundle queued", "bundle", b.ID, "project", b.ProjectID, "files", len(paths))
	return b, nil
}

// stage writes each upload once into both the bundle archive and a local
// file for the parser. It returns the local feed paths and the archive path.
func stage(workDir string, files []UploadFile) ([]string, string, error) {
	feedDir := filepath.Join(workDir, "feeds")
	if err := os.Mkdir(feedDir, 0o700); err != nil {
		return nil, "", err
	}

	archivePath := filepath.Join(workDir, "bundle.zip")
	out, err := os.Create(archivePath)
	if err != nil {
		return nil, "", err
	}
	defer out.Close()
	zw := zip.NewWriter(out)

	used := make(map[string]struct{}, len(files))
	paths := make([]string, 0, len(files))
	for _, f := range files {
		name := uniqueName(f.Name, used)
		entry, err := zw.Create(name)
		if err != nil {
			return nil, "", err
		}
		local := filepath.Join(feedDir, name)
		lf, err := os.Create(local)
		if err != nil {
			return nil, "", err
		}
		_, err = io.Copy(io.MultiWriter(entry, lf), f.Content)
		if cerr := lf.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, "", fmt.Errorf("stage %s: %w", name, err)
		}
		paths = append(paths, local)
	}
	if err := zw.Close(); err != nil {
		return nil, "", err
	}
	return paths, archivePath, out.Close()
}

// uniqueName sanitises an uploaded file name and makes it unique within used.
// Colliding names grow a _0, _1, ... suffix, each appended to the previous
// attempt; past maxNameAttempts a random name is used instead.
func uniqueName(original string, used map[string]struct{}) string {
	base := filepath.Base(strings.ReplaceAll(original, `\`, "/"))
	base = strings.ReplaceAll(base, ".zip", "")
	base = unsafeChars.ReplaceAllString(base, "-")

	name := base
	for i := 0; ; {
		if _, taken := used[name]; !taken {
			break
		}
		name += fmt.Sprintf("_%d", i)
		i++
		if i > maxNameAttempts {
			name = uuid.NewString()
			break
		}
	}
	used[name] = struct{}{}
	return name + ".zip"
}

func (s *Service) uploadArchive(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer os.Remove(path)
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	return s.Blobs.Put(ctx, s.Bucket, key, f, info.Size(), results.ObjectMeta{ContentType: "application/zip"})
}

// discard undoes a Create that could not be scheduled.
func (s *Service) discard(ctx context.Context, b *domain.Bundle, workDir string, saved bool) {
	ctx = context.WithoutCancel(ctx)
	os.RemoveAll(workDir)
	if saved {
		if err := s.Repo.Delete(ctx, b.AccessGroup, b.ID); err != nil {
			s.logger().Warn("remove unscheduled bundle", "bundle", b.ID, "err", err)
		}
	}
	if err := s.Blobs.Delete(ctx, s.Bucket, b.ArchiveKey()); err != nil {
		s.logger().Warn("remove unscheduled bundle archive", "bundle", b.ID, "err", err)
	}
}

// ingest runs on the worker pool. It persists exactly one final state and
// always removes workDir.
func (s *Service) ingest(b *domain.Bundle, workDir string, paths []string) {
	defer os.RemoveAll(workDir)
	ctx := context.Background()
	log := s.logger().With("bundle", b.ID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("bundle ingestion panicked", "panic", r)
			s.fail(ctx, b, fmt.Errorf("ingestion panic: %v", r), "panic")
		}
	}()

	feeds, err := s.parseAll(ctx, paths)
	if err != nil {
		s.fail(ctx, b, err, "parse_error")
		return
	}
	if err := checkUnique(feeds); err != nil {
		s.fail(ctx, b, err, "duplicate")
		return
	}

	var lats, lons []float64
	for _, f := range feeds {
		for _, stop := range f.Stops {
			lats = append(lats, stop.Lat)
			lons = append(lons, stop.Lon)
		}
	}
	center, err := geo.Center(lats, lons)
	if err != nil {
		s.fail(ctx, b, fmt.Errorf("%w: %v", domain.ErrNoStops, err), "no_stops")
		return
	}

	// the bundle may have been deleted while queued
	if _, err := s.Repo.Get(ctx, b.AccessGroup, b.ID); err != nil {
		log.Info("bundle gone before ingestion finished", "err", err)
		return
	}

	if err := s.Registry.RegisterAll(b.ID, feeds); err != nil {
		outcome := "register_error"
		if errors.Is(err, domain.ErrDuplicateFeed) {
			outcome = "duplicate"
		}
		s.fail(ctx, b, err, outcome)
		return
	}

	done := b.Clone()
	done.Feeds = make([]domain.FeedSummary, 0, len(feeds))
	for _, f := range feeds {
		done.Feeds = append(done.Feeds, domain.NewFeedSummary(b.ID, f))
	}
	done.CenterLat, done.CenterLon = center.Lat, center.Lon
	done.Status = domain.StatusDone
	done.UpdatedAt = s.Clock.Now()
	if err := s.Repo.Finish(ctx, done, b.Status); err != nil {
		// Delete may have run between RegisterAll and here.
		s.Registry.RemoveBundle(b.ID)
		if errors.Is(err, domain.ErrNotFound) {
			metrics.IngestionsTotal.WithLabelValues("deleted").Inc()
			log.Info("bundle deleted during ingestion")
			return
		}
		s.fail(ctx, b, fmt.Errorf("save bundle: %w", err), "save_error")
		return
	}

	metrics.IngestionsTotal.WithLabelValues("done").Inc()
	log.Info("bundle ready", "feeds", len(feeds), "center_lat", center.Lat, "center_lon", center.Lon)
}

func (s *Service) parseAll(ctx context.Context, paths []string) ([]*domain.Feed, error) {
	feeds := make([]*domain.Feed, 0, len(paths))
	for _, p := range paths {
		f, err := s.Parser.Parse(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(p), err)
		}
		feeds = append(feeds, f)
	}
	return feeds, nil
}

// checkUnique rejects uploads that carry the same feed id twice.
func checkUnique(feeds []*domain.Feed) error {
	seen := make(map[string]struct{}, len(feeds))
	for _, f := range feeds {
		if _, dup := seen[f.ID]; dup {
			return fmt.Errorf("%w: %s appears more than once in the upload", domain.ErrDuplicateFeed, f.ID)
		}
		seen[f.ID] = struct{}{}
	}
	return nil
}

func (s *Service) fail(ctx context.Context, b *domain.Bundle, cause error, outcome string) {
	metrics.IngestionsTotal.WithLabelValues(outcome).Inc()
	log := s.logger().With("bundle", b.ID)
	if !b.Status.CanTransition(domain.StatusError) {
		log.Error("bundle ingestion failed after completion", "err", cause)
		return
	}
	failed := b.Clone()
	failed.Status = domain.StatusError
	failed.ErrorMessage = cause.Error()
	failed.UpdatedAt = s.Clock.Now()
	err := s.Repo.Finish(ctx, failed, b.Status)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		log.Info("bundle deleted during ingestion", "cause", cause)
		return
	case err != nil:
		log.Error("persist bundle error state", "cause", cause, "err", err)
		return
	}
	log.Warn("bundle ingestion failed", "err", cause)
}

// Get ambil 1 bundle by id
func (s *Service) Get(ctx context.Context, group string, id domain.BundleID) (*domain.Bundle, error) {
	return s.Repo.Get(ctx, group, id)
}

// List bundles of group, optionally narrowed to one project.
func (s *Service) List(ctx context.Context, group, projectID string) ([]*domain.Bundle, error) {
	return s.Repo.List(ctx, group, projectID)
}

// Delete removes the record, evicts its feeds and deletes the archive. It
// returns the deleted bundle.
func (s *Service) Delete(ctx context.Context, group string, id domain.BundleID) (*domain.Bundle, error) {
	b, err := s.Repo.Get(ctx, group, id)
	if err != nil {
		return nil, err
	}
	if err := s.Repo.Delete(ctx, group, id); err != nil {
		return nil, err
	}
	// after the row is gone no ingestion can register feeds for id again
	s.Registry.RemoveBundle(id)

	if err := s.Blobs.Delete(ctx, s.Bucket, b.ArchiveKey()); err != nil {
		s.logger().Warn("delete bundle archive", "bundle", id, "err", err)
	}
	return b, nil
}

// LoadFeeds registers the feeds of every DONE bundle. It runs once at
// startup, before requests are served, and returns how many bundles were
// loaded. A bundle whose feed ids clash with an already loaded one is
// skipped and logged.
func (s *Service) LoadFeeds(ctx context.Context) (int, error) {
	stored, err := s.Repo.ListDone(ctx)
	if err != nil {
		return 0, fmt.Errorf("list done bundles: %w", err)
	}
	loaded := 0
	for _, b := range stored {
		feeds := make([]*domain.Feed, 0, len(b.Feeds))
		for _, f := range b.Feeds {
			feeds = append(feeds, &domain.Feed{ID: f.FeedID, FileName: f.FileName, Checksum: f.Checksum})
		}
		if err := s.Registry.RegisterAll(b.ID, feeds); err != nil {
			s.logger().Warn("skip stored bundle", "bundle", b.ID, "err", err)
			continue
		}
		loaded++
	}
	return loaded, nil
}
