package httpserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	appbundles "github.com/bryanwahyu/transit-analyst/internal/application/bundles"
	appregional "github.com/bryanwahyu/transit-analyst/internal/application/regional"
	appresults "github.com/bryanwahyu/transit-analyst/internal/application/results"
	"github.com/bryanwahyu/transit-analyst/internal/domain/bundles"
	"github.com/bryanwahyu/transit-analyst/internal/domain/regional"
	"github.com/bryanwahyu/transit-analyst/internal/domain/results"
	"github.com/bryanwahyu/transit-analyst/internal/infra/executor"
	"github.com/bryanwahyu/transit-analyst/internal/middleware"
)

// Options wires the router. Zero values disable the optional parts.
type Options struct {
	Bundles  *appbundles.Service
	Regional *appregional.Service
	Results  *appresults.Service

	APIKeys        map[string]string
	RateLimiter    *middleware.RateLimiter
	HealthCheckers map[string]middleware.HealthChecker
	AllowedOrigins []string

	// RedirectByDefault applies when a result request has no redirect param.
	RedirectByDefault bool
	MaxUploadBytes    int64

	// Blobs is mounted at /blobs when the blob store serves its own URLs.
	// It sees the full request path.
	Blobs http.Handler
	Log   *slog.Logger
}

type Router struct {
	bundles  *appbundles.Service
	regional *appregional.Service
	results  *appresults.Service

	redirect  bool
	maxUpload int64
	log       *slog.Logger
}

func NewRouter(opts Options) http.Handler {
	r := &Router{
		bundles:   opts.Bundles,
		regional:  opts.Regional,
		results:   opts.Results,
		redirect:  opts.RedirectByDefault,
		maxUpload: opts.MaxUploadBytes,
		log:       opts.Log,
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.maxUpload <= 0 {
		r.maxUpload = 512 << 20
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RealIP)
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.LoggingMiddleware(r.log))
	mux.Use(middleware.MetricsMiddleware)
	if len(opts.AllowedOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	mux.Get("/health", middleware.HealthHandler(opts.HealthCheckers))
	mux.Get("/ready", middleware.ReadinessHandler)
	mux.Get("/live", middleware.LivenessHandler)
	mux.Method(http.MethodGet, "/metrics", middleware.MetricsHandler())
	if opts.Blobs != nil {
		mux.Mount("/blobs", opts.Blobs)
	}

	mux.Route("/api", func(rt chi.Router) {
		rt.Use(middleware.APIKeyAuth(opts.APIKeys))
		if opts.RateLimiter != nil {
			rt.Use(middleware.RateLimitMiddleware(opts.RateLimiter))
		}

		rt.Get("/bundle", r.wrap(r.handleListBundles))
		rt.Post("/bundle", r.wrap(r.handleCreateBundle))
		rt.Get("/bundle/{id}", r.wrap(r.handleGetBundle))
		rt.Delete("/bundle/{id}", r.wrap(r.handleDeleteBundle))

		rt.Get("/project/{projectId}/regional", r.wrap(r.handleListRegional))
		rt.Post("/regional", r.wrap(r.handleCreateRegional))
		rt.Delete("/regional/{id}", r.wrap(r.handleDeleteRegional))
		rt.Get("/regional/{id}/grid/{format}", r.wrap(r.handlePercentile))
		rt.Get("/regional/{id}/samplingDistribution/{lat}/{lon}", r.wrap(r.handleSamplingDistribution))
		// {id} is the base analysis
		rt.Get("/regional/{id}/{scenarioId}/{format}", r.wrap(r.handleProbability))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			status := statusFor(err)
			if status >= http.StatusInternalServerError {
				r.log.ErrorContext(req.Context(), "request failed", "path", req.URL.Path, "err", err)
			}
			http.Error(w, err.Error(), status)
		}
	}
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, middleware.ErrValidation),
		errors.Is(err, results.ErrInvalidFormat),
		errors.Is(err, results.ErrUnsupportedAnalysis),
		errors.Is(err, results.ErrOutOfBounds),
		errors.Is(err, bundles.ErrInvalidUpload),
		errors.Is(err, regional.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, sql.ErrNoRows),
		errors.Is(err, bundles.ErrNotFound),
		errors.Is(err, regional.ErrNotFound),
		errors.Is(err, results.ErrArtifactNotFound):
		return http.StatusNotFound
	case errors.Is(err, executor.ErrQueueFull), errors.Is(err, executor.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, regional.ErrBrokerUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func group(req *http.Request) string {
	return middleware.GetAccessGroup(req.Context())
}

//
// ==== bundles ====
//

// GET /api/bundle?projectId=
func (r *Router) handleListBundles(w http.ResponseWriter, req *http.Request) error {
	list, err := r.bundles.List(req.Context(), group(req), req.URL.Query().Get("projectId"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /api/bundle/{id}
func (r *Router) handleGetBundle(w http.ResponseWriter, req *http.Request) error {
	b, err := r.bundles.Get(req.Context(), group(req), bundles.BundleID(chi.URLParam(req, "id")))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, b)
}

// POST /api/bundle (multipart: files, Name, projectId)
func (r *Router) handleCreateBundle(w http.ResponseWriter, req *http.Request) error {
	req.Body = http.MaxBytesReader(w, req.Body, r.maxUpload)
	if err := req.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return middleware.Invalid("multipart form: %v", err)
	}
	defer req.MultipartForm.RemoveAll()

	headers := req.MultipartForm.File["files"]
	files := make([]appbundles.UploadFile, 0, len(headers))
	opened := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return err
		}
		opened = append(opened, f)
		files = append(files, appbundles.UploadFile{Name: fh.Filename, Content: f})
	}

	b, err := r.bundles.Create(req.Context(), appbundles.CreateBundleCommand{
		Name:        req.FormValue("Name"),
		ProjectID:   req.FormValue("projectId"),
		AccessGroup: group(req),
		Files:       files,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, b)
}

// DELETE /api/bundle/{id}
func (r *Router) handleDeleteBundle(w http.ResponseWriter, req *http.Request) error {
	b, err := r.bundles.Delete(req.Context(), group(req), bundles.BundleID(chi.URLParam(req, "id")))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, b)
}

//
// ==== regional analyses ====
//

// GET /api/project/{projectId}/regional
func (r *Router) handleListRegional(w http.ResponseWriter, req *http.Request) error {
	list, err := r.regional.List(req.Context(), group(req), chi.URLParam(req, "projectId"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// POST /api/regional
func (r *Router) handleCreateRegional(w http.ResponseWriter, req *http.Request) error {
	var cmd appregional.CreateAnalysisCommand
	if err := json.NewDecoder(req.Body).Decode(&cmd); err != nil {
		return middleware.Invalid("request body: %v", err)
	}
	if err := middleware.Validate(cmd); err != nil {
		return err
	}
	cmd.AccessGroup = group(req)

	a, err := r.regional.Create(req.Context(), cmd)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, a)
}

// DELETE /api/regional/{id}
func (r *Router) handleDeleteRegional(w http.ResponseWriter, req *http.Request) error {
	a, err := r.regional.Delete(req.Context(), group(req), regional.AnalysisID(chi.URLParam(req, "id")))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, a)
}

// GET /api/regional/{id}/grid/{format}?redirect=&direct=
func (r *Router) handlePercentile(w http.ResponseWriter, req *http.Request) error {
	redirect, err := r.redirectParam(req)
	if err != nil {
		return err
	}
	art, err := r.results.Percentile(req.Context(), group(req),
		regional.AnalysisID(chi.URLParam(req, "id")), chi.URLParam(req, "format"))
	if err != nil {
		return err
	}
	return r.deliver(w, req, art, redirect)
}

// GET /api/regional/{id}/{scenarioId}/{format}?redirect=&direct=
func (r *Router) handleProbability(w http.ResponseWriter, req *http.Request) error {
	redirect, err := r.redirectParam(req)
	if err != nil {
		return err
	}
	art, err := r.results.Probability(req.Context(), group(req),
		regional.AnalysisID(chi.URLParam(req, "id")),
		regional.AnalysisID(chi.URLParam(req, "scenarioId")),
		chi.URLParam(req, "format"))
	if err != nil {
		return err
	}
	return r.deliver(w, req, art, redirect)
}

// GET /api/regional/{id}/samplingDistribution/{lat}/{lon}
func (r *Router) handleSamplingDistribution(w http.ResponseWriter, req *http.Request) error {
	lat, err := strconv.ParseFloat(chi.URLParam(req, "lat"), 64)
	if err != nil {
		return middleware.Invalid("lat: %v", err)
	}
	lon, err := strconv.ParseFloat(chi.URLParam(req, "lon"), 64)
	if err != nil {
		return middleware.Invalid("lon: %v", err)
	}
	samples, err := r.results.SamplingDistribution(req.Context(), group(req),
		regional.AnalysisID(chi.URLParam(req, "id")), lat, lon)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, samples)
}

// redirectParam reads ?redirect; absent or empty means the configured default.
func (r *Router) redirectParam(req *http.Request) (bool, error) {
	raw := strings.TrimSpace(req.URL.Query().Get("redirect"))
	if raw == "" {
		return r.redirect, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, middleware.Invalid("redirect: %q is not a boolean", raw)
	}
	return v, nil
}

// deliver streams art when ?direct=true, otherwise hands out a signed URL
// as a 302 or as {"url": ...}.
func (r *Router) deliver(w http.ResponseWriter, req *http.Request, art appresults.Artifact, redirect bool) error {
	if direct, _ := strconv.ParseBool(req.URL.Query().Get("direct")); direct {
		body, meta, err := r.results.Open(req.Context(), art)
		if err != nil {
			return err
		}
		defer body.Close()
		w.Header().Set("Content-Type", meta.ContentType)
		if meta.ContentEncoding != "" {
			w.Header().Set("Content-Encoding", meta.ContentEncoding)
		}
		if meta.Size > 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
		}
		w.WriteHeader(http.StatusOK)
		// headers are gone; a copy failure can only be logged
		if _, err := io.Copy(w, body); err != nil {
			r.log.WarnContext(req.Context(), "stream artifact", "key", art.Key, "err", err)
		}
		return nil
	}

	d, err := r.results.Deliver(req.Context(), art)
	if err != nil {
		return err
	}
	if redirect {
		w.Header().Set("Location", d.URL)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusFound)
		_, _ = io.WriteString(w, d.URL)
		return nil
	}
	return writeJSON(w, http.StatusOK, d)
}
