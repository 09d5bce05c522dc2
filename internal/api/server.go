// Package api exposes the HTTP interface for the crawl engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/webharvest/crawld/internal/coordinator"
	"github.com/webharvest/crawld/internal/crawler"
	"github.com/webharvest/crawld/internal/store"
)

// Server wires HTTP handlers to the coordinator and stores.
type Server struct {
	router chi.Router
	coord  *coordinator.Coordinator
	docs   crawler.DocumentStore
	index  crawler.StructureIndexer
	ready  func(ctx context.Context) error
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready is an
// optional downstream probe for /readyz (nil means always ready).
func NewServer(
	coord *coordinator.Coordinator,
	docs crawler.DocumentStore,
	index crawler.StructureIndexer,
	ready func(ctx context.Context) error,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		coord:  coord,
		docs:   docs,
		index:  index,
		ready:  ready,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/", s.listJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/status", s.getJobStatus)
				r.Post("/cancel", s.cancelJob)
			})
		})
		r.Get("/pages", s.getPages)
		r.Get("/search", s.search)
		r.Get("/structure", s.getStructure)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	SeedURLs           []string `json:"seed_urls"`
	MaxDepth           int      `json:"max_depth"`
	MaxConcurrency     int      `json:"max_concurrency"`
	MaxPages           int      `json:"max_pages"`
	MaxDurationSeconds int      `json:"max_duration_seconds"`
	RetryLimit         int      `json:"retry_limit"`
	ForceRecrawl       bool     `json:"force_recrawl"`
	HostRateLimit      float64  `json:"host_rate_limit_per_second"`
	MaxPending         int      `json:"max_pending"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	cfg := crawler.CrawlConfig{
		SeedURLs:       req.SeedURLs,
		MaxDepth:       req.MaxDepth,
		MaxConcurrency: req.MaxConcurrency,
		MaxPages:       req.MaxPages,
		MaxDuration:    time.Duration(req.MaxDurationSeconds) * time.Second,
		RetryLimit:     req.RetryLimit,
		ForceRecrawl:   req.ForceRecrawl,
		HostRateLimit:  req.HostRateLimit,
		MaxPending:     req.MaxPending,
	}
	jobID, err := s.coord.StartCrawl(r.Context(), cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	jobs, err := s.coord.ListJobs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	status, err := s.coord.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch job")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	err := s.coord.Cancel(r.Context(), jobID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "cancelling"})
	case errors.Is(err, store.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, coordinator.ErrJobTerminal):
		writeError(w, http.StatusConflict, "job already finished")
	default:
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
	}
}

func (s *Server) getPages(w http.ResponseWriter, r *http.Request) {
	if rawURL := r.URL.Query().Get("url"); rawURL != "" {
		normalized, err := crawler.NormalizeURL(rawURL)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid url")
			return
		}
		doc, err := s.docs.GetPage(r.Context(), normalized)
		if err != nil {
			if errors.Is(err, store.ErrPageNotFound) {
				writeError(w, http.StatusNotFound, "page not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to fetch page")
			return
		}
		writeJSON(w, http.StatusOK, doc)
		return
	}

	minQuality, err := queryFloat(r, "min_quality")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid min_quality")
		return
	}
	filter := crawler.PageFilter{
		Section:    r.URL.Query().Get("section"),
		Subsection: r.URL.Query().Get("subsection"),
		MinQuality: minQuality,
		Limit:      queryInt(r, "limit", 50),
		Offset:     queryInt(r, "offset", 0),
	}
	docs, err := s.docs.ListPages(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list pages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": docs, "count": len(docs)})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("q")
	if text == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	docs, err := s.docs.Search(r.Context(), crawler.SearchQuery{
		Text:    text,
		Section: r.URL.Query().Get("section"),
		Limit:   queryInt(r, "limit", 20),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": docs, "count": len(docs)})
}

func (s *Server) getStructure(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sections": s.index.Nodes()})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func queryFloat(r *http.Request, key string) (float64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseFloat(raw, 64)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
