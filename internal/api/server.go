// Package api serves the map client's read API: territory GeoJSON and
// criterion metadata.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/opencarto/territoria/internal/geo"
	"github.com/opencarto/territoria/internal/registry"
	"github.com/opencarto/territoria/internal/viewport"
)

// Options configures the API server.
type Options struct {
	AllowedOrigins []string
	// CacheMaxAge is applied to territory responses. Underlying data only
	// changes on ingestion runs, so minutes of caching is safe.
	CacheMaxAge time.Duration
}

// Server holds the read-side dependencies behind the HTTP API.
type Server struct {
	assembler *viewport.Assembler
	registry  *registry.Registry
	opts      Options
}

// NewServer creates a Server.
func NewServer(assembler *viewport.Assembler, reg *registry.Registry, opts Options) *Server {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{assembler: assembler, registry: reg, opts: opts}
}

// Router builds the chi router with CORS and recovery middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/api/criteria", s.handleCriteria)
	r.Get("/api/territories", s.handleTerritories)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCriteria(w http.ResponseWriter, r *http.Request) {
	criteria, err := s.registry.Enabled(r.Context())
	if err != nil {
		zap.L().Error("api: load criteria", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "criteria unavailable")
		return
	}
	writeJSON(w, http.StatusOK, criteria)
}

func (s *Server) handleTerritories(w http.ResponseWriter, r *http.Request) {
	q, err := parseTerritoryQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	fc, err := s.assembler.Assemble(r.Context(), q)
	switch {
	case eris.Is(err, viewport.ErrBoundsRequired):
		writeError(w, http.StatusBadRequest, "commune queries need exactly one of parent or bbox")
		return
	case err != nil:
		zap.L().Error("api: assemble viewport",
			zap.String("level", string(q.Level)),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "territory lookup failed")
		return
	}

	if s.opts.CacheMaxAge > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(s.opts.CacheMaxAge.Seconds())))
	}
	writeJSON(w, http.StatusOK, fc)
}

func parseTerritoryQuery(r *http.Request) (viewport.Query, error) {
	params := r.URL.Query()

	level, err := geo.ParseLevel(params.Get("level"))
	if err != nil {
		return viewport.Query{}, eris.New("level must be regions, departements, or communes")
	}

	q := viewport.Query{
		Level:       level,
		ParentCode:  params.Get("parent"),
		CriterionID: params.Get("criterion"),
	}
	if bbox := params.Get("bbox"); bbox != "" {
		box, err := viewport.ParseBBox(bbox)
		if err != nil {
			return viewport.Query{}, eris.Wrap(err, "invalid bbox")
		}
		q.BBox = box
	}
	return q, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
