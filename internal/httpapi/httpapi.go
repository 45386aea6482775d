// Package httpapi is the HTTP Facade (spec §4.6): a chi router mapping the
// endpoints of spec §6 onto the profile service, asset service, and
// scheduler, translating domain error kinds to status codes.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/adverant/videogen/internal/apperr"
	"github.com/adverant/videogen/internal/assetservice"
	"github.com/adverant/videogen/internal/metrics"
	"github.com/adverant/videogen/internal/profileservice"
	"github.com/adverant/videogen/internal/scheduler"
)

// Server holds the services the facade dispatches to.
type Server struct {
	profiles  *profileservice.Service
	assets    *assetservice.Service
	scheduler *scheduler.Scheduler
	log       zerolog.Logger

	fileStatGroup singleflight.Group
}

// New builds the chi router for the whole HTTP surface (spec §6).
func New(profiles *profileservice.Service, assets *assetservice.Service, sched *scheduler.Scheduler, log zerolog.Logger) http.Handler {
	s := &Server{
		profiles:  profiles,
		assets:    assets,
		scheduler: sched,
		log:       log.With().Str("component", "httpapi").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1/video_profiles", func(r chi.Router) {
		r.Post("/", s.handleCreateProfile)
		r.Get("/", s.handleListProfiles)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetProfile)
			r.Put("/", s.handleUpdateProfile)
			r.Delete("/", s.handleDeleteProfile)
			r.Post("/references", s.handleSetReferences)
		})
	})

	r.Route("/v1/videos", func(r chi.Router) {
		r.Post("/generate", s.handleCreateJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Delete("/jobs/{id}", s.handleCancelJob)
		r.Get("/", s.handleListAssets)
		r.Get("/{id}/file", s.handleStreamAsset)
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError classifies err via apperr.KindOf and writes the matching
// status code (spec §4.6, §7). Cancelled never reaches here — cancel_job
// always returns 204 regardless of idempotence.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindValidation:
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("internal error")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}
