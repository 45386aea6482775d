package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/adverant/videogen/internal/models"
)

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req models.GenerationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	job, err := s.scheduler.CreateJob(r.Context(), req)
	if err != nil {
		// The validation-error path is handled once, here. The source this
		// system was distilled from registered the same clause twice on this
		// handler; the second was dead code and is not reproduced.
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var profileID *string
	if v := r.URL.Query().Get("profile_id"); v != "" {
		profileID = &v
	}

	jobs, err := s.scheduler.ListJobs(r.Context(), profileID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.scheduler.GetJob(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob always returns 204, even when the cancel was a no-op on
// an already-terminal or missing job (spec §4.6: "cancel is not surfaced
// as an HTTP error — cancel-job always returns 204 even when idempotent").
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.scheduler.CancelJob(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.assets.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

// handleStreamAsset serves the asset's MP4 file. Concurrent requests for
// the same asset id collapse their path-resolution + stat work into one
// flight via singleflight, then each request streams the file
// independently (SPEC_FULL §11 domain-stack wiring for golang.org/x/sync).
func (s *Server) handleStreamAsset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	pathAny, err, _ := s.fileStatGroup.Do(id, func() (any, error) {
		return s.assets.PathFor(r.Context(), id)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	path := pathAny.(string)
	w.Header().Set("Content-Type", "video/mp4")
	http.ServeFile(w, r, path)
}
