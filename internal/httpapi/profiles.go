package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/adverant/videogen/internal/models"
	"github.com/adverant/videogen/internal/profileservice"
)

type createProfileRequest struct {
	Name           string                  `json:"name"`
	Mode           models.ProfileMode      `json:"mode"`
	ConsentChecked bool                    `json:"consent_checked"`
	GenerationLock *models.GenerationLock  `json:"generation_lock,omitempty"`
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req createProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	p, err := s.profiles.Create(r.Context(), profileservice.CreateRequest{
		Name:           req.Name,
		Mode:           req.Mode,
		ConsentChecked: req.ConsentChecked,
		GenerationLock: req.GenerationLock,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.profiles.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.profiles.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type patchProfileRequest struct {
	Name           *string                `json:"name,omitempty"`
	Mode           *models.ProfileMode    `json:"mode,omitempty"`
	ConsentChecked *bool                  `json:"consent_checked,omitempty"`
	GenerationLock *models.GenerationLock `json:"generation_lock,omitempty"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req patchProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	p, err := s.profiles.Update(r.Context(), id, profileservice.Patch{
		Name:           req.Name,
		Mode:           req.Mode,
		ConsentChecked: req.ConsentChecked,
		GenerationLock: req.GenerationLock,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.profiles.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setReferencesRequest struct {
	ImageNames []string `json:"image_names"`
}

func (s *Server) handleSetReferences(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req setReferencesRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	p, err := s.profiles.SetReferences(r.Context(), id, req.ImageNames)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
