// Package profileservice implements CRUD over profiles and their ordered
// reference-image list (spec §4.2).
package profileservice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adverant/videogen/internal/apperr"
	"github.com/adverant/videogen/internal/imagestore"
	"github.com/adverant/videogen/internal/models"
	"github.com/adverant/videogen/internal/store"
)

// Service is the Profile Service (spec §4.2).
type Service struct {
	store          *store.Store
	images         imagestore.Store
	requireConsent bool
	log            zerolog.Logger
	now            func() time.Time
}

// New constructs a Service. requireConsent mirrors the "whether consent is
// required for real-identity mode" configuration option (spec §6).
func New(st *store.Store, images imagestore.Store, requireConsent bool, log zerolog.Logger) *Service {
	return &Service{
		store:          st,
		images:         images,
		requireConsent: requireConsent,
		log:            log.With().Str("component", "profileservice").Logger(),
		now:            time.Now,
	}
}

// CreateRequest is the input to Create.
type CreateRequest struct {
	Name           string
	Mode           models.ProfileMode
	ConsentChecked bool
	GenerationLock *models.GenerationLock
}

// ValidateConsent re-checks the mode/consent invariant (spec §3) against a
// given mode/consent pair. Exported so the job scheduler can re-verify it
// at job-creation and job-start time without duplicating the rule (spec
// §4.4: "re-verifies mode/consent").
func (s *Service) ValidateConsent(mode models.ProfileMode, consentChecked bool) error {
	return s.validateConsent(mode, consentChecked)
}

func (s *Service) validateConsent(mode models.ProfileMode, consentChecked bool) error {
	if !mode.Valid() {
		return apperr.Validation("mode must be %q or %q", models.ModeFictional, models.ModeRealIdentity)
	}
	if mode == models.ModeRealIdentity && s.requireConsent && !consentChecked {
		return apperr.Validation("consent_checked must be true for real_identity profiles")
	}
	return nil
}

// Create validates mode/consent, allocates an id and timestamps, and
// inserts the profile (spec §4.2 create()).
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Profile, error) {
	if req.Name == "" || len(req.Name) > 200 {
		return nil, apperr.Validation("name must be 1-200 characters")
	}
	if err := s.validateConsent(req.Mode, req.ConsentChecked); err != nil {
		return nil, err
	}

	lock := models.DefaultGenerationLock()
	if req.GenerationLock != nil {
		lock = *req.GenerationLock
	}

	now := s.now()
	p := &models.Profile{
		ID:              uuid.NewString(),
		Name:            req.Name,
		Mode:            req.Mode,
		ConsentChecked:  req.ConsentChecked,
		GenerationLock:  lock,
		ReferenceImages: []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := store.InsertProfile(ctx, s.store, p); err != nil {
		return nil, fmt.Errorf("profileservice: create: %w", err)
	}
	s.log.Info().Str("profile_id", p.ID).Msg("profile created")
	return p, nil
}

// List returns all profiles ordered by created_at descending (spec §4.2
// list()).
func (s *Service) List(ctx context.Context) ([]*models.Profile, error) {
	profiles, err := store.ListProfiles(ctx, s.store)
	if err != nil {
		return nil, fmt.Errorf("profileservice: list: %w", err)
	}
	return profiles, nil
}

// Get fetches one profile, failing NotFound when absent (spec §4.2 get()).
func (s *Service) Get(ctx context.Context, id string) (*models.Profile, error) {
	p, err := store.GetProfile(ctx, s.store, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("profile %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("profileservice: get: %w", err)
	}
	return p, nil
}

// Patch carries only the fields the caller wants to change; unset fields
// are left alone (spec §4.2 update()).
type Patch struct {
	Name           *string
	Mode           *models.ProfileMode
	ConsentChecked *bool
	GenerationLock *models.GenerationLock
}

// Update applies patch, re-checking the mode/consent invariant against the
// effective post-patch values, and always bumps updated_at.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (*models.Profile, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		if *patch.Name == "" || len(*patch.Name) > 200 {
			return nil, apperr.Validation("name must be 1-200 characters")
		}
		p.Name = *patch.Name
	}
	if patch.Mode != nil {
		p.Mode = *patch.Mode
	}
	if patch.ConsentChecked != nil {
		p.ConsentChecked = *patch.ConsentChecked
	}
	if patch.GenerationLock != nil {
		p.GenerationLock = *patch.GenerationLock
	}

	if err := s.validateConsent(p.Mode, p.ConsentChecked); err != nil {
		return nil, err
	}

	p.UpdatedAt = s.now()
	if err := store.UpdateProfile(ctx, s.store, p); err != nil {
		return nil, fmt.Errorf("profileservice: update: %w", err)
	}
	s.log.Info().Str("profile_id", p.ID).Msg("profile updated")
	return p, nil
}

// Delete removes a profile; cascading removes its references and jobs, and
// orphans (SET NULL) any assets that pointed at it. Idempotent: a missing
// profile is not an error (spec §4.2 delete()).
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := store.DeleteProfile(ctx, s.store, id); err != nil {
		return fmt.Errorf("profileservice: delete: %w", err)
	}
	s.log.Info().Str("profile_id", id).Msg("profile deleted")
	return nil
}

// SetReferences validates the profile exists, trims each name to its
// filename (rejecting path components silently rather than erroring, spec
// §4.2 set_references()) and requires each resolved image to exist on
// disk, then atomically replaces the reference list, preserving input
// order as sort_order.
func (s *Service) SetReferences(ctx context.Context, id string, imageNames []string) (*models.Profile, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	trimmed := make([]string, 0, len(imageNames))
	seen := make(map[string]bool, len(imageNames))
	for _, raw := range imageNames {
		if _, err := s.images.Resolve(raw); err != nil {
			return nil, apperr.Validation("invalid reference image %q: %v", raw, err)
		}
		base := filepath.Base(raw)
		if !s.images.Exists(base) {
			return nil, apperr.Validation("reference image %q does not exist", raw)
		}
		if seen[base] {
			continue // de-duplicated by (profile_id, image_name), spec §3
		}
		seen[base] = true
		trimmed = append(trimmed, base)
	}

	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		return store.ReplaceProfileReferences(ctx, tx, id, trimmed)
	})
	if err != nil {
		return nil, fmt.Errorf("profileservice: set_references: %w", err)
	}

	return s.Get(ctx, id)
}
