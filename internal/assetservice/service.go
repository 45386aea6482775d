// Package assetservice provides read-only queries over stored video
// assets and safe resolution of their on-disk paths (spec §4.3).
package assetservice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/adverant/videogen/internal/apperr"
	"github.com/adverant/videogen/internal/models"
	"github.com/adverant/videogen/internal/store"
)

// Service is the Asset Service (spec §4.3).
type Service struct {
	store       *store.Store
	outputsDir  string
	log         zerolog.Logger
}

// New constructs a Service rooted at the configured outputs directory.
func New(st *store.Store, outputsDir string, log zerolog.Logger) (*Service, error) {
	abs, err := filepath.Abs(outputsDir)
	if err != nil {
		return nil, fmt.Errorf("assetservice: resolve outputs dir: %w", err)
	}
	return &Service{
		store:      st,
		outputsDir: abs,
		log:        log.With().Str("component", "assetservice").Logger(),
	}, nil
}

// List returns assets ordered by created_at descending (spec §4.3 list()).
func (s *Service) List(ctx context.Context) ([]*models.Asset, error) {
	assets, err := store.ListAssets(ctx, s.store)
	if err != nil {
		return nil, fmt.Errorf("assetservice: list: %w", err)
	}
	return assets, nil
}

// Get fetches one asset, failing NotFound when absent (spec §4.3 get()).
func (s *Service) Get(ctx context.Context, id string) (*models.Asset, error) {
	a, err := store.GetAsset(ctx, s.store, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("asset %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("assetservice: get: %w", err)
	}
	return a, nil
}

// PathFor returns the canonical absolute path after verifying it exists
// and lies under the configured outputs directory — checked at read time,
// not only at write time, so a corrupted database row cannot leak
// arbitrary files (spec §4.3, §9 "Path safety").
func (s *Service) PathFor(ctx context.Context, id string) (string, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}

	resolved, err := filepath.Abs(a.Path)
	if err != nil {
		return "", apperr.Validation("asset %q has an unresolvable path", id)
	}
	resolved, err = filepath.EvalSymlinks(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", apperr.NotFound("asset %q file is missing on disk", id)
		}
		return "", apperr.Validation("asset %q path could not be resolved: %v", id, err)
	}

	outputsResolved, err := filepath.EvalSymlinks(s.outputsDir)
	if err != nil {
		return "", fmt.Errorf("assetservice: resolve outputs dir: %w", err)
	}

	rel, err := filepath.Rel(outputsResolved, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apperr.Validation("asset %q path escapes the outputs directory", id)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", apperr.NotFound("asset %q file is missing on disk", id)
	}
	if info.IsDir() {
		return "", apperr.Validation("asset %q path is a directory", id)
	}

	return resolved, nil
}
