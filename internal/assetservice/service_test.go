package assetservice

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/adverant/videogen/internal/apperr"
	"github.com/adverant/videogen/internal/models"
	"github.com/adverant/videogen/internal/store"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	st, err := store.OpenSQLiteForTests(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	outputsDir := t.TempDir()
	svc, err := New(st, outputsDir, zerolog.Nop())
	require.NoError(t, err)
	return svc, outputsDir
}

func insertAsset(t *testing.T, st *store.Store, id, path string) {
	t.Helper()
	require.NoError(t, store.InsertAsset(context.Background(), st, &models.Asset{
		ID: id, Filename: id + ".mp4", Duration: 5, FPS: 24, Width: 640, Height: 480,
		CreatedAt: time.Now().UTC(), Path: path,
	}))
}

// TestPathForRejectsEscape exercises spec §8 invariant 7: a stored path
// outside the configured outputs directory must fail Validation even
// though the file genuinely exists on disk.
func TestPathForRejectsEscape(t *testing.T) {
	svc, _ := newTestService(t)

	outsideDir := t.TempDir()
	outsidePath := filepath.Join(outsideDir, "secret.mp4")
	require.NoError(t, os.WriteFile(outsidePath, []byte("x"), 0o644))
	insertAsset(t, svc.store, "evil", outsidePath)

	_, err := svc.PathFor(context.Background(), "evil")
	require.Error(t, err)
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestPathForValidAsset(t *testing.T) {
	svc, outputsDir := newTestService(t)

	videoPath := filepath.Join(outputsDir, "job1.mp4")
	require.NoError(t, os.WriteFile(videoPath, []byte("data"), 0o644))
	insertAsset(t, svc.store, "job1", videoPath)

	resolved, err := svc.PathFor(context.Background(), "job1")
	require.NoError(t, err)
	require.Equal(t, videoPath, resolved)
}

func TestPathForMissingFile(t *testing.T) {
	svc, outputsDir := newTestService(t)
	insertAsset(t, svc.store, "gone", filepath.Join(outputsDir, "gone.mp4"))

	_, err := svc.PathFor(context.Background(), "gone")
	require.Error(t, err)
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestGetMissingAsset(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Get(context.Background(), "nope")
	require.Error(t, err)
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
