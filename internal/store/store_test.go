package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adverant/videogen/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "videogen_test.db")
	st, err := OpenSQLiteForTests(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestProfileCRUD(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	p := &models.Profile{
		ID:              "p1",
		Name:            "Alice",
		Mode:            models.ModeFictional,
		ConsentChecked:  false,
		GenerationLock:  models.DefaultGenerationLock(),
		ReferenceImages: []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, InsertProfile(ctx, st, p))

	got, err := GetProfile(ctx, st, "p1")
	require.NoError(t, err)
	require.Equal(t, "Alice", got.Name)
	require.True(t, got.GenerationLock.StrictLock)

	_, err = GetProfile(ctx, st, "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)

	p.Name = "Alice B."
	p.UpdatedAt = now.Add(time.Second)
	require.NoError(t, UpdateProfile(ctx, st, p))

	got, err = GetProfile(ctx, st, "p1")
	require.NoError(t, err)
	require.Equal(t, "Alice B.", got.Name)

	require.NoError(t, DeleteProfile(ctx, st, "p1"))
	_, err = GetProfile(ctx, st, "p1")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

// TestReplaceProfileReferencesAtomic exercises spec §8 invariant 5: after
// set_references returns, the reference list equals the input in order.
func TestReplaceProfileReferencesAtomic(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	p := &models.Profile{
		ID: "p1", Name: "A", Mode: models.ModeFictional,
		GenerationLock: models.DefaultGenerationLock(), ReferenceImages: []string{},
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, InsertProfile(ctx, st, p))

	err := st.WithTx(ctx, func(tx *Tx) error {
		return ReplaceProfileReferences(ctx, tx, "p1", []string{"c.png", "a.png", "b.png"})
	})
	require.NoError(t, err)

	refs, err := ListProfileReferences(ctx, st, "p1")
	require.NoError(t, err)
	require.Equal(t, []string{"c.png", "a.png", "b.png"}, refs)
}

// TestDeleteProfileCascades exercises spec §8 invariant 4.
func TestDeleteProfileCascades(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	p := &models.Profile{
		ID: "p1", Name: "A", Mode: models.ModeFictional,
		GenerationLock: models.DefaultGenerationLock(), ReferenceImages: []string{},
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, InsertProfile(ctx, st, p))
	require.NoError(t, st.WithTx(ctx, func(tx *Tx) error {
		return ReplaceProfileReferences(ctx, tx, "p1", []string{"a.png"})
	}))

	job := &models.Job{
		ID: "j1", ProfileID: "p1", Status: models.JobWaiting,
		Request: models.GenerationRequest{ProfileID: "p1"},
		DurationSec: 5, FPS: 24, Width: 640, Height: 480,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, InsertJob(ctx, st, job))

	profileID := "p1"
	asset := &models.Asset{
		ID: "a1", Filename: "j1.mp4", Duration: 5, FPS: 24, Width: 640, Height: 480,
		CreatedAt: now, Path: "/tmp/j1.mp4", ProfileID: &profileID,
	}
	require.NoError(t, InsertAsset(ctx, st, asset))

	require.NoError(t, DeleteProfile(ctx, st, "p1"))

	_, err := GetJob(ctx, st, "j1")
	require.ErrorIs(t, err, sql.ErrNoRows)

	gotAsset, err := GetAsset(ctx, st, "a1")
	require.NoError(t, err)
	require.Nil(t, gotAsset.ProfileID)

	refs, err := ListProfileReferences(ctx, st, "p1")
	require.NoError(t, err)
	require.Empty(t, refs)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sentinel := errors.New("boom")
	err := st.WithTx(ctx, func(tx *Tx) error {
		_, execErr := tx.ExecContext(ctx, `
			INSERT INTO video_profiles (id, name, mode, consent_checked, generation_lock_json, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			"rollback-me", "X", "fictional", false, []byte(`{}`), formatTime(time.Now()), formatTime(time.Now()))
		require.NoError(t, execErr)
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	_, err = GetProfile(ctx, st, "rollback-me")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestMarkInterruptedJobsAsError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	p := &models.Profile{
		ID: "p1", Name: "A", Mode: models.ModeFictional,
		GenerationLock: models.DefaultGenerationLock(), ReferenceImages: []string{},
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, InsertProfile(ctx, st, p))

	statuses := []models.JobStatus{models.JobRunning, models.JobEncoding, models.JobWaiting, models.JobCompleted}
	for i, status := range statuses {
		j := &models.Job{
			ID: string(rune('a' + i)), ProfileID: "p1", Status: status,
			Request: models.GenerationRequest{ProfileID: "p1"},
			DurationSec: 5, FPS: 24, Width: 640, Height: 480,
			CreatedAt: now.Add(time.Duration(i) * time.Second), UpdatedAt: now,
		}
		require.NoError(t, InsertJob(ctx, st, j))
	}

	n, err := MarkInterruptedJobsAsError(ctx, st, "restart", formatTime(now))
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	waiting, err := ListWaitingJobIDsAsc(ctx, st)
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, waiting)

	completed, err := GetJob(ctx, st, "d")
	require.NoError(t, err)
	require.Equal(t, models.JobCompleted, completed.Status)
}
