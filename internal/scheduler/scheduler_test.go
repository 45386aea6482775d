package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/adverant/videogen/internal/apperr"
	"github.com/adverant/videogen/internal/encoder"
	"github.com/adverant/videogen/internal/imagestore"
	"github.com/adverant/videogen/internal/models"
	"github.com/adverant/videogen/internal/profileservice"
	"github.com/adverant/videogen/internal/store"
)

func newTestScheduler(t *testing.T) (*Scheduler, *profileservice.Service) {
	t.Helper()
	st, err := store.OpenSQLiteForTests(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	imgDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(imgDir, "a.png"), []byte("x"), 0o644))
	images := imagestore.NewFSStore(imgDir)

	profiles := profileservice.New(st, images, true, zerolog.Nop())

	sched := New(Options{
		Store:              st,
		Profiles:           profiles,
		Images:             images,
		Encoder:            encoder.New("ffmpeg"),
		Log:                zerolog.Nop(),
		TempRoot:           t.TempDir(),
		OutputsDir:         t.TempDir(),
		DefaultDurationSec: 5,
		DefaultFPS:         24,
	})
	return sched, profiles
}

func TestCreateJobRequiresProfile(t *testing.T) {
	sched, _ := newTestScheduler(t)
	_, err := sched.CreateJob(context.Background(), models.GenerationRequest{ProfileID: "missing"})
	require.Error(t, err)
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

// TestCreateJobRequiresReferences exercises spec §8 scenario S6 from the
// job-creation side: a profile with no reference images cannot be scheduled.
func TestCreateJobRequiresReferences(t *testing.T) {
	sched, profiles := newTestScheduler(t)
	ctx := context.Background()

	p, err := profiles.Create(ctx, profileservice.CreateRequest{Name: "A", Mode: models.ModeFictional})
	require.NoError(t, err)

	_, err = sched.CreateJob(ctx, models.GenerationRequest{ProfileID: p.ID})
	require.Error(t, err)
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCreateJobAppliesDefaultsAndEnqueues(t *testing.T) {
	sched, profiles := newTestScheduler(t)
	ctx := context.Background()

	p, err := profiles.Create(ctx, profileservice.CreateRequest{Name: "A", Mode: models.ModeFictional})
	require.NoError(t, err)
	_, err = profiles.SetReferences(ctx, p.ID, []string{"a.png"})
	require.NoError(t, err)

	job, err := sched.CreateJob(ctx, models.GenerationRequest{ProfileID: p.ID})
	require.NoError(t, err)
	require.Equal(t, models.JobWaiting, job.Status)
	require.Equal(t, 5.0, job.DurationSec)
	require.Equal(t, 24, job.FPS)
	require.Equal(t, defaultWidth, job.Width)
	require.Equal(t, defaultHeight, job.Height)

	select {
	case id := <-sched.backlog:
		require.Equal(t, job.ID, id)
	default:
		t.Fatal("expected job to be enqueued")
	}
}

func TestCreateJobRejectsOutOfRangeParams(t *testing.T) {
	sched, profiles := newTestScheduler(t)
	ctx := context.Background()

	p, err := profiles.Create(ctx, profileservice.CreateRequest{Name: "A", Mode: models.ModeFictional})
	require.NoError(t, err)
	_, err = profiles.SetReferences(ctx, p.ID, []string{"a.png"})
	require.NoError(t, err)

	bad := 999.0
	_, err = sched.CreateJob(ctx, models.GenerationRequest{ProfileID: p.ID, DurationSec: &bad})
	require.Error(t, err)
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

// TestCancelWaitingJobPreempts exercises spec §8 scenario S4.
func TestCancelWaitingJobPreempts(t *testing.T) {
	sched, profiles := newTestScheduler(t)
	ctx := context.Background()

	p, err := profiles.Create(ctx, profileservice.CreateRequest{Name: "A", Mode: models.ModeFictional})
	require.NoError(t, err)
	_, err = profiles.SetReferences(ctx, p.ID, []string{"a.png"})
	require.NoError(t, err)

	job, err := sched.CreateJob(ctx, models.GenerationRequest{ProfileID: p.ID})
	require.NoError(t, err)

	require.NoError(t, sched.CancelJob(ctx, job.ID))

	got, err := sched.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobCancelled, got.Status)
	require.NotNil(t, got.EndedAt)
}

// TestCancelJobIdempotent exercises spec §8 invariant 6.
func TestCancelJobIdempotent(t *testing.T) {
	sched, profiles := newTestScheduler(t)
	ctx := context.Background()

	p, err := profiles.Create(ctx, profileservice.CreateRequest{Name: "A", Mode: models.ModeFictional})
	require.NoError(t, err)
	_, err = profiles.SetReferences(ctx, p.ID, []string{"a.png"})
	require.NoError(t, err)

	job, err := sched.CreateJob(ctx, models.GenerationRequest{ProfileID: p.ID})
	require.NoError(t, err)

	require.NoError(t, sched.CancelJob(ctx, job.ID))
	require.NoError(t, sched.CancelJob(ctx, job.ID))

	require.NoError(t, sched.CancelJob(ctx, "does-not-exist"))
}

// TestRecoverRewritesOrphansAndReenqueues exercises spec §8 invariant 3 and
// scenario S5.
func TestRecoverRewritesOrphansAndReenqueues(t *testing.T) {
	sched, profiles := newTestScheduler(t)
	ctx := context.Background()
	now := time.Now().UTC()

	p, err := profiles.Create(ctx, profileservice.CreateRequest{Name: "A", Mode: models.ModeFictional})
	require.NoError(t, err)

	orphan := &models.Job{
		ID: "orphan", ProfileID: p.ID, Status: models.JobEncoding,
		Request: models.GenerationRequest{ProfileID: p.ID},
		DurationSec: 5, FPS: 24, Width: 640, Height: 480,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.InsertJob(ctx, sched.store, orphan))

	waiting := &models.Job{
		ID: "waiting", ProfileID: p.ID, Status: models.JobWaiting,
		Request: models.GenerationRequest{ProfileID: p.ID},
		DurationSec: 5, FPS: 24, Width: 640, Height: 480,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.InsertJob(ctx, sched.store, waiting))

	require.NoError(t, sched.Recover(ctx))

	got, err := sched.GetJob(ctx, "orphan")
	require.NoError(t, err)
	require.Equal(t, models.JobError, got.Status)
	require.Equal(t, restartMessage, *got.Error)

	select {
	case id := <-sched.backlog:
		require.Equal(t, "waiting", id)
	default:
		t.Fatal("expected waiting job to be re-enqueued")
	}
}
