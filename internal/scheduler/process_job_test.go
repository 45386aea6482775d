package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adverant/videogen/internal/encoder"
	"github.com/adverant/videogen/internal/models"
	"github.com/adverant/videogen/internal/profileservice"
)

func newStubEncoder(t *testing.T, script string) *encoder.Driver {
	t.Helper()
	return encoder.New(writeStubFFmpeg(t, script))
}

// writeStubFFmpeg writes an executable shell script standing in for ffmpeg
// and returns its path. The real binary can't run in this environment, so
// these tests exercise the worker loop's supervision logic (polling,
// cancellation, state transitions) against a script that mimics ffmpeg's
// two relevant behaviors: producing an output file on success, or running
// long enough to be killed mid-encode.
func writeStubFFmpeg(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func waitForStatus(t *testing.T, sched *Scheduler, jobID string, want models.JobStatus, timeout time.Duration) *models.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := sched.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		if job.Status == want {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %q never reached status %q", jobID, want)
	return nil
}

// TestProcessJobHappyPath drives a job through the real worker loop
// end-to-end: waiting -> running -> encoding -> completed.
func TestProcessJobHappyPath(t *testing.T) {
	sched, profiles := newTestScheduler(t)
	sched.encoder = newStubEncoder(t, `
last=""
for arg in "$@"; do
	last="$arg"
done
echo stub-video > "$last"
exit 0
`)
	sched.Start()
	t.Cleanup(sched.Shutdown)

	ctx := context.Background()
	p, err := profiles.Create(ctx, profileservice.CreateRequest{Name: "A", Mode: models.ModeFictional})
	require.NoError(t, err)
	_, err = profiles.SetReferences(ctx, p.ID, []string{"a.png"})
	require.NoError(t, err)

	job, err := sched.CreateJob(ctx, models.GenerationRequest{ProfileID: p.ID})
	require.NoError(t, err)

	final := waitForStatus(t, sched, job.ID, models.JobCompleted, 5*time.Second)
	require.Equal(t, 100.0, final.Progress)
	require.NotNil(t, final.OutputVideoID)
	require.NotNil(t, final.EndedAt)

	_, err = os.Stat(filepath.Join(sched.outputsDir, job.ID+".mp4"))
	require.NoError(t, err)
}

// TestProcessJobCancelDuringEncoding exercises spec §8 scenario S3: a
// cancel issued mid-encode kills the subprocess (CancelJob signals it
// through the active-process map) and the job lands on cancelled rather
// than error.
func TestProcessJobCancelDuringEncoding(t *testing.T) {
	sched, profiles := newTestScheduler(t)
	sched.encoder = newStubEncoder(t, `
trap 'exit 1' TERM
sleep 5
`)
	sched.Start()
	t.Cleanup(sched.Shutdown)

	ctx := context.Background()
	p, err := profiles.Create(ctx, profileservice.CreateRequest{Name: "A", Mode: models.ModeFictional})
	require.NoError(t, err)
	_, err = profiles.SetReferences(ctx, p.ID, []string{"a.png"})
	require.NoError(t, err)

	job, err := sched.CreateJob(ctx, models.GenerationRequest{ProfileID: p.ID})
	require.NoError(t, err)

	waitForStatus(t, sched, job.ID, models.JobEncoding, 5*time.Second)

	require.NoError(t, sched.CancelJob(ctx, job.ID))

	final := waitForStatus(t, sched, job.ID, models.JobCancelled, 5*time.Second)
	require.NotNil(t, final.EndedAt)
	require.Nil(t, final.OutputVideoID)
}
