package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/videogen/internal/apperr"
	"github.com/adverant/videogen/internal/encoder"
	"github.com/adverant/videogen/internal/metrics"
	"github.com/adverant/videogen/internal/models"
	"github.com/adverant/videogen/internal/store"
)

// processJob implements the single-job state machine (spec §4.4
// process_job(job_id)). Every transition write is one transaction;
// cancellation is checked at each of the points spec §5 names.
func (s *Scheduler) processJob(ctx context.Context, jobID string) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	// Step 1: defensive re-read. Double-enqueue or a racing cancel may have
	// already moved this job out of waiting.
	if job.Status != models.JobWaiting {
		return nil
	}

	// Step 2: pre-emptive cancel observed before any work started.
	if job.CancelRequested {
		return s.transitionCancelled(ctx, job)
	}

	// Step 3: re-validate profile and consent (spec §4.4 step 3).
	profile, err := s.profiles.Get(ctx, job.ProfileID)
	if err != nil {
		return s.transitionError(ctx, job, err)
	}
	if err := s.profiles.ValidateConsent(profile.Mode, profile.ConsentChecked); err != nil {
		return s.transitionError(ctx, job, err)
	}

	// Step 5: disk pre-flight, before any transition or directory is created.
	params := encoder.Params{DurationSec: job.DurationSec, FPS: job.FPS, Width: job.Width, Height: job.Height}
	if err := encoder.CheckDiskSpace(s.outputsDir, params); err != nil {
		return s.transitionError(ctx, job, err)
	}

	// Step 6: waiting -> running.
	if err := s.transitionRunning(ctx, job); err != nil {
		return err
	}

	tempDir := filepath.Join(s.tempRoot, job.ID)
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil && !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to remove temp dir")
		}
	}()

	// Step 7-8: temp dir + keyframe preparation.
	plan, err := encoder.PrepareKeyframes(s.images, profile.ReferenceImages, tempDir, job.DurationSec, profile.GenerationLock.StrictLock)
	if err != nil {
		return s.transitionError(ctx, job, err)
	}

	// Step 9: running -> encoding.
	if err := s.transitionEncoding(ctx, job); err != nil {
		return err
	}

	outputPath := filepath.Join(s.outputsDir, job.ID+".mp4")
	if err := s.runEncoder(ctx, job, plan, params, outputPath); err != nil {
		if apperr.Is(err) {
			return s.transitionCancelled(ctx, job)
		}
		return s.transitionError(ctx, job, err)
	}

	// Step 11: final cancel check before marking completed.
	if s.isCancelled(job.ID) {
		return s.transitionCancelled(ctx, job)
	}

	// Step 12: insert the asset row and transition to completed in one
	// transaction (spec §4.4 step 12, §8 invariant 1).
	return s.transitionCompleted(ctx, job, outputPath)
}

func (s *Scheduler) transitionRunning(ctx context.Context, job *models.Job) error {
	now := s.now()
	job.Status = models.JobRunning
	job.Progress = 5
	job.StartedAt = &now
	job.Error = nil
	job.UpdatedAt = now
	if err := store.UpdateJob(ctx, s.store, job); err != nil {
		return fmt.Errorf("scheduler: transition running: %w", err)
	}
	return nil
}

func (s *Scheduler) transitionEncoding(ctx context.Context, job *models.Job) error {
	now := s.now()
	job.Status = models.JobEncoding
	job.Progress = 30
	job.UpdatedAt = now
	if err := store.UpdateJob(ctx, s.store, job); err != nil {
		return fmt.Errorf("scheduler: transition encoding: %w", err)
	}
	return nil
}

func (s *Scheduler) transitionCancelled(ctx context.Context, job *models.Job) error {
	now := s.now()
	job.Status = models.JobCancelled
	job.Progress = 0
	job.EndedAt = &now
	job.UpdatedAt = now
	if err := store.UpdateJob(ctx, s.store, job); err != nil {
		return fmt.Errorf("scheduler: transition cancelled: %w", err)
	}
	s.clearActive(job.ID)
	metrics.JobsByStatus.WithLabelValues(string(models.JobCancelled)).Inc()
	s.log.Info().Str("job_id", job.ID).Msg("job cancelled")
	return nil
}

func (s *Scheduler) transitionError(ctx context.Context, job *models.Job, cause error) error {
	now := s.now()
	job.Status = models.JobError
	job.SetError(cause.Error())
	job.EndedAt = &now
	job.UpdatedAt = now
	if err := store.UpdateJob(ctx, s.store, job); err != nil {
		return fmt.Errorf("scheduler: transition error: %w", err)
	}
	s.clearActive(job.ID)
	metrics.JobsByStatus.WithLabelValues(string(models.JobError)).Inc()
	s.log.Error().Err(cause).Str("job_id", job.ID).Msg("job failed")
	return cause
}

func (s *Scheduler) transitionCompleted(ctx context.Context, job *models.Job, outputPath string) error {
	now := s.now()
	assetID := uuid.NewString()
	asset := &models.Asset{
		ID:        assetID,
		Filename:  job.ID + ".mp4",
		Duration:  job.DurationSec,
		FPS:       job.FPS,
		Width:     job.Width,
		Height:    job.Height,
		CreatedAt: now,
		Path:      outputPath,
		ProfileID: &job.ProfileID,
	}

	job.Status = models.JobCompleted
	job.Progress = 100
	job.OutputVideoID = &assetID
	job.EndedAt = &now
	job.UpdatedAt = now

	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := store.InsertAsset(ctx, tx, asset); err != nil {
			return err
		}
		return store.UpdateJob(ctx, tx, job)
	})
	if err != nil {
		return fmt.Errorf("scheduler: transition completed: %w", err)
	}
	s.clearActive(job.ID)
	metrics.JobsByStatus.WithLabelValues(string(models.JobCompleted)).Inc()
	s.log.Info().Str("job_id", job.ID).Str("asset_id", assetID).Msg("job completed")
	return nil
}

// runEncoder spawns the encoder subprocess, registers it in the active map,
// and polls cancellation/progress every ~250ms (spec §4.5 "Supervision").
// Preserves the documented race: a cancel observed only after the process
// has already exited is still reported as Cancelled, not Error (spec §9
// "Open question — encoder exit-code semantics").
func (s *Scheduler) runEncoder(ctx context.Context, job *models.Job, plan encoder.KeyframePlan, params encoder.Params, outputPath string) error {
	bin, err := s.encoder.ResolveBinary()
	if err != nil {
		return err
	}
	args := encoder.BuildArgs(plan, params, outputPath)
	cmd := exec.Command(bin, args...)

	start := s.now()
	if err := cmd.Start(); err != nil {
		return apperr.Service(err, "failed to start encoder process")
	}
	defer func() { metrics.EncoderDuration.Observe(s.now().Sub(start).Seconds()) }()

	s.mu.Lock()
	s.active[job.ID] = cmd
	s.cancelled[job.ID] = false
	s.mu.Unlock()
	defer s.clearActive(job.ID)

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case waitErr := <-exited:
			// Process has exited. A cancel that arrived in the narrow window
			// between exit and this check is still honored as Cancelled.
			if s.isCancelled(job.ID) {
				return apperr.Cancelled
			}
			if waitErr != nil {
				if exitErr, ok := waitErr.(*exec.ExitError); ok {
					return apperr.Service(nil, "encoder exited with status %d", exitErr.ExitCode())
				}
				return apperr.Service(waitErr, "encoder process failed")
			}
			job.Progress = 95
			job.UpdatedAt = s.now()
			if err := store.UpdateJob(ctx, s.store, job); err != nil {
				s.log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to persist progress heartbeat")
			}
			return nil

		case <-ticker.C:
			if s.isJobCancelRequested(ctx, job.ID) {
				s.mu.Lock()
				s.cancelled[job.ID] = true
				s.mu.Unlock()
				if cmd.Process != nil {
					_ = cmd.Process.Kill()
				}
				continue
			}
			job.Progress = 60
			job.UpdatedAt = s.now()
			if err := store.UpdateJob(ctx, s.store, job); err != nil {
				s.log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to persist progress heartbeat")
			}
		}
	}
}

func (s *Scheduler) clearActive(jobID string) {
	s.mu.Lock()
	delete(s.active, jobID)
	delete(s.cancelled, jobID)
	s.mu.Unlock()
}

func (s *Scheduler) isCancelled(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled[jobID]
}

// isJobCancelRequested reads the durable cancel_requested column — the
// source of truth — rather than trusting only the in-memory mirror (spec
// §5 "the durable flag survives restarts; the in-memory process map is an
// accelerator").
func (s *Scheduler) isJobCancelRequested(ctx context.Context, jobID string) bool {
	j, err := store.GetJob(ctx, s.store, jobID)
	if err != nil {
		return false
	}
	return j.CancelRequested
}
