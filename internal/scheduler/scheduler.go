// Package scheduler is the Job Scheduler & Worker (spec §4.4), the core
// engine: an in-memory FIFO backlog feeding exactly one worker goroutine,
// backed by the video_jobs table as the durable source of truth.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adverant/videogen/internal/apperr"
	"github.com/adverant/videogen/internal/encoder"
	"github.com/adverant/videogen/internal/imagestore"
	"github.com/adverant/videogen/internal/metrics"
	"github.com/adverant/videogen/internal/models"
	"github.com/adverant/videogen/internal/profileservice"
	"github.com/adverant/videogen/internal/store"
)

const (
	dequeueTimeout  = 500 * time.Millisecond
	pollInterval    = 250 * time.Millisecond
	shutdownTimeout = 5 * time.Second

	defaultWidth  = 1280
	defaultHeight = 720

	restartMessage = "Video generation interrupted by restart"
)

// Scheduler is the Job Scheduler & Worker (spec §4.4). It owns the backlog,
// the shutdown signal, and the active-processes map; it is the sole
// executor of job state transitions besides cancel_job's waiting pre-empt.
type Scheduler struct {
	store    *store.Store
	profiles *profileservice.Service
	images   imagestore.Store
	encoder  *encoder.Driver
	log      zerolog.Logger
	now      func() time.Time

	tempRoot   string
	outputsDir string

	defaultDurationSec float64
	defaultFPS          int

	backlog  chan string
	shutdown chan struct{}
	done     chan struct{}

	mu        sync.Mutex
	active    map[string]*exec.Cmd
	cancelled map[string]bool // in-memory cancel flags, read after the encoder exits and before completion
}

// Options configures a new Scheduler.
type Options struct {
	Store               *store.Store
	Profiles            *profileservice.Service
	Images              imagestore.Store
	Encoder             *encoder.Driver
	Log                 zerolog.Logger
	TempRoot            string
	OutputsDir          string
	DefaultDurationSec  float64
	DefaultFPS          int
	BacklogCapacity     int
}

// New constructs a Scheduler. Call Start to launch the worker.
func New(opts Options) *Scheduler {
	capacity := opts.BacklogCapacity
	if capacity <= 0 {
		capacity = 1024
	}
	return &Scheduler{
		store:               opts.Store,
		profiles:            opts.Profiles,
		images:              opts.Images,
		encoder:             opts.Encoder,
		log:                 opts.Log.With().Str("component", "scheduler").Logger(),
		now:                 time.Now,
		tempRoot:            opts.TempRoot,
		outputsDir:          opts.OutputsDir,
		defaultDurationSec:  opts.DefaultDurationSec,
		defaultFPS:          opts.DefaultFPS,
		backlog:             make(chan string, capacity),
		shutdown:            make(chan struct{}),
		done:                make(chan struct{}),
		active:              make(map[string]*exec.Cmd),
		cancelled:           make(map[string]bool),
	}
}

// CreateJob resolves the target profile, re-verifies mode/consent, requires
// at least one reference image, builds the effective request, persists the
// job as waiting, enqueues it, and returns it (spec §4.4 create_job()).
func (s *Scheduler) CreateJob(ctx context.Context, req models.GenerationRequest) (*models.Job, error) {
	if req.ProfileID == "" {
		return nil, apperr.Validation("profile_id is required")
	}

	profile, err := s.profiles.Get(ctx, req.ProfileID)
	if err != nil {
		return nil, err
	}
	if err := s.profiles.ValidateConsent(profile.Mode, profile.ConsentChecked); err != nil {
		return nil, err
	}
	if len(profile.ReferenceImages) == 0 {
		return nil, apperr.Validation("profile %q has no reference images", profile.ID)
	}

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	durationSec := s.defaultDurationSec
	if req.DurationSec != nil {
		durationSec = *req.DurationSec
	}
	fps := s.defaultFPS
	if req.FPS != nil {
		fps = *req.FPS
	}
	width := defaultWidth
	if req.Width != nil {
		width = *req.Width
	}
	height := defaultHeight
	if req.Height != nil {
		height = *req.Height
	}

	now := s.now()
	job := &models.Job{
		ID:          uuid.NewString(),
		ProfileID:   profile.ID,
		Status:      models.JobWaiting,
		Progress:    0,
		Request:     req,
		DurationSec: durationSec,
		FPS:         fps,
		Width:       width,
		Height:      height,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := store.InsertJob(ctx, s.store, job); err != nil {
		return nil, fmt.Errorf("scheduler: create_job: %w", err)
	}

	s.enqueue(job.ID)
	s.log.Info().Str("job_id", job.ID).Str("profile_id", profile.ID).Msg("job created")
	return job, nil
}

func validateRequest(req models.GenerationRequest) error {
	if req.DurationSec != nil && (*req.DurationSec < 1 || *req.DurationSec > 30) {
		return apperr.Validation("duration_sec must be between 1 and 30")
	}
	if req.FPS != nil && (*req.FPS < 4 || *req.FPS > 60) {
		return apperr.Validation("fps must be between 4 and 60")
	}
	if req.Width != nil && (*req.Width < 256 || *req.Width > 1920) {
		return apperr.Validation("width must be between 256 and 1920")
	}
	if req.Height != nil && (*req.Height < 256 || *req.Height > 1920) {
		return apperr.Validation("height must be between 256 and 1920")
	}
	return nil
}

// ListJobs returns jobs, optionally scoped to one profile.
func (s *Scheduler) ListJobs(ctx context.Context, profileID *string) ([]*models.Job, error) {
	jobs, err := store.ListJobs(ctx, s.store, profileID)
	if err != nil {
		return nil, fmt.Errorf("scheduler: list_jobs: %w", err)
	}
	return jobs, nil
}

// GetJob fetches one job, failing NotFound when absent.
func (s *Scheduler) GetJob(ctx context.Context, id string) (*models.Job, error) {
	j, err := store.GetJob(ctx, s.store, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("job %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("scheduler: get_job: %w", err)
	}
	return j, nil
}

// CancelJob is idempotent on terminal states. Otherwise it sets
// cancel_requested transactionally; a still-waiting job is pre-emptively
// transitioned to cancelled and its temp dir removed; a running subprocess
// is signalled termination (spec §4.4 cancel_job(), §5 "Cancellation").
// A missing job is treated as already cancelled (idempotent).
func (s *Scheduler) CancelJob(ctx context.Context, id string) error {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil
		}
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	now := s.now()
	preempt := job.Status == models.JobWaiting

	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := store.SetCancelRequested(ctx, tx, id, store.FormatTime(now)); err != nil {
			return err
		}
		if preempt {
			job.Status = models.JobCancelled
			job.Progress = 0
			job.CancelRequested = true
			job.UpdatedAt = now
			job.EndedAt = &now
			return store.UpdateJob(ctx, tx, job)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scheduler: cancel_job: %w", err)
	}

	if preempt {
		s.removeTempDir(id)
		s.log.Info().Str("job_id", id).Msg("waiting job cancelled")
		return nil
	}

	s.mu.Lock()
	cmd := s.active[id]
	s.cancelled[id] = true
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	s.log.Info().Str("job_id", id).Msg("cancel requested for running job")
	return nil
}

func (s *Scheduler) enqueue(jobID string) {
	select {
	case s.backlog <- jobID:
	default:
		s.log.Warn().Str("job_id", jobID).Msg("backlog full, enqueue blocked")
		s.backlog <- jobID
	}
	metrics.QueueDepth.Set(float64(len(s.backlog)))
}

func (s *Scheduler) removeTempDir(jobID string) {
	dir := filepath.Join(s.tempRoot, jobID)
	if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		s.log.Warn().Err(err).Str("job_id", jobID).Msg("failed to remove temp dir")
	}
}

// Recover runs the startup/restart recovery protocol (spec §4.4): rewrite
// orphaned running/encoding rows to error, re-enqueue waiting rows in
// created_at order. Must run before Start.
func (s *Scheduler) Recover(ctx context.Context) error {
	now := s.now()
	n, err := store.MarkInterruptedJobsAsError(ctx, s.store, restartMessage, store.FormatTime(now))
	if err != nil {
		return fmt.Errorf("scheduler: recover: mark interrupted: %w", err)
	}
	if n > 0 {
		s.log.Warn().Int64("count", n).Msg("rewrote orphaned non-terminal jobs to error on restart")
	}

	ids, err := store.ListWaitingJobIDsAsc(ctx, s.store)
	if err != nil {
		return fmt.Errorf("scheduler: recover: list waiting: %w", err)
	}
	for _, id := range ids {
		s.enqueue(id)
	}
	if len(ids) > 0 {
		s.log.Info().Int("count", len(ids)).Msg("re-enqueued waiting jobs after restart")
	}
	return nil
}

// Start launches the single worker goroutine. Call Recover first.
func (s *Scheduler) Start() {
	go s.workerLoop()
}

// Shutdown signals the worker to stop, terminates any active subprocess,
// and waits up to the bounded shutdown timeout for the worker to exit.
func (s *Scheduler) Shutdown() {
	close(s.shutdown)

	s.mu.Lock()
	for id, cmd := range s.active {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		s.log.Info().Str("job_id", id).Msg("terminated active subprocess for shutdown")
	}
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-time.After(shutdownTimeout):
		s.log.Warn().Msg("worker did not join within shutdown timeout")
	}
}

func (s *Scheduler) workerLoop() {
	defer close(s.done)
	for {
		select {
		case <-s.shutdown:
			return
		case jobID := <-s.backlog:
			metrics.QueueDepth.Set(float64(len(s.backlog)))
			s.processJobSafely(jobID)
		case <-time.After(dequeueTimeout):
		}
	}
}

// processJobSafely runs process_job, logging and swallowing any panic or
// unexpected error so the worker keeps running (spec §4.4 worker loop,
// §7 "the worker never allows an exception to leak out of process_job").
func (s *Scheduler) processJobSafely(jobID string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("job_id", jobID).Msg("process_job panicked")
		}
	}()

	ctx := context.Background()
	if err := s.processJob(ctx, jobID); err != nil && !apperr.Is(err) {
		s.log.Error().Err(err).Str("job_id", jobID).Msg("process_job failed unexpectedly")
	}
}
