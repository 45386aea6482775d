// Package models holds the typed domain records for the video generation
// core: Profile, ProfileReference, Job, Asset, and GenerationLock, plus the
// JobStatus and ProfileMode enumerations (spec §3).
package models

import (
	"encoding/json"
	"time"

	"github.com/adverant/videogen/internal/apperr"
)

// ProfileMode distinguishes a fictional identity from a real one, which
// gates the consent invariant (spec §3).
type ProfileMode string

const (
	ModeFictional   ProfileMode = "fictional"
	ModeRealIdentity ProfileMode = "real_identity"
)

// Valid reports whether m is one of the known modes.
func (m ProfileMode) Valid() bool {
	return m == ModeFictional || m == ModeRealIdentity
}

// JobStatus is the job's position in the state machine (spec §4.4).
type JobStatus string

const (
	JobWaiting   JobStatus = "waiting"
	JobRunning   JobStatus = "running"
	JobEncoding  JobStatus = "encoding"
	JobCompleted JobStatus = "completed"
	JobError     JobStatus = "error"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether s is one of the three states a job never leaves.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobError || s == JobCancelled
}

const errorMessageMaxLen = 2000

// GenerationLock is the set of non-prompt parameters kept stable across a
// profile's generations (spec §3). Stored as a JSON blob in
// video_profiles.generation_lock_json.
type GenerationLock struct {
	BaseModel       *string  `json:"base_model,omitempty"`
	Loras           []string `json:"loras"`
	VAE             *string  `json:"vae,omitempty"`
	PromptTemplate  *string  `json:"prompt_template,omitempty"`
	NegativePrompt  *string  `json:"negative_prompt,omitempty"`
	CFGScale        *float64 `json:"cfg_scale,omitempty"`
	Seed            *int64   `json:"seed,omitempty"`
	SeedStrategy    *string  `json:"seed_strategy,omitempty"`
	SeedJitter      int      `json:"seed_jitter"`
	ReferenceWeight float64  `json:"reference_weight"`
	StrictLock      bool     `json:"strict_lock"`
}

// DefaultGenerationLock returns the field defaults from spec §3.
func DefaultGenerationLock() GenerationLock {
	return GenerationLock{
		Loras:           []string{},
		SeedJitter:      0,
		ReferenceWeight: 1.0,
		StrictLock:      true,
	}
}

// Marshal serializes the lock for the generation_lock_json column.
func (g GenerationLock) Marshal() ([]byte, error) {
	return json.Marshal(g)
}

// UnmarshalGenerationLock parses the generation_lock_json column, applying
// defaults for any field json left zero-valued because it predates that
// field (forward-compatible reads).
func UnmarshalGenerationLock(data []byte) (GenerationLock, error) {
	g := DefaultGenerationLock()
	if len(data) == 0 {
		return g, nil
	}
	if err := json.Unmarshal(data, &g); err != nil {
		return GenerationLock{}, err
	}
	if g.Loras == nil {
		g.Loras = []string{}
	}
	return g, nil
}

// ProfileReference is one ordered reference image attached to a profile
// (spec §3). Order defines keyframe selection order.
type ProfileReference struct {
	ProfileID string `json:"profile_id"`
	ImageName string `json:"image_name"`
	SortOrder int    `json:"sort_order"`
}

// Profile is a named identity bundle: references + generation lock +
// consent flag (spec §3).
type Profile struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Mode            ProfileMode      `json:"mode"`
	ConsentChecked  bool             `json:"consent_checked"`
	GenerationLock  GenerationLock   `json:"generation_lock"`
	ReferenceImages []string         `json:"reference_images"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// GenerationRequest is the caller-supplied video generation request
// (spec §6 VideoGenerateRequest), persisted verbatim in video_jobs.request_json
// alongside the effective, defaulted values on the Job itself.
type GenerationRequest struct {
	ProfileID      string   `json:"profile_id"`
	Prompt         *string  `json:"prompt,omitempty"`
	NegativePrompt *string  `json:"negative_prompt,omitempty"`
	DurationSec    *float64 `json:"duration_sec,omitempty"`
	FPS            *int     `json:"fps,omitempty"`
	Width          *int     `json:"width,omitempty"`
	Height         *int     `json:"height,omitempty"`
}

// Marshal serializes the request for the request_json column.
func (r GenerationRequest) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalGenerationRequest parses the request_json column.
func UnmarshalGenerationRequest(data []byte) (GenerationRequest, error) {
	var r GenerationRequest
	if len(data) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return GenerationRequest{}, err
	}
	return r, nil
}

// Job is a single run request bound to a profile (spec §3).
type Job struct {
	ID              string            `json:"id"`
	ProfileID       string            `json:"profile_id"`
	Status          JobStatus         `json:"status"`
	Progress        float64           `json:"progress"`
	Error           *string           `json:"error,omitempty"`
	OutputVideoID   *string           `json:"output_video_id,omitempty"`
	Request         GenerationRequest `json:"request"`
	DurationSec     float64           `json:"duration_sec"`
	FPS             int               `json:"fps"`
	Width           int               `json:"width"`
	Height          int               `json:"height"`
	CancelRequested bool              `json:"cancel_requested"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	EndedAt         *time.Time        `json:"ended_at,omitempty"`
}

// SetError stores msg truncated to the 2000-char cap (spec §3).
func (j *Job) SetError(msg string) {
	truncated := apperr.Truncate(msg, errorMessageMaxLen)
	j.Error = &truncated
}

// Asset is a completed video file with metadata (spec §3).
type Asset struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Duration  float64   `json:"duration"`
	FPS       int       `json:"fps"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	CreatedAt time.Time `json:"created_at"`
	Path      string    `json:"path"`
	ProfileID *string   `json:"profile_id,omitempty"`
}
