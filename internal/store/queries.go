package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/adverant/videogen/internal/models"
)

// Queryer is satisfied by both *Store and *Tx, so the query functions below
// work whether called inside a transaction scope or directly. Single-statement
// reads and writes are called directly on *Store and run as autocommitted
// statements; only multi-statement writes (reference replacement, the
// completion transition, cancel_job) go through WithTx.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// --- profiles ---------------------------------------------------------

func InsertProfile(ctx context.Context, q Queryer, p *models.Profile) error {
	lockJSON, err := p.GenerationLock.Marshal()
	if err != nil {
		return fmt.Errorf("store: marshal generation_lock: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO video_profiles (id, name, mode, consent_checked, generation_lock_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, string(p.Mode), p.ConsentChecked, lockJSON,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	return err
}

func UpdateProfile(ctx context.Context, q Queryer, p *models.Profile) error {
	lockJSON, err := p.GenerationLock.Marshal()
	if err != nil {
		return fmt.Errorf("store: marshal generation_lock: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		UPDATE video_profiles
		SET name = ?, mode = ?, consent_checked = ?, generation_lock_json = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, string(p.Mode), p.ConsentChecked, lockJSON, formatTime(p.UpdatedAt), p.ID,
	)
	return err
}

func DeleteProfile(ctx context.Context, q Queryer, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM video_profiles WHERE id = ?`, id)
	return err
}

// scanProfileRow scans a video_profiles row without its reference list.
func scanProfileRow(row *sql.Row) (*models.Profile, error) {
	var p models.Profile
	var mode string
	var lockJSON []byte
	var createdAt, updatedAt string

	if err := row.Scan(&p.ID, &p.Name, &mode, &p.ConsentChecked, &lockJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	p.Mode = models.ProfileMode(mode)
	lock, err := models.UnmarshalGenerationLock(lockJSON)
	if err != nil {
		return nil, fmt.Errorf("store: unmarshal generation_lock: %w", err)
	}
	p.GenerationLock = lock

	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProfile fetches a profile hydrated with its ordered reference list.
// Returns sql.ErrNoRows when absent, for the caller to classify as NotFound.
func GetProfile(ctx context.Context, q Queryer, id string) (*models.Profile, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, name, mode, consent_checked, generation_lock_json, created_at, updated_at
		FROM video_profiles WHERE id = ?`, id)

	p, err := scanProfileRow(row)
	if err != nil {
		return nil, err
	}

	refs, err := ListProfileReferences(ctx, q, id)
	if err != nil {
		return nil, err
	}
	p.ReferenceImages = refs
	return p, nil
}

// ListProfiles returns all profiles ordered by created_at descending, each
// hydrated with its reference list (spec §4.2 list()).
func ListProfiles(ctx context.Context, q Queryer) ([]*models.Profile, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, mode, consent_checked, generation_lock_json, created_at, updated_at
		FROM video_profiles ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*models.Profile
	var ids []string
	for rows.Next() {
		var p models.Profile
		var mode string
		var lockJSON []byte
		var createdAt, updatedAt string
		if err := rows.Scan(&p.ID, &p.Name, &mode, &p.ConsentChecked, &lockJSON, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		p.Mode = models.ProfileMode(mode)
		lock, err := models.UnmarshalGenerationLock(lockJSON)
		if err != nil {
			return nil, fmt.Errorf("store: unmarshal generation_lock: %w", err)
		}
		p.GenerationLock = lock
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		profiles = append(profiles, &p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, id := range ids {
		refs, err := ListProfileReferences(ctx, q, id)
		if err != nil {
			return nil, err
		}
		profiles[i].ReferenceImages = refs
	}
	return profiles, nil
}

// ListProfileReferences returns the ordered image names for a profile.
func ListProfileReferences(ctx context.Context, q Queryer, profileID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT image_name FROM video_profile_references
		WHERE profile_id = ? ORDER BY sort_order ASC`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ReplaceProfileReferences deletes the existing reference list and inserts
// imageNames in order (spec §4.2 set_references — must be called inside a
// transaction to be atomic, per invariant 5 in spec §8).
func ReplaceProfileReferences(ctx context.Context, tx *Tx, profileID string, imageNames []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM video_profile_references WHERE profile_id = ?`, profileID); err != nil {
		return err
	}
	for i, name := range imageNames {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO video_profile_references (profile_id, image_name, sort_order)
			VALUES (?, ?, ?)`, profileID, name, i); err != nil {
			return err
		}
	}
	return nil
}

// --- jobs ---------------------------------------------------------------

func InsertJob(ctx context.Context, q Queryer, j *models.Job) error {
	reqJSON, err := j.Request.Marshal()
	if err != nil {
		return fmt.Errorf("store: marshal request: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO video_jobs (
			id, profile_id, status, progress, error, output_video_id, request_json,
			duration_sec, fps, width, height, cancel_requested,
			created_at, updated_at, started_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.ProfileID, string(j.Status), j.Progress, j.Error, j.OutputVideoID, reqJSON,
		j.DurationSec, j.FPS, j.Width, j.Height, j.CancelRequested,
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt), formatTimePtr(j.StartedAt), formatTimePtr(j.EndedAt),
	)
	return err
}

// UpdateJob persists every mutable field of j (the worker always writes a
// whole transition at once — spec §4.4, §5: status/progress/output_video_id
// /ended_at stay mutually consistent because they share one statement).
func UpdateJob(ctx context.Context, q Queryer, j *models.Job) error {
	_, err := q.ExecContext(ctx, `
		UPDATE video_jobs
		SET status = ?, progress = ?, error = ?, output_video_id = ?,
			cancel_requested = ?, updated_at = ?, started_at = ?, ended_at = ?
		WHERE id = ?`,
		string(j.Status), j.Progress, j.Error, j.OutputVideoID,
		j.CancelRequested, formatTime(j.UpdatedAt), formatTimePtr(j.StartedAt), formatTimePtr(j.EndedAt),
		j.ID,
	)
	return err
}

// SetCancelRequested flips the durable cancel flag (spec §4.4 cancel_job).
func SetCancelRequested(ctx context.Context, q Queryer, id string, updatedAt string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE video_jobs SET cancel_requested = ?, updated_at = ? WHERE id = ?`,
		true, updatedAt, id)
	return err
}

func scanJob(scan func(dest ...any) error) (*models.Job, error) {
	var j models.Job
	var status string
	var errMsg, outputID, startedAt, endedAt sql.NullString
	var reqJSON []byte
	var createdAt, updatedAt string

	err := scan(
		&j.ID, &j.ProfileID, &status, &j.Progress, &errMsg, &outputID, &reqJSON,
		&j.DurationSec, &j.FPS, &j.Width, &j.Height, &j.CancelRequested,
		&createdAt, &updatedAt, &startedAt, &endedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = models.JobStatus(status)
	if errMsg.Valid {
		msg := errMsg.String
		j.Error = &msg
	}
	if outputID.Valid {
		id := outputID.String
		j.OutputVideoID = &id
	}

	req, err := models.UnmarshalGenerationRequest(reqJSON)
	if err != nil {
		return nil, fmt.Errorf("store: unmarshal request: %w", err)
	}
	j.Request = req

	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if startedAt.Valid {
		if j.StartedAt, err = parseTimePtr(&startedAt.String); err != nil {
			return nil, err
		}
	}
	if endedAt.Valid {
		if j.EndedAt, err = parseTimePtr(&endedAt.String); err != nil {
			return nil, err
		}
	}
	return &j, nil
}

const jobColumns = `id, profile_id, status, progress, error, output_video_id, request_json,
	duration_sec, fps, width, height, cancel_requested, created_at, updated_at, started_at, ended_at`

// GetJob fetches one job. Returns sql.ErrNoRows when absent.
func GetJob(ctx context.Context, q Queryer, id string) (*models.Job, error) {
	row := q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM video_jobs WHERE id = ?`, id)
	return scanJob(row.Scan)
}

// ListJobs returns jobs ordered by created_at descending, optionally
// scoped to one profile (SPEC_FULL §12 profile_id filter).
func ListJobs(ctx context.Context, q Queryer, profileID *string) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM video_jobs`
	var args []any
	if profileID != nil {
		query += ` WHERE profile_id = ?`
		args = append(args, *profileID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ListWaitingJobIDsAsc returns ids of all waiting jobs ordered by
// created_at ascending, for startup re-enqueue (spec §4.4 step 2).
func ListWaitingJobIDsAsc(ctx context.Context, q Queryer) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id FROM video_jobs WHERE status = ? ORDER BY created_at ASC`, string(models.JobWaiting))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkInterruptedJobsAsError rewrites every running/encoding job to error
// with a stable restart message (spec §4.4 step 1). Returns the number of
// rows touched.
func MarkInterruptedJobsAsError(ctx context.Context, q Queryer, message string, now string) (int64, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE video_jobs
		SET status = ?, error = COALESCE(error, ?), updated_at = ?, ended_at = COALESCE(ended_at, ?)
		WHERE status IN (?, ?)`,
		string(models.JobError), message, now, now,
		string(models.JobRunning), string(models.JobEncoding),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- assets ---------------------------------------------------------------

func InsertAsset(ctx context.Context, q Queryer, a *models.Asset) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO video_assets (id, filename, duration, fps, width, height, path, profile_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Filename, a.Duration, a.FPS, a.Width, a.Height, a.Path, a.ProfileID, formatTime(a.CreatedAt),
	)
	return err
}

func scanAsset(scan func(dest ...any) error) (*models.Asset, error) {
	var a models.Asset
	var profileID sql.NullString
	var createdAt string
	if err := scan(&a.ID, &a.Filename, &a.Duration, &a.FPS, &a.Width, &a.Height, &a.Path, &profileID, &createdAt); err != nil {
		return nil, err
	}
	if profileID.Valid {
		id := profileID.String
		a.ProfileID = &id
	}
	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &a, nil
}

const assetColumns = `id, filename, duration, fps, width, height, path, profile_id, created_at`

// GetAsset fetches one asset. Returns sql.ErrNoRows when absent.
func GetAsset(ctx context.Context, q Queryer, id string) (*models.Asset, error) {
	row := q.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM video_assets WHERE id = ?`, id)
	return scanAsset(row.Scan)
}

// ListAssets returns assets ordered by created_at descending.
func ListAssets(ctx context.Context, q Queryer) ([]*models.Asset, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+assetColumns+` FROM video_assets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*models.Asset
	for rows.Next() {
		a, err := scanAsset(rows.Scan)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}
