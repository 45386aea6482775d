package store

import "fmt"

// Migrate creates the four tables and their indices if they don't already
// exist (spec §4.1, §6). It is safe to call on every startup.
func (s *Store) Migrate() error {
	var ddl []string
	if s.dialect == Postgres {
		ddl = postgresSchema
	} else {
		ddl = sqliteSchema
	}
	for _, stmt := range ddl {
		if _, err := s.DB.Exec(stmt); err != nil {
			return fmt.Errorf("store: migrate: %w (statement: %s)", err, stmt)
		}
	}
	return nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS video_profiles (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(200) NOT NULL,
		mode VARCHAR(32) NOT NULL,
		consent_checked BOOLEAN NOT NULL DEFAULT FALSE,
		generation_lock_json JSONB NOT NULL,
		created_at VARCHAR(40) NOT NULL,
		updated_at VARCHAR(40) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS video_profile_references (
		profile_id VARCHAR(64) NOT NULL REFERENCES video_profiles(id) ON DELETE CASCADE,
		image_name VARCHAR(255) NOT NULL,
		sort_order INT NOT NULL,
		PRIMARY KEY (profile_id, image_name)
	)`,
	`CREATE TABLE IF NOT EXISTS video_assets (
		id VARCHAR(64) PRIMARY KEY,
		filename VARCHAR(255) NOT NULL,
		duration DOUBLE PRECISION NOT NULL,
		fps INT NOT NULL,
		width INT NOT NULL,
		height INT NOT NULL,
		path TEXT NOT NULL,
		profile_id VARCHAR(64) REFERENCES video_profiles(id) ON DELETE SET NULL,
		created_at VARCHAR(40) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS video_jobs (
		id VARCHAR(64) PRIMARY KEY,
		profile_id VARCHAR(64) NOT NULL REFERENCES video_profiles(id) ON DELETE CASCADE,
		status VARCHAR(32) NOT NULL,
		progress DOUBLE PRECISION NOT NULL DEFAULT 0,
		error TEXT,
		output_video_id VARCHAR(64) REFERENCES video_assets(id) ON DELETE SET NULL,
		request_json JSONB NOT NULL,
		duration_sec DOUBLE PRECISION NOT NULL,
		fps INT NOT NULL,
		width INT NOT NULL,
		height INT NOT NULL,
		cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
		created_at VARCHAR(40) NOT NULL,
		updated_at VARCHAR(40) NOT NULL,
		started_at VARCHAR(40),
		ended_at VARCHAR(40)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_video_profile_references_profile_id ON video_profile_references(profile_id)`,
	`CREATE INDEX IF NOT EXISTS idx_video_jobs_profile_id ON video_jobs(profile_id)`,
	`CREATE INDEX IF NOT EXISTS idx_video_jobs_status ON video_jobs(status)`,
	`CREATE INDEX IF NOT EXISTS idx_video_assets_created_at ON video_assets(created_at DESC)`,
}

// sqliteSchema is the dialect-equivalent DDL used by the in-process test
// harness: JSONB becomes TEXT (sqlite stores JSON as text anyway), BOOLEAN
// becomes INTEGER and DOUBLE PRECISION becomes REAL. Timestamps are TEXT
// columns without defaults, as in the Postgres DDL.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS video_profiles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		mode TEXT NOT NULL,
		consent_checked INTEGER NOT NULL DEFAULT 0,
		generation_lock_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS video_profile_references (
		profile_id TEXT NOT NULL REFERENCES video_profiles(id) ON DELETE CASCADE,
		image_name TEXT NOT NULL,
		sort_order INTEGER NOT NULL,
		PRIMARY KEY (profile_id, image_name)
	)`,
	`CREATE TABLE IF NOT EXISTS video_assets (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		duration REAL NOT NULL,
		fps INTEGER NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		path TEXT NOT NULL,
		profile_id TEXT REFERENCES video_profiles(id) ON DELETE SET NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS video_jobs (
		id TEXT PRIMARY KEY,
		profile_id TEXT NOT NULL REFERENCES video_profiles(id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		progress REAL NOT NULL DEFAULT 0,
		error TEXT,
		output_video_id TEXT REFERENCES video_assets(id) ON DELETE SET NULL,
		request_json TEXT NOT NULL,
		duration_sec REAL NOT NULL,
		fps INTEGER NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		cancel_requested INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		started_at TEXT,
		ended_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_video_profile_references_profile_id ON video_profile_references(profile_id)`,
	`CREATE INDEX IF NOT EXISTS idx_video_jobs_profile_id ON video_jobs(profile_id)`,
	`CREATE INDEX IF NOT EXISTS idx_video_jobs_status ON video_jobs(status)`,
	`CREATE INDEX IF NOT EXISTS idx_video_assets_created_at ON video_assets(created_at DESC)`,
}
