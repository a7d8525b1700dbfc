package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"simgateway/internal/apperrors"
	"simgateway/internal/job"
)

const schema = `CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	backend_identifier TEXT NOT NULL DEFAULT '',
	document TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);`

// SQLite is a job repository backed by a SQLite database. The job document is
// stored as JSON; status and backend identifier are duplicated into columns so
// they can be queried.
type SQLite struct {
	db *sql.DB
}

var _ job.Repository = (*SQLite)(nil)

// OpenSQLite opens (and creates if needed) the database at path and applies
// the schema. ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("database path is required")
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = "file:" + filepath.Clean(path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and avoids
	// writer contention on local files.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping job store: %w", err)
	}
	if path != ":memory:" {
		if err := configureLocal(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func configureLocal(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	var busyTimeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ready pings the database.
func (s *SQLite) Ready(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create inserts a new job, assigning an ID and default status when missing.
func (s *SQLite) Create(ctx context.Context, j *job.Job) (*job.Job, error) {
	stored := prepareNew(j)
	doc, err := json.Marshal(stored)
	if err != nil {
		return nil, apperrors.Internal("store.create", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, status, backend_identifier, document, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
		stored.ID, string(stored.Status), stored.BackendIdentifier, string(doc), now())
	if err != nil {
		return nil, apperrors.Internal("store.create", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperrors.Conflict("job", stored.ID, "job already exists")
	}
	return stored, nil
}

// Get loads a job by ID.
func (s *SQLite) Get(ctx context.Context, id string) (*job.Job, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM jobs WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("job", id)
	}
	if err != nil {
		return nil, apperrors.Internal("store.get", err)
	}
	return decode(doc)
}

// List returns all jobs ordered by ID.
func (s *SQLite) List(ctx context.Context) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document FROM jobs ORDER BY id`)
	if err != nil {
		return nil, apperrors.Internal("store.list", err)
	}
	defer func() { _ = rows.Close() }()

	jobs := make([]*job.Job, 0)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, apperrors.Internal("store.list", err)
		}
		j, err := decode(doc)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal("store.list", err)
	}
	return jobs, nil
}

// Update replaces the stored document of an existing job.
func (s *SQLite) Update(ctx context.Context, j *job.Job) (*job.Job, error) {
	doc, err := json.Marshal(j)
	if err != nil {
		return nil, apperrors.Internal("store.update", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, backend_identifier = ?, document = ?, updated_at = ? WHERE id = ?`,
		string(j.Status), j.BackendIdentifier, string(doc), now(), j.ID)
	if err != nil {
		return nil, apperrors.Internal("store.update", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperrors.NotFound("job", j.ID)
	}
	return j.Clone(), nil
}

// Delete removes a job.
func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return apperrors.Internal("store.delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("job", id)
	}
	return nil
}

// Exists reports whether a job with id is stored.
func (s *SQLite) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Internal("store.exists", err)
	}
	return true, nil
}

func decode(doc string) (*job.Job, error) {
	var j job.Job
	if err := json.Unmarshal([]byte(doc), &j); err != nil {
		return nil, apperrors.Internal("store.decode", err)
	}
	return &j, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
