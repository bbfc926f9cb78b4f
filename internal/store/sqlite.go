package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/compai/avatar-relay/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL keeps readers of the journal from blocking trigger writes.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS rpa_triggers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL DEFAULT '',
		question TEXT NOT NULL,
		email TEXT,
		case_text TEXT,
		status TEXT NOT NULL,
		job_id INTEGER,
		job_key TEXT,
		release_name TEXT,
		input_arguments TEXT,
		error_type TEXT,
		message TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rpa_triggers_session ON rpa_triggers(session_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_rpa_triggers_job ON rpa_triggers(job_id) WHERE job_id IS NOT NULL;
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordTrigger appends rec. Busy or locked databases are retried briefly.
func (s *SQLiteStore) RecordTrigger(ctx context.Context, rec *TriggerRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	query := `
	INSERT INTO rpa_triggers (session_id, question, email, case_text, status, job_id, job_key,
		release_name, input_arguments, error_type, message, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var jobID any
	if rec.JobID != 0 {
		jobID = rec.JobID
	}

	err := shared.RetryOnConflict(ctx, 3, 50*time.Millisecond, func() error {
		res, err := s.db.ExecContext(ctx, query,
			rec.SessionID, rec.Question, nullString(rec.Email), nullString(rec.CaseText),
			rec.Status, jobID, nullString(rec.JobKey), nullString(rec.ReleaseName),
			nullString(rec.InputArguments), nullString(rec.ErrorType), nullString(rec.Message),
			rec.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return err
		}
		rec.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return fmt.Errorf("insert trigger: %w", err)
	}
	slog.Debug("Trigger recorded", "id", rec.ID, "session_id", rec.SessionID, "status", rec.Status)
	return nil
}

// ListTriggers returns the newest attempts first.
func (s *SQLiteStore) ListTriggers(ctx context.Context, sessionID string, limit int) ([]TriggerRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `SELECT ` + triggerColumns + ` FROM rpa_triggers`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query triggers: %w", err)
	}
	defer rows.Close()

	out := []TriggerRecord{}
	for rows.Next() {
		rec, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate triggers: %w", err)
	}
	return out, nil
}

// GetTriggerByJob returns the attempt that started jobID, or nil.
func (s *SQLiteStore) GetTriggerByJob(ctx context.Context, jobID int64) (*TriggerRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+triggerColumns+` FROM rpa_triggers WHERE job_id = ? ORDER BY id DESC LIMIT 1`, jobID)
	rec, err := scanTrigger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

const triggerColumns = `id, session_id, question, email, case_text, status, job_id, job_key,
	release_name, input_arguments, error_type, message, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrigger(row rowScanner) (*TriggerRecord, error) {
	var rec TriggerRecord
	var email, caseText, jobKey, releaseName, inputs, errorType, message sql.NullString
	var jobID sql.NullInt64
	var createdAt int64

	err := row.Scan(
		&rec.ID, &rec.SessionID, &rec.Question, &email, &caseText, &rec.Status, &jobID, &jobKey,
		&releaseName, &inputs, &errorType, &message, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan trigger row: %w", err)
	}

	rec.Email = email.String
	rec.CaseText = caseText.String
	rec.JobID = jobID.Int64
	rec.JobKey = jobKey.String
	rec.ReleaseName = releaseName.String
	rec.InputArguments = inputs.String
	rec.ErrorType = errorType.String
	rec.Message = message.String
	rec.CreatedAt = time.UnixMilli(createdAt)
	return &rec, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
