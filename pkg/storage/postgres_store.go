package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/lucmuss/audio-transcriber/pkg/models"
)

const jobsSchema = `
CREATE TABLE IF NOT EXISTS transcription_jobs (
    job_id       TEXT PRIMARY KEY,
    filename     TEXT NOT NULL,
    file_path    TEXT,
    status       TEXT NOT NULL,
    stage        TEXT,
    progress     INTEGER NOT NULL DEFAULT 0,
    language     TEXT,
    format       TEXT,
    diarize      BOOLEAN NOT NULL DEFAULT FALSE,
    outcome      JSONB,
    summary_path TEXT,
    error        TEXT,
    created_at   TIMESTAMPTZ NOT NULL,
    completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_transcription_jobs_created_at ON transcription_jobs (created_at DESC);
`

const jobColumns = `job_id, filename, file_path, status, stage, progress,
    language, format, diarize, outcome, summary_path, error, created_at, completed_at`

type PostgresJobStore struct {
	db *sql.DB
}

// NewPostgresJobStore connects and makes sure the jobs table exists.
func NewPostgresJobStore(connStr string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	s := &PostgresJobStore{db: db}
	if err := s.EnsureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the jobs table if it is missing.
func (s *PostgresJobStore) EnsureSchema() error {
	if _, err := s.db.Exec(jobsSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (s *PostgresJobStore) Save(job *models.TranscriptionJob) error {
	return saveJob(s.db, job)
}

func saveJob(db execer, job *models.TranscriptionJob) error {
	var outcomeJSON []byte
	if job.Outcome != nil {
		data, err := json.Marshal(job.Outcome)
		if err != nil {
			return fmt.Errorf("marshal outcome: %w", err)
		}
		outcomeJSON = data
	}

	var completedAt sql.NullTime
	if !job.CompletedAt.IsZero() {
		completedAt = sql.NullTime{Time: job.CompletedAt, Valid: true}
	}

	query := `
    INSERT INTO transcription_jobs (` + jobColumns + `)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
    ON CONFLICT (job_id)
    DO UPDATE SET
    status = EXCLUDED.status,
    stage = EXCLUDED.stage,
    progress = EXCLUDED.progress,
    language = EXCLUDED.language,
    format = EXCLUDED.format,
    diarize = EXCLUDED.diarize,
    outcome = EXCLUDED.outcome,
    summary_path = EXCLUDED.summary_path,
    error = EXCLUDED.error,
    completed_at = EXCLUDED.completed_at
    `

	_, err := db.Exec(query,
		job.JobID,
		job.Filename,
		job.FilePath,
		job.Status,
		job.Stage,
		job.Progress,
		job.Language,
		job.Format,
		job.Diarize,
		outcomeJSON,
		job.SummaryPath,
		job.Error,
		job.CreatedAt,
		completedAt,
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.JobID, err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.TranscriptionJob, error) {
	var job models.TranscriptionJob
	var filePath, stage, language, format, summaryPath, errorMsg sql.NullString
	var outcomeJSON []byte
	var completedAt sql.NullTime

	err := row.Scan(
		&job.JobID,
		&job.Filename,
		&filePath,
		&job.Status,
		&stage,
		&job.Progress,
		&language,
		&format,
		&job.Diarize,
		&outcomeJSON,
		&summaryPath,
		&errorMsg,
		&job.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.FilePath = filePath.String
	job.Stage = models.RunStatus(stage.String)
	job.Language = language.String
	job.Format = format.String
	job.SummaryPath = summaryPath.String
	job.Error = errorMsg.String
	if completedAt.Valid {
		job.CompletedAt = completedAt.Time
	}

	if len(outcomeJSON) > 0 {
		var outcome models.Outcome
		if err := json.Unmarshal(outcomeJSON, &outcome); err != nil {
			return nil, fmt.Errorf("unmarshal outcome of %s: %w", job.JobID, err)
		}
		job.Outcome = &outcome
	}
	return &job, nil
}

func (s *PostgresJobStore) Get(jobID string) (*models.TranscriptionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM transcription_jobs WHERE job_id = $1`

	job, err := scanJob(s.db.QueryRow(query, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("query job %s: %w", jobID, err)
	}
	return job, nil
}

// Update locks the row for the duration of updateFn.
func (s *PostgresJobStore) Update(jobID string, updateFn func(*models.TranscriptionJob)) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + jobColumns + ` FROM transcription_jobs WHERE job_id = $1 FOR UPDATE`
	job, err := scanJob(tx.QueryRow(query, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(jobID)
	}
	if err != nil {
		return fmt.Errorf("query job %s: %w", jobID, err)
	}

	updateFn(job)

	if err := saveJob(tx, job); err != nil {
		return err
	}
	return tx.Commit()
}

// List returns the 100 most recent jobs.
func (s *PostgresJobStore) List() ([]*models.TranscriptionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM transcription_jobs ORDER BY created_at DESC LIMIT 100`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*models.TranscriptionJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresJobStore) Delete(jobID string) error {
	result, err := s.db.Exec(`DELETE FROM transcription_jobs WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	if rowsAffected == 0 {
		return notFound(jobID)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}
