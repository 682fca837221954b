package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sublate/sublate/pkg/logger"
)

// JobStorage handles storage of processing jobs
type JobStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewJobStorage creates a new SQLite job storage
func NewJobStorage(db *sql.DB, log *logger.Logger) (*JobStorage, error) {
	storage := &JobStorage{
		db:     db,
		logger: log.Named("sqlite-jobs"),
	}
	if err := storage.initDB(); err != nil {
		return nil, err
	}
	return storage, nil
}

// initDB initializes the database tables
func (s *JobStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			input_path TEXT NOT NULL,
			target_language TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'queued',
			completed INTEGER NOT NULL DEFAULT 0,
			total INTEGER NOT NULL DEFAULT 0,
			tokens INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create jobs table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at)`,
	}
	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create job index: %w", err)
		}
	}
	return nil
}

// CreateJob inserts a new job and returns its generated ID
func (s *JobStorage) CreateJob(inputPath, targetLanguage string) (*JobRecord, error) {
	now := time.Now().UTC()
	record := &JobRecord{
		ID:             uuid.NewString(),
		InputPath:      inputPath,
		TargetLanguage: targetLanguage,
		Status:         JobStatusQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err := s.db.Exec(
		`INSERT INTO jobs
		(id, input_path, target_language, status, completed, total, tokens, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, 0, 0, '', ?, ?)`,
		record.ID,
		record.InputPath,
		record.TargetLanguage,
		record.Status,
		record.CreatedAt.Format(time.RFC3339),
		record.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}

	s.logger.Info("Job created",
		logger.String("job_id", record.ID),
		logger.String("input", inputPath))
	return record, nil
}

// GetJob returns one job by ID, or nil when it does not exist
func (s *JobStorage) GetJob(id string) (*JobRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, input_path, target_language, status, completed, total, tokens, error, created_at, updated_at
		FROM jobs
		WHERE id = ?`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	defer rows.Close()

	records, err := s.scanJobRows(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// ListJobs returns the most recent jobs
func (s *JobStorage) ListJobs(limit int) ([]*JobRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, input_path, target_language, status, completed, total, tokens, error, created_at, updated_at
		FROM jobs
		ORDER BY created_at DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	return s.scanJobRows(rows)
}

// UpdateJobStatus updates the status and error text of a job
func (s *JobStorage) UpdateJobStatus(id, status, errorText string) error {
	_, err := s.db.Exec(
		`UPDATE jobs
		SET status = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		status,
		errorText,
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

// UpdateJobProgress updates the progress counters of a job. Tokens are
// cumulative for the job's lifetime.
func (s *JobStorage) UpdateJobProgress(id string, completed, total int, tokens int64) error {
	_, err := s.db.Exec(
		`UPDATE jobs
		SET completed = ?, total = ?, tokens = ?, updated_at = ?
		WHERE id = ?`,
		completed,
		total,
		tokens,
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

// scanJobRows scans database rows into JobRecord structs
func (s *JobStorage) scanJobRows(rows *sql.Rows) ([]*JobRecord, error) {
	var records []*JobRecord
	for rows.Next() {
		var record JobRecord
		var createdAt, updatedAt string

		if err := rows.Scan(
			&record.ID,
			&record.InputPath,
			&record.TargetLanguage,
			&record.Status,
			&record.Completed,
			&record.Total,
			&record.Tokens,
			&record.Error,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		var err error
		record.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		record.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse updated_at: %w", err)
		}

		records = append(records, &record)
	}
	return records, rows.Err()
}
