package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/sublate/sublate/internal/subtitle"
	"github.com/sublate/sublate/pkg/logger"
)

// SubtitleStorage handles storage of subtitle entries per job
type SubtitleStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewSubtitleStorage creates a new SQLite subtitle storage
func NewSubtitleStorage(db *sql.DB, log *logger.Logger) (*SubtitleStorage, error) {
	storage := &SubtitleStorage{
		db:     db,
		logger: log.Named("sqlite-subtitles"),
	}
	if err := storage.initDB(); err != nil {
		return nil, err
	}
	return storage, nil
}

// initDB initializes the database tables
func (s *SubtitleStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS subtitles (
			job_id TEXT NOT NULL,
			entry_id INTEGER NOT NULL,
			start_ms INTEGER NOT NULL,
			end_ms INTEGER NOT NULL,
			text TEXT NOT NULL,
			translated_text TEXT NOT NULL DEFAULT '',
			translation_status TEXT NOT NULL DEFAULT 'pending',
			PRIMARY KEY (job_id, entry_id),
			FOREIGN KEY (job_id) REFERENCES jobs(id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create subtitles table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_subtitles_job_id ON subtitles(job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_subtitles_status ON subtitles(job_id, translation_status)`,
	}
	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create subtitle index: %w", err)
		}
	}
	return nil
}

// ReplaceEntries replaces all entries of a job in one transaction. Used when
// segmentation produces the initial entry set.
func (s *SubtitleStorage) ReplaceEntries(jobID string, entries []*subtitle.Entry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM subtitles WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("failed to clear subtitles: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO subtitles
		(job_id, entry_id, start_ms, end_ms, text, translated_text, translation_status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare subtitle insert: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		if _, err := stmt.Exec(
			jobID,
			entry.ID,
			entry.StartMs,
			entry.EndMs,
			entry.Text,
			entry.TranslatedText,
			string(entry.TranslationStatus),
		); err != nil {
			return fmt.Errorf("failed to insert subtitle %d: %w", entry.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit subtitles: %w", err)
	}

	s.logger.Debug("Subtitle entries stored",
		logger.String("job_id", jobID),
		logger.Int("entries", len(entries)))
	return nil
}

// UpdateTranslations writes the translated text and status of the given
// entries. Called after each translation pass so an interrupted job keeps its
// completed batches.
func (s *SubtitleStorage) UpdateTranslations(jobID string, entries []*subtitle.Entry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`UPDATE subtitles
		SET translated_text = ?, translation_status = ?
		WHERE job_id = ? AND entry_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare subtitle update: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		if _, err := stmt.Exec(
			entry.TranslatedText,
			string(entry.TranslationStatus),
			jobID,
			entry.ID,
		); err != nil {
			return fmt.Errorf("failed to update subtitle %d: %w", entry.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit translations: %w", err)
	}
	return nil
}

// GetEntries returns all entries of a job in temporal order
func (s *SubtitleStorage) GetEntries(jobID string) ([]*subtitle.Entry, error) {
	rows, err := s.db.Query(
		`SELECT entry_id, start_ms, end_ms, text, translated_text, translation_status
		FROM subtitles
		WHERE job_id = ?
		ORDER BY entry_id`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query subtitles: %w", err)
	}
	defer rows.Close()

	var entries []*subtitle.Entry
	for rows.Next() {
		var entry subtitle.Entry
		var status string
		if err := rows.Scan(
			&entry.ID,
			&entry.StartMs,
			&entry.EndMs,
			&entry.Text,
			&entry.TranslatedText,
			&status,
		); err != nil {
			return nil, fmt.Errorf("failed to scan subtitle: %w", err)
		}
		entry.TranslationStatus = subtitle.TranslationStatus(status)
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// CountPending returns how many entries of a job still await translation
func (s *SubtitleStorage) CountPending(jobID string) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*)
		FROM subtitles
		WHERE job_id = ? AND translation_status != ?`,
		jobID, string(subtitle.StatusCompleted),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending subtitles: %w", err)
	}
	return count, nil
}
