package sqlite

import (
	"time"
)

// Job status values, in pipeline order
const (
	JobStatusQueued       = "queued"
	JobStatusTranscribing = "transcribing"
	JobStatusSegmenting   = "segmenting"
	JobStatusTranslating  = "translating"
	JobStatusCompleted    = "completed"
	JobStatusFailed       = "failed"
)

// JobRecord represents one processing job
type JobRecord struct {
	ID             string    `json:"id"`
	InputPath      string    `json:"input_path"`
	TargetLanguage string    `json:"target_language"`
	Status         string    `json:"status"`
	Completed      int       `json:"completed"`
	Total          int       `json:"total"`
	Tokens         int64     `json:"tokens"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
