package asr

import (
	"context"
)

// Word represents one recognized word with timing in milliseconds
type Word struct {
	Text       string  `json:"text"`
	StartMs    int64   `json:"start_ms"`
	EndMs      int64   `json:"end_ms"`
	Confidence float64 `json:"confidence"`
}

// Result represents the output of transcribing one audio chunk
type Result struct {
	Words []Word `json:"words"`
}

// Options represents per-call transcription options
type Options struct {
	ReturnTimestamps  bool
	ReturnConfidences bool
	Language          string
}

// Transcriber defines the interface for speech recognition backends
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []float64, sampleRate int, opts Options) (*Result, error)
}

// Ensure the HTTP client implements the interface
var _ Transcriber = (*Client)(nil)
