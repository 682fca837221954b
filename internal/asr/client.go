package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"github.com/sublate/sublate/internal/audio"
	"github.com/sublate/sublate/pkg/logger"
)

// ClientConfig represents the transcription service configuration
type ClientConfig struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Client talks to a whisper-compatible transcription server over HTTP
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a new transcription client
func NewClient(config ClientConfig, logger *logger.Logger) *Client {
	// Keep-alive transport; chunk uploads reuse the connection
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
		logger: logger.Named("asr-client"),
	}
}

// inferenceResponse mirrors the transcription server's JSON output. Word
// times arrive in seconds and are converted to milliseconds here.
type inferenceResponse struct {
	Words []struct {
		Text       string  `json:"text"`
		Start      float64 `json:"start_time"`
		End        float64 `json:"end_time"`
		Confidence float64 `json:"confidence"`
	} `json:"words"`
	Error string `json:"error,omitempty"`
}

// Transcribe encodes the chunk as WAV, posts it to the server, and returns
// timestamped words. Transient failures are retried with backoff; context
// cancellation aborts immediately.
func (c *Client) Transcribe(ctx context.Context, pcm []float64, sampleRate int, opts Options) (*Result, error) {
	if len(pcm) == 0 {
		return &Result{}, nil
	}

	wavData := audio.EncodeWAV(pcm, sampleRate)

	maxRetries := c.config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	retryDelay := 1 * time.Second

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		result, err := c.transcribeOnce(ctx, wavData, opts)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		if attempt == maxRetries-1 {
			break
		}
		c.logger.Warn("Retrying transcription request",
			logger.Int("attempt", attempt+1),
			logger.Int("max_attempts", maxRetries),
			logger.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
			retryDelay *= 2
		}
	}

	return nil, fmt.Errorf("transcription failed after %d attempts: %w", maxRetries, lastErr)
}

// transcribeOnce performs a single multipart upload to the inference endpoint
func (c *Client) transcribeOnce(ctx context.Context, wavData []byte, opts Options) (*Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "chunk.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(wavData); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"model":             c.config.Model,
		"return_timestamps": boolField(opts.ReturnTimestamps),
		"return_confidence": boolField(opts.ReturnConfidences),
	}
	if opts.Language != "" && opts.Language != "auto" {
		fields["language"] = opts.Language
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/inference", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	var parsed inferenceResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("transcription server error: %s", parsed.Error)
	}

	result := &Result{Words: make([]Word, 0, len(parsed.Words))}
	for _, w := range parsed.Words {
		result.Words = append(result.Words, Word{
			Text:       w.Text,
			StartMs:    int64(w.Start * 1000),
			EndMs:      int64(w.End * 1000),
			Confidence: w.Confidence,
		})
	}
	return result, nil
}

func boolField(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
