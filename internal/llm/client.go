package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/sublate/sublate/pkg/logger"
)

// ClientConfig represents the chat completion client configuration
type ClientConfig struct {
	APIKeys      string // delimiter-separated key list
	KeyDelimiter string
	BaseURL      string
	Model        string
	Temperature  float64
	MaxRetries   int
	Timeout      time.Duration
}

// Response represents one successful chat completion call. Content is valid
// JSON text (repaired if necessary). TokensUsed is attributed exactly once
// per successful call; the client itself never accumulates totals.
type Response struct {
	Content    string
	TokensUsed int64
}

// Client wraps chat completion calls with key rotation, retry with linear
// backoff, and a two-stage JSON decode of the model output.
type Client struct {
	config  ClientConfig
	keys    *KeyRing
	clients []openai.Client // one SDK client per API key, indexed like the ring
	limiter *RateLimiter
	logger  *logger.Logger
}

// NewClient creates a new chat completion client. The rate limiter may be
// nil when no limiting is wanted; passing a shared limiter makes this client
// participate in the owner's admission window.
func NewClient(config ClientConfig, limiter *RateLimiter, logger *logger.Logger) (*Client, error) {
	keys := NewKeyRing(config.APIKeys, config.KeyDelimiter)
	if keys.Len() == 0 {
		return nil, fmt.Errorf("no usable API keys configured")
	}

	httpClient := &http.Client{Timeout: config.Timeout}
	clients := make([]openai.Client, 0, keys.Len())
	for _, key := range keys.keys {
		opts := []option.RequestOption{
			option.WithAPIKey(key),
			option.WithHTTPClient(httpClient),
			option.WithMaxRetries(0), // retry policy lives here, not in the SDK
		}
		if config.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(config.BaseURL))
		}
		clients = append(clients, openai.NewClient(opts...))
	}

	return &Client{
		config:  config,
		keys:    keys,
		clients: clients,
		limiter: limiter,
		logger:  logger.Named("llm-client"),
	}, nil
}

// CompleteJSON performs one chat completion expected to return JSON. The
// raw content goes through a strict parse and a repair pass; a response that
// is not JSON after both is retried like a request failure. Cancellation is
// immediately fatal and never counts as a retry attempt.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (*Response, error) {
	maxRetries := c.config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := c.completeOnce(ctx, systemPrompt, userPrompt)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		if attempt == maxRetries {
			break
		}
		// Linear backoff: attempt × 1s
		delay := time.Duration(attempt) * time.Second
		c.logger.Warn("Retrying chat completion",
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", maxRetries),
			logger.Duration("backoff", delay),
			logger.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("chat completion failed after %d attempts: %w", maxRetries, lastErr)
}

// completeOnce performs a single request with the next key in rotation
func (c *Client) completeOnce(ctx context.Context, systemPrompt, userPrompt string) (*Response, error) {
	_, keyIdx := c.keys.Next()
	client := c.clients[keyIdx]

	completion, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.config.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(c.config.Temperature),
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		var apierr *openai.Error
		if errors.As(err, &apierr) {
			return nil, &RequestError{StatusCode: apierr.StatusCode, Message: apierr.Error()}
		}
		return nil, &RequestError{Message: err.Error()}
	}

	if len(completion.Choices) == 0 {
		return nil, &RequestError{Message: "response contained no choices"}
	}
	content := completion.Choices[0].Message.Content

	// Validate and repair into canonical JSON text
	var probe json.RawMessage
	if err := DecodeJSON(content, &probe); err != nil {
		return nil, err
	}

	c.logger.Debug("Chat completion succeeded",
		logger.Int("key_index", keyIdx),
		logger.Int64("tokens_used", completion.Usage.TotalTokens))

	return &Response{
		Content:    string(probe),
		TokensUsed: completion.Usage.TotalTokens,
	}, nil
}
