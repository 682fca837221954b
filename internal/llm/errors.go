package llm

import (
	"fmt"
)

// RequestError represents a failed request to the chat completion service
// (network failure or non-2xx response). Retried with backoff.
type RequestError struct {
	StatusCode int // 0 when the request never reached the server
	Message    string
}

func (e *RequestError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("llm request failed: http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("llm request failed: %s", e.Message)
}

// MalformedResponseError represents model output that was not valid JSON
// even after the repair pass. Retried like a request error.
type MalformedResponseError struct {
	Snippet string
	Err     error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed llm response: %v (payload snippet: %s)", e.Err, e.Snippet)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }
