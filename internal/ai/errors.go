package ai

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnavailable        = errors.New("embedding provider unavailable")
	ErrEmptyContent       = errors.New("content is empty")
	ErrInvalidChunkConfig = errors.New("chunk size must be greater than overlap and overlap must not be negative")
)

// EmbeddingProviderError is returned when the upstream embedding API rejects
// a request or answers without a vector. StatusCode is 0 for transport errors.
type EmbeddingProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *EmbeddingProviderError) Error() string {
	if e.StatusCode > 0 {
		if e.Err != nil {
			return fmt.Sprintf("%s embedding failed: status %d: %s: %v", e.Provider, e.StatusCode, e.Message, e.Err)
		}
		return fmt.Sprintf("%s embedding failed: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s embedding failed: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s embedding failed: %s", e.Provider, e.Message)
}

func (e *EmbeddingProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed.
func (e *EmbeddingProviderError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

func newStatusError(provider string, status int, body string) *EmbeddingProviderError {
	return &EmbeddingProviderError{Provider: provider, StatusCode: status, Message: body}
}
