package eodhd

import (
	"fmt"
	"time"

	"stockmetrics/internal/model"
)

// APIError represents an error from the EODHD API.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("EODHD API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// Unwrap classifies API errors as provider errors.
func (e *APIError) Unwrap() error { return model.ErrProvider }

// RateLimitError represents a rate limit error.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("EODHD rate limit exceeded (429 too many requests), retry after %v", e.RetryAfter)
}

// Unwrap classifies rate limiting as a provider error.
func (e *RateLimitError) Unwrap() error { return model.ErrProvider }
