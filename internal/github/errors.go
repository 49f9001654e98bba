// internal/github/errors.go
package github

import (
	"errors"
	"fmt"
	"time"

	"ecosystem-harvester/internal/model"
)

// ErrNotFound is returned when the requested resource does not exist (404).
var ErrNotFound = errors.New("github: not found")

// ErrStatsNotReady is returned when contributor statistics are still being
// computed upstream (202) and the request should be re-issued later.
var ErrStatsNotReady = errors.New("github: statistics not ready")

// RateLimitedError signals the primary per-category rate limit was hit.
type RateLimitedError struct {
	Category model.Category
	ResetAt  time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("github: %s rate limit exceeded, resets at %s", e.Category, e.ResetAt.Format(time.RFC3339))
}

// AbuseError signals the secondary (abuse detection) rate limit was hit.
// RetryAfter is zero when the upstream response carried no Retry-After hint.
type AbuseError struct {
	RetryAfter time.Duration
}

func (e *AbuseError) Error() string {
	return fmt.Sprintf("github: abuse detection triggered, retry after %s", e.RetryAfter)
}

// APIError is any other non-2xx upstream response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: API error %d: %s", e.StatusCode, e.Message)
}

// IsServerError reports whether err is a 5xx upstream response.
func IsServerError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 500
}

// IsClientError reports whether err is a non-rate-limit 4xx upstream response.
func IsClientError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}
