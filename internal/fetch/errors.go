package fetch

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure categories of the external services.
// Callers test with errors.Is: not-found is permanent for a single item,
// transient and rate-limit failures are retried, auth and payload errors
// abort the whole stage.
var (
	ErrNotFound    = errors.New("resource not found")
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrAuth        = errors.New("authentication failed")
	ErrBadPayload  = errors.New("malformed response payload")
	ErrTransient   = errors.New("transient network failure")
)

// FetchError is returned when a request keeps failing after every retry.
// It unwraps to the last underlying error, so errors.Is still matches the
// sentinel categories above.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether an error is worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}
