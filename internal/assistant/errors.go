package assistant

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotConfigured is returned by every operation when no API key is set.
	ErrNotConfigured = errors.New("assistant: service not configured")

	// ErrNotFound is returned when a named assistant does not exist remotely.
	ErrNotFound = errors.New("assistant: not found")

	// ErrMalformedResponse is returned when a remote response is missing a
	// required field or cannot be decoded.
	ErrMalformedResponse = errors.New("assistant: malformed response")

	// ErrRunCreate is returned when a run could not be started. No polling
	// happens after it.
	ErrRunCreate = errors.New("assistant: run creation failed")

	// ErrStatusUnreadable is returned when a fetched run carries no status.
	ErrStatusUnreadable = errors.New("assistant: run status unreadable")

	// ErrTimeout is returned when the poll budget is exhausted before the run
	// reached a terminal state.
	ErrTimeout = errors.New("assistant: run did not finish in time")

	// ErrToolSubmit is returned when tool outputs could not be acknowledged,
	// or when a run requires action that nothing could answer.
	ErrToolSubmit = errors.New("assistant: tool output submission failed")

	// ErrPartialPublish matches a PublishError where some messages were
	// appended before the failure.
	ErrPartialPublish = errors.New("assistant: partial publish")

	// ErrRunActive is returned when a run left active by an earlier turn
	// could not be brought to a terminal state, so no new run was started.
	ErrRunActive = errors.New("assistant: previous run still active")

	// ErrNoReply is returned when a completed run left no readable message.
	ErrNoReply = errors.New("assistant: no reply")
)

// APIError is a rejection from the remote service with its HTTP status.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("assistant: api error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("assistant: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// isRetriable returns true for remote rejections that indicate a transient condition.
func isRetriable(err error) bool {
	var e *APIError
	if errors.As(err, &e) {
		return e.Temporary()
	}
	return false
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool {
	var e *APIError
	if errors.As(err, &e) {
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// IsUnauthorized returns true if the error is a 401.
func IsUnauthorized(err error) bool {
	var e *APIError
	if errors.As(err, &e) {
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool {
	var e *APIError
	if errors.As(err, &e) {
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// RunError is returned when a run ends in a terminal state other than
// completed.
type RunError struct {
	RunID   string
	Status  RunStatus
	Code    string
	Message string
}

func (e *RunError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("assistant: run %s ended %s", e.RunID, e.Status)
	}
	return fmt.Sprintf("assistant: run %s ended %s: %s", e.RunID, e.Status, e.Message)
}

// PublishError reports how far a multi-message publish got.
type PublishError struct {
	Accepted int
	Total    int
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("assistant: published %d of %d messages: %v", e.Accepted, e.Total, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Is matches ErrPartialPublish when at least one message was appended.
func (e *PublishError) Is(target error) bool {
	return target == ErrPartialPublish && e.Accepted > 0
}
