// ABOUTME: Error types for Redmine REST calls
// ABOUTME: Separates unreachable/failed backends, missing resources, and rejected input

package redmine

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnavailable means Redmine could not be reached or answered with a server error.
	ErrUnavailable = errors.New("redmine unavailable")

	// ErrNotFound means the requested resource does not exist or is not visible.
	ErrNotFound = errors.New("redmine resource not found")
)

// StatusError is a non-success HTTP answer from Redmine.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("redmine returned status %d: %s", e.Code, body)
}

// Unwrap classifies the status: 404 as ErrNotFound, everything else as ErrUnavailable.
func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound {
		return ErrNotFound
	}
	return ErrUnavailable
}

// ValidationError carries Redmine's 422 messages, which are shown to the user verbatim.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Messages, "; ")
}
