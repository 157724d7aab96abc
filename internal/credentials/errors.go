// ABOUTME: Error values returned by credential resolution
// ABOUTME: Callers branch on these with errors.Is to pick the chat reply

package credentials

import "errors"

var (
	// ErrUserNotFound means the Redmine database has no API token for the login.
	// It is an expected outcome, not a fault.
	ErrUserNotFound = errors.New("user not found in redmine")

	// ErrCredentialUnavailable means the fast store could not be read. Retryable.
	ErrCredentialUnavailable = errors.New("credential store unavailable")

	// ErrBackingStore means the Redmine database query itself failed.
	ErrBackingStore = errors.New("credential database query failed")
)
