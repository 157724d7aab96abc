// Package redmine is a small client for the Redmine REST API.
//
// Calls take the acting user's API key explicitly; the client holds no
// credentials of its own. Errors are classified for the chat layer:
//
//   - ErrUnavailable (transport failures, 5xx, auth failures, wrapped in *StatusError)
//   - ErrNotFound (404, via *StatusError)
//   - *ValidationError (422, messages shown to the user as-is)
//
// format.go renders issues as HTML for chat replies.
package redmine
