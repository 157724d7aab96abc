// ABOUTME: Chat-side and tracker-side contracts the session engine depends on
// ABOUTME: The Matrix adapter and the Redmine client implement these

package session

import (
	"context"
	"errors"

	"github.com/2389/redmine-bridge/internal/credentials"
	"github.com/2389/redmine-bridge/internal/redmine"
)

// ChatID identifies a conversation on the chat platform.
type ChatID string

// MessageID is a per-chat, monotonically increasing message number.
type MessageID int64

// FileRef is an attachment still held by the chat platform.
type FileRef struct {
	ID       string
	Name     string
	MimeType string
}

// Attachment is downloaded file content.
type Attachment struct {
	Name     string
	MimeType string
	Data     []byte
}

// Button is one inline keyboard button.
type Button struct {
	Label string
	Code  CallbackCode
}

// Keyboard is attached to an outgoing message. Inline rows carry callback
// buttons; Replies are suggested reply texts.
type Keyboard struct {
	Inline  [][]Button
	Replies []string
}

// Outgoing is a message to send. HTML uses the subset shared by Matrix and
// Redmine renderings (b, i, u, a, strong).
type Outgoing struct {
	HTML     string
	Keyboard *Keyboard
}

// ErrMessageGone is returned by ChatGateway.Delete when the message no longer exists.
var ErrMessageGone = errors.New("message not found")

// ChatGateway sends and manages chat messages.
type ChatGateway interface {
	Send(ctx context.Context, chat ChatID, msg Outgoing) (MessageID, error)
	Edit(ctx context.Context, chat ChatID, id MessageID, msg Outgoing) error
	RemoveKeyboard(ctx context.Context, chat ChatID, id MessageID) error
	Delete(ctx context.Context, chat ChatID, id MessageID) error
	Download(ctx context.Context, ref FileRef) ([]byte, error)
}

// Tracker is the issue-tracker backend.
type Tracker interface {
	GetIssue(ctx context.Context, apiKey string, id int64) (*redmine.Issue, error)
	ListOpenIssues(ctx context.Context, apiKey string, userID int64, limit int) ([]redmine.Issue, error)
	CountOpenIssues(ctx context.Context, apiKey string, userID int64) (int, error)
	CreateIssue(ctx context.Context, apiKey string, in redmine.NewIssue, files []redmine.File) (*redmine.Issue, error)
	AddNotes(ctx context.Context, apiKey string, issueID int64, notes string, files []redmine.File) error
	Memberships(ctx context.Context, apiKey string, userID int64, limit int) ([]redmine.Membership, error)
	Project(ctx context.Context, apiKey string, id int64) (*redmine.Ref, error)
	Trackers(ctx context.Context, apiKey string) ([]redmine.Ref, error)
	Statuses(ctx context.Context, apiKey string) ([]redmine.Ref, error)
	Priorities(ctx context.Context, apiKey string) ([]redmine.Ref, error)
}

// Formatter renders tracker data for chat.
type Formatter interface {
	FormatIssue(iss *redmine.Issue) string
	FormatIssueList(issues []redmine.Issue) string
	FormatCreated(projectName string, iss *redmine.Issue) string
}

// CredentialResolver maps a chat login to Redmine credentials.
type CredentialResolver interface {
	Resolve(ctx context.Context, login, observedChatID string) (*credentials.Credential, error)
}
