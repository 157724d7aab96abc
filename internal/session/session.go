// ABOUTME: Per-conversation state of the chat flows
// ABOUTME: One Session exists per (chat, sender) and is only touched from that pair's lane

package session

import (
	"fmt"
	"slices"
)

// State is the closed set of conversation states.
type State int

const (
	StateIdle State = iota
	StateAwaitingTaskNumber
	StateAwaitingShowConfirmation
	StateAwaitingCreateDescriptionConfirmation
	StateAwaitingSubject
	StateAwaitingPriorityDecision
	StateAwaitingPriorityChoice
	StateAwaitingProjectSelection
	StateAwaitingTrackerSelection
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingTaskNumber:
		return "awaiting_task_number"
	case StateAwaitingShowConfirmation:
		return "awaiting_show_confirmation"
	case StateAwaitingCreateDescriptionConfirmation:
		return "awaiting_create_description_confirmation"
	case StateAwaitingSubject:
		return "awaiting_subject"
	case StateAwaitingPriorityDecision:
		return "awaiting_priority_decision"
	case StateAwaitingPriorityChoice:
		return "awaiting_priority_choice"
	case StateAwaitingProjectSelection:
		return "awaiting_project_selection"
	case StateAwaitingTrackerSelection:
		return "awaiting_tracker_selection"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Operation is the action confirmed in StateAwaitingShowConfirmation.
type Operation int

const (
	OpNone Operation = iota
	OpShowTask
	OpAddComment
)

// Session holds everything a multi-step flow has collected so far.
type Session struct {
	State    State
	Username string

	// LongText is the free text that opened the long-text menu. Once set the
	// menu is not offered again until the session resets.
	LongText    string
	HasLongText bool
	LastIssueID int64

	TaskNumber int64
	PendingOp  Operation
	Comment    string

	PotentialDescription string
	Description          string
	Subject              string
	Priority             string

	ProjectID   int64
	ProjectName string
	TrackerID   int64
	TrackerName string
	SelectorKey string

	// FormMessageID is the creation form message, zero when no form is shown.
	FormMessageID MessageID

	Buffered   []FileRef
	Downloaded []Attachment
}

// Reset returns the session to Idle and drops all pending data.
func (s *Session) Reset() {
	*s = Session{}
}

// FileCount is the number of attachments the next completion will carry.
func (s *Session) FileCount() int {
	return len(s.Buffered) + len(s.Downloaded)
}

// inForm reports whether the creation form is on screen.
func (s *Session) inForm() bool {
	return s.HasLongText && s.FormMessageID != 0
}

func (s *Session) clone() Session {
	c := *s
	c.Buffered = slices.Clone(s.Buffered)
	c.Downloaded = slices.Clone(s.Downloaded)
	return c
}
