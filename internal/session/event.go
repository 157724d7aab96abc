// ABOUTME: Inbound chat events and the closed set of callback codes
// ABOUTME: Adapters translate platform events into these before handing them to the engine

package session

import "fmt"

// EventKind is the closed set of inbound event kinds.
type EventKind int

const (
	KindText EventKind = iota + 1
	KindDocument
	KindCallback
)

func (k EventKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindDocument:
		return "document"
	case KindCallback:
		return "callback"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// CallbackCode identifies an inline button.
type CallbackCode string

const (
	CallbackAddComment      CallbackCode = "add_comment"
	CallbackShowTop10       CallbackCode = "show_top10"
	CallbackCreateTask      CallbackCode = "create_task"
	CallbackCreateTaskForm  CallbackCode = "create_task_form"
	CallbackAskPriority     CallbackCode = "ask_priority"
	CallbackCancel          CallbackCode = "cancel"
	CallbackProjectSelector CallbackCode = "project_selector"
	CallbackTrackerSelector CallbackCode = "tracker_selector"
	CallbackPriority6       CallbackCode = "priority_6"
	CallbackPriority7       CallbackCode = "priority_7"
)

// ParseCallbackCode validates a raw code.
func ParseCallbackCode(raw string) (CallbackCode, bool) {
	code := CallbackCode(raw)
	switch code {
	case CallbackAddComment, CallbackShowTop10, CallbackCreateTask, CallbackCreateTaskForm,
		CallbackAskPriority, CallbackCancel, CallbackProjectSelector, CallbackTrackerSelector,
		CallbackPriority6, CallbackPriority7:
		return code, true
	default:
		return "", false
	}
}

// editsInPlace reports whether the originating message is kept (keyboard
// removed) after handling, rather than deleted.
func (c CallbackCode) editsInPlace() bool {
	switch c {
	case CallbackAskPriority, CallbackCreateTask, CallbackProjectSelector, CallbackTrackerSelector:
		return true
	case CallbackAddComment, CallbackShowTop10, CallbackCreateTaskForm, CallbackCancel,
		CallbackPriority6, CallbackPriority7:
		return false
	default:
		return false
	}
}

// Reply is the message an event replies to.
type Reply struct {
	MessageID MessageID
	Text      string
}

// CallbackSource is the message whose button was pressed.
type CallbackSource struct {
	MessageID MessageID
	Text      string
	Keyboard  *Keyboard
}

// Event is one inbound chat event.
type Event struct {
	Kind       EventKind
	Chat       ChatID
	Sender     string // chat login, matched against the Redmine custom field
	SenderName string
	MessageID  MessageID

	// Text is the message body, or the caption of a document.
	Text     string
	Document *FileRef
	ReplyTo  *Reply

	Callback CallbackCode
	Source   *CallbackSource
}

// buttonLabel finds the label of the button carrying code.
func (s *CallbackSource) buttonLabel(code CallbackCode) (string, bool) {
	if s == nil || s.Keyboard == nil {
		return "", false
	}
	for _, row := range s.Keyboard.Inline {
		for _, b := range row {
			if b.Code == code {
				return b.Label, true
			}
		}
	}
	return "", false
}
