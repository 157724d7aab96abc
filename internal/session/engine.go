// ABOUTME: Session engine that routes chat events through the conversation flows
// ABOUTME: Events of one (chat, sender) pair run in arrival order; pairs run in parallel

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/2389/redmine-bridge/internal/credentials"
	"github.com/2389/redmine-bridge/internal/keyed"
	"github.com/2389/redmine-bridge/internal/metrics"
	"github.com/2389/redmine-bridge/internal/redmine"
)

// Options configures an Engine.
type Options struct {
	// Priorities maps priority names to Redmine priority ids.
	Priorities map[string]int
	// DefaultPriority names the Priorities entry used when none is chosen.
	DefaultPriority string

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Engine owns all sessions.
type Engine struct {
	chat    ChatGateway
	tracker Tracker
	format  Formatter
	creds   CredentialResolver

	priorities      map[string]int
	defaultPriority string

	metrics *metrics.Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	lanes keyed.Serializer
}

// NewEngine creates an Engine.
func NewEngine(chat ChatGateway, tracker Tracker, format Formatter, creds CredentialResolver, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		chat:            chat,
		tracker:         tracker,
		format:          format,
		creds:           creds,
		priorities:      opts.Priorities,
		defaultPriority: opts.DefaultPriority,
		metrics:         opts.Metrics,
		logger:          logger.With("component", "session"),
		sessions:        make(map[string]*Session),
	}
}

func sessionKey(chat ChatID, sender string) string {
	return string(chat) + "\x00" + sender
}

// Submit queues ev on its session's lane and returns a channel that closes
// once the event has been handled.
func (e *Engine) Submit(ctx context.Context, ev Event) <-chan struct{} {
	return e.lanes.Submit(sessionKey(ev.Chat, ev.Sender), func() {
		e.Handle(ctx, ev)
	})
}

// Wait blocks until every submitted event has been handled.
func (e *Engine) Wait() {
	e.lanes.Wait()
}

// Snapshot returns a copy of the session for (chat, sender).
func (e *Engine) Snapshot(chat ChatID, sender string) Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[sessionKey(chat, sender)]; ok {
		return s.clone()
	}
	return Session{}
}

func (e *Engine) session(chat ChatID, sender string) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := sessionKey(chat, sender)
	s, ok := e.sessions[key]
	if !ok {
		s = &Session{}
		e.sessions[key] = s
	}
	return s
}

// turn is one event being handled against its session.
type turn struct {
	ev     Event
	s      *Session
	logger *slog.Logger
}

// Handle processes ev synchronously. Callers must not handle two events of
// the same session concurrently; Submit guarantees this.
func (e *Engine) Handle(ctx context.Context, ev Event) {
	t := &turn{
		ev: ev,
		s:  e.session(ev.Chat, ev.Sender),
		logger: e.logger.With(
			"chat_id", ev.Chat,
			"sender", ev.Sender,
			"kind", ev.Kind.String(),
		),
	}

	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic while handling event", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	before := t.s.State
	var err error
	switch ev.Kind {
	case KindText:
		err = e.onText(ctx, t)
	case KindDocument:
		err = e.onDocument(ctx, t)
	case KindCallback:
		err = e.onCallback(ctx, t)
	default:
		t.logger.Warn("ignoring event of unknown kind")
		return
	}
	if err != nil {
		e.fail(ctx, t, err)
	}

	if t.s.State != before {
		t.logger.Debug("state changed", "from", before.String(), "to", t.s.State.String())
	}
}

// reply sends msg to the event's chat. Send errors are logged; the returned
// id is zero when sending failed.
func (e *Engine) reply(ctx context.Context, t *turn, msg Outgoing) MessageID {
	id, err := e.chat.Send(ctx, t.ev.Chat, msg)
	if err != nil {
		t.logger.Error("failed to send reply", "error", err)
		return 0
	}
	return id
}

func (e *Engine) replyText(ctx context.Context, t *turn, text string) MessageID {
	return e.reply(ctx, t, Outgoing{HTML: text})
}

// errNoProjects is returned when the user is a member of no project.
var errNoProjects = errors.New("user has no project memberships")

// issueNotFoundError names the issue a user referred to.
type issueNotFoundError struct {
	id int64
}

func (e *issueNotFoundError) Error() string {
	return fmt.Sprintf("issue %d not found", e.id)
}

func notFoundAs(err error, id int64) error {
	if errors.Is(err, redmine.ErrNotFound) {
		return &issueNotFoundError{id: id}
	}
	return err
}

// fail turns a flow error into exactly one chat reply. Errors caused by the
// user's identity or input reset the session; outages keep it so the user
// can retry.
func (e *Engine) fail(ctx context.Context, t *turn, err error) {
	var (
		validation *redmine.ValidationError
		notFound   *issueNotFoundError
		status     *redmine.StatusError
	)
	login := t.ev.Sender

	switch {
	case errors.Is(err, credentials.ErrUserNotFound):
		t.logger.Info("user not found in redmine")
		t.s.Reset()
		e.replyText(ctx, t, fmt.Sprintf(msgUserNotFound, login))
	case errors.Is(err, errNoProjects):
		t.logger.Info("user has no project memberships")
		t.s.Reset()
		e.replyText(ctx, t, fmt.Sprintf(msgNoProjects, login))
	case errors.As(err, &validation):
		t.logger.Info("redmine rejected input", "errors", validation.Messages)
		t.s.Reset()
		e.replyText(ctx, t, validation.Error())
	case errors.As(err, &notFound):
		t.logger.Info("issue not found", "issue_id", notFound.id)
		t.s.Reset()
		e.replyText(ctx, t, fmt.Sprintf(msgIssueNotFound, notFound.id))
	case errors.Is(err, credentials.ErrCredentialUnavailable):
		t.logger.Warn("credential store unavailable", "error", err)
		e.replyText(ctx, t, msgCredentialsDown)
	case errors.As(err, &status):
		t.logger.Error("redmine request failed", "status", status.Code, "error", err)
		e.replyText(ctx, t, msgBackendUnavailable)
	default:
		t.logger.Error("request failed", "error", err)
		e.replyText(ctx, t, msgBackendUnavailable)
	}
}
