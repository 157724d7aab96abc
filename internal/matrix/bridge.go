// ABOUTME: Matrix sync loop that turns room messages and reactions into session events
// ABOUTME: Filters rooms, drops redelivered events, and numbers messages through the ledger

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"

	"github.com/2389/redmine-bridge/internal/config"
	"github.com/2389/redmine-bridge/internal/dedupe"
	"github.com/2389/redmine-bridge/internal/session"
	"github.com/2389/redmine-bridge/internal/store"
)

// EventSink receives translated chat events. *session.Engine implements it.
type EventSink interface {
	Submit(ctx context.Context, ev session.Event) <-chan struct{}
}

// Bridge connects Matrix rooms to the session engine. It is also the
// engine's ChatGateway and the webhook's Notifier.
type Bridge struct {
	cfg    config.MatrixConfig
	matrix *mautrix.Client
	ledger store.MessageLedger
	seen   *dedupe.Cache
	logger *slog.Logger

	sink EventSink
	// ctx is the parent context for event handling
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards the fields of posted entries.
	mu     sync.Mutex
	posted *dedupe.Map[*posted]
	files  *dedupe.Map[*event.EncryptedFileInfo]
	names  sync.Map // id.UserID -> display name
}

// Keyboards older than keyboardTTL no longer answer reactions. Encryption
// info of a file nobody downloaded is forgotten after fileTTL.
const (
	keyboardTTL   = 48 * time.Hour
	keyboardLimit = 4096
	fileTTL       = 24 * time.Hour
	fileLimit     = 4096
)

// posted is what the bridge remembers about one of its own messages that
// carries a keyboard.
type posted struct {
	html      string
	keyboard  *session.Keyboard
	reactions []id.EventID
}

// NewBridge creates a bridge. seen drops events the homeserver delivers twice.
func NewBridge(cfg config.MatrixConfig, ledger store.MessageLedger, seen *dedupe.Cache, logger *slog.Logger) (*Bridge, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	client.DeviceID = id.DeviceID(cfg.DeviceID)

	return &Bridge{
		cfg:    cfg,
		matrix: client,
		ledger: ledger,
		seen:   seen,
		logger: logger.With("component", "matrix"),
		posted: dedupe.NewMap[*posted](keyboardTTL, keyboardLimit),
		files:  dedupe.NewMap[*event.EncryptedFileInfo](fileTTL, fileLimit),
	}, nil
}

// Client exposes the underlying Matrix client for crypto setup.
func (b *Bridge) Client() *mautrix.Client {
	return b.matrix
}

func (b *Bridge) attach(ctx context.Context, sink EventSink) {
	b.sink = sink
	b.ctx, b.cancel = context.WithCancel(ctx)
}

// Run syncs with the homeserver and feeds events to sink until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, sink EventSink) error {
	b.logger.Info("starting matrix bridge",
		"homeserver", b.cfg.Homeserver,
		"user_id", b.cfg.UserID,
		"allowed_rooms", len(b.cfg.AllowedRooms),
	)

	b.attach(ctx, sink)
	defer b.cancel()

	syncer, ok := b.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.matrix.Syncer)
	}
	syncer.OnSync(b.matrix.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)
	syncer.OnEventType(event.EventReaction, b.handleReactionEvent)
	syncer.OnEventType(event.StateMember, b.handleMemberEvent)

	b.logger.Info("connecting to matrix homeserver")

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.matrix.SyncWithContext(b.ctx)
	}()

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		b.cancel()
		return nil
	case err := <-syncErr:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// accept applies the filters shared by every inbound event.
func (b *Bridge) accept(evt *event.Event) bool {
	if evt.Sender == b.matrix.UserID {
		return false
	}
	if !b.isRoomAllowed(evt.RoomID.String()) {
		b.logger.Debug("ignoring event from non-allowed room", "room", evt.RoomID.String())
		return false
	}
	if b.seen != nil && b.seen.Seen(evt.ID.String()) {
		b.logger.Debug("dropping redelivered event", "event_id", evt.ID.String())
		return false
	}
	return true
}

func (b *Bridge) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if !b.accept(evt) {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}
	if content.RelatesTo != nil && content.RelatesTo.Type == event.RelReplace {
		return
	}

	seq, err := b.ledger.RecordMessage(ctx, evt.RoomID.String(), evt.ID.String())
	if err != nil {
		b.logger.Error("failed to record message", "room", evt.RoomID.String(), "error", err)
		return
	}

	ev, ok := b.toEvent(ctx, evt, content, session.MessageID(seq))
	if !ok {
		return
	}

	b.logger.Info("received message",
		"room", evt.RoomID.String(),
		"sender", evt.Sender.String(),
		"kind", ev.Kind.String(),
		"content", truncate(ev.Text, 50),
	)
	b.submit(evt.RoomID, ev)
}

// toEvent translates a room message. Only text and file messages are handled.
func (b *Bridge) toEvent(ctx context.Context, evt *event.Event, content *event.MessageEventContent, seq session.MessageID) (session.Event, bool) {
	ev := b.baseEvent(ctx, evt)
	ev.MessageID = seq

	switch content.MsgType {
	case event.MsgText:
		content.RemoveReplyFallback()
		ev.Kind = session.KindText
		ev.Text = strings.TrimSpace(content.Body)
		if ev.Text == "" {
			return ev, false
		}
	case event.MsgFile, event.MsgImage, event.MsgVideo, event.MsgAudio:
		ev.Kind = session.KindDocument
		ev.Document = b.fileRef(content)
		if content.FileName != "" && content.Body != content.FileName {
			ev.Text = strings.TrimSpace(content.Body)
		}
	default:
		return ev, false
	}

	if replyTo := content.RelatesTo.GetReplyTo(); replyTo != "" {
		ev.ReplyTo = b.replyTarget(ctx, evt.RoomID, replyTo)
	}
	return ev, true
}

func (b *Bridge) baseEvent(ctx context.Context, evt *event.Event) session.Event {
	login, _, err := evt.Sender.Parse()
	if err != nil {
		login = evt.Sender.String()
	}
	return session.Event{
		Chat:       session.ChatID(evt.RoomID.String()),
		Sender:     login,
		SenderName: b.displayName(ctx, evt.Sender, login),
	}
}

// fileRef remembers encryption info so Download can decrypt later.
func (b *Bridge) fileRef(content *event.MessageEventContent) *session.FileRef {
	ref := &session.FileRef{ID: string(content.URL), Name: content.FileName}
	if ref.Name == "" {
		ref.Name = content.Body
	}
	if content.Info != nil {
		ref.MimeType = content.Info.MimeType
	}
	if content.File != nil {
		ref.ID = string(content.File.URL)
		b.files.Put(ref.ID, content.File)
	}
	return ref
}

// replyTarget resolves the message being replied to. Own keyboard messages
// are served from memory; others are fetched and decrypted when needed.
func (b *Bridge) replyTarget(ctx context.Context, roomID id.RoomID, eventID id.EventID) *session.Reply {
	reply := &session.Reply{}
	if seq, err := b.ledger.MessageSeq(ctx, roomID.String(), eventID.String()); err == nil {
		reply.MessageID = session.MessageID(seq)
		if p := b.postedMessage(roomID.String(), seq); p != nil {
			reply.Text = plainText(p.html)
			return reply
		}
	}

	target, err := b.matrix.GetEvent(ctx, roomID, eventID)
	if err != nil {
		b.logger.Warn("failed to fetch replied message", "event_id", eventID.String(), "error", err)
		return reply
	}
	if target.Content.Parsed == nil {
		if err := target.Content.ParseRaw(target.Type); err != nil {
			b.logger.Debug("unparseable replied message", "event_id", eventID.String(), "error", err)
			return reply
		}
	}
	if target.Type == event.EventEncrypted && b.matrix.Crypto != nil {
		decrypted, err := b.matrix.Crypto.Decrypt(ctx, target)
		if err != nil {
			b.logger.Warn("failed to decrypt replied message", "event_id", eventID.String(), "error", err)
			return reply
		}
		target = decrypted
	}
	if content, ok := target.Content.Parsed.(*event.MessageEventContent); ok {
		content.RemoveReplyFallback()
		reply.Text = content.Body
		if content.Format == event.FormatHTML && content.FormattedBody != "" {
			reply.Text = format.HTMLToText(content.FormattedBody)
		}
	}
	return reply
}

// handleReactionEvent maps a reaction on one of our keyboards back to the
// option it stands for.
func (b *Bridge) handleReactionEvent(ctx context.Context, evt *event.Event) {
	if !b.accept(evt) {
		return
	}
	content, ok := evt.Content.Parsed.(*event.ReactionEventContent)
	if !ok || content.RelatesTo.Type != event.RelAnnotation {
		return
	}

	room := evt.RoomID.String()
	seq, err := b.ledger.MessageSeq(ctx, room, content.RelatesTo.EventID.String())
	if err != nil {
		return
	}
	p := b.postedMessage(room, seq)
	if p == nil || p.keyboard == nil {
		return
	}
	opt, ok := lookupKey(p.keyboard, content.RelatesTo.Key)
	if !ok {
		return
	}

	ev := b.baseEvent(ctx, evt)
	if opt.button != nil {
		ev.Kind = session.KindCallback
		ev.Callback = opt.button.Code
		ev.Source = &session.CallbackSource{
			MessageID: session.MessageID(seq),
			Text:      plainText(p.html),
			Keyboard:  p.keyboard,
		}
	} else {
		ev.Kind = session.KindText
		ev.Text = opt.reply
	}

	b.logger.Info("received reaction",
		"room", room,
		"sender", evt.Sender.String(),
		"kind", ev.Kind.String(),
		"option", content.RelatesTo.Key,
	)
	b.submit(evt.RoomID, ev)
}

// handleMemberEvent joins allowed rooms we are invited to.
func (b *Bridge) handleMemberEvent(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != b.matrix.UserID.String() {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MemberEventContent)
	if !ok || content.Membership != event.MembershipInvite {
		return
	}
	if !b.isRoomAllowed(evt.RoomID.String()) {
		b.logger.Info("ignoring invite to non-allowed room", "room", evt.RoomID.String(), "inviter", evt.Sender.String())
		return
	}
	if _, err := b.matrix.JoinRoomByID(ctx, evt.RoomID); err != nil {
		b.logger.Warn("failed to join room", "room", evt.RoomID.String(), "error", err)
		return
	}
	b.logger.Info("joined room", "room", evt.RoomID.String(), "inviter", evt.Sender.String())
}

// submit queues ev in arrival order and shows typing until it is handled.
func (b *Bridge) submit(roomID id.RoomID, ev session.Event) {
	done := b.sink.Submit(b.ctx, ev)
	go func() {
		b.setTyping(roomID, true)
		<-done
		b.setTyping(roomID, false)
	}()
}

func (b *Bridge) displayName(ctx context.Context, userID id.UserID, fallback string) string {
	if name, ok := b.names.Load(userID); ok {
		return name.(string)
	}
	resp, err := b.matrix.GetDisplayName(ctx, userID)
	if err != nil || resp.DisplayName == "" {
		return fallback
	}
	b.names.Store(userID, resp.DisplayName)
	return resp.DisplayName
}

// isRoomAllowed checks if the room is in the allowed list.
func (b *Bridge) isRoomAllowed(roomID string) bool {
	if len(b.cfg.AllowedRooms) == 0 {
		return true
	}
	for _, allowed := range b.cfg.AllowedRooms {
		if allowed == roomID {
			return true
		}
	}
	return false
}

// typingTimeout is how long the typing indicator shows.
const typingTimeout = 30 * time.Second

// networkTimeout bounds the fire-and-forget Matrix calls.
const networkTimeout = 10 * time.Second

func (b *Bridge) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.matrix.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}

func postedKey(room string, seq int64) string {
	return fmt.Sprintf("%s/%d", room, seq)
}

func (b *Bridge) postedMessage(room string, seq int64) *posted {
	p, _ := b.posted.Get(postedKey(room, seq))
	return p
}

// plainText renders chat HTML the way a client shows it as text.
func plainText(html string) string {
	return format.HTMLToText(toMatrixHTML(html))
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
