// ABOUTME: Outbound side of the Matrix bridge: send, edit, redact, and media transfer
// ABOUTME: Implements session.ChatGateway for the engine and webhook.Notifier for notifications

package matrix

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/attachment"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"

	"github.com/2389/redmine-bridge/internal/session"
	"github.com/2389/redmine-bridge/internal/store"
	"github.com/2389/redmine-bridge/internal/webhook"
)

func messageContent(html string, kb *session.Keyboard) *event.MessageEventContent {
	formatted := toMatrixHTML(renderKeyboard(html, kb))
	return &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          format.HTMLToText(formatted),
		Format:        event.FormatHTML,
		FormattedBody: formatted,
	}
}

// Send posts msg and returns its room message number.
func (b *Bridge) Send(ctx context.Context, chat session.ChatID, msg session.Outgoing) (session.MessageID, error) {
	room := id.RoomID(chat)
	resp, err := b.matrix.SendMessageEvent(ctx, room, event.EventMessage, messageContent(msg.HTML, msg.Keyboard))
	if err != nil {
		return 0, fmt.Errorf("sending message: %w", err)
	}

	seq, err := b.ledger.RecordMessage(ctx, string(chat), resp.EventID.String())
	if err != nil {
		return 0, fmt.Errorf("recording message: %w", err)
	}

	if msg.Keyboard != nil {
		p := &posted{html: msg.HTML, keyboard: msg.Keyboard}
		p.reactions = b.syncReactions(ctx, room, resp.EventID, nil, msg.Keyboard)
		b.posted.Put(postedKey(string(chat), seq), p)
	}

	return session.MessageID(seq), nil
}

// Edit replaces the content of message number msgID.
func (b *Bridge) Edit(ctx context.Context, chat session.ChatID, msgID session.MessageID, msg session.Outgoing) error {
	room := id.RoomID(chat)
	eventID, err := b.eventID(ctx, chat, msgID)
	if err != nil {
		return err
	}

	content := messageContent(msg.HTML, msg.Keyboard)
	content.SetEdit(eventID)
	if _, err := b.matrix.SendMessageEvent(ctx, room, event.EventMessage, content); err != nil {
		return fmt.Errorf("editing message %d: %w", msgID, err)
	}

	key := postedKey(string(chat), int64(msgID))
	p, known := b.posted.Get(key)
	if !known && msg.Keyboard == nil {
		return nil
	}
	if !known {
		p = &posted{}
	}
	b.mu.Lock()
	old := p.reactions
	b.mu.Unlock()

	reactions := b.syncReactions(ctx, room, eventID, old, msg.Keyboard)

	if msg.Keyboard == nil {
		b.posted.Delete(key)
		return nil
	}
	b.mu.Lock()
	p.html, p.keyboard, p.reactions = msg.HTML, msg.Keyboard, reactions
	b.mu.Unlock()
	b.posted.Put(key, p)
	return nil
}

// RemoveKeyboard edits the message down to its text and forgets it.
// Messages without a keyboard are left alone.
func (b *Bridge) RemoveKeyboard(ctx context.Context, chat session.ChatID, msgID session.MessageID) error {
	p := b.postedMessage(string(chat), int64(msgID))
	if p == nil || p.keyboard == nil {
		return nil
	}
	b.mu.Lock()
	html := p.html
	b.mu.Unlock()
	return b.Edit(ctx, chat, msgID, session.Outgoing{HTML: html})
}

// Delete redacts message number msgID. Unknown or already redacted messages
// yield session.ErrMessageGone.
func (b *Bridge) Delete(ctx context.Context, chat session.ChatID, msgID session.MessageID) error {
	eventID, err := b.eventID(ctx, chat, msgID)
	if err != nil {
		return err
	}
	if _, err := b.matrix.RedactEvent(ctx, id.RoomID(chat), eventID); err != nil {
		if errors.Is(err, mautrix.MNotFound) {
			return session.ErrMessageGone
		}
		return fmt.Errorf("redacting message %d: %w", msgID, err)
	}

	b.posted.Delete(postedKey(string(chat), int64(msgID)))
	return nil
}

// Download fetches file content, decrypting it when it came from an
// encrypted room.
func (b *Bridge) Download(ctx context.Context, ref session.FileRef) ([]byte, error) {
	uri, err := id.ParseContentURI(ref.ID)
	if err != nil {
		return nil, fmt.Errorf("parsing content uri %q: %w", ref.ID, err)
	}
	data, err := b.matrix.DownloadBytes(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", ref.Name, err)
	}

	if enc, ok := b.files.Get(ref.ID); ok && enc != nil {
		if err := enc.DecryptInPlace(data); err != nil {
			return nil, fmt.Errorf("decrypting %s: %w", ref.Name, err)
		}
		b.files.Delete(ref.ID)
	}
	return data, nil
}

// SendHTML posts a notification to a room.
func (b *Bridge) SendHTML(ctx context.Context, chatID, html string) error {
	_, err := b.Send(ctx, session.ChatID(chatID), session.Outgoing{HTML: html})
	return err
}

// SendFile uploads data and posts it as a file message. Files bound for
// encrypted rooms are encrypted before upload.
func (b *Bridge) SendFile(ctx context.Context, chatID, name string, data []byte) error {
	room := id.RoomID(chatID)
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	content := &event.MessageEventContent{
		MsgType:  event.MsgFile,
		Body:     name,
		FileName: name,
		Info:     &event.FileInfo{MimeType: mimeType, Size: len(data)},
	}

	upload, uploadType := data, mimeType
	var enc *attachment.EncryptedFile
	if b.roomEncrypted(ctx, room) {
		enc = attachment.NewEncryptedFile()
		upload = append([]byte(nil), data...)
		enc.EncryptInPlace(upload)
		uploadType = "application/octet-stream"
	}

	resp, err := b.matrix.UploadBytes(ctx, upload, uploadType)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", name, err)
	}
	if enc != nil {
		content.File = &event.EncryptedFileInfo{EncryptedFile: *enc, URL: resp.ContentURI.CUString()}
	} else {
		content.URL = resp.ContentURI.CUString()
	}

	sent, err := b.matrix.SendMessageEvent(ctx, room, event.EventMessage, content)
	if err != nil {
		return fmt.Errorf("sending %s: %w", name, err)
	}
	if _, err := b.ledger.RecordMessage(ctx, chatID, sent.EventID.String()); err != nil {
		b.logger.Warn("failed to record file message", "room", chatID, "error", err)
	}
	return nil
}

func (b *Bridge) roomEncrypted(ctx context.Context, room id.RoomID) bool {
	if b.matrix.Crypto == nil || b.matrix.StateStore == nil {
		return false
	}
	encrypted, err := b.matrix.StateStore.IsEncrypted(ctx, room)
	if err != nil {
		b.logger.Debug("could not read room encryption state", "room", room.String(), "error", err)
		return false
	}
	return encrypted
}

func (b *Bridge) eventID(ctx context.Context, chat session.ChatID, msgID session.MessageID) (id.EventID, error) {
	raw, err := b.ledger.MessageEvent(ctx, string(chat), int64(msgID))
	if errors.Is(err, store.ErrNotFound) {
		return "", session.ErrMessageGone
	}
	if err != nil {
		return "", fmt.Errorf("looking up message %d: %w", msgID, err)
	}
	return id.EventID(raw), nil
}

// syncReactions makes the bot's reactions on target match the keyed options
// of kb: missing keys are added in order, surplus ones redacted. Failures
// are logged; the options stay readable as text either way.
func (b *Bridge) syncReactions(ctx context.Context, room id.RoomID, target id.EventID, have []id.EventID, kb *session.Keyboard) []id.EventID {
	var keys []string
	for _, o := range options(kb) {
		if o.key != "" {
			keys = append(keys, o.key)
		}
	}

	for len(have) > len(keys) {
		last := have[len(have)-1]
		if _, err := b.matrix.RedactEvent(ctx, room, last); err != nil && !errors.Is(err, mautrix.MNotFound) {
			b.logger.Debug("failed to withdraw option reaction", "room", room.String(), "error", err)
		}
		have = have[:len(have)-1]
	}
	for _, key := range keys[len(have):] {
		resp, err := b.matrix.SendReaction(ctx, room, target, key)
		if err != nil {
			b.logger.Debug("failed to offer option reaction", "room", room.String(), "error", err)
			break
		}
		have = append(have, resp.EventID)
	}
	return have
}

var (
	_ session.ChatGateway = (*Bridge)(nil)
	_ webhook.Notifier    = (*Bridge)(nil)
)
