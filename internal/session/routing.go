// ABOUTME: Routing of text and document events
// ABOUTME: Commands first, then state input, then replies, then the long-text menu

package session

import (
	"context"
	"fmt"
	"html"
	"strings"
)

func (e *Engine) onText(ctx context.Context, t *turn) error {
	text := strings.TrimSpace(t.ev.Text)

	if cmd, args, ok := parseCommand(text); ok {
		return e.runCommand(ctx, t, cmd, args)
	}
	if t.s.State != StateIdle {
		return e.onStateInput(ctx, t, text)
	}
	if t.ev.ReplyTo != nil {
		return e.onReply(ctx, t, text)
	}
	if isLongText(text) && !t.s.HasLongText {
		return e.onLongText(ctx, t, text)
	}

	e.replyText(ctx, t, msgHint)
	return nil
}

// onDocument buffers the file. Its caption may complete a reply or open the
// long-text menu; otherwise the file waits for a later completion.
func (e *Engine) onDocument(ctx context.Context, t *turn) error {
	if t.ev.Document != nil {
		t.s.Buffered = append(t.s.Buffered, *t.ev.Document)
		t.logger.Debug("file buffered", "file", t.ev.Document.Name, "buffered", len(t.s.Buffered))
	}

	caption := strings.TrimSpace(t.ev.Text)
	switch {
	case t.ev.ReplyTo != nil && caption != "":
		return e.onReply(ctx, t, caption)
	case isLongText(caption) && !t.s.HasLongText:
		return e.onLongText(ctx, t, caption)
	}

	name := ""
	if t.ev.Document != nil {
		name = t.ev.Document.Name
	}
	e.replyText(ctx, t, fmt.Sprintf(msgFileReceived, html.EscapeString(name), t.s.FileCount()))
	return nil
}

// onReply comments on the issue whose "#id" appears in the replied-to message.
func (e *Engine) onReply(ctx context.Context, t *turn, text string) error {
	id, ok := issueRef(t.ev.ReplyTo.Text)
	if !ok {
		e.replyText(ctx, t, msgNoIssueRef)
		return nil
	}
	return e.completeComment(ctx, t, id, text)
}

// onLongText records text and offers what to do with it. A user without
// open issues gets no menu.
func (e *Engine) onLongText(ctx context.Context, t *turn, text string) error {
	cred, err := e.resolve(ctx, t)
	if err != nil {
		return err
	}
	issues, err := e.tracker.ListOpenIssues(ctx, cred.Token, cred.UserID, 1)
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		t.logger.Info("no open issues, skipping long-text menu")
		return nil
	}

	t.s.Username = t.ev.Sender
	t.s.LongText = text
	t.s.HasLongText = true
	t.s.LastIssueID = issues[0].ID

	e.reply(ctx, t, Outgoing{
		HTML:     longTextMenu(t.s.FileCount(), e.format.FormatIssueList(issues)),
		Keyboard: longTextMenuKeyboard(),
	})
	return nil
}
