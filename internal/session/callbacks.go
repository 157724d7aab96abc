// ABOUTME: Inline keyboard callback handling
// ABOUTME: After dispatch the pressed message loses its keyboard or is deleted

package session

import (
	"context"
	"errors"
)

var priorityByCallback = map[CallbackCode]string{
	CallbackPriority6: "Срочно",
	CallbackPriority7: "НЕМЕДЛЕННО",
}

func (e *Engine) onCallback(ctx context.Context, t *turn) error {
	code, ok := ParseCallbackCode(string(t.ev.Callback))
	if !ok {
		t.logger.Warn("ignoring unknown callback", "code", string(t.ev.Callback))
		return nil
	}
	t.logger.Debug("callback", "code", string(code))

	err := e.dispatchCallback(ctx, t, code)
	e.tidyCallbackSource(ctx, t, code)
	return err
}

func (e *Engine) dispatchCallback(ctx context.Context, t *turn, code CallbackCode) error {
	switch code {
	case CallbackAddComment:
		return e.addComment(ctx, t, "")
	case CallbackShowTop10:
		if t.s.HasLongText {
			t.s.State = StateAwaitingTaskNumber
		}
		return e.showTop10(ctx, t)
	case CallbackCreateTask:
		return e.createTask(ctx, t, "")
	case CallbackCreateTaskForm:
		return e.createTaskForm(ctx, t)
	case CallbackAskPriority:
		return e.askPriority(ctx, t)
	case CallbackCancel:
		return e.cancel(ctx, t)
	case CallbackProjectSelector, CallbackTrackerSelector:
		key, found := t.ev.Source.buttonLabel(code)
		if !found {
			key = SelectorProject
			if code == CallbackTrackerSelector {
				key = SelectorTracker
			}
		}
		t.s.SelectorKey = key
		return e.selectForForm(ctx, t, key)
	case CallbackPriority6, CallbackPriority7:
		name := priorityByCallback[code]
		if _, known := e.priorities[name]; !known {
			t.logger.Warn("callback priority is not configured", "priority", name)
		}
		return e.choosePriority(ctx, t, name)
	}
	return nil
}

// tidyCallbackSource strips the keyboard from messages that stay on screen
// and deletes the rest.
func (e *Engine) tidyCallbackSource(ctx context.Context, t *turn, code CallbackCode) {
	src := t.ev.Source
	if src == nil || src.MessageID == 0 {
		return
	}
	if code.editsInPlace() {
		if err := e.chat.RemoveKeyboard(ctx, t.ev.Chat, src.MessageID); err != nil {
			t.logger.Warn("failed to remove keyboard", "message_id", src.MessageID, "error", err)
		}
		return
	}
	err := e.chat.Delete(ctx, t.ev.Chat, src.MessageID)
	if err != nil && !errors.Is(err, ErrMessageGone) {
		t.logger.Warn("failed to delete callback message", "message_id", src.MessageID, "error", err)
	}
}

// askPriority offers priorities as buttons on the form, or as reply options.
func (e *Engine) askPriority(ctx context.Context, t *turn) error {
	t.s.State = StateAwaitingPriorityChoice
	if t.s.HasLongText {
		e.reply(ctx, t, Outgoing{HTML: msgPickPriority, Keyboard: priorityInlineKeyboard()})
		return nil
	}
	e.reply(ctx, t, Outgoing{HTML: msgPickPriority, Keyboard: replyKeyboard(e.priorityChoices())})
	return nil
}
