// ABOUTME: Input handlers for each non-idle conversation state
// ABOUTME: Invalid input re-prompts and leaves the state as it was

package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

func (e *Engine) onStateInput(ctx context.Context, t *turn, text string) error {
	switch t.s.State {
	case StateAwaitingTaskNumber:
		return e.onTaskNumber(ctx, t, text)
	case StateAwaitingShowConfirmation:
		return e.onShowConfirmation(ctx, t, text)
	case StateAwaitingCreateDescriptionConfirmation:
		return e.onDescriptionConfirmation(ctx, t, text)
	case StateAwaitingSubject:
		return e.onSubject(ctx, t, text)
	case StateAwaitingPriorityDecision:
		return e.onPriorityDecision(ctx, t, text)
	case StateAwaitingPriorityChoice:
		return e.onPriorityChoice(ctx, t, text)
	case StateAwaitingProjectSelection, StateAwaitingTrackerSelection:
		return e.onSelectorPick(ctx, t, text)
	case StateIdle:
		return nil
	}
	return nil
}

func (e *Engine) onTaskNumber(ctx context.Context, t *turn, text string) error {
	// A pending long text accepts a pick-list line such as "123 subject".
	if t.s.HasLongText {
		id, ok := firstNumber(text)
		if !ok {
			e.replyText(ctx, t, msgTaskNumberDigits)
			return nil
		}
		return e.completeComment(ctx, t, id, t.s.LongText)
	}

	id, ok := onlyNumber(text)
	if !ok {
		e.replyText(ctx, t, msgTaskNumberDigits)
		return nil
	}
	if t.s.PendingOp == OpNone {
		t.s.PendingOp = OpShowTask
	}
	t.s.TaskNumber = id
	t.s.State = StateAwaitingShowConfirmation
	e.reply(ctx, t, Outgoing{HTML: fmt.Sprintf(msgConfirmTask, id), Keyboard: yesNoKeyboard()})
	return nil
}

// yesNo classifies a confirmation answer.
func yesNo(text string) (yes, ok bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case answerYes:
		return true, true
	case answerNo:
		return false, true
	}
	return false, false
}

func (e *Engine) repromptYesNo(ctx context.Context, t *turn) error {
	e.reply(ctx, t, Outgoing{HTML: msgAnswerYesNo, Keyboard: yesNoKeyboard()})
	return nil
}

func (e *Engine) decline(ctx context.Context, t *turn) error {
	t.s.Reset()
	e.replyText(ctx, t, msgDeclined)
	return nil
}

func (e *Engine) onShowConfirmation(ctx context.Context, t *turn, text string) error {
	yes, ok := yesNo(text)
	if !ok {
		return e.repromptYesNo(ctx, t)
	}
	if !yes {
		return e.decline(ctx, t)
	}

	id := t.s.TaskNumber
	switch t.s.PendingOp {
	case OpAddComment:
		e.replyText(ctx, t, fmt.Sprintf(msgActionAddComment, id))
		return e.completeComment(ctx, t, id, t.s.Comment)
	case OpShowTask, OpNone:
		e.replyText(ctx, t, fmt.Sprintf(msgActionShowTask, id))
		return e.showTask(ctx, t, id)
	}
	return nil
}

func (e *Engine) onDescriptionConfirmation(ctx context.Context, t *turn, text string) error {
	yes, ok := yesNo(text)
	if !ok {
		return e.repromptYesNo(ctx, t)
	}
	if !yes {
		return e.decline(ctx, t)
	}
	t.s.Description = t.s.PotentialDescription
	t.s.State = StateAwaitingSubject
	e.replyText(ctx, t, msgAskSubject)
	return nil
}

// onSubject completes a long-text creation through the form, or continues a
// plain /create_task with the priority question.
func (e *Engine) onSubject(ctx context.Context, t *turn, text string) error {
	if text == "" {
		e.replyText(ctx, t, msgEmptySubject)
		return nil
	}
	t.s.Subject = text

	if t.s.HasLongText {
		if err := e.renderForm(ctx, t, true); err != nil {
			return err
		}
		return e.completeCreate(ctx, t)
	}

	t.s.State = StateAwaitingPriorityDecision
	e.reply(ctx, t, Outgoing{
		HTML:     fmt.Sprintf(msgAskPriorityChange, e.defaultPriority),
		Keyboard: yesNoKeyboard(),
	})
	return nil
}

func (e *Engine) onPriorityDecision(ctx context.Context, t *turn, text string) error {
	yes, ok := yesNo(text)
	if !ok {
		return e.repromptYesNo(ctx, t)
	}
	if !yes {
		return e.completeCreate(ctx, t)
	}
	t.s.State = StateAwaitingPriorityChoice
	e.reply(ctx, t, Outgoing{HTML: msgPickPriority, Keyboard: replyKeyboard(e.priorityChoices())})
	return nil
}

func (e *Engine) onPriorityChoice(ctx context.Context, t *turn, text string) error {
	name, ok := e.lookupPriority(text)
	if !ok {
		e.reply(ctx, t, Outgoing{HTML: msgPickPriority, Keyboard: replyKeyboard(e.priorityChoices())})
		return nil
	}
	return e.choosePriority(ctx, t, name)
}

// choosePriority applies a picked priority. On the form it re-renders and
// waits for more edits; otherwise it creates the issue.
func (e *Engine) choosePriority(ctx context.Context, t *turn, name string) error {
	t.s.Priority = name
	if t.s.inForm() {
		t.s.State = StateAwaitingPriorityChoice
		return e.renderForm(ctx, t, false)
	}
	return e.completeCreate(ctx, t)
}

func (e *Engine) onSelectorPick(ctx context.Context, t *turn, text string) error {
	name, id, ok := selectorPick(text)
	if !ok {
		e.replyText(ctx, t, msgPickSelectorAgain)
		return nil
	}

	if t.s.State == StateAwaitingProjectSelection {
		t.s.ProjectID, t.s.ProjectName = id, name
	} else {
		t.s.TrackerID, t.s.TrackerName = id, name
	}
	t.logger.Debug("selector picked", "key", t.s.SelectorKey, "id", id)

	if t.s.HasLongText {
		return e.renderForm(ctx, t, false)
	}
	return nil
}

// lookupPriority matches text against the configured names, ignoring case.
func (e *Engine) lookupPriority(text string) (string, bool) {
	text = strings.TrimSpace(text)
	for name := range e.priorities {
		if strings.EqualFold(name, text) {
			return name, true
		}
	}
	return "", false
}

// priorityChoices lists the non-default priorities, lowest id first.
func (e *Engine) priorityChoices() []string {
	names := make([]string, 0, len(e.priorities))
	for name := range e.priorities {
		if name != e.defaultPriority {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return e.priorities[names[i]] < e.priorities[names[j]]
	})
	return names
}
