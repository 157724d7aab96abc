// ABOUTME: Slash commands and keyword aliases
// ABOUTME: A command always wins over state input, so /cancel works from any state

package session

import (
	"context"
	"fmt"
	"strings"
)

type command string

const (
	cmdStart          command = "start"
	cmdHelp           command = "help"
	cmdCancel         command = "cancel"
	cmdAddComment     command = "add_comment"
	cmdShowTask       command = "show_task"
	cmdShowTop10      command = "show_top10"
	cmdCountMyTasks   command = "count_my_tasks"
	cmdCreateTask     command = "create_task"
	cmdCreateTaskForm command = "create_task_form"
	cmdSelectors      command = "selectors"
)

var knownCommands = map[command]bool{
	cmdStart: true, cmdHelp: true, cmdCancel: true, cmdAddComment: true,
	cmdShowTask: true, cmdShowTop10: true, cmdCountMyTasks: true,
	cmdCreateTask: true, cmdCreateTaskForm: true, cmdSelectors: true,
}

var keywordAliases = map[string]command{
	"отмена":                    cmdCancel,
	"помощь":                    cmdHelp,
	"покажи открытые задачи":    cmdShowTop10,
	"количество открытых задач": cmdCountMyTasks,
}

// parseCommand recognizes "/name args" (with an optional "@bot" suffix on
// the name) and the Russian keyword aliases. ok is false for plain text.
func parseCommand(text string) (cmd command, args string, ok bool) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "/") {
		name, rest, _ := strings.Cut(text[1:], " ")
		name, _, _ = strings.Cut(name, "@")
		return command(strings.ToLower(name)), strings.TrimSpace(rest), true
	}

	lower := strings.ToLower(text)
	if cmd, found := keywordAliases[lower]; found {
		return cmd, "", true
	}
	if m := showTaskAlias.FindStringSubmatch(text); m != nil {
		return cmdShowTask, strings.TrimSpace(m[1]), true
	}
	return "", "", false
}

func (e *Engine) runCommand(ctx context.Context, t *turn, cmd command, args string) error {
	if !knownCommands[cmd] {
		e.replyText(ctx, t, msgUnknownCommand)
		return nil
	}
	t.logger.Debug("command", "command", string(cmd))

	switch cmd {
	case cmdStart, cmdHelp:
		e.replyText(ctx, t, helpMessage(t.ev.SenderName))
		return nil
	case cmdCancel:
		return e.cancel(ctx, t)
	case cmdAddComment:
		return e.addComment(ctx, t, args)
	case cmdShowTask:
		return e.showTaskCommand(ctx, t, args)
	case cmdShowTop10:
		return e.showTop10(ctx, t)
	case cmdCountMyTasks:
		return e.countMyTasks(ctx, t)
	case cmdCreateTask:
		return e.createTask(ctx, t, args)
	case cmdCreateTaskForm:
		return e.createTaskForm(ctx, t)
	case cmdSelectors:
		return e.selectors(ctx, t, args)
	}
	return nil
}

func (e *Engine) cancel(ctx context.Context, t *turn) error {
	if t.s.State != StateIdle {
		t.logger.Info("cancelling flow", "state", t.s.State.String())
	}
	t.s.Reset()
	e.replyText(ctx, t, msgCancelled)
	return nil
}

// addComment handles /add_comment and the "append to last issue" button.
func (e *Engine) addComment(ctx context.Context, t *turn, args string) error {
	if t.s.HasLongText {
		return e.completeComment(ctx, t, t.s.LastIssueID, t.s.LongText)
	}

	if args == "" {
		e.replyText(ctx, t, msgCommentFormat)
		return nil
	}

	id, comment, hasID := commentArgsOf(args)
	switch {
	case hasID && comment != "":
		return e.completeComment(ctx, t, id, comment)
	case hasID:
		t.s.Reset()
		e.replyText(ctx, t, msgCommentFormat)
		return nil
	default:
		t.s.Username = t.ev.Sender
		t.s.Comment = args
		t.s.PendingOp = OpAddComment
		t.s.State = StateAwaitingTaskNumber
		e.replyText(ctx, t, msgAskTaskNumber)
		return nil
	}
}

func (e *Engine) showTaskCommand(ctx context.Context, t *turn, args string) error {
	if id, ok := firstNumber(args); ok {
		return e.showTask(ctx, t, id)
	}
	t.s.Username = t.ev.Sender
	t.s.PendingOp = OpShowTask
	t.s.State = StateAwaitingTaskNumber
	e.replyText(ctx, t, msgAskTaskNumber)
	return nil
}

func (e *Engine) countMyTasks(ctx context.Context, t *turn) error {
	cred, err := e.resolve(ctx, t)
	if err != nil {
		return err
	}
	n, err := e.tracker.CountOpenIssues(ctx, cred.Token, cred.UserID)
	if err != nil {
		return err
	}
	e.replyText(ctx, t, fmt.Sprintf(msgOpenIssueCount, n))
	return nil
}

// createTask handles /create_task and the form's create button. The
// description is the pending long text or, failing that, the command args.
func (e *Engine) createTask(ctx context.Context, t *turn, args string) error {
	switch {
	case t.s.HasLongText:
		t.s.PotentialDescription = t.s.LongText
	case args != "":
		t.s.PotentialDescription = args
	default:
		e.replyText(ctx, t, msgCreateFormat)
		return nil
	}
	t.s.Username = t.ev.Sender
	t.s.State = StateAwaitingCreateDescriptionConfirmation
	e.reply(ctx, t, Outgoing{HTML: msgConfirmDescription, Keyboard: yesNoKeyboard()})
	return nil
}

func (e *Engine) createTaskForm(ctx context.Context, t *turn) error {
	if !t.s.HasLongText {
		e.replyText(ctx, t, msgFormNeedsText)
		return nil
	}
	return e.renderForm(ctx, t, false)
}
