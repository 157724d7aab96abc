// ABOUTME: Flow completions: commenting, showing, listing and creating issues
// ABOUTME: A successful completion resets the session

package session

import (
	"context"
	"fmt"

	"github.com/2389/redmine-bridge/internal/credentials"
	"github.com/2389/redmine-bridge/internal/redmine"
)

func (e *Engine) resolve(ctx context.Context, t *turn) (*credentials.Credential, error) {
	return e.creds.Resolve(ctx, t.ev.Sender, string(t.ev.Chat))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// completeComment adds text and every pending attachment to issue id.
func (e *Engine) completeComment(ctx context.Context, t *turn, id int64, text string) (err error) {
	defer func() { e.metrics.Flow("comment", outcome(err)) }()

	cred, err := e.resolve(ctx, t)
	if err != nil {
		return err
	}
	files, err := e.materialize(ctx, t)
	if err != nil {
		return err
	}
	if err := e.tracker.AddNotes(ctx, cred.Token, id, text, files); err != nil {
		return notFoundAs(err, id)
	}

	t.logger.Info("comment added", "issue_id", id, "attachments", len(files))
	t.s.Reset()
	e.replyText(ctx, t, fmt.Sprintf(msgCommentAdded, id))
	return nil
}

func (e *Engine) showTask(ctx context.Context, t *turn, id int64) (err error) {
	defer func() { e.metrics.Flow("show", outcome(err)) }()

	cred, err := e.resolve(ctx, t)
	if err != nil {
		return err
	}
	iss, err := e.tracker.GetIssue(ctx, cred.Token, id)
	if err != nil {
		return notFoundAs(err, id)
	}

	t.s.Reset()
	e.replyText(ctx, t, e.format.FormatIssue(iss))
	return nil
}

// showTop10 lists open issues, or offers them as a pick list when a long
// text is waiting for a target.
func (e *Engine) showTop10(ctx context.Context, t *turn) error {
	cred, err := e.resolve(ctx, t)
	if err != nil {
		return err
	}
	issues, err := e.tracker.ListOpenIssues(ctx, cred.Token, cred.UserID, redmine.MaxTopIssues)
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		e.replyText(ctx, t, fmt.Sprintf(msgNoOpenIssues, t.ev.Sender))
		return nil
	}

	if !t.s.HasLongText {
		e.replyText(ctx, t, e.format.FormatIssueList(issues))
		return nil
	}

	options := make([]string, 0, len(issues))
	for _, iss := range issues {
		options = append(options, redmine.PickLine(iss))
	}
	t.s.State = StateAwaitingTaskNumber
	e.reply(ctx, t, Outgoing{HTML: msgPickIssue, Keyboard: replyKeyboard(options)})
	return nil
}

// fillDefaults sets project and tracker from the first available item when
// the user has not picked one.
func (e *Engine) fillDefaults(ctx context.Context, t *turn, cred *credentials.Credential) error {
	if t.s.ProjectID == 0 {
		ms, err := e.tracker.Memberships(ctx, cred.Token, cred.UserID, 1)
		if err != nil {
			return err
		}
		if len(ms) == 0 {
			return errNoProjects
		}
		t.s.ProjectID, t.s.ProjectName = ms[0].Project.ID, ms[0].Project.Name
	}
	if t.s.ProjectName == "" {
		p, err := e.tracker.Project(ctx, cred.Token, t.s.ProjectID)
		if err != nil {
			return err
		}
		t.s.ProjectName = p.Name
	}
	if t.s.TrackerID == 0 {
		trackers, err := e.tracker.Trackers(ctx, cred.Token)
		if err != nil {
			return err
		}
		if len(trackers) > 0 {
			t.s.TrackerID, t.s.TrackerName = trackers[0].ID, trackers[0].Name
		}
	}
	return nil
}

func (e *Engine) priorityName(s *Session) string {
	if s.Priority != "" {
		return s.Priority
	}
	return e.defaultPriority
}

// renderForm shows the creation form, editing it in place once it exists.
// The final rendering carries the subject and no keyboard.
func (e *Engine) renderForm(ctx context.Context, t *turn, final bool) error {
	cred, err := e.resolve(ctx, t)
	if err != nil {
		return err
	}
	if err := e.fillDefaults(ctx, t, cred); err != nil {
		return err
	}

	msg := Outgoing{HTML: formText(formView{
		Project:     t.s.ProjectName,
		Tracker:     t.s.TrackerName,
		Priority:    e.priorityName(t.s),
		Subject:     t.s.Subject,
		Description: t.s.LongText,
		Files:       t.s.FileCount(),
	}, !final)}
	if !final {
		msg.Keyboard = formKeyboard()
	}

	if t.s.FormMessageID != 0 {
		if err := e.chat.Edit(ctx, t.ev.Chat, t.s.FormMessageID, msg); err != nil {
			t.logger.Warn("failed to update form", "message_id", t.s.FormMessageID, "error", err)
		}
		return nil
	}
	t.s.FormMessageID = e.reply(ctx, t, msg)
	return nil
}

// completeCreate creates the issue from the session. When a form was shown,
// the dialogue between the form and the confirmation is cleared away.
func (e *Engine) completeCreate(ctx context.Context, t *turn) (err error) {
	defer func() { e.metrics.Flow("create", outcome(err)) }()

	cred, err := e.resolve(ctx, t)
	if err != nil {
		return err
	}
	if err := e.fillDefaults(ctx, t, cred); err != nil {
		return err
	}
	files, err := e.materialize(ctx, t)
	if err != nil {
		return err
	}

	iss, err := e.tracker.CreateIssue(ctx, cred.Token, redmine.NewIssue{
		ProjectID:   t.s.ProjectID,
		TrackerID:   t.s.TrackerID,
		PriorityID:  e.priorities[e.priorityName(t.s)],
		Subject:     t.s.Subject,
		Description: t.s.Description,
	}, files)
	if err != nil {
		return err
	}

	t.logger.Info("issue created", "issue_id", iss.ID, "project_id", t.s.ProjectID, "attachments", len(files))
	confirmation := e.replyText(ctx, t, e.format.FormatCreated(t.s.ProjectName, iss))

	if form := t.s.FormMessageID; form != 0 && confirmation != 0 {
		DeleteBetween(ctx, e.chat, t.ev.Chat, form, confirmation, []MessageID{confirmation}, t.logger)
	}
	t.s.Reset()
	return nil
}
