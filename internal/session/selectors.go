// ABOUTME: Pick lists of projects, trackers, priorities and statuses
// ABOUTME: Used by /selectors and by the form's project and tracker buttons

package session

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/2389/redmine-bridge/internal/redmine"
)

var selectorAliases = map[string]string{
	"проект":     SelectorProject,
	"projects":   SelectorProject,
	"трекер":     SelectorTracker,
	"trackers":   SelectorTracker,
	"приоритет":  SelectorPriority,
	"priorities": SelectorPriority,
	"статус":     SelectorStatus,
	"status":     SelectorStatus,
	"statuses":   SelectorStatus,
}

func normalizeSelector(raw string) (string, bool) {
	key, ok := selectorAliases[strings.ToLower(strings.TrimSpace(raw))]
	return key, ok
}

func (e *Engine) selectorItems(ctx context.Context, t *turn, key string) ([]redmine.Ref, error) {
	cred, err := e.resolve(ctx, t)
	if err != nil {
		return nil, err
	}
	switch key {
	case SelectorProject:
		ms, err := e.tracker.Memberships(ctx, cred.Token, cred.UserID, 0)
		if err != nil {
			return nil, err
		}
		if len(ms) == 0 {
			return nil, errNoProjects
		}
		refs := make([]redmine.Ref, 0, len(ms))
		for _, m := range ms {
			refs = append(refs, m.Project)
		}
		return refs, nil
	case SelectorTracker:
		return e.tracker.Trackers(ctx, cred.Token)
	case SelectorPriority:
		return e.tracker.Priorities(ctx, cred.Token)
	case SelectorStatus:
		return e.tracker.Statuses(ctx, cred.Token)
	}
	return nil, fmt.Errorf("unknown selector %q", key)
}

func selectorLines(refs []redmine.Ref) []string {
	lines := make([]string, 0, len(refs))
	for _, r := range refs {
		lines = append(lines, redmine.SelectorLine(r))
	}
	return lines
}

// selectors handles /selectors. With a pending long text, projects and
// trackers become a pick for the form; otherwise the list is only shown.
func (e *Engine) selectors(ctx context.Context, t *turn, args string) error {
	key, ok := normalizeSelector(args)
	if !ok {
		e.replyText(ctx, t, msgSelectorsFormat)
		return nil
	}
	if t.s.HasLongText && (key == SelectorProject || key == SelectorTracker) {
		t.s.SelectorKey = key
		return e.selectForForm(ctx, t, key)
	}

	refs, err := e.selectorItems(ctx, t, key)
	if err != nil {
		return err
	}
	lines := selectorLines(refs)
	for i := range lines {
		lines[i] = html.EscapeString(lines[i])
	}
	e.replyText(ctx, t, bold(key)+"\n"+strings.Join(lines, "\n"))
	return nil
}

// selectForForm asks the user to pick a project or tracker for the form.
func (e *Engine) selectForForm(ctx context.Context, t *turn, key string) error {
	refs, err := e.selectorItems(ctx, t, key)
	if err != nil {
		return err
	}
	switch key {
	case SelectorProject:
		t.s.State = StateAwaitingProjectSelection
	case SelectorTracker:
		t.s.State = StateAwaitingTrackerSelection
	}
	e.reply(ctx, t, Outgoing{
		HTML:     fmt.Sprintf(msgPickSelector, strings.ToLower(key)),
		Keyboard: replyKeyboard(selectorLines(refs)),
	})
	return nil
}
