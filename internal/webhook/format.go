// ABOUTME: Chat rendering of issue-change notifications
// ABOUTME: Known field changes get Russian labels; notes are quoted with their author

package webhook

import (
	"fmt"
	"html"
	"strings"
)

// fieldLabels maps detail names to display labels. Other fields are not shown.
var fieldLabels = map[string]string{
	"status_id":      "Статус",
	"assigned_to_id": "Назначена",
}

// Format renders the notification text. Attachments are forwarded separately
// and never appear here.
func Format(p *Payload) string {
	parts := []string{fmt.Sprintf("[%s - #%d] %s",
		html.EscapeString(p.Issue.Project.Name), p.Issue.ID, html.EscapeString(p.Issue.Subject))}

	for _, c := range p.Changes {
		var details []string
		for _, d := range c.Details {
			if d.Property == "attachment" {
				continue
			}
			label, ok := fieldLabels[string(d.Name)]
			if !ok {
				continue
			}
			details = append(details, fmt.Sprintf("<b>%s:</b> %s", label, html.EscapeString(string(d.NewValue))))
		}
		if len(details) > 0 {
			parts = append(parts, strings.Join(details, "\n"))
		}

		if strings.TrimSpace(c.Notes) != "" {
			// Redmine sends notes entity-encoded; decode once and re-escape.
			note := html.EscapeString(html.UnescapeString(c.Notes))
			parts = append(parts, fmt.Sprintf("<b>%s писал(а)</b>:\n---\n%s", html.EscapeString(c.User.Name), note))
		}
	}

	return strings.Join(parts, "\n\n")
}
