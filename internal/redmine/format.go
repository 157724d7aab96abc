// ABOUTME: HTML renderings of Redmine issues for chat messages
// ABOUTME: Used by the session engine for show, top-10, and creation replies

package redmine

import (
	"fmt"
	"html"
	"strconv"
	"strings"
)

// FormatIssueLink renders the bold "Задача #N:" prefix used in issue lists.
func (c *Client) FormatIssueLink(id int64) string {
	return fmt.Sprintf("<u><b><i>Задача #<a href='%s'>%d</a>:</i></b></u>", c.IssueURL(id), id)
}

// FormatIssueList renders one line per issue. Empty input renders "".
func (c *Client) FormatIssueList(issues []Issue) string {
	lines := make([]string, 0, len(issues))
	for _, iss := range issues {
		lines = append(lines, c.FormatIssueLink(iss.ID)+" "+html.EscapeString(iss.Subject))
	}
	return strings.Join(lines, "\n")
}

func field(label, value string) string {
	return fmt.Sprintf("<u><b><i>%s:</i></b></u> %s", label, value)
}

// FormatIssue renders the issue card shown by /show_task.
func (c *Client) FormatIssue(iss *Issue) string {
	lines := []string{
		field("Номер", fmt.Sprintf("<a href='%s'>%d</a>", c.IssueURL(iss.ID), iss.ID)),
		field("Проект", html.EscapeString(iss.Project.Name)),
		field("Трекер", html.EscapeString(iss.Tracker.Name)),
		field("Статус", html.EscapeString(iss.Status.Name)),
		field("Приоритет", html.EscapeString(iss.Priority.Name)),
		field("Автор", html.EscapeString(iss.Author.Name)),
	}
	if iss.AssignedTo != nil {
		lines = append(lines, field("Назначена", html.EscapeString(iss.AssignedTo.Name)))
	}
	lines = append(lines, field("Тема", html.EscapeString(iss.Subject)))
	if iss.Description != "" {
		lines = append(lines, field("Описание", html.EscapeString(iss.Description)))
	}
	if iss.StartDate != "" {
		lines = append(lines, field("Дата начала", iss.StartDate))
	}
	if iss.DueDate != "" {
		lines = append(lines, field("Срок завершения", iss.DueDate))
	}
	lines = append(lines,
		field("Готовность", strconv.Itoa(iss.DoneRatio)+"%"),
		field("Создана", iss.CreatedOn),
		field("Обновлена", iss.UpdatedOn),
	)

	var comments []string
	for _, j := range iss.Journals {
		if strings.TrimSpace(j.Notes) == "" {
			continue
		}
		author := j.User.Name
		if author == "" {
			author = "Неизвестный"
		}
		comments = append(comments, html.EscapeString(author)+": "+html.EscapeString(j.Notes))
	}
	if len(comments) > 0 {
		lines = append(lines, field("Комментарии", "\n"+strings.Join(comments, "\n")))
	}

	return strings.Join(lines, "\n")
}

// FormatCreated renders the confirmation for a newly created issue.
func (c *Client) FormatCreated(projectName string, iss *Issue) string {
	return fmt.Sprintf(`Задача <a href="%s">[%s - #%d] %s</a> создана!`,
		c.IssueURL(iss.ID), html.EscapeString(projectName), iss.ID, html.EscapeString(iss.Subject))
}

// PickLine renders an issue as a reply option whose leading digits are the id.
func PickLine(iss Issue) string {
	return fmt.Sprintf("%d %s", iss.ID, iss.Subject)
}

// SelectorLine renders a reference as a reply option, "name | ID: n".
func SelectorLine(r Ref) string {
	return fmt.Sprintf("%s | ID: %d", r.Name, r.ID)
}
