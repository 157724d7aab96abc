// ABOUTME: Issue-change notification payload posted by the Redmine webhook plugin
// ABOUTME: Accepts both the flat shape and the plugin's {"data": {...}} envelope

package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Recipient is a Redmine login that should hear about the change.
type Recipient struct {
	Login string
}

// UnmarshalJSON accepts "login", a number, {"name": ...} or {"login": ...}.
// Any other shape leaves Login empty so the entry is skipped rather than
// failing the whole delivery.
func (r *Recipient) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			Name  Text `json:"name"`
			Login Text `json:"login"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			r.Login = ""
			return nil
		}
		r.Login = string(obj.Login)
		if r.Login == "" {
			r.Login = string(obj.Name)
		}
		return nil
	}

	var t Text
	if err := t.UnmarshalJSON(data); err != nil {
		r.Login = ""
		return nil
	}
	r.Login = string(t)
	return nil
}

// Text is a JSON string that may arrive as a number.
type Text string

// UnmarshalJSON accepts strings, numbers and null.
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("expected string or number: %w", err)
		}
		*t = Text(n.String())
		return nil
	}
}

// Detail is one changed property of a journal.
type Detail struct {
	Property string `json:"property"`
	Name     Text   `json:"name"`
	OldValue Text   `json:"old_value"`
	NewValue Text   `json:"new_value"`
}

// AttachmentID returns the attachment id of an attachment detail.
func (d Detail) AttachmentID() (int64, bool) {
	if d.Property != "attachment" {
		return 0, false
	}
	id, err := strconv.ParseInt(string(d.Name), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// User names the author of a change.
type User struct {
	Name string `json:"name"`
}

// Change is one journal entry.
type Change struct {
	User    User     `json:"user"`
	Notes   string   `json:"notes"`
	Details []Detail `json:"details"`
}

// Project names the issue's project.
type Project struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Issue is the changed issue.
type Issue struct {
	ID      int64    `json:"id"`
	Subject string   `json:"subject"`
	Project Project  `json:"project"`
	Changes []Change `json:"changes,omitempty"`
}

// Payload is a normalized notification.
type Payload struct {
	Recipients []Recipient `json:"recipients"`
	Issue      Issue       `json:"issue"`
	Changes    []Change    `json:"changes"`
}

var errNoIssue = errors.New("payload has no issue id")

// DecodePayload parses either shape and moves issue-nested changes to the top.
func DecodePayload(data []byte) (*Payload, error) {
	var envelope struct {
		Data *Payload `json:"data"`
		Payload
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}

	p := &envelope.Payload
	if envelope.Data != nil {
		p = envelope.Data
	}
	if len(p.Changes) == 0 {
		p.Changes = p.Issue.Changes
	}
	p.Issue.Changes = nil

	if p.Issue.ID == 0 {
		return nil, errNoIssue
	}
	return p, nil
}

// Attachment is a file added by the change.
type Attachment struct {
	ID   int64
	Name string
}

// Attachments lists added attachments in payload order.
func (p *Payload) Attachments() []Attachment {
	var out []Attachment
	for _, c := range p.Changes {
		for _, d := range c.Details {
			if id, ok := d.AttachmentID(); ok {
				out = append(out, Attachment{ID: id, Name: string(d.NewValue)})
			}
		}
	}
	return out
}
