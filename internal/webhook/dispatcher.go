// ABOUTME: Fan-out of issue-change notifications to the recipients' chats
// ABOUTME: Only users with a known chat binding are notified

package webhook

import (
	"context"
	"errors"
	"log/slog"

	"github.com/2389/redmine-bridge/internal/metrics"
	"github.com/2389/redmine-bridge/internal/redmine"
)

// BindingLookup returns the chat bound to a login, "" when none is known.
// It must not refresh credentials.
type BindingLookup interface {
	ChatBinding(ctx context.Context, login string) (string, error)
}

// AttachmentFetcher downloads Redmine attachments.
type AttachmentFetcher interface {
	DownloadAttachment(ctx context.Context, apiKey string, attachmentID int64) ([]byte, error)
}

// Notifier delivers messages and files to a chat.
type Notifier interface {
	SendHTML(ctx context.Context, chatID, html string) error
	SendFile(ctx context.Context, chatID, name string, data []byte) error
}

// Dispatcher forwards notifications.
type Dispatcher struct {
	bindings BindingLookup
	fetcher  AttachmentFetcher
	notifier Notifier
	adminKey string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewDispatcher creates a Dispatcher. adminKey is used for attachment
// downloads since recipients' own tokens are not refreshed here. m may be nil.
func NewDispatcher(bindings BindingLookup, fetcher AttachmentFetcher, notifier Notifier, adminKey string, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		bindings: bindings,
		fetcher:  fetcher,
		notifier: notifier,
		adminKey: adminKey,
		logger:   logger.With("component", "dispatcher"),
		metrics:  m,
	}
}

// Dispatch notifies every bound recipient and returns how many were reached.
// Per-recipient failures are logged and do not stop other recipients.
func (d *Dispatcher) Dispatch(ctx context.Context, p *Payload) int {
	logger := d.logger.With("issue_id", p.Issue.ID)
	if id, ok := DeliveryID(ctx); ok {
		logger = logger.With("delivery_id", id)
	}

	text := Format(p)
	attachments := p.Attachments()
	delivered := 0

	for _, r := range p.Recipients {
		if r.Login == "" {
			continue
		}
		rlog := logger.With("login", r.Login)

		chatID, err := d.bindings.ChatBinding(ctx, r.Login)
		if err != nil {
			rlog.Warn("chat binding lookup failed", "error", err)
			d.metrics.Notification("error")
			continue
		}
		if chatID == "" {
			rlog.Debug("no chat binding, skipping recipient")
			d.metrics.Notification("skipped")
			continue
		}

		if err := d.notifier.SendHTML(ctx, chatID, text); err != nil {
			rlog.Error("failed to send notification", "chat_id", chatID, "error", err)
			d.metrics.Notification("error")
			continue
		}
		d.metrics.Notification("sent")
		delivered++

		d.forwardAttachments(ctx, rlog, chatID, attachments)
	}

	logger.Info("notification dispatched", "recipients", len(p.Recipients), "delivered", delivered, "attachments", len(attachments))
	return delivered
}

// forwardAttachments sends files in order. A Redmine error answer skips one
// file; a transport failure abandons the rest.
func (d *Dispatcher) forwardAttachments(ctx context.Context, logger *slog.Logger, chatID string, attachments []Attachment) {
	for _, a := range attachments {
		data, err := d.fetcher.DownloadAttachment(ctx, d.adminKey, a.ID)
		if err != nil {
			var status *redmine.StatusError
			if errors.As(err, &status) {
				logger.Warn("skipping attachment", "attachment_id", a.ID, "status", status.Code)
				continue
			}
			logger.Error("attachment download failed, abandoning remaining files", "attachment_id", a.ID, "error", err)
			return
		}
		if err := d.notifier.SendFile(ctx, chatID, a.Name, data); err != nil {
			logger.Error("failed to forward attachment", "attachment_id", a.ID, "error", err)
		}
	}
}
