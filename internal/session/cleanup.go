// ABOUTME: Removal of the dialogue messages a finished form flow leaves behind
// ABOUTME: Deletes newest first and keeps going past messages that are already gone

package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
)

// DeleteBetween deletes every message with from < id <= to that is not in
// exclude, starting at to. Already-deleted messages are skipped; other
// failures are logged and the sweep continues.
func DeleteBetween(ctx context.Context, gw ChatGateway, chat ChatID, from, to MessageID, exclude []MessageID, logger *slog.Logger) {
	logger.Debug("deleting messages", "from", from, "to", to, "exclude", exclude)

	for id := to; id > from; id-- {
		if slices.Contains(exclude, id) {
			continue
		}
		err := gw.Delete(ctx, chat, id)
		switch {
		case err == nil:
		case errors.Is(err, ErrMessageGone):
			logger.Debug("message already gone", "message_id", id)
		default:
			logger.Warn("failed to delete message", "message_id", id, "error", err)
		}
	}
}
