// ABOUTME: Deferred download of buffered attachments
// ABOUTME: Files are fetched once, when a comment or issue is about to be written

package session

import (
	"context"
	"fmt"

	"github.com/2389/redmine-bridge/internal/redmine"
)

// materialize downloads every buffered file into Downloaded and returns all
// downloaded content. A file moves out of Buffered as soon as it has been
// fetched, so a retry after a partial failure never fetches it twice.
func (e *Engine) materialize(ctx context.Context, t *turn) ([]redmine.File, error) {
	for len(t.s.Buffered) > 0 {
		ref := t.s.Buffered[0]
		data, err := e.chat.Download(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("downloading %s: %w", ref.Name, err)
		}
		t.s.Downloaded = append(t.s.Downloaded, Attachment{Name: ref.Name, MimeType: ref.MimeType, Data: data})
		t.s.Buffered = t.s.Buffered[1:]
	}

	files := make([]redmine.File, 0, len(t.s.Downloaded))
	for _, a := range t.s.Downloaded {
		files = append(files, redmine.File{Name: a.Name, ContentType: a.MimeType, Data: a.Data})
	}
	return files, nil
}
