// ABOUTME: In-process fake Matrix homeserver and event sink for bridge tests
// ABOUTME: Records sent, redacted, and uploaded content and serves media and events

package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/redmine-bridge/internal/config"
	"github.com/2389/redmine-bridge/internal/dedupe"
	"github.com/2389/redmine-bridge/internal/session"
	"github.com/2389/redmine-bridge/internal/store"
)

const (
	testRoom = id.RoomID("!room:test")
	testBot  = id.UserID("@redmine:test")
	testUser = id.UserID("@ivanov:test")
)

type sentEvent struct {
	room    string
	evType  string
	eventID string
	content map[string]any
}

type fakeHomeserver struct {
	mu       sync.Mutex
	next     int
	sent     []sentEvent
	redacted []string
	gone     map[string]bool
	media    map[string][]byte
	uploads  [][]byte
	events   map[string]string
	server   *httptest.Server
}

func newFakeHomeserver(t *testing.T) *fakeHomeserver {
	t.Helper()
	hs := &fakeHomeserver{
		gone:   make(map[string]bool),
		media:  make(map[string][]byte),
		events: make(map[string]string),
	}
	hs.server = httptest.NewServer(hs)
	t.Cleanup(hs.server.Close)
	return hs
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"errcode": "M_NOT_FOUND", "error": "not found"})
}

// roomPath splits the part after /rooms/ into segments.
func roomPath(path string) []string {
	i := strings.Index(path, "/rooms/")
	if i < 0 {
		return nil
	}
	return strings.Split(path[i+len("/rooms/"):], "/")
}

func (hs *fakeHomeserver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	path := r.URL.Path
	switch {
	case strings.Contains(path, "/send/"):
		parts := roomPath(path)
		var content map[string]any
		_ = json.NewDecoder(r.Body).Decode(&content)
		hs.next++
		evID := fmt.Sprintf("$ev%d", hs.next)
		hs.sent = append(hs.sent, sentEvent{room: parts[0], evType: parts[2], eventID: evID, content: content})
		raw, _ := json.Marshal(map[string]any{
			"type": parts[2], "event_id": evID, "room_id": parts[0],
			"sender": testBot.String(), "origin_server_ts": hs.next, "content": content,
		})
		hs.events[evID] = string(raw)
		writeJSON(w, http.StatusOK, map[string]string{"event_id": evID})

	case strings.Contains(path, "/redact/"):
		parts := roomPath(path)
		if hs.gone[parts[2]] {
			notFound(w)
			return
		}
		hs.redacted = append(hs.redacted, parts[2])
		writeJSON(w, http.StatusOK, map[string]string{"event_id": "$redaction"})

	case strings.Contains(path, "/typing/"):
		writeJSON(w, http.StatusOK, map[string]string{})

	case strings.HasSuffix(path, "/displayname"):
		if strings.Contains(path, "ivanov") {
			writeJSON(w, http.StatusOK, map[string]string{"displayname": "Иван Иванов"})
			return
		}
		notFound(w)

	case strings.Contains(path, "/upload"):
		data, _ := io.ReadAll(r.Body)
		hs.uploads = append(hs.uploads, data)
		writeJSON(w, http.StatusOK, map[string]string{"content_uri": fmt.Sprintf("mxc://test/upload%d", len(hs.uploads))})

	case strings.Contains(path, "/download/"):
		mediaID := path[strings.LastIndex(path, "/")+1:]
		data, ok := hs.media[mediaID]
		if !ok {
			notFound(w)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(data)

	case strings.Contains(path, "/event/"):
		parts := roomPath(path)
		raw, ok := hs.events[parts[2]]
		if !ok {
			notFound(w)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, raw)

	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"errcode": "M_UNRECOGNIZED", "error": path})
	}
}

func (hs *fakeHomeserver) sentOfType(evType string) []sentEvent {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	var out []sentEvent
	for _, e := range hs.sent {
		if e.evType == evType {
			out = append(out, e)
		}
	}
	return out
}

func (hs *fakeHomeserver) redactions() []string {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return append([]string(nil), hs.redacted...)
}

type recordingSink struct {
	mu     sync.Mutex
	events []session.Event
}

func (s *recordingSink) Submit(_ context.Context, ev session.Event) <-chan struct{} {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	done := make(chan struct{})
	close(done)
	return done
}

func (s *recordingSink) all() []session.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]session.Event(nil), s.events...)
}

type bridgeHarness struct {
	hs     *fakeHomeserver
	bridge *Bridge
	ledger *store.MockStore
	sink   *recordingSink
}

func newBridgeHarness(t *testing.T, allowed ...string) *bridgeHarness {
	t.Helper()
	hs := newFakeHomeserver(t)
	ledger := store.NewMockStore()
	seen := dedupe.New(time.Hour, 100)
	t.Cleanup(seen.Close)

	b, err := NewBridge(config.MatrixConfig{
		Homeserver:   hs.server.URL,
		UserID:       string(testBot),
		AccessToken:  "token",
		AllowedRooms: allowed,
	}, ledger, seen, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	sink := &recordingSink{}
	b.attach(t.Context(), sink)
	t.Cleanup(b.cancel)

	return &bridgeHarness{hs: hs, bridge: b, ledger: ledger, sink: sink}
}

func textEvent(evID, body string) *event.Event {
	return &event.Event{
		Type:   event.EventMessage,
		ID:     id.EventID(evID),
		RoomID: testRoom,
		Sender: testUser,
		Content: event.Content{Parsed: &event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    body,
		}},
	}
}

func reactionEvent(evID string, target id.EventID, key string) *event.Event {
	return &event.Event{
		Type:   event.EventReaction,
		ID:     id.EventID(evID),
		RoomID: testRoom,
		Sender: testUser,
		Content: event.Content{Parsed: &event.ReactionEventContent{
			RelatesTo: event.RelatesTo{Type: event.RelAnnotation, EventID: target, Key: key},
		}},
	}
}
