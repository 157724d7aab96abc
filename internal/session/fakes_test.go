// ABOUTME: In-memory chat gateway, tracker and resolver used by session tests
// ABOUTME: Message ids are shared between user events and bot replies like a real chat

package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/2389/redmine-bridge/internal/config"
	"github.com/2389/redmine-bridge/internal/credentials"
	"github.com/2389/redmine-bridge/internal/redmine"
)

const (
	testChat   ChatID = "!room:example.org"
	testSender        = "ivanov"
)

type sentMessage struct {
	ID  MessageID
	Msg Outgoing
}

type fakeGateway struct {
	mu sync.Mutex

	next      MessageID
	sent      []sentMessage
	edits     map[MessageID][]Outgoing
	deleted   []MessageID
	unkeyed   []MessageID
	downloads map[string]int

	gone        map[MessageID]bool
	deleteErr   map[MessageID]error
	downloadErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		edits:     make(map[MessageID][]Outgoing),
		downloads: make(map[string]int),
		gone:      make(map[MessageID]bool),
		deleteErr: make(map[MessageID]error),
	}
}

// userMessage allocates the id of an inbound message.
func (g *fakeGateway) userMessage() MessageID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return g.next
}

func (g *fakeGateway) Send(ctx context.Context, chat ChatID, msg Outgoing) (MessageID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	g.sent = append(g.sent, sentMessage{ID: g.next, Msg: msg})
	return g.next, nil
}

func (g *fakeGateway) Edit(ctx context.Context, chat ChatID, id MessageID, msg Outgoing) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edits[id] = append(g.edits[id], msg)
	return nil
}

func (g *fakeGateway) RemoveKeyboard(ctx context.Context, chat ChatID, id MessageID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unkeyed = append(g.unkeyed, id)
	return nil
}

func (g *fakeGateway) Delete(ctx context.Context, chat ChatID, id MessageID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, id)
	if g.gone[id] {
		return ErrMessageGone
	}
	if err := g.deleteErr[id]; err != nil {
		return err
	}
	g.gone[id] = true
	return nil
}

func (g *fakeGateway) Download(ctx context.Context, ref FileRef) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.downloadErr != nil {
		return nil, g.downloadErr
	}
	g.downloads[ref.ID]++
	return []byte("content of " + ref.Name), nil
}

func (g *fakeGateway) texts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.sent))
	for _, m := range g.sent {
		out = append(out, m.Msg.HTML)
	}
	return out
}

func (g *fakeGateway) last() sentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.sent) == 0 {
		return sentMessage{}
	}
	return g.sent[len(g.sent)-1]
}

func (g *fakeGateway) downloadCount(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.downloads[id]
}

type noteCall struct {
	APIKey  string
	IssueID int64
	Notes   string
	Files   []redmine.File
}

type createCall struct {
	APIKey string
	In     redmine.NewIssue
	Files  []redmine.File
}

type fakeTracker struct {
	mu sync.Mutex

	issues      map[int64]*redmine.Issue
	open        []redmine.Issue
	memberships []redmine.Membership
	trackers    []redmine.Ref
	statuses    []redmine.Ref
	priorities  []redmine.Ref

	notes   []noteCall
	created []createCall
	fetched []int64

	err       error
	notesErr  error
	createErr error
	panicOn   string
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		issues: map[int64]*redmine.Issue{
			110022: {
				ID:       110022,
				Subject:  "Printer on fire",
				Project:  redmine.Ref{ID: 1, Name: "Alpha"},
				Tracker:  redmine.Ref{ID: 1, Name: "Ошибка"},
				Status:   redmine.Ref{ID: 1, Name: "Новая"},
				Priority: redmine.Ref{ID: 4, Name: "Обязательно"},
				Author:   redmine.Ref{ID: 3, Name: "Петров"},
			},
		},
		open: []redmine.Issue{
			{ID: 110022, Subject: "Printer on fire"},
			{ID: 110023, Subject: "Paper jam"},
		},
		memberships: []redmine.Membership{
			{ID: 1, Project: redmine.Ref{ID: 1, Name: "Alpha"}},
			{ID: 2, Project: redmine.Ref{ID: 9, Name: "Beta"}},
		},
		trackers:   []redmine.Ref{{ID: 1, Name: "Ошибка"}, {ID: 2, Name: "Задача"}},
		statuses:   []redmine.Ref{{ID: 1, Name: "Новая"}, {ID: 2, Name: "В работе"}},
		priorities: []redmine.Ref{{ID: 4, Name: "Обязательно"}, {ID: 6, Name: "Срочно"}, {ID: 7, Name: "НЕМЕДЛЕННО"}},
	}
}

func (f *fakeTracker) enter(method string) error {
	if f.panicOn == method {
		panic("tracker exploded in " + method)
	}
	return f.err
}

func (f *fakeTracker) GetIssue(ctx context.Context, apiKey string, id int64) (*redmine.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetIssue"); err != nil {
		return nil, err
	}
	f.fetched = append(f.fetched, id)
	iss, ok := f.issues[id]
	if !ok {
		return nil, &redmine.StatusError{Code: 404}
	}
	return iss, nil
}

func (f *fakeTracker) ListOpenIssues(ctx context.Context, apiKey string, userID int64, limit int) ([]redmine.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListOpenIssues"); err != nil {
		return nil, err
	}
	if limit > 0 && len(f.open) > limit {
		return f.open[:limit], nil
	}
	return f.open, nil
}

func (f *fakeTracker) CountOpenIssues(ctx context.Context, apiKey string, userID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CountOpenIssues"); err != nil {
		return 0, err
	}
	return len(f.open), nil
}

func (f *fakeTracker) CreateIssue(ctx context.Context, apiKey string, in redmine.NewIssue, files []redmine.File) (*redmine.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateIssue"); err != nil {
		return nil, err
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, createCall{APIKey: apiKey, In: in, Files: files})
	return &redmine.Issue{ID: 500, Subject: in.Subject, Project: redmine.Ref{ID: in.ProjectID}}, nil
}

func (f *fakeTracker) AddNotes(ctx context.Context, apiKey string, issueID int64, notes string, files []redmine.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddNotes"); err != nil {
		return err
	}
	if f.notesErr != nil {
		return f.notesErr
	}
	f.notes = append(f.notes, noteCall{APIKey: apiKey, IssueID: issueID, Notes: notes, Files: files})
	return nil
}

func (f *fakeTracker) Memberships(ctx context.Context, apiKey string, userID int64, limit int) ([]redmine.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Memberships"); err != nil {
		return nil, err
	}
	if limit > 0 && len(f.memberships) > limit {
		return f.memberships[:limit], nil
	}
	return f.memberships, nil
}

func (f *fakeTracker) Project(ctx context.Context, apiKey string, id int64) (*redmine.Ref, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Project"); err != nil {
		return nil, err
	}
	for _, m := range f.memberships {
		if m.Project.ID == id {
			p := m.Project
			return &p, nil
		}
	}
	return nil, &redmine.StatusError{Code: 404}
}

func (f *fakeTracker) Trackers(ctx context.Context, apiKey string) ([]redmine.Ref, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trackers, f.enter("Trackers")
}

func (f *fakeTracker) Statuses(ctx context.Context, apiKey string) ([]redmine.Ref, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses, f.enter("Statuses")
}

func (f *fakeTracker) Priorities(ctx context.Context, apiKey string) ([]redmine.Ref, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.priorities, f.enter("Priorities")
}

type fakeResolver struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (r *fakeResolver) Resolve(ctx context.Context, login, observedChatID string) (*credentials.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &credentials.Credential{Login: login, Token: "key-" + login, UserID: 42, ChatBinding: observedChatID}, nil
}

var errBoom = errors.New("boom")

type harness struct {
	engine  *Engine
	gw      *fakeGateway
	tracker *fakeTracker
	creds   *fakeResolver
	format  *redmine.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		gw:      newFakeGateway(),
		tracker: newFakeTracker(),
		creds:   &fakeResolver{},
		format:  redmine.NewClient("https://rm.test", time.Second, "1,2,3", logger),
	}
	h.engine = NewEngine(h.gw, h.tracker, h.format, h.creds, Options{
		Priorities:      config.DefaultPriorities(),
		DefaultPriority: "Обязательно",
		Logger:          logger,
	})
	return h
}

func (h *harness) text(body string) {
	h.engine.Handle(context.Background(), Event{
		Kind:      KindText,
		Chat:      testChat,
		Sender:    testSender,
		MessageID: h.gw.userMessage(),
		Text:      body,
	})
}

func (h *harness) reply(body string, to MessageID, toText string) {
	h.engine.Handle(context.Background(), Event{
		Kind:      KindText,
		Chat:      testChat,
		Sender:    testSender,
		MessageID: h.gw.userMessage(),
		Text:      body,
		ReplyTo:   &Reply{MessageID: to, Text: toText},
	})
}

func (h *harness) document(id, name, caption string, replyTo *Reply) {
	h.engine.Handle(context.Background(), Event{
		Kind:      KindDocument,
		Chat:      testChat,
		Sender:    testSender,
		MessageID: h.gw.userMessage(),
		Text:      caption,
		Document:  &FileRef{ID: id, Name: name, MimeType: "application/pdf"},
		ReplyTo:   replyTo,
	})
}

// press clicks the button with code on a previously sent message.
func (h *harness) press(source sentMessage, code CallbackCode) {
	h.engine.Handle(context.Background(), Event{
		Kind:     KindCallback,
		Chat:     testChat,
		Sender:   testSender,
		Callback: code,
		Source:   &CallbackSource{MessageID: source.ID, Text: source.Msg.HTML, Keyboard: source.Msg.Keyboard},
	})
}

func (h *harness) state() Session {
	return h.engine.Snapshot(testChat, testSender)
}
