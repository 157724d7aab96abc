// ABOUTME: Tests for event routing, session lifecycle and error replies
// ABOUTME: Drives the engine through fake chat and tracker backends

package session

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/redmine-bridge/internal/credentials"
	"github.com/2389/redmine-bridge/internal/redmine"
)

const longText = "принтер в бухгалтерии опять печатает пустые листы"

func TestAddComment_CommandCommentsAndResets(t *testing.T) {
	h := newHarness(t)

	h.text("/add_comment 110022 Looks good")

	require.Len(t, h.tracker.notes, 1)
	assert.Equal(t, int64(110022), h.tracker.notes[0].IssueID)
	assert.Equal(t, "Looks good", h.tracker.notes[0].Notes)
	assert.Equal(t, "key-ivanov", h.tracker.notes[0].APIKey)
	assert.Equal(t, "Комментарий к задаче #110022 добавлен.", h.gw.last().Msg.HTML)
	assert.Equal(t, Session{}, h.state())
}

func TestAddComment_PendingLongTextTakesPrecedence(t *testing.T) {
	h := newHarness(t)

	h.text(longText)
	h.text("/add_comment 555 Looks good")

	require.Len(t, h.tracker.notes, 1)
	assert.Equal(t, int64(110022), h.tracker.notes[0].IssueID)
	assert.Equal(t, longText, h.tracker.notes[0].Notes)
	assert.Equal(t, Session{}, h.state())
}

func TestAddComment_NumberWithoutTextIsFormatError(t *testing.T) {
	h := newHarness(t)

	h.text("/add_comment 110022")

	assert.Empty(t, h.tracker.notes)
	assert.Equal(t, msgCommentFormat, h.gw.last().Msg.HTML)
	assert.Equal(t, StateIdle, h.state().State)
}

func TestAddComment_EmptyIsFormatError(t *testing.T) {
	h := newHarness(t)

	h.text("/add_comment")

	assert.Equal(t, msgCommentFormat, h.gw.last().Msg.HTML)
	assert.Empty(t, h.tracker.notes)
}

func TestAddComment_AsksForNumberThenConfirms(t *testing.T) {
	h := newHarness(t)

	h.text("/add_comment проверено на стенде")
	assert.Equal(t, StateAwaitingTaskNumber, h.state().State)
	assert.Equal(t, msgAskTaskNumber, h.gw.last().Msg.HTML)

	h.text("сто десять")
	assert.Equal(t, StateAwaitingTaskNumber, h.state().State)
	assert.Equal(t, msgTaskNumberDigits, h.gw.last().Msg.HTML)

	h.text("110022")
	assert.Equal(t, StateAwaitingShowConfirmation, h.state().State)
	assert.Equal(t, []string{"Да", "Нет"}, h.gw.last().Msg.Keyboard.Replies)

	h.text("Да")
	require.Len(t, h.tracker.notes, 1)
	assert.Equal(t, int64(110022), h.tracker.notes[0].IssueID)
	assert.Equal(t, "проверено на стенде", h.tracker.notes[0].Notes)
	assert.Equal(t, StateIdle, h.state().State)
}

func TestShowConfirmation_NoDeclines(t *testing.T) {
	h := newHarness(t)

	h.text("/show_task")
	h.text("110022")
	h.text("может быть")
	assert.Equal(t, StateAwaitingShowConfirmation, h.state().State)
	assert.Equal(t, msgAnswerYesNo, h.gw.last().Msg.HTML)

	h.text("нет")
	assert.Equal(t, msgDeclined, h.gw.last().Msg.HTML)
	assert.Equal(t, StateIdle, h.state().State)
	assert.Empty(t, h.tracker.fetched)
}

func TestReplyWithCaption_CommentsOnReferencedIssue(t *testing.T) {
	h := newHarness(t)

	h.document("f1", "report.pdf", "fixed", &Reply{MessageID: 1, Text: "[Alpha - #110022] Printer on fire"})

	require.Len(t, h.tracker.notes, 1)
	assert.Equal(t, int64(110022), h.tracker.notes[0].IssueID)
	assert.Equal(t, "fixed", h.tracker.notes[0].Notes)
	require.Len(t, h.tracker.notes[0].Files, 1)
	assert.Equal(t, "report.pdf", h.tracker.notes[0].Files[0].Name)
	for _, text := range h.gw.texts() {
		assert.NotContains(t, text, "Как поступить")
	}
	assert.Equal(t, Session{}, h.state())
}

func TestReply_LongTextStillComments(t *testing.T) {
	h := newHarness(t)

	h.reply(longText, 3, "Задача #110023 назначена на вас")

	require.Len(t, h.tracker.notes, 1)
	assert.Equal(t, int64(110023), h.tracker.notes[0].IssueID)
	assert.False(t, h.state().HasLongText)
}

func TestReply_WithoutIssueReference(t *testing.T) {
	h := newHarness(t)

	h.reply("готово", 3, "доброе утро")

	assert.Empty(t, h.tracker.notes)
	assert.Equal(t, msgNoIssueRef, h.gw.last().Msg.HTML)
}

func TestLongText_ShowsMenu(t *testing.T) {
	h := newHarness(t)

	h.text(longText)

	menu := h.gw.last()
	assert.Contains(t, menu.Msg.HTML, "Как поступить с Вашим комментарием?")
	assert.Contains(t, menu.Msg.HTML, "<b>Вложенных файлов: </b>0")
	assert.Contains(t, menu.Msg.HTML, "Последняя задача:\n"+h.format.FormatIssueList(h.tracker.open[:1]))
	require.NotNil(t, menu.Msg.Keyboard)
	assert.Equal(t, longTextMenuKeyboard(), menu.Msg.Keyboard)

	s := h.state()
	assert.Equal(t, StateIdle, s.State)
	assert.True(t, s.HasLongText)
	assert.Equal(t, longText, s.LongText)
	assert.Equal(t, int64(110022), s.LastIssueID)
}

func TestLongText_MenuAtMostOncePerSession(t *testing.T) {
	h := newHarness(t)

	h.text(longText)
	h.text("и ещё одно длинное сообщение про тот же принтер")
	h.document("f1", "scan.pdf", "вот скан этого листа из принтера бухгалтерии", nil)

	menus := 0
	for _, text := range h.gw.texts() {
		if strings.Contains(text, "Как поступить") {
			menus++
		}
	}
	assert.Equal(t, 1, menus)
	assert.Equal(t, longText, h.state().LongText)

	h.text("/cancel")
	h.text(longText)
	assert.Contains(t, h.gw.last().Msg.HTML, "Как поступить")
}

func TestLongText_NoOpenIssuesSkipsMenu(t *testing.T) {
	h := newHarness(t)
	h.tracker.open = nil

	h.text(longText)

	assert.Empty(t, h.gw.texts())
	assert.False(t, h.state().HasLongText)
}

func TestLongText_DocumentCaptionCountsFile(t *testing.T) {
	h := newHarness(t)

	h.document("f1", "a.pdf", "", nil)
	h.document("f2", "b.pdf", longText, nil)

	assert.Contains(t, h.gw.last().Msg.HTML, "<b>Вложенных файлов: </b>2")
	assert.True(t, h.state().HasLongText)
	assert.Zero(t, h.gw.downloadCount("f1"))
}

func TestLongText_AppendToLastIssue(t *testing.T) {
	h := newHarness(t)

	h.text(longText)
	menu := h.gw.last()
	h.press(menu, CallbackAddComment)

	require.Len(t, h.tracker.notes, 1)
	assert.Equal(t, int64(110022), h.tracker.notes[0].IssueID)
	assert.Equal(t, longText, h.tracker.notes[0].Notes)
	assert.Equal(t, []MessageID{menu.ID}, h.gw.deleted)
	assert.Equal(t, Session{}, h.state())
}

func TestLongText_PickIssueFromList(t *testing.T) {
	h := newHarness(t)

	h.text(longText)
	h.press(h.gw.last(), CallbackShowTop10)

	assert.Equal(t, StateAwaitingTaskNumber, h.state().State)
	pick := h.gw.last()
	assert.Equal(t, msgPickIssue, pick.Msg.HTML)
	assert.Equal(t, []string{"110022 Printer on fire", "110023 Paper jam"}, pick.Msg.Keyboard.Replies)

	h.text("110023 Paper jam")

	require.Len(t, h.tracker.notes, 1)
	assert.Equal(t, int64(110023), h.tracker.notes[0].IssueID)
	assert.Equal(t, longText, h.tracker.notes[0].Notes)
	assert.Equal(t, StateIdle, h.state().State)
}

func TestPlainText_Hint(t *testing.T) {
	h := newHarness(t)

	h.text("привет")

	assert.Equal(t, msgHint, h.gw.last().Msg.HTML)
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t)

	h.text("/frobnicate")

	assert.Equal(t, msgUnknownCommand, h.gw.last().Msg.HTML)
}

func TestCancel_ResetsFromEveryState(t *testing.T) {
	states := []State{
		StateIdle,
		StateAwaitingTaskNumber,
		StateAwaitingShowConfirmation,
		StateAwaitingCreateDescriptionConfirmation,
		StateAwaitingSubject,
		StateAwaitingPriorityDecision,
		StateAwaitingPriorityChoice,
		StateAwaitingProjectSelection,
		StateAwaitingTrackerSelection,
	}
	cancels := map[string]func(h *harness){
		"command": func(h *harness) { h.text("/cancel") },
		"alias":   func(h *harness) { h.text("Отмена") },
		"button":  func(h *harness) { h.press(sentMessage{ID: 99}, CallbackCancel) },
	}

	for _, st := range states {
		for name, cancel := range cancels {
			t.Run(st.String()+"/"+name, func(t *testing.T) {
				h := newHarness(t)
				s := h.engine.session(testChat, testSender)
				*s = Session{
					State:         st,
					LongText:      longText,
					HasLongText:   true,
					TaskNumber:    7,
					PendingOp:     OpAddComment,
					Comment:       "c",
					Subject:       "s",
					Priority:      "Срочно",
					ProjectID:     9,
					FormMessageID: 3,
					Buffered:      []FileRef{{ID: "f1"}},
					Downloaded:    []Attachment{{Name: "a"}},
				}

				cancel(h)

				assert.Equal(t, Session{}, h.state())
				assert.Contains(t, h.gw.texts(), msgCancelled)
			})
		}
	}
}

func TestNonIdleStateSurvivesUnrelatedInput(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		want  State
		noise []string
	}{
		{
			name:  "task number",
			setup: func(h *harness) { h.text("/show_task") },
			want:  StateAwaitingTaskNumber,
			noise: []string{"abc", "12 34", "", longText, "#5"},
		},
		{
			name:  "show confirmation",
			setup: func(h *harness) { h.text("/show_task"); h.text("110022") },
			want:  StateAwaitingShowConfirmation,
			noise: []string{"ага", "110022", longText},
		},
		{
			name:  "description confirmation",
			setup: func(h *harness) { h.text("/create_task Сломался принтер") },
			want:  StateAwaitingCreateDescriptionConfirmation,
			noise: []string{"конечно", "/frobnicate", longText},
		},
		{
			name: "subject",
			setup: func(h *harness) {
				h.text("/create_task Сломался принтер")
				h.text("да")
			},
			want:  StateAwaitingSubject,
			noise: []string{"", "   "},
		},
		{
			name: "priority decision",
			setup: func(h *harness) {
				h.text("/create_task Сломался принтер")
				h.text("да")
				h.text("Принтер")
			},
			want:  StateAwaitingPriorityDecision,
			noise: []string{"Срочно", "потом"},
		},
		{
			name: "priority choice",
			setup: func(h *harness) {
				h.text("/create_task Сломался принтер")
				h.text("да")
				h.text("Принтер")
				h.text("да")
			},
			want:  StateAwaitingPriorityChoice,
			noise: []string{"Высокий", "7", "да"},
		},
		{
			name: "project selection",
			setup: func(h *harness) {
				h.text(longText)
				h.press(h.gw.last(), CallbackCreateTaskForm)
				h.press(h.gw.last(), CallbackProjectSelector)
			},
			want:  StateAwaitingProjectSelection,
			noise: []string{"Alpha", "ID 9", longText},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)
			require.Equal(t, tt.want, h.state().State)

			for _, n := range tt.noise {
				h.text(n)
				assert.Equal(t, tt.want, h.state().State, "after %q", n)
			}
			h.document("fx", "x.pdf", "", nil)
			assert.Equal(t, tt.want, h.state().State, "after document")
			assert.Empty(t, h.tracker.created)
			assert.Empty(t, h.tracker.notes)
		})
	}
}

func TestAttachments_DownloadedOnceAtCompletion(t *testing.T) {
	h := newHarness(t)

	h.document("f1", "one.pdf", "", nil)
	h.document("f2", "two.pdf", "", nil)
	assert.Zero(t, h.gw.downloadCount("f1"))
	assert.Zero(t, h.gw.downloadCount("f2"))
	pending := h.state()
	assert.Equal(t, 2, pending.FileCount())

	h.text("/add_comment 110022 сканы во вложении")

	assert.Equal(t, 1, h.gw.downloadCount("f1"))
	assert.Equal(t, 1, h.gw.downloadCount("f2"))
	require.Len(t, h.tracker.notes, 1)
	require.Len(t, h.tracker.notes[0].Files, 2)
	assert.Equal(t, []byte("content of one.pdf"), h.tracker.notes[0].Files[0].Data)
	assert.Equal(t, "application/pdf", h.tracker.notes[0].Files[1].ContentType)
	done := h.state()
	assert.Zero(t, done.FileCount())
}

func TestAttachments_NeverFetchedAfterReset(t *testing.T) {
	h := newHarness(t)

	h.document("f1", "one.pdf", "", nil)
	h.text("/cancel")
	h.text("/add_comment 110022 без вложений")

	assert.Zero(t, h.gw.downloadCount("f1"))
	require.Len(t, h.tracker.notes, 1)
	assert.Empty(t, h.tracker.notes[0].Files)
}

func TestAttachments_KeptAcrossBackendOutage(t *testing.T) {
	h := newHarness(t)
	h.tracker.notesErr = &redmine.StatusError{Code: 503, Body: "maintenance"}

	h.document("f1", "one.pdf", "", nil)
	h.text("/add_comment 110022 повтор")

	assert.Equal(t, msgBackendUnavailable, h.gw.last().Msg.HTML)
	s := h.state()
	assert.Empty(t, s.Buffered)
	require.Len(t, s.Downloaded, 1)

	h.tracker.notesErr = nil
	h.text("/add_comment 110022 повтор")

	assert.Equal(t, 1, h.gw.downloadCount("f1"))
	require.Len(t, h.tracker.notes, 1)
	assert.Len(t, h.tracker.notes[0].Files, 1)
}

func TestAttachments_DownloadFailureKeepsBuffer(t *testing.T) {
	h := newHarness(t)
	h.gw.downloadErr = errBoom

	h.document("f1", "one.pdf", "", nil)
	h.text("/add_comment 110022 текст")

	assert.Empty(t, h.tracker.notes)
	assert.Len(t, h.state().Buffered, 1)
	assert.Equal(t, msgBackendUnavailable, h.gw.last().Msg.HTML)
}

func TestErrors_UserNotFoundResets(t *testing.T) {
	h := newHarness(t)
	h.text("/show_task")
	h.creds.err = credentials.ErrUserNotFound

	h.text("110022")
	h.text("да")

	assert.Equal(t, "Пользователь с именем ivanov не найден в Redmine.", h.gw.last().Msg.HTML)
	assert.Equal(t, Session{}, h.state())
}

func TestErrors_CredentialOutageKeepsSession(t *testing.T) {
	h := newHarness(t)
	h.document("f1", "one.pdf", "", nil)
	h.text("/show_task")
	h.text("110022")
	h.creds.err = fmt.Errorf("%w: connection refused", credentials.ErrCredentialUnavailable)

	h.text("да")

	assert.Equal(t, msgCredentialsDown, h.gw.last().Msg.HTML)
	s := h.state()
	assert.Equal(t, StateAwaitingShowConfirmation, s.State)
	assert.Len(t, s.Buffered, 1)
}

func TestErrors_IssueNotFound(t *testing.T) {
	h := newHarness(t)

	h.text("/show_task 7")

	assert.Equal(t, "Задача с номером 7 не найдена.", h.gw.last().Msg.HTML)
}

func TestErrors_BackendStatus(t *testing.T) {
	h := newHarness(t)
	h.tracker.err = &redmine.StatusError{Code: 500}

	h.text("/count_my_tasks")

	assert.Equal(t, msgBackendUnavailable, h.gw.last().Msg.HTML)
}

func TestHandle_RecoversFromPanic(t *testing.T) {
	h := newHarness(t)
	h.tracker.panicOn = "CountOpenIssues"

	assert.NotPanics(t, func() { h.text("/count_my_tasks") })

	h.tracker.panicOn = ""
	h.text("/count_my_tasks")
	assert.Equal(t, "У Вас 2 открытых задач.", h.gw.last().Msg.HTML)
}

func TestSubmit_KeepsArrivalOrderPerSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, body := range []string{"/show_task", "110022", "да"} {
		h.engine.Submit(ctx, Event{Kind: KindText, Chat: testChat, Sender: testSender, Text: body})
	}
	h.engine.Wait()

	assert.Equal(t, []int64{110022}, h.tracker.fetched)
	assert.Equal(t, h.format.FormatIssue(h.tracker.issues[110022]), h.gw.last().Msg.HTML)
}

func TestSubmit_SessionsAreIndependent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var done []<-chan struct{}
	for i := range 20 {
		sender := fmt.Sprintf("user%d", i)
		done = append(done,
			h.engine.Submit(ctx, Event{Kind: KindText, Chat: testChat, Sender: sender, Text: "/show_task"}),
			h.engine.Submit(ctx, Event{Kind: KindText, Chat: testChat, Sender: sender, Text: "110022"}),
		)
	}
	for _, d := range done {
		<-d
	}

	for i := range 20 {
		s := h.engine.Snapshot(testChat, fmt.Sprintf("user%d", i))
		assert.Equal(t, StateAwaitingShowConfirmation, s.State)
		assert.Equal(t, int64(110022), s.TaskNumber)
	}
}

func TestCallback_UnknownCodeIgnored(t *testing.T) {
	h := newHarness(t)

	h.press(sentMessage{ID: 5}, CallbackCode("launch_rockets"))

	assert.Empty(t, h.gw.texts())
	assert.Empty(t, h.gw.deleted)
}

func TestCallback_DeleteToleratesGoneMessage(t *testing.T) {
	h := newHarness(t)
	h.gw.gone[5] = true

	h.press(sentMessage{ID: 5}, CallbackCancel)

	assert.Equal(t, []MessageID{5}, h.gw.deleted)
	assert.Equal(t, msgCancelled, h.gw.last().Msg.HTML)
}
