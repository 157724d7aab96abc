package matrix

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/redmine-bridge/internal/session"
)

func TestRenderKeyboard(t *testing.T) {
	tests := []struct {
		name string
		kb   *session.Keyboard
		want string
	}{
		{name: "none", kb: nil, want: "body"},
		{name: "empty", kb: &session.Keyboard{}, want: "body"},
		{
			name: "inline",
			kb:   &session.Keyboard{Inline: [][]session.Button{{{Label: "Отмена", Code: session.CallbackCancel}}}},
			want: "body\n\n1️⃣ Отмена",
		},
		{
			name: "replies are escaped",
			kb:   &session.Keyboard{Replies: []string{"Да", "A & B"}},
			want: "body\n\n" + repliesHeader + "\n1️⃣ Да\n2️⃣ A &amp; B",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderKeyboard("body", tt.kb))
		})
	}
}

func TestRenderKeyboard_NumbersBeyondKeycaps(t *testing.T) {
	var replies []string
	for i := range 12 {
		replies = append(replies, fmt.Sprintf("opt%d", i+1))
	}
	out := renderKeyboard("pick", &session.Keyboard{Replies: replies})

	assert.Contains(t, out, "\U0001F51F opt10")
	assert.Contains(t, out, "\n11. opt11")
	assert.Contains(t, out, "\n12. opt12")
}

func TestLookupKey(t *testing.T) {
	kb := &session.Keyboard{
		Inline: [][]session.Button{
			{{Label: "Срочно", Code: session.CallbackPriority6}, {Label: "НЕМЕДЛЕННО", Code: session.CallbackPriority7}},
		},
	}

	opt, ok := lookupKey(kb, keycaps[1])
	assert.True(t, ok)
	assert.Equal(t, session.CallbackPriority7, opt.button.Code)

	_, ok = lookupKey(kb, keycaps[2])
	assert.False(t, ok)
	_, ok = lookupKey(kb, "👍")
	assert.False(t, ok)
	_, ok = lookupKey(nil, keycaps[0])
	assert.False(t, ok)
}

func TestToMatrixHTML(t *testing.T) {
	assert.Equal(t, "<b>a</b><br>b", toMatrixHTML("<b>a</b>\nb\n"))
	assert.Equal(t, "<p>Hi</p><ul><li>one</li><li>two</li></ul>",
		toMatrixHTML("<p>Hi</p>\n<ul>\n<li>one</li>\n<li>two</li>\n</ul>\n"))
}

func TestPlainText(t *testing.T) {
	got := plainText("<u><b><i>Задача #<a href='https://rm/issues/1'>1</a>:</i></b></u> Printer\nnext")
	assert.Contains(t, got, "Задача #1")
	assert.Contains(t, got, "Printer\nnext")
	assert.NotContains(t, got, "<")
}
