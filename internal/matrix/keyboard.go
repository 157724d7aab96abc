// ABOUTME: Renders session keyboards as numbered options with keycap reactions
// ABOUTME: Maps a reaction key back to the button or reply text it stands for

package matrix

import (
	"fmt"
	"html"
	"strings"

	"github.com/2389/redmine-bridge/internal/session"
)

// keycaps are the reaction keys offered for options, in order.
var keycaps = []string{
	"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣",
	"6️⃣", "7️⃣", "8️⃣", "9️⃣", "\U0001F51F",
}

const repliesHeader = "<i>Варианты ответа:</i>"

// option is one selectable entry of a rendered keyboard. Exactly one of
// button and reply is set.
type option struct {
	key    string
	button *session.Button
	reply  string
}

// options flattens kb into its selectable entries. Entries beyond the
// available keycaps are listed without a reaction key.
func options(kb *session.Keyboard) []option {
	if kb == nil {
		return nil
	}
	var out []option
	for _, row := range kb.Inline {
		for i := range row {
			out = append(out, option{button: &row[i]})
		}
	}
	for _, r := range kb.Replies {
		out = append(out, option{reply: r})
	}
	for i := range out {
		if i < len(keycaps) {
			out[i].key = keycaps[i]
		}
	}
	return out
}

// renderKeyboard appends the option list to body.
func renderKeyboard(body string, kb *session.Keyboard) string {
	opts := options(kb)
	if len(opts) == 0 {
		return body
	}

	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n")
	if len(kb.Inline) == 0 {
		b.WriteString("\n" + repliesHeader)
	}
	for i, o := range opts {
		label := o.reply
		if o.button != nil {
			label = o.button.Label
		}
		prefix := o.key
		if prefix == "" {
			prefix = fmt.Sprintf("%d.", i+1)
		}
		b.WriteString("\n" + prefix + " " + html.EscapeString(label))
	}
	return b.String()
}

// lookupKey finds the option reacted to with key.
func lookupKey(kb *session.Keyboard, key string) (option, bool) {
	key = strings.TrimSpace(key)
	for _, o := range options(kb) {
		if o.key != "" && o.key == key {
			return o, true
		}
	}
	return option{}, false
}

// blockTags are HTML closers after which a newline is layout, not a line break.
var blockTags = []string{
	"<ul>", "</ul>", "<ol>", "</ol>", "</li>", "</p>", "</pre>", "</blockquote>",
	"</h1>", "</h2>", "</h3>", "</h4>", "</h5>", "</h6>", "<hr>", "<hr />",
}

// toMatrixHTML turns the newline-separated chat HTML into Matrix
// formatted_body, where line breaks must be explicit.
func toMatrixHTML(s string) string {
	for _, tag := range blockTags {
		s = strings.ReplaceAll(s, tag+"\n", tag)
	}
	return strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "<br>")
}
