// ABOUTME: Markdown help text rendered to HTML with goldmark
// ABOUTME: Rendered once on first use and reused for every /help and /start

package session

import (
	"bytes"
	_ "embed"
	"html"
	"sync"

	"github.com/yuin/goldmark"
)

//go:embed help.md
var helpMarkdown []byte

var (
	helpOnce sync.Once
	helpHTML string
)

func renderedHelp() string {
	helpOnce.Do(func() {
		var buf bytes.Buffer
		if err := goldmark.Convert(helpMarkdown, &buf); err != nil {
			helpHTML = html.EscapeString(string(helpMarkdown))
			return
		}
		helpHTML = buf.String()
	})
	return helpHTML
}

func helpMessage(name string) string {
	if name == "" {
		return renderedHelp()
	}
	return "Привет, " + html.EscapeString(name) + "!\n" + renderedHelp()
}
