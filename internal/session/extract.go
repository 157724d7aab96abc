// ABOUTME: Extraction of ids and arguments from user-visible text
// ABOUTME: Each helper reports whether it found what it was looking for

package session

import (
	"regexp"
	"strconv"
	"strings"
)

// longTextWords is the word count a message must exceed to open the long-text menu.
const longTextWords = 5

var (
	issueRefPattern = regexp.MustCompile(`#(\d+)`)
	digitsPattern   = regexp.MustCompile(`\d+`)
	selectorPattern = regexp.MustCompile(`^(.+?)\s*\|\s*ID:\s*(\d+)`)
	showTaskAlias   = regexp.MustCompile(`(?i)^покажи задачу(\s+\d+)?$`)
	commentArgs     = regexp.MustCompile(`^(\d+)(?:\s+(.+))?$`)
	leadingNumber   = regexp.MustCompile(`^\d+$`)
)

// isLongText reports whether text has more than longTextWords words.
func isLongText(text string) bool {
	return len(strings.Fields(text)) > longTextWords
}

// issueRef finds the first "#123" in a replied-to message.
func issueRef(text string) (int64, bool) {
	m := issueRefPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	return parseID(m[1])
}

// firstNumber returns the first run of digits anywhere in text. Pick-list
// lines ("123 subject") resolve through this.
func firstNumber(text string) (int64, bool) {
	m := digitsPattern.FindString(text)
	if m == "" {
		return 0, false
	}
	return parseID(m)
}

// onlyNumber accepts text made of digits only.
func onlyNumber(text string) (int64, bool) {
	text = strings.TrimSpace(text)
	if !leadingNumber.MatchString(text) {
		return 0, false
	}
	return parseID(text)
}

// selectorPick parses a "name | ID: n" reply.
func selectorPick(text string) (string, int64, bool) {
	m := selectorPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return "", 0, false
	}
	id, ok := parseID(m[2])
	if !ok {
		return "", 0, false
	}
	return strings.TrimSpace(m[1]), id, true
}

// commentArgsOf splits "/add_comment" arguments into an issue id and comment.
// hasID is false when args do not start with a number; comment is empty
// when the number is not followed by text.
func commentArgsOf(args string) (id int64, comment string, hasID bool) {
	m := commentArgs.FindStringSubmatch(strings.TrimSpace(args))
	if m == nil {
		return 0, "", false
	}
	id, ok := parseID(m[1])
	if !ok {
		return 0, "", false
	}
	return id, strings.TrimSpace(m[2]), true
}

func parseID(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
