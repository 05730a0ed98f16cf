package textproc

import (
	"regexp"
	"strings"
)

var (
	// Collapse horizontal whitespace runs but keep newlines intact.
	whitespaceRegex = regexp.MustCompile(`[^\S\n]+`)
	// Cap consecutive blank lines at one.
	newlineRegex = regexp.MustCompile(`\n{3,}`)
)

// Normalize cleans raw message text for chunking and embedding. Line endings
// are unified to \n, control characters are stripped, whitespace runs
// collapse to a single space and 3+ consecutive newlines collapse to 2.
// Empty or whitespace-only input yields the empty string.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = stripControlChars(text)
	text = whitespaceRegex.ReplaceAllString(text, " ")
	text = newlineRegex.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// stripControlChars drops ASCII control characters except newline. Tabs
// become spaces so the whitespace collapse still sees them as separators.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n':
			b.WriteRune(r)
		case r == '\t':
			b.WriteByte(' ')
		case r < 0x20 || r == 0x7F:
			// drop
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
