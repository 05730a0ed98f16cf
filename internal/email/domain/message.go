package domain

import (
	"time"

	"golang.org/x/oauth2"
)

// TokenUpdateFunc is a callback that persists refreshed OAuth tokens.
type TokenUpdateFunc func(token *oauth2.Token) error

// AttachmentText carries the extracted text of a message attachment. Only
// text-like attachments are extracted; binary formats are skipped.
type AttachmentText struct {
	Name     string
	MimeType string
	Text     string
}

// MailboxMessage is a message as fetched from a mailbox provider. Immutable
// once fetched; the pipeline never writes back to the provider.
type MailboxMessage struct {
	ExternalID  string
	ThreadID    string
	From        string
	To          []string
	Subject     string
	BodyText    string
	BodyHTML    string
	Headers     map[string]string // classification-relevant headers, lower-cased keys
	Attachments []AttachmentText
	SentAt      time.Time
	Labels      []string
}

// Header returns a header value by name (case-insensitive lookup against the
// lower-cased key map). Empty string when absent.
func (m *MailboxMessage) Header(name string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[normalizeHeaderKey(name)]
}

func normalizeHeaderKey(name string) string {
	b := []byte(name)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// MessagePage is one page of a paginated mailbox fetch. An empty
// NextPageToken means the sequence is exhausted.
type MessagePage struct {
	Messages      []*MailboxMessage
	NextPageToken string
}
