package usecase

import (
	"testing"
	"time"

	emaildomain "mailrecall-backend/internal/email/domain"

	"github.com/stretchr/testify/assert"
)

func plainMessage(id string) *emaildomain.MailboxMessage {
	return &emaildomain.MailboxMessage{
		ExternalID: id,
		From:       "alice@example.com",
		Subject:    "Lunch tomorrow?",
		BodyText:   "Are you free around noon?",
		Headers:    map[string]string{},
		SentAt:     time.Now(),
	}
}

func TestClassifyMessage_PersonalMailPasses(t *testing.T) {
	d := ClassifyMessage(plainMessage("m1"), map[string]struct{}{})

	assert.False(t, d.IsDuplicate)
	assert.False(t, d.IsFiltered)
	assert.Equal(t, emaildomain.FilterReasonNone, d.Reason)
}

func TestClassifyMessage_DuplicateWinsOverFiltered(t *testing.T) {
	msg := plainMessage("m1")
	msg.Headers["list-unsubscribe"] = "<mailto:unsub@example.com>"

	d := ClassifyMessage(msg, map[string]struct{}{"m1": {}})

	assert.True(t, d.IsDuplicate)
	assert.False(t, d.IsFiltered)
}

func TestClassifyMessage_MarketingHeaders(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"list unsubscribe", "list-unsubscribe", "<https://example.com/unsub>"},
		{"one click unsubscribe", "list-unsubscribe-post", "List-Unsubscribe=One-Click"},
		{"precedence bulk", "precedence", "bulk"},
		{"precedence junk", "precedence", "junk"},
		{"mailchimp", "x-mc-user", "acme"},
		{"sendgrid", "x-sg-eid", "abc123"},
		{"ses", "x-ses-outgoing", "2026.01.01"},
		{"mailgun", "x-mailgun-variables", "{}"},
		{"postmark", "x-pm-message-id", "xyz"},
		{"campaign id", "x-campaign-id", "spring-sale"},
		{"feedback id", "feedback-id", "c1:acme:transactional"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := plainMessage("m1")
			msg.Headers[tc.key] = tc.value

			d := ClassifyMessage(msg, map[string]struct{}{})

			assert.True(t, d.IsFiltered)
			assert.Equal(t, emaildomain.FilterReasonMarketing, d.Reason)
		})
	}
}

func TestClassifyMessage_PromotionsLabelFiltered(t *testing.T) {
	msg := plainMessage("m1")
	msg.Labels = []string{"INBOX", "CATEGORY_PROMOTIONS"}

	d := ClassifyMessage(msg, map[string]struct{}{})

	assert.True(t, d.IsFiltered)
	assert.Equal(t, emaildomain.FilterReasonMarketing, d.Reason)
}

func TestClassifyMessage_AutomatedHeaders(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"auto submitted", "auto-submitted", "auto-generated"},
		{"auto replied", "auto-submitted", "auto-replied"},
		{"exchange suppress", "x-auto-response-suppress", "All"},
		{"list id", "list-id", "<dev.lists.example.com>"},
		{"precedence list", "precedence", "list"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := plainMessage("m1")
			msg.Headers[tc.key] = tc.value

			d := ClassifyMessage(msg, map[string]struct{}{})

			assert.True(t, d.IsFiltered)
			assert.Equal(t, emaildomain.FilterReasonAutomated, d.Reason)
		})
	}
}

func TestClassifyMessage_AutoSubmittedNoIsNotAutomated(t *testing.T) {
	msg := plainMessage("m1")
	msg.Headers["auto-submitted"] = "no"

	d := ClassifyMessage(msg, map[string]struct{}{})

	assert.False(t, d.IsFiltered)
}

func TestClassifyMessage_NoReplySenderAutomated(t *testing.T) {
	for _, from := range []string{
		"Acme <no-reply@acme.com>",
		"noreply@service.io",
		"DoNotReply@bank.example",
		"Mail Delivery Subsystem <mailer-daemon@googlemail.com>",
	} {
		msg := plainMessage("m1")
		msg.From = from

		d := ClassifyMessage(msg, map[string]struct{}{})

		assert.True(t, d.IsFiltered, "from=%s", from)
		assert.Equal(t, emaildomain.FilterReasonAutomated, d.Reason)
	}
}

func TestClassifyMessage_AutoReplySubjectAutomated(t *testing.T) {
	msg := plainMessage("m1")
	msg.Subject = "Automatic reply: lunch on Friday?"

	d := ClassifyMessage(msg, map[string]struct{}{})

	assert.True(t, d.IsFiltered)
	assert.Equal(t, emaildomain.FilterReasonAutomated, d.Reason)
}

func TestClassifyMessage_MarketingBeatsAutomated(t *testing.T) {
	// Newsletters usually carry both list-id and list-unsubscribe.
	msg := plainMessage("m1")
	msg.Headers["list-id"] = "<news.example.com>"
	msg.Headers["list-unsubscribe"] = "<https://example.com/unsub>"

	d := ClassifyMessage(msg, map[string]struct{}{})

	assert.True(t, d.IsFiltered)
	assert.Equal(t, emaildomain.FilterReasonMarketing, d.Reason)
}

func TestClassifyMessage_IsPure(t *testing.T) {
	msg := plainMessage("m1")
	existing := map[string]struct{}{"other": {}}

	first := ClassifyMessage(msg, existing)
	second := ClassifyMessage(msg, existing)

	assert.Equal(t, first, second)
	assert.Len(t, existing, 1)
}
