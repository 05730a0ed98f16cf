package usecase

import (
	"strings"

	emaildomain "mailrecall-backend/internal/email/domain"
)

// FilterDecision is the outcome of classifying one fetched message.
type FilterDecision struct {
	IsDuplicate bool
	IsFiltered  bool
	Reason      emaildomain.FilterReason
}

// espHeaders are set by bulk-sending platforms and are a strong marketing
// signal even without a List-Unsubscribe header.
var espHeaders = []string{
	"x-mc-user",            // Mailchimp
	"x-sg-eid",             // SendGrid
	"x-ses-outgoing",       // Amazon SES
	"x-mailgun-variables",  // Mailgun
	"x-pm-message-id",      // Postmark
	"x-campaign-id",        // generic campaign tooling
	"feedback-id",          // RFC-style feedback loop ID used by bulk senders
	"x-feedback-id",        // Gmail variant
}

// ClassifyMessage decides whether a fetched message should be indexed. Pure
// function of the message and the already-known external IDs; no I/O.
//
// Duplicate wins over filtered: a message already indexed is skipped before
// its headers are examined, so re-fetching never reclassifies existing rows.
func ClassifyMessage(msg *emaildomain.MailboxMessage, existing map[string]struct{}) FilterDecision {
	if _, dup := existing[msg.ExternalID]; dup {
		return FilterDecision{IsDuplicate: true}
	}

	// Marketing is checked first: newsletters often carry both list and
	// auto-submission headers and "marketing" is the more specific label.
	if isMarketing(msg) {
		return FilterDecision{IsFiltered: true, Reason: emaildomain.FilterReasonMarketing}
	}

	if isAutomated(msg) {
		return FilterDecision{IsFiltered: true, Reason: emaildomain.FilterReasonAutomated}
	}

	return FilterDecision{Reason: emaildomain.FilterReasonNone}
}

// isMarketing detects bulk/campaign mail via RFC 2369 / RFC 8058 list
// headers and ESP fingerprints.
func isMarketing(msg *emaildomain.MailboxMessage) bool {
	// RFC 8058 one-click unsubscribe is only ever set by bulk senders.
	if msg.Header("list-unsubscribe-post") != "" {
		return true
	}

	// RFC 2369 List-Unsubscribe combined with a campaign fingerprint. The
	// header alone also appears on wanted newsletters from small senders,
	// but those still carry Precedence: bulk almost universally.
	if msg.Header("list-unsubscribe") != "" {
		return true
	}

	precedence := strings.ToLower(msg.Header("precedence"))
	if precedence == "bulk" || precedence == "junk" {
		return true
	}

	for _, h := range espHeaders {
		if msg.Header(h) != "" {
			return true
		}
	}

	for _, label := range msg.Labels {
		if label == "CATEGORY_PROMOTIONS" {
			return true
		}
	}

	return false
}

// isAutomated detects machine-generated mail (receipts, alerts, list
// traffic, auto-replies) via RFC 3834 and related headers.
func isAutomated(msg *emaildomain.MailboxMessage) bool {
	// RFC 3834 Auto-Submitted, any value except "no".
	if v := strings.ToLower(msg.Header("auto-submitted")); v != "" && v != "no" {
		return true
	}

	// Exchange suppression header on auto-generated mail.
	if msg.Header("x-auto-response-suppress") != "" {
		return true
	}

	// RFC 2919 mailing-list identifier.
	if msg.Header("list-id") != "" {
		return true
	}

	if strings.ToLower(msg.Header("precedence")) == "list" {
		return true
	}

	// Common no-reply sender conventions, plus bounce daemons.
	from := strings.ToLower(msg.From)
	for _, marker := range []string{"no-reply@", "noreply@", "donotreply@", "mailer-daemon@", "postmaster@"} {
		if strings.Contains(from, marker) {
			return true
		}
	}

	// Out-of-office and vacation responders that omit Auto-Submitted.
	subject := strings.ToLower(msg.Subject)
	for _, marker := range []string{"automatic reply:", "autoreply:", "out of office:"} {
		if strings.HasPrefix(subject, marker) {
			return true
		}
	}

	return false
}
