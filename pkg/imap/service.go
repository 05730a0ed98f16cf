package imap

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"time"

	emaildomain "mailrecall-backend/internal/email/domain"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
)

// Attachment text larger than this is skipped rather than buffered.
const maxAttachmentTextBytes = 256 * 1024

// Service fetches messages over IMAP for accounts that are not Gmail. The
// connection is per-call; IMAP servers drop idle connections too eagerly to
// make pooling worth the bookkeeping.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// FetchMessagesSince returns messages received after the given cursor across
// the requested folders, ordered by send time ascending. IMAP SEARCH has no
// server-side pagination, so the whole window comes back as a single page
// with an empty next-page token.
func (s *Service) FetchMessagesSince(ctx context.Context, server string, port int, username, password string, since time.Time, folders []string) (*emaildomain.MessagePage, error) {
	addr := fmt.Sprintf("%s:%d", server, port)

	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return nil, emaildomain.NewSyncError(emaildomain.ErrKindTransient, "imap.dial", err)
	}
	defer c.Logout()

	if err := c.Login(username, password); err != nil {
		return nil, emaildomain.NewSyncError(emaildomain.ErrKindAuthExpired, "imap.login", err)
	}

	if len(folders) == 0 {
		folders = []string{"INBOX"}
	}

	var messages []*emaildomain.MailboxMessage
	for _, folder := range folders {
		if err := ctx.Err(); err != nil {
			return nil, emaildomain.NewSyncError(emaildomain.ErrKindTransient, "imap.fetch", err)
		}

		folderMsgs, err := s.fetchFolder(c, folder, since)
		if err != nil {
			log.Printf("[IMAP] Skipping folder %s: %v", folder, err)
			continue
		}
		messages = append(messages, folderMsgs...)
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].SentAt.Before(messages[j].SentAt)
	})

	return &emaildomain.MessagePage{Messages: messages}, nil
}

// ValidateCredentials checks that the server accepts a login.
func (s *Service) ValidateCredentials(server string, port int, username, password string) error {
	addr := fmt.Sprintf("%s:%d", server, port)

	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return emaildomain.NewSyncError(emaildomain.ErrKindTransient, "imap.dial", err)
	}
	defer c.Logout()

	if err := c.Login(username, password); err != nil {
		return emaildomain.NewSyncError(emaildomain.ErrKindAuthExpired, "imap.login", err)
	}
	return nil
}

func (s *Service) fetchFolder(c *client.Client, folder string, since time.Time) ([]*emaildomain.MailboxMessage, error) {
	mbox, err := c.Select(folder, true)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", folder, err)
	}

	criteria := imap.NewSearchCriteria()
	// IMAP SINCE has day granularity; the caller's dedup absorbs the overlap.
	criteria.Since = since.Truncate(24 * time.Hour)

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", folder, err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	msgChan := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, msgChan)
	}()

	var messages []*emaildomain.MailboxMessage
	for msg := range msgChan {
		converted := s.convertMessage(folder, mbox.UidValidity, msg, section, since)
		if converted != nil {
			messages = append(messages, converted)
		}
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch %s: %w", folder, err)
	}
	return messages, nil
}

func (s *Service) convertMessage(folder string, uidValidity uint32, msg *imap.Message, section *imap.BodySectionName, since time.Time) *emaildomain.MailboxMessage {
	if msg == nil {
		return nil
	}

	sentAt := msg.InternalDate
	if msg.Envelope != nil && !msg.Envelope.Date.IsZero() {
		sentAt = msg.Envelope.Date
	}
	// SEARCH SINCE is day-granular; apply the precise cutoff here.
	if !sentAt.After(since) {
		return nil
	}

	result := &emaildomain.MailboxMessage{
		// UIDVALIDITY scopes the UID so a rebuilt mailbox cannot collide
		// with old external IDs.
		ExternalID: fmt.Sprintf("%s:%d:%d", folder, uidValidity, msg.Uid),
		Headers:    make(map[string]string),
		SentAt:     sentAt,
		Labels:     []string{folder},
	}

	if msg.Envelope != nil {
		result.Subject = msg.Envelope.Subject
		result.From = formatAddresses(msg.Envelope.From)
		for _, to := range msg.Envelope.To {
			result.To = append(result.To, to.Address())
		}
		if len(msg.Envelope.MessageId) > 0 {
			result.Headers["message-id"] = msg.Envelope.MessageId
		}
	}

	body := msg.GetBody(section)
	if body == nil {
		return result
	}

	mr, err := mail.CreateReader(body)
	if err != nil {
		log.Printf("[IMAP] Failed to parse message %s: %v", result.ExternalID, err)
		return result
	}

	fields := mr.Header.Fields()
	for fields.Next() {
		key := strings.ToLower(fields.Key())
		if _, exists := result.Headers[key]; !exists {
			result.Headers[key], _ = fields.Text()
		}
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("[IMAP] Failed to read part of %s: %v", result.ExternalID, err)
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			data, readErr := io.ReadAll(io.LimitReader(part.Body, maxAttachmentTextBytes))
			if readErr != nil {
				continue
			}
			switch ct {
			case "text/html":
				if result.BodyHTML == "" {
					result.BodyHTML = string(data)
				}
			case "text/plain", "":
				if result.BodyText == "" {
					result.BodyText = string(data)
				}
			}
		case *mail.AttachmentHeader:
			ct, _, _ := h.ContentType()
			if !strings.HasPrefix(ct, "text/") {
				continue
			}
			filename, _ := h.Filename()
			data, readErr := io.ReadAll(io.LimitReader(part.Body, maxAttachmentTextBytes))
			if readErr != nil {
				continue
			}
			result.Attachments = append(result.Attachments, emaildomain.AttachmentText{
				Name:     filename,
				MimeType: ct,
				Text:     string(data),
			})
		}
	}

	return result
}

func formatAddresses(addrs []*imap.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.PersonalName != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.PersonalName, a.Address()))
		} else {
			parts = append(parts, a.Address())
		}
	}
	return strings.Join(parts, ", ")
}
