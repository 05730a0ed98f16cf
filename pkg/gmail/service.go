package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	emaildomain "mailrecall-backend/internal/email/domain"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// TokenUpdateFunc is a callback function that handles token updates
type TokenUpdateFunc = emaildomain.TokenUpdateFunc

// Attachment text larger than this is skipped rather than fetched.
const maxAttachmentTextBytes = 256 * 1024

type Service struct {
	clientID     string
	clientSecret string
}

type notifyTokenSource struct {
	src      oauth2.TokenSource
	current  *oauth2.Token
	callback TokenUpdateFunc
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.callback != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := s.callback(t); err != nil {
			log.Printf("[Gmail] Failed to persist refreshed token: %v", err)
		}
	}
	return t, nil
}

func NewService(clientID, clientSecret string) *Service {
	return &Service{
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// GetGmailService creates Gmail service with user's access token
func (s *Service) GetGmailService(ctx context.Context, accessToken, refreshToken string, onTokenRefresh TokenUpdateFunc) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
	}

	// Only force refresh if we have a refresh token
	if refreshToken != "" {
		token.Expiry = time.Now()
	}

	config := &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		Endpoint:     google.Endpoint,
	}

	tokenSource := config.TokenSource(ctx, token)

	// Wrap token source to detect refreshes
	wrappedSource := &notifyTokenSource{
		src:      tokenSource,
		current:  token,
		callback: onTokenRefresh,
	}

	client := oauth2.NewClient(ctx, wrappedSource)

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, emaildomain.NewSyncError(emaildomain.ErrKindTransient, "gmail.new_service", err)
	}

	return srv, nil
}

// FetchMessagesSince returns one page of messages sent after the given
// cursor, ordered by send time ascending. Delivery is at-least-once: a
// message near the cursor boundary may be returned again on a replay; the
// caller's dedup handles that.
func (s *Service) FetchMessagesSince(ctx context.Context, accessToken, refreshToken string, since time.Time, folders []string, pageToken string, pageSize int, onTokenRefresh TokenUpdateFunc) (*emaildomain.MessagePage, error) {
	srv, err := s.GetGmailService(ctx, accessToken, refreshToken, onTokenRefresh)
	if err != nil {
		return nil, err
	}

	user := "me"

	q := fmt.Sprintf("after:%d", since.Unix())
	if len(folders) > 0 {
		labelParts := make([]string, 0, len(folders))
		for _, f := range folders {
			labelParts = append(labelParts, "label:"+f)
		}
		// Braces are Gmail query OR-grouping.
		q += " {" + strings.Join(labelParts, " ") + "}"
	}

	requestLimit := int64(pageSize)
	if requestLimit <= 0 {
		requestLimit = 100
	}
	if requestLimit > 500 {
		requestLimit = 500 // Gmail API maximum
	}

	listQuery := srv.Users.Messages.List(user).Q(q).MaxResults(requestLimit)
	if pageToken != "" {
		listQuery = listQuery.PageToken(pageToken)
	}

	listResp, err := listQuery.Context(ctx).Do()
	if err != nil {
		return nil, mapGmailError("gmail.list", err)
	}

	messages := make([]*emaildomain.MailboxMessage, 0, len(listResp.Messages))

	type fetchResult struct {
		msg *emaildomain.MailboxMessage
		err error
	}
	resultChan := make(chan fetchResult, len(listResp.Messages))

	// Fetch full messages in parallel with a bounded concurrency limit.
	semaphore := make(chan struct{}, 10)

	for _, m := range listResp.Messages {
		go func(msgID string) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			fullMsg, err := srv.Users.Messages.Get(user, msgID).Format("full").Context(ctx).Do()
			if err != nil {
				resultChan <- fetchResult{nil, mapGmailError("gmail.get", err)}
				return
			}

			msg := s.convertMessage(ctx, srv, fullMsg)
			resultChan <- fetchResult{msg, nil}
		}(m.Id)
	}

	var fetchErr error
	for i := 0; i < len(listResp.Messages); i++ {
		result := <-resultChan
		if result.err != nil {
			if emaildomain.IsAuthExpired(result.err) {
				return nil, result.err
			}
			fetchErr = result.err
			continue
		}
		if result.msg != nil {
			messages = append(messages, result.msg)
		}
	}

	// A page where every single fetch failed is not a usable page.
	if len(messages) == 0 && fetchErr != nil {
		return nil, fetchErr
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].SentAt.Before(messages[j].SentAt)
	})

	return &emaildomain.MessagePage{
		Messages:      messages,
		NextPageToken: listResp.NextPageToken,
	}, nil
}

// ValidateToken validates the access token by making a simple API call
func (s *Service) ValidateToken(ctx context.Context, accessToken, refreshToken string, onTokenRefresh TokenUpdateFunc) error {
	srv, err := s.GetGmailService(ctx, accessToken, refreshToken, onTokenRefresh)
	if err != nil {
		return err
	}

	if _, err := srv.Users.GetProfile("me").Context(ctx).Do(); err != nil {
		return emaildomain.NewSyncError(emaildomain.ErrKindAuthExpired, "gmail.profile", errors.New("invalid or expired access token"))
	}

	return nil
}

// mapGmailError tags Gmail API failures with the pipeline's error taxonomy.
func mapGmailError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return emaildomain.NewSyncError(emaildomain.ErrKindAuthExpired, op, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 401:
			return emaildomain.NewSyncError(emaildomain.ErrKindAuthExpired, op, err)
		case apiErr.Code == 403 && strings.Contains(strings.ToLower(apiErr.Message), "rate"):
			return emaildomain.NewSyncError(emaildomain.ErrKindTransient, op, err)
		case apiErr.Code == 403:
			return emaildomain.NewSyncError(emaildomain.ErrKindAuthExpired, op, err)
		case apiErr.Code == 429 || apiErr.Code >= 500:
			return emaildomain.NewSyncError(emaildomain.ErrKindTransient, op, err)
		default:
			return emaildomain.NewSyncError(emaildomain.ErrKindPermanent, op, err)
		}
	}

	if strings.Contains(err.Error(), "invalid_grant") {
		return emaildomain.NewSyncError(emaildomain.ErrKindAuthExpired, op, err)
	}

	// Network-level failures default to transient.
	return emaildomain.NewSyncError(emaildomain.ErrKindTransient, op, err)
}

// Helper functions

func (s *Service) convertMessage(ctx context.Context, srv *gmail.Service, msg *gmail.Message) *emaildomain.MailboxMessage {
	headers := make(map[string]string)
	for _, h := range msg.Payload.Headers {
		key := strings.ToLower(h.Name)
		if _, exists := headers[key]; !exists {
			headers[key] = h.Value
		}
	}

	toHeader := getHeader(msg.Payload.Headers, "To")
	toArray := []string{}
	if toHeader != "" {
		toArray = []string{toHeader}
	}

	plainBody, htmlBody := getEmailBody(msg.Payload)

	return &emaildomain.MailboxMessage{
		ExternalID:  msg.Id,
		ThreadID:    msg.ThreadId,
		From:        getHeader(msg.Payload.Headers, "From"),
		To:          toArray,
		Subject:     getHeader(msg.Payload.Headers, "Subject"),
		BodyText:    plainBody,
		BodyHTML:    htmlBody,
		Headers:     headers,
		Attachments: s.getAttachmentTexts(ctx, srv, msg),
		SentAt:      time.Unix(msg.InternalDate/1000, 0),
		Labels:      msg.LabelIds,
	}
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}

func getEmailBody(payload *gmail.MessagePart) (plain string, html string) {
	// If the payload itself is the body
	if payload.Body != nil && payload.Body.Data != "" && len(payload.Parts) == 0 {
		data, err := base64.URLEncoding.DecodeString(payload.Body.Data)
		if err == nil {
			if payload.MimeType == "text/html" {
				return "", string(data)
			}
			return string(data), ""
		}
	}

	var findBody func(parts []*gmail.MessagePart)
	findBody = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Filename != "" {
				continue // attachments handled separately
			}
			if part.MimeType == "text/html" && part.Body != nil && part.Body.Data != "" {
				if data, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
					html = string(data)
				}
			} else if part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
				if data, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
					plain = string(data)
				}
			}

			if len(part.Parts) > 0 {
				findBody(part.Parts)
			}
		}
	}

	findBody(payload.Parts)
	return plain, html
}

// getAttachmentTexts extracts the content of text-like attachments. Binary
// formats (PDF, images, archives) are skipped; extracting those is a
// provider-side capability this client does not attempt.
func (s *Service) getAttachmentTexts(ctx context.Context, srv *gmail.Service, msg *gmail.Message) []emaildomain.AttachmentText {
	var attachments []emaildomain.AttachmentText

	var findAttachments func(parts []*gmail.MessagePart)
	findAttachments = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
				if strings.HasPrefix(part.MimeType, "text/") && part.Body.Size <= maxAttachmentTextBytes {
					attachPart, err := srv.Users.Messages.Attachments.Get("me", msg.Id, part.Body.AttachmentId).Context(ctx).Do()
					if err == nil {
						if data, decodeErr := base64.URLEncoding.DecodeString(attachPart.Data); decodeErr == nil {
							attachments = append(attachments, emaildomain.AttachmentText{
								Name:     part.Filename,
								MimeType: part.MimeType,
								Text:     string(data),
							})
						}
					} else {
						log.Printf("[Gmail] Skipping attachment %s of %s: %v", part.Filename, msg.Id, err)
					}
				}
			}

			if len(part.Parts) > 0 {
				findAttachments(part.Parts)
			}
		}
	}

	if msg.Payload != nil {
		findAttachments(msg.Payload.Parts)
	}
	return attachments
}
