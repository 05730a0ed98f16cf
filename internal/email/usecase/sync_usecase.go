package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	authdomain "mailrecall-backend/internal/auth/domain"
	authrepo "mailrecall-backend/internal/auth/repository"
	emaildomain "mailrecall-backend/internal/email/domain"
	"mailrecall-backend/internal/email/repository"
	"mailrecall-backend/pkg/config"
	"mailrecall-backend/pkg/crypto"
	"mailrecall-backend/pkg/textproc"

	"golang.org/x/oauth2"
)

const fetchRetryAttempts = 3

// Overridden in tests to keep backoff fast.
var fetchRetryBaseWait = time.Second

// emailSyncUsecase implements EmailSyncUsecase interface
type emailSyncUsecase struct {
	emailRepo    repository.IndexedEmailRepository
	cursorRepo   repository.SyncCursorRepository
	userRepo     authrepo.UserRepository
	mailProvider emaildomain.MailProvider
	imapProvider emaildomain.IMAPProvider
	vectorIndex  emaildomain.VectorIndex
	embedder     EmbeddingProvider
	governor     RateGovernor
	config       *config.Config

	// Single-flight guard: one sync run per user at a time.
	mu          sync.Mutex
	activeSyncs map[string]struct{}
}

// NewEmailSyncUsecase creates a new instance of emailSyncUsecase
func NewEmailSyncUsecase(
	emailRepo repository.IndexedEmailRepository,
	cursorRepo repository.SyncCursorRepository,
	userRepo authrepo.UserRepository,
	mailProvider emaildomain.MailProvider,
	imapProvider emaildomain.IMAPProvider,
	vectorIndex emaildomain.VectorIndex,
	embedder EmbeddingProvider,
	governor RateGovernor,
	cfg *config.Config,
) EmailSyncUsecase {
	return &emailSyncUsecase{
		emailRepo:    emailRepo,
		cursorRepo:   cursorRepo,
		userRepo:     userRepo,
		mailProvider: mailProvider,
		imapProvider: imapProvider,
		vectorIndex:  vectorIndex,
		embedder:     embedder,
		governor:     governor,
		config:       cfg,
		activeSyncs:  make(map[string]struct{}),
	}
}

func (u *emailSyncUsecase) beginRun(userID string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, active := u.activeSyncs[userID]; active {
		return false
	}
	u.activeSyncs[userID] = struct{}{}
	return true
}

func (u *emailSyncUsecase) endRun(userID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.activeSyncs, userID)
}

func (u *emailSyncUsecase) isRunning(userID string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, active := u.activeSyncs[userID]
	return active
}

func (u *emailSyncUsecase) SyncUser(ctx context.Context, userID string) (*SyncSummary, error) {
	if !u.beginRun(userID) {
		return nil, emaildomain.ErrSyncInProgress
	}
	defer u.endRun(userID)

	user, err := u.userRepo.FindByID(userID)
	if err != nil {
		return nil, emaildomain.NewSyncError(emaildomain.ErrKindFatal, "sync.load_user", err)
	}
	if user == nil {
		return nil, emaildomain.NewSyncError(emaildomain.ErrKindPermanent, "sync.load_user", errors.New("user not found"))
	}
	if !user.HasMailbox() {
		return nil, emaildomain.NewSyncError(emaildomain.ErrKindPermanent, "sync.load_user", errors.New("no mailbox connected"))
	}

	since, err := u.resolveSince(userID)
	if err != nil {
		return nil, err
	}

	existing, err := u.emailRepo.ExistingExternalIDs(userID)
	if err != nil {
		return nil, u.failRun(userID, err)
	}

	messages, err := u.fetchAll(ctx, user, since)
	if err != nil {
		return nil, u.failRun(userID, err)
	}

	log.Printf("[Sync] User %s: fetched %d messages since %s", userID, len(messages), since.Format(time.RFC3339))

	summary := &SyncSummary{FromDate: since}

	// Classification and row creation run sequentially so dedup sees every
	// row created earlier in the same run.
	type pipelineItem struct {
		row *emaildomain.IndexedEmail
		msg *emaildomain.MailboxMessage
	}
	var items []pipelineItem
	maxSentAt := since

	for _, msg := range messages {
		decision := ClassifyMessage(msg, existing)
		if decision.IsDuplicate {
			summary.Skipped++
			continue
		}

		row := &emaildomain.IndexedEmail{
			UserID:       userID,
			ExternalID:   msg.ExternalID,
			ThreadID:     msg.ThreadID,
			Sender:       msg.From,
			Subject:      msg.Subject,
			SentAt:       msg.SentAt,
			IsFiltered:   decision.IsFiltered,
			FilterReason: decision.Reason,
		}
		if err := u.emailRepo.Create(row); err != nil {
			return summary, u.failRun(userID, err)
		}
		existing[msg.ExternalID] = struct{}{}
		if msg.SentAt.After(maxSentAt) {
			maxSentAt = msg.SentAt
		}

		if decision.IsFiltered {
			summary.Filtered++
			continue
		}
		items = append(items, pipelineItem{row: row, msg: msg})
	}

	// Chunking and embedding fan out to a bounded pool. A failure in one
	// message never aborts the others.
	var (
		resultMu  sync.Mutex
		pending   int
		lastError string
		runFatal  error
	)

	jobs := make(chan pipelineItem)
	var wg sync.WaitGroup

	workerCount := u.config.SyncWorkers
	if workerCount <= 0 {
		workerCount = 1
	}
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				resultMu.Lock()
				aborted := runFatal != nil
				resultMu.Unlock()
				if aborted {
					continue
				}

				outcome, err := u.vectorize(ctx, userID, item.row, item.msg)

				resultMu.Lock()
				switch outcome {
				case vectorizeOK:
					summary.Processed++
				case vectorizePending:
					summary.Processed++
					pending++
				case vectorizeFailed:
					summary.Failed++
					if err != nil {
						lastError = err.Error()
					}
				case vectorizeAborted:
					if runFatal == nil {
						runFatal = err
					}
				}
				resultMu.Unlock()
			}
		}()
	}

	for _, item := range items {
		jobs <- item
	}
	close(jobs)
	wg.Wait()

	if runFatal != nil {
		return summary, u.failRun(userID, runFatal)
	}

	status := emaildomain.RunStatusSuccess
	if summary.Failed > 0 || pending > 0 {
		status = emaildomain.RunStatusPartial
	}
	if err := u.cursorRepo.CommitCursor(userID, maxSentAt, status, lastError); err != nil {
		return summary, err
	}

	log.Printf("[Sync] User %s: processed=%d filtered=%d skipped=%d failed=%d pending=%d",
		userID, summary.Processed, summary.Filtered, summary.Skipped, summary.Failed, pending)

	return summary, nil
}

// failRun records a run-fatal outcome without moving the cursor, then
// returns the original error.
func (u *emailSyncUsecase) failRun(userID string, err error) error {
	if markErr := u.cursorRepo.MarkRunFailed(userID, err.Error()); markErr != nil {
		log.Printf("[Sync] Failed to record run failure for %s: %v", userID, markErr)
	}
	return err
}

// resolveSince returns the cursor to fetch from: the stored value, or the
// configured lookback window on a first run.
func (u *emailSyncUsecase) resolveSince(userID string) (time.Time, error) {
	cursor, err := u.cursorRepo.GetCursor(userID)
	if err != nil {
		return time.Time{}, err
	}
	if cursor != nil && !cursor.LastSyncedAt.IsZero() {
		return cursor.LastSyncedAt, nil
	}

	lookback := u.config.SyncLookbackDays
	if lookback <= 0 {
		lookback = 30
	}
	return time.Now().AddDate(0, 0, -lookback), nil
}

func (u *emailSyncUsecase) fetchAll(ctx context.Context, user *authdomain.User, since time.Time) ([]*emaildomain.MailboxMessage, error) {
	var (
		messages []*emaildomain.MailboxMessage
		err      error
	)
	if user.HasGoogleMailbox() {
		messages, err = u.fetchGmail(ctx, user, since)
	} else {
		messages, err = u.fetchImap(ctx, user, since)
	}
	if err != nil {
		return nil, err
	}

	// Pages arrive individually sorted; enforce global ascending order.
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].SentAt.Before(messages[j].SentAt)
	})

	if max := u.config.SyncMaxMessages; max > 0 && len(messages) > max {
		// Oldest first: keep the cursor contiguous, the rest arrives on the
		// next run.
		messages = messages[:max]
	}
	return messages, nil
}

func (u *emailSyncUsecase) fetchGmail(ctx context.Context, user *authdomain.User, since time.Time) ([]*emaildomain.MailboxMessage, error) {
	onTokenRefresh := func(token *oauth2.Token) error {
		user.AccessToken = token.AccessToken
		if token.RefreshToken != "" {
			user.RefreshToken = token.RefreshToken
		}
		return u.userRepo.Update(user)
	}

	var all []*emaildomain.MailboxMessage
	pageToken := ""
	for {
		if err := u.governor.Wait(ctx, "mailbox:"+user.ID, u.config.MailboxRateWindow, u.config.MailboxRateMax); err != nil {
			return nil, emaildomain.NewSyncError(emaildomain.ErrKindTransient, "sync.rate_wait", err)
		}

		page, err := u.fetchGmailPage(ctx, user, since, pageToken, onTokenRefresh)
		if err != nil {
			return nil, err
		}

		all = append(all, page.Messages...)
		if page.NextPageToken == "" || (u.config.SyncMaxMessages > 0 && len(all) >= u.config.SyncMaxMessages) {
			return all, nil
		}
		pageToken = page.NextPageToken
	}
}

// fetchGmailPage retries transient failures with exponential backoff. Auth
// and permanent failures surface immediately.
func (u *emailSyncUsecase) fetchGmailPage(ctx context.Context, user *authdomain.User, since time.Time, pageToken string, onTokenRefresh emaildomain.TokenUpdateFunc) (*emaildomain.MessagePage, error) {
	var lastErr error
	for attempt := 0; attempt < fetchRetryAttempts; attempt++ {
		if attempt > 0 {
			wait := fetchRetryBaseWait << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, emaildomain.NewSyncError(emaildomain.ErrKindTransient, "gmail.fetch", ctx.Err())
			case <-time.After(wait):
			}
		}

		page, err := u.mailProvider.FetchMessagesSince(ctx, user.AccessToken, user.RefreshToken, since, u.config.SyncFolders, pageToken, u.config.SyncPageSize, onTokenRefresh)
		if err == nil {
			return page, nil
		}
		if emaildomain.KindOf(err) != emaildomain.ErrKindTransient {
			return nil, err
		}
		lastErr = err
		log.Printf("[Sync] Transient fetch failure for %s (attempt %d): %v", user.ID, attempt+1, err)
	}
	return nil, lastErr
}

func (u *emailSyncUsecase) fetchImap(ctx context.Context, user *authdomain.User, since time.Time) ([]*emaildomain.MailboxMessage, error) {
	if err := u.governor.Wait(ctx, "mailbox:"+user.ID, u.config.MailboxRateWindow, u.config.MailboxRateMax); err != nil {
		return nil, emaildomain.NewSyncError(emaildomain.ErrKindTransient, "sync.rate_wait", err)
	}

	password, err := crypto.Decrypt(user.ImapPassword, u.config.EncryptionKey)
	if err != nil {
		return nil, emaildomain.NewSyncError(emaildomain.ErrKindAuthExpired, "imap.decrypt", err)
	}

	username := user.ImapUsername
	if username == "" {
		username = user.Email
	}

	page, err := u.imapProvider.FetchMessagesSince(ctx, user.ImapServer, user.ImapPort, username, password, since, u.config.SyncFolders)
	if err != nil {
		return nil, err
	}
	return page.Messages, nil
}

type vectorizeOutcome int

const (
	vectorizeOK vectorizeOutcome = iota
	vectorizePending
	vectorizeFailed
	vectorizeAborted
)

// vectorize runs the chunk/embed/index steps for one indexed email. Pending
// means the row is persisted with chunks but embedding failed; the retry
// worker picks it up later. Aborted means the persistence backend itself
// failed and the run must stop.
func (u *emailSyncUsecase) vectorize(ctx context.Context, userID string, row *emaildomain.IndexedEmail, msg *emaildomain.MailboxMessage) (vectorizeOutcome, error) {
	combined := buildCombinedText(msg)

	if err := textproc.ValidateSize(combined, u.config.MaxEmbedTokens); err != nil {
		log.Printf("[Sync] Excluding email %s: %v", row.ExternalID, err)
		if markErr := u.emailRepo.MarkProcessingError(row.ID); markErr != nil {
			return vectorizeAborted, markErr
		}
		return vectorizeFailed, err
	}

	chunks := textproc.ChunkText(combined, u.config.MaxChunkSize)
	chunkList := make(emaildomain.ChunkList, 0, len(chunks))
	contents := make([]string, 0, len(chunks))
	for _, c := range chunks {
		chunkList = append(chunkList, emaildomain.TextChunk{
			Index:      c.Index,
			Content:    c.Content,
			IsComplete: c.IsComplete,
		})
		contents = append(contents, c.Content)
	}

	if err := u.emailRepo.SaveChunks(row.ID, chunkList); err != nil {
		return vectorizeAborted, err
	}

	if err := u.governor.Wait(ctx, "embed:"+userID, u.config.EmbeddingRateWindow, u.config.EmbeddingRateMax); err != nil {
		return vectorizePending, nil
	}

	vectors, err := u.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		// Stays pending: VectorizedAt remains NULL and the retry worker
		// re-attempts it.
		log.Printf("[Sync] Embedding failed for %s, left pending: %v", row.ExternalID, err)
		return vectorizePending, nil
	}

	if err := u.vectorIndex.UpsertChunks(ctx, userID, row.ID, row.Subject, row.SentAt, contents, vectors); err != nil {
		log.Printf("[Sync] Vector upsert failed for %s, left pending: %v", row.ExternalID, err)
		return vectorizePending, nil
	}

	if err := u.emailRepo.MarkVectorized(row.ID, time.Now()); err != nil {
		return vectorizeAborted, err
	}
	return vectorizeOK, nil
}

// buildCombinedText normalizes the message body and text attachments into
// the single document the chunker splits.
func buildCombinedText(msg *emaildomain.MailboxMessage) string {
	body := msg.BodyText
	if strings.TrimSpace(body) == "" && msg.BodyHTML != "" {
		body = textproc.HTMLToText(msg.BodyHTML)
	} else {
		body = textproc.Normalize(body)
	}

	attachments := make([]string, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		text := att.Text
		if att.MimeType == "text/html" {
			text = textproc.HTMLToText(text)
		} else {
			text = textproc.Normalize(text)
		}
		attachments = append(attachments, text)
	}

	return textproc.Combine(body, attachments)
}

func (u *emailSyncUsecase) RetryPending(ctx context.Context, userID string, limit int) (int, error) {
	rows, err := u.emailRepo.GetPendingVectorization(userID, limit)
	if err != nil {
		return 0, err
	}

	vectorized := 0
	for _, row := range rows {
		if len(row.TextChunks) == 0 {
			// Created before chunking completed; the next sync run of the
			// same window will not recreate it, so exclude it.
			log.Printf("[Sync] Pending email %s has no chunks, excluding", row.ExternalID)
			if err := u.emailRepo.MarkProcessingError(row.ID); err != nil {
				return vectorized, err
			}
			continue
		}

		if err := u.governor.Wait(ctx, "embed:"+userID, u.config.EmbeddingRateWindow, u.config.EmbeddingRateMax); err != nil {
			return vectorized, emaildomain.NewSyncError(emaildomain.ErrKindTransient, "sync.rate_wait", err)
		}

		contents := make([]string, 0, len(row.TextChunks))
		for _, c := range row.TextChunks {
			contents = append(contents, c.Content)
		}

		vectors, err := u.embedder.EmbedBatch(ctx, contents)
		if err != nil {
			log.Printf("[Sync] Retry embedding failed for %s: %v", row.ExternalID, err)
			continue
		}
		if err := u.vectorIndex.UpsertChunks(ctx, userID, row.ID, row.Subject, row.SentAt, contents, vectors); err != nil {
			log.Printf("[Sync] Retry upsert failed for %s: %v", row.ExternalID, err)
			continue
		}
		if err := u.emailRepo.MarkVectorized(row.ID, time.Now()); err != nil {
			return vectorized, err
		}
		vectorized++
	}

	return vectorized, nil
}

func (u *emailSyncUsecase) GetSyncStatus(userID string) (*SyncStatus, error) {
	status := &SyncStatus{
		InProgress: u.isRunning(userID),
	}

	cursor, err := u.cursorRepo.GetCursor(userID)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		if !cursor.LastSyncedAt.IsZero() {
			t := cursor.LastSyncedAt
			status.LastSyncedAt = &t
		}
		status.LastRunStatus = cursor.LastRunStatus
		status.LastError = cursor.LastError
	}
	return status, nil
}

func (u *emailSyncUsecase) Stats(userID string) (*emaildomain.IndexStats, error) {
	return u.emailRepo.Stats(userID)
}

func (u *emailSyncUsecase) SemanticSearch(ctx context.Context, userID, query string, limit int, threshold float64) ([]*SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query is empty")
	}
	if limit <= 0 {
		limit = u.config.SearchDefaultLimit
	}
	if threshold < 0 {
		threshold = u.config.SearchDefaultThreshold
	}

	if err := u.governor.Wait(ctx, "embed:"+userID, u.config.EmbeddingRateWindow, u.config.EmbeddingRateMax); err != nil {
		return nil, emaildomain.NewSyncError(emaildomain.ErrKindTransient, "search.rate_wait", err)
	}

	queryVector, err := u.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// Oversample at the chunk level: several chunks of one email can land
	// in the top results and collapse into a single hit.
	matches, err := u.vectorIndex.SearchChunks(ctx, userID, queryVector, limit*4)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if len(matches) == 0 {
		return []*SearchResult{}, nil
	}

	// Best chunk per email.
	best := make(map[string]emaildomain.ChunkMatch)
	for _, m := range matches {
		if m.Similarity < threshold {
			continue
		}
		if prev, ok := best[m.EmailID]; !ok || m.Similarity > prev.Similarity {
			best[m.EmailID] = m
		}
	}
	if len(best) == 0 {
		return []*SearchResult{}, nil
	}

	ids := make([]string, 0, len(best))
	for id := range best {
		ids = append(ids, id)
	}
	emails, err := u.emailRepo.GetByIDs(ids)
	if err != nil {
		return nil, err
	}

	results := make([]*SearchResult, 0, len(emails))
	for _, email := range emails {
		if email.IsFiltered || email.VectorizedAt == nil {
			// Stale vector entry; Postgres is the source of truth.
			continue
		}
		m := best[email.ID]
		results = append(results, &SearchResult{
			Email:      email,
			Similarity: m.Similarity,
			ChunkIndex: m.ChunkIndex,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Email.SentAt.After(results[j].Email.SentAt)
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
