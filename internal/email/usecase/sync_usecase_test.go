package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	authdomain "mailrecall-backend/internal/auth/domain"
	emaildomain "mailrecall-backend/internal/email/domain"
	"mailrecall-backend/pkg/config"
	"mailrecall-backend/pkg/crypto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- fakes ----

type fakeEmailRepo struct {
	mu         sync.Mutex
	rows       map[string]*emaildomain.IndexedEmail
	byExternal map[string]string
	seq        int
}

func newFakeEmailRepo() *fakeEmailRepo {
	return &fakeEmailRepo{
		rows:       make(map[string]*emaildomain.IndexedEmail),
		byExternal: make(map[string]string),
	}
}

// Dedup is scoped per user, matching the composite unique index.
func externalKey(userID, externalID string) string {
	return userID + "|" + externalID
}

func (f *fakeEmailRepo) Create(email *emaildomain.IndexedEmail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.byExternal[externalKey(email.UserID, email.ExternalID)]; dup {
		return emaildomain.NewSyncError(emaildomain.ErrKindFatal, "indexed_email.create", errors.New("duplicate external id"))
	}
	if email.ID == "" {
		f.seq++
		email.ID = fmt.Sprintf("row-%d", f.seq)
	}
	cp := *email
	f.rows[email.ID] = &cp
	f.byExternal[externalKey(email.UserID, email.ExternalID)] = email.ID
	return nil
}

func (f *fakeEmailRepo) GetByID(id string) (*emaildomain.IndexedEmail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (f *fakeEmailRepo) GetByIDs(ids []string) ([]*emaildomain.IndexedEmail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*emaildomain.IndexedEmail
	for _, id := range ids {
		if row, ok := f.rows[id]; ok {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeEmailRepo) ExistingExternalIDs(userID string) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := make(map[string]struct{})
	for _, row := range f.rows {
		if row.UserID == userID {
			set[row.ExternalID] = struct{}{}
		}
	}
	return set, nil
}

func (f *fakeEmailRepo) SaveChunks(id string, chunks emaildomain.ChunkList) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return errors.New("row not found")
	}
	row.TextChunks = chunks
	row.ChunkCount = len(chunks)
	return nil
}

func (f *fakeEmailRepo) MarkVectorized(id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return errors.New("row not found")
	}
	row.VectorizedAt = &at
	return nil
}

func (f *fakeEmailRepo) MarkProcessingError(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return errors.New("row not found")
	}
	row.IsFiltered = true
	row.FilterReason = emaildomain.FilterReasonProcessingError
	return nil
}

func (f *fakeEmailRepo) GetPendingVectorization(userID string, limit int) ([]*emaildomain.IndexedEmail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*emaildomain.IndexedEmail
	for _, row := range f.rows {
		if row.UserID == userID && row.VectorizedAt == nil && !row.IsFiltered {
			cp := *row
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeEmailRepo) Stats(userID string) (*emaildomain.IndexStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &emaildomain.IndexStats{}
	for _, row := range f.rows {
		if row.UserID != userID || row.IsFiltered {
			continue
		}
		stats.Total++
		if row.VectorizedAt != nil {
			stats.Vectorized++
		}
	}
	stats.Pending = stats.Total - stats.Vectorized
	return stats, nil
}

func (f *fakeEmailRepo) byExternalID(ext string) *emaildomain.IndexedEmail {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.ExternalID == ext {
			cp := *row
			return &cp
		}
	}
	return nil
}

type fakeCursorRepo struct {
	mu     sync.Mutex
	cursor *emaildomain.SyncCursor
	failed int
}

func (f *fakeCursorRepo) GetCursor(userID string) (*emaildomain.SyncCursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cursor == nil {
		return nil, nil
	}
	cp := *f.cursor
	return &cp, nil
}

func (f *fakeCursorRepo) CommitCursor(userID string, lastSyncedAt time.Time, status emaildomain.RunStatus, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cursor == nil {
		f.cursor = &emaildomain.SyncCursor{UserID: userID}
	}
	if lastSyncedAt.After(f.cursor.LastSyncedAt) {
		f.cursor.LastSyncedAt = lastSyncedAt
	}
	f.cursor.LastRunStatus = status
	f.cursor.LastError = lastError
	return nil
}

func (f *fakeCursorRepo) MarkRunFailed(userID string, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed++
	if f.cursor == nil {
		f.cursor = &emaildomain.SyncCursor{UserID: userID}
	}
	f.cursor.LastRunStatus = emaildomain.RunStatusFailed
	f.cursor.LastError = lastError
	return nil
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*authdomain.User
}

func newFakeUserRepo(users ...*authdomain.User) *fakeUserRepo {
	m := make(map[string]*authdomain.User)
	for _, u := range users {
		m[u.ID] = u
	}
	return &fakeUserRepo{users: m}
}

func (f *fakeUserRepo) Create(user *authdomain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return nil
}

func (f *fakeUserRepo) FindByEmail(email string) (*authdomain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUserRepo) FindByID(id string) (*authdomain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id], nil
}

func (f *fakeUserRepo) Update(user *authdomain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return nil
}

func (f *fakeUserRepo) ListWithMailbox() ([]*authdomain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*authdomain.User
	for _, u := range f.users {
		if u.HasMailbox() {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeUserRepo) SaveRefreshToken(token *authdomain.RefreshToken) error     { return nil }
func (f *fakeUserRepo) FindRefreshToken(t string) (*authdomain.RefreshToken, error) {
	return nil, nil
}
func (f *fakeUserRepo) DeleteRefreshToken(token string) error                 { return nil }
func (f *fakeUserRepo) DeleteRefreshTokensByUser(userID string) error         { return nil }
func (f *fakeUserRepo) ReplaceRefreshToken(t *authdomain.RefreshToken) error  { return nil }

type fakeMailProvider struct {
	mu    sync.Mutex
	pages []*emaildomain.MessagePage
	errs  []error // returned before pages, one per call
	calls int
	since []time.Time
	block chan struct{} // when set, first call blocks until closed
}

func (f *fakeMailProvider) FetchMessagesSince(ctx context.Context, accessToken, refreshToken string, since time.Time, folders []string, pageToken string, pageSize int, onTokenRefresh emaildomain.TokenUpdateFunc) (*emaildomain.MessagePage, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	f.since = append(f.since, since)
	block := f.block
	f.mu.Unlock()

	if block != nil && call == 0 {
		<-block
	}

	if call < len(f.errs) && f.errs[call] != nil {
		return nil, f.errs[call]
	}

	pageIdx := call - len(f.errs)
	if pageIdx >= len(f.pages) {
		return &emaildomain.MessagePage{}, nil
	}
	return f.pages[pageIdx], nil
}

func (f *fakeMailProvider) ValidateToken(ctx context.Context, accessToken, refreshToken string, onTokenRefresh emaildomain.TokenUpdateFunc) error {
	return nil
}

type fakeIMAPProvider struct {
	page     *emaildomain.MessagePage
	err      error
	lastUser string
	lastPass string
}

func (f *fakeIMAPProvider) FetchMessagesSince(ctx context.Context, server string, port int, username, password string, since time.Time, folders []string) (*emaildomain.MessagePage, error) {
	f.lastUser = username
	f.lastPass = password
	if f.err != nil {
		return nil, f.err
	}
	if f.page == nil {
		return &emaildomain.MessagePage{}, nil
	}
	return f.page, nil
}

func (f *fakeIMAPProvider) ValidateCredentials(server string, port int, username, password string) error {
	return nil
}

type fakeVectorIndex struct {
	mu      sync.Mutex
	upserts map[string][]string // emailID -> chunk contents
	matches []emaildomain.ChunkMatch
	err     error
}

func newFakeVectorIndex() *fakeVectorIndex {
	return &fakeVectorIndex{upserts: make(map[string][]string)}
}

func (f *fakeVectorIndex) UpsertChunks(ctx context.Context, userID, emailID, subject string, sentAt time.Time, contents []string, vectors [][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if len(contents) != len(vectors) {
		return errors.New("chunk/vector count mismatch")
	}
	f.upserts[emailID] = contents
	return nil
}

func (f *fakeVectorIndex) SearchChunks(ctx context.Context, userID string, queryVector []float32, limit int) ([]emaildomain.ChunkMatch, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.matches) {
		return f.matches[:limit], nil
	}
	return f.matches, nil
}

func (f *fakeVectorIndex) DeleteEmailChunks(ctx context.Context, emailID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.upserts, emailID)
	return nil
}

type fakeEmbedder struct {
	mu          sync.Mutex
	failMatch   string // EmbedBatch fails when any text contains this
	failAlways  bool
	batchCalls  int
	embedCalls  int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embedCalls++
	if f.failAlways {
		return nil, errors.New("embedding backend down")
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	if f.failAlways {
		return nil, errors.New("embedding backend down")
	}
	if f.failMatch != "" {
		for _, t := range texts {
			if strings.Contains(t, f.failMatch) {
				return nil, errors.New("embedding backend rejected batch")
			}
		}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

type fakeGovernor struct {
	mu    sync.Mutex
	waits map[string]int
}

func newFakeGovernor() *fakeGovernor {
	return &fakeGovernor{waits: make(map[string]int)}
}

func (f *fakeGovernor) Wait(ctx context.Context, key string, window time.Duration, maxCalls int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits[key]++
	return ctx.Err()
}

// ---- harness ----

type syncFixture struct {
	uc        EmailSyncUsecase
	emailRepo *fakeEmailRepo
	cursors   *fakeCursorRepo
	users     *fakeUserRepo
	mail      *fakeMailProvider
	imap      *fakeIMAPProvider
	index     *fakeVectorIndex
	embedder  *fakeEmbedder
	governor  *fakeGovernor
	cfg       *config.Config
}

func testConfig() *config.Config {
	return &config.Config{
		EncryptionKey:          "test-encryption-key",
		SyncLookbackDays:       30,
		SyncFolders:            []string{"INBOX"},
		SyncMaxMessages:        500,
		SyncPageSize:           100,
		SyncWorkers:            2,
		MaxChunkSize:           2000,
		MaxEmbedTokens:         10000,
		MailboxRateWindow:      time.Minute,
		MailboxRateMax:         120,
		EmbeddingRateWindow:    time.Minute,
		EmbeddingRateMax:       300,
		SearchDefaultLimit:     10,
		SearchDefaultThreshold: 0.0,
	}
}

func googleUser() *authdomain.User {
	return &authdomain.User{
		ID:           "user-1",
		Email:        "me@example.com",
		Provider:     "google",
		AccessToken:  "access",
		RefreshToken: "refresh",
	}
}

func newSyncFixture(t *testing.T, user *authdomain.User) *syncFixture {
	t.Helper()
	fetchRetryBaseWait = time.Millisecond

	f := &syncFixture{
		emailRepo: newFakeEmailRepo(),
		cursors:   &fakeCursorRepo{},
		users:     newFakeUserRepo(user),
		mail:      &fakeMailProvider{},
		imap:      &fakeIMAPProvider{},
		index:     newFakeVectorIndex(),
		embedder:  &fakeEmbedder{},
		governor:  newFakeGovernor(),
		cfg:       testConfig(),
	}
	f.uc = NewEmailSyncUsecase(f.emailRepo, f.cursors, f.users, f.mail, f.imap, f.index, f.embedder, f.governor, f.cfg)
	return f
}

func personalMsg(id, body string, sentAt time.Time) *emaildomain.MailboxMessage {
	return &emaildomain.MailboxMessage{
		ExternalID: id,
		From:       "alice@example.com",
		Subject:    "Subject " + id,
		BodyText:   body,
		Headers:    map[string]string{},
		SentAt:     sentAt,
	}
}

// ---- tests ----

func TestSyncUser_FirstRunIndexesAndVectorizes(t *testing.T) {
	f := newSyncFixture(t, googleUser())
	base := time.Now().Add(-time.Hour)
	f.mail.pages = []*emaildomain.MessagePage{{
		Messages: []*emaildomain.MailboxMessage{
			personalMsg("m1", "First message about the project deadline.", base),
			personalMsg("m2", "Second message with meeting notes.", base.Add(time.Minute)),
			personalMsg("m3", "Third message confirming travel plans.", base.Add(2*time.Minute)),
		},
	}}

	summary, err := f.uc.SyncUser(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 0, summary.Filtered)
	assert.Equal(t, 0, summary.Failed)

	for _, ext := range []string{"m1", "m2", "m3"} {
		row := f.emailRepo.byExternalID(ext)
		require.NotNil(t, row, ext)
		assert.NotNil(t, row.VectorizedAt, ext)
		assert.NotEmpty(t, row.TextChunks, ext)
		assert.Contains(t, f.index.upserts, row.ID)
	}

	require.NotNil(t, f.cursors.cursor)
	assert.Equal(t, emaildomain.RunStatusSuccess, f.cursors.cursor.LastRunStatus)
	assert.WithinDuration(t, base.Add(2*time.Minute), f.cursors.cursor.LastSyncedAt, time.Second)

	// First run uses the lookback default.
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -30), summary.FromDate, time.Minute)
}

func TestSyncUser_SkipsDuplicatesAndFilters(t *testing.T) {
	f := newSyncFixture(t, googleUser())
	base := time.Now().Add(-time.Hour)

	// m1 already indexed by an earlier run.
	require.NoError(t, f.emailRepo.Create(&emaildomain.IndexedEmail{
		UserID: "user-1", ExternalID: "m1", SentAt: base,
	}))

	marketing := personalMsg("m2", "Huge spring sale!", base.Add(time.Minute))
	marketing.Headers["list-unsubscribe"] = "<https://example.com/unsub>"

	f.mail.pages = []*emaildomain.MessagePage{{
		Messages: []*emaildomain.MailboxMessage{
			personalMsg("m1", "already there", base),
			marketing,
			personalMsg("m3", "Actual personal mail.", base.Add(2*time.Minute)),
		},
	}}

	summary, err := f.uc.SyncUser(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Filtered)

	// Filtered rows are persisted but never embedded.
	row := f.emailRepo.byExternalID("m2")
	require.NotNil(t, row)
	assert.True(t, row.IsFiltered)
	assert.Equal(t, emaildomain.FilterReasonMarketing, row.FilterReason)
	assert.Nil(t, row.VectorizedAt)
	assert.NotContains(t, f.index.upserts, row.ID)
}

// Two accounts on the same IMAP server can produce identical external IDs
// (folder:uidvalidity:uid); dedup is per user, not global.
func TestSyncUser_SameExternalIDAcrossUsers(t *testing.T) {
	userA := googleUser()
	userB := &authdomain.User{
		ID:           "user-2",
		Email:        "other@example.com",
		Provider:     "google",
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
	}
	f := newSyncFixture(t, userA)
	require.NoError(t, f.users.Create(userB))

	base := time.Now().Add(-time.Hour)
	pageFor := func() *emaildomain.MessagePage {
		return &emaildomain.MessagePage{Messages: []*emaildomain.MailboxMessage{
			personalMsg("INBOX:7:100", "Same UID on a shared server.", base),
		}}
	}
	f.mail.pages = []*emaildomain.MessagePage{pageFor(), pageFor()}

	summaryA, err := f.uc.SyncUser(context.Background(), "user-1")
	require.NoError(t, err)
	summaryB, err := f.uc.SyncUser(context.Background(), "user-2")
	require.NoError(t, err)

	assert.Equal(t, 1, summaryA.Processed)
	assert.Equal(t, 1, summaryB.Processed)

	owners := map[string]bool{}
	f.emailRepo.mu.Lock()
	for _, row := range f.emailRepo.rows {
		if row.ExternalID == "INBOX:7:100" {
			owners[row.UserID] = true
		}
	}
	f.emailRepo.mu.Unlock()
	assert.Equal(t, map[string]bool{"user-1": true, "user-2": true}, owners)
}

func TestSyncUser_SecondRunIsIdempotent(t *testing.T) {
	f := newSyncFixture(t, googleUser())
	base := time.Now().Add(-time.Hour)
	page := &emaildomain.MessagePage{Messages: []*emaildomain.MailboxMessage{
		personalMsg("m1", "Hello there.", base),
		personalMsg("m2", "Second one.", base.Add(time.Minute)),
	}}
	f.mail.pages = []*emaildomain.MessagePage{page}

	_, err := f.uc.SyncUser(context.Background(), "user-1")
	require.NoError(t, err)
	firstCursor := f.cursors.cursor.LastSyncedAt

	// Provider replays the same window.
	f.mail.mu.Lock()
	f.mail.calls = 0
	f.mail.mu.Unlock()

	summary, err := f.uc.SyncUser(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, firstCursor, f.cursors.cursor.LastSyncedAt)
	assert.Equal(t, firstCursor, summary.FromDate)
}

func TestSyncUser_EmptyMailboxLeavesCursorUnchanged(t *testing.T) {
	f := newSyncFixture(t, googleUser())
	stored := time.Now().Add(-2 * time.Hour).Truncate(time.Second)
	f.cursors.cursor = &emaildomain.SyncCursor{
		UserID:        "user-1",
		LastSyncedAt:  stored,
		LastRunStatus: emaildomain.RunStatusSuccess,
	}

	// Provider has nothing newer than the cursor.
	summary, err := f.uc.SyncUser(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 0, summary.Filtered)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, stored, summary.FromDate)

	assert.Equal(t, stored, f.cursors.cursor.LastSyncedAt)
	assert.Equal(t, emaildomain.RunStatusSuccess, f.cursors.cursor.LastRunStatus)
}

func TestSyncUser_EmbedFailureLeavesPendingThenRetries(t *testing.T) {
	f := newSyncFixture(t, googleUser())
	base := time.Now().Add(-time.Hour)
	f.embedder.failMatch = "unlucky"
	f.mail.pages = []*emaildomain.MessagePage{{
		Messages: []*emaildomain.MailboxMessage{
			personalMsg("m1", "Fine message.", base),
			personalMsg("m2", "This one is unlucky today.", base.Add(time.Minute)),
		},
	}}

	summary, err := f.uc.SyncUser(context.Background(), "user-1")
	require.NoError(t, err)

	// Both rows are persisted; the failed embed only delays searchability.
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, emaildomain.RunStatusPartial, f.cursors.cursor.LastRunStatus)

	pendingRow := f.emailRepo.byExternalID("m2")
	require.NotNil(t, pendingRow)
	assert.Nil(t, pendingRow.VectorizedAt)
	assert.NotEmpty(t, pendingRow.TextChunks)

	// The cursor still covers the pending message.
	assert.WithinDuration(t, base.Add(time.Minute), f.cursors.cursor.LastSyncedAt, time.Second)

	// Backend recovers; retry drains the backlog from the stored chunks.
	f.embedder.mu.Lock()
	f.embedder.failMatch = ""
	f.embedder.mu.Unlock()

	count, err := f.uc.RetryPending(context.Background(), "user-1", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	pendingRow = f.emailRepo.byExternalID("m2")
	assert.NotNil(t, pendingRow.VectorizedAt)
	assert.Contains(t, f.index.upserts, pendingRow.ID)
}

func TestSyncUser_OversizedMessageExcluded(t *testing.T) {
	f := newSyncFixture(t, googleUser())
	f.cfg.MaxEmbedTokens = 100
	base := time.Now().Add(-time.Hour)
	f.mail.pages = []*emaildomain.MessagePage{{
		Messages: []*emaildomain.MailboxMessage{
			personalMsg("m1", strings.Repeat("very long content ", 200), base),
			personalMsg("m2", "Short and fine.", base.Add(time.Minute)),
		},
	}}

	summary, err := f.uc.SyncUser(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, emaildomain.RunStatusPartial, f.cursors.cursor.LastRunStatus)

	row := f.emailRepo.byExternalID("m1")
	require.NotNil(t, row)
	assert.True(t, row.IsFiltered)
	assert.Equal(t, emaildomain.FilterReasonProcessingError, row.FilterReason)

	// The failed item is durably recorded, so the cursor moves past it.
	assert.WithinDuration(t, base.Add(time.Minute), f.cursors.cursor.LastSyncedAt, time.Second)
}

func TestSyncUser_AuthExpiredLeavesCursorUntouched(t *testing.T) {
	f := newSyncFixture(t, googleUser())
	f.cursors.cursor = &emaildomain.SyncCursor{
		UserID:       "user-1",
		LastSyncedAt: time.Now().Add(-2 * time.Hour),
	}
	stored := f.cursors.cursor.LastSyncedAt
	f.mail.errs = []error{
		emaildomain.NewSyncError(emaildomain.ErrKindAuthExpired, "gmail.list", errors.New("401")),
	}

	_, err := f.uc.SyncUser(context.Background(), "user-1")
	require.Error(t, err)
	assert.True(t, emaildomain.IsAuthExpired(err))

	assert.Equal(t, emaildomain.RunStatusFailed, f.cursors.cursor.LastRunStatus)
	assert.Equal(t, stored, f.cursors.cursor.LastSyncedAt)
	assert.Equal(t, 1, f.cursors.failed)
}

func TestSyncUser_TransientFetchRetried(t *testing.T) {
	f := newSyncFixture(t, googleUser())
	base := time.Now().Add(-time.Hour)
	transient := emaildomain.NewSyncError(emaildomain.ErrKindTransient, "gmail.list", errors.New("503"))
	f.mail.errs = []error{transient, transient}
	f.mail.pages = []*emaildomain.MessagePage{{
		Messages: []*emaildomain.MailboxMessage{personalMsg("m1", "Made it through.", base)},
	}}

	summary, err := f.uc.SyncUser(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 3, f.mail.calls)
}

func TestSyncUser_TransientFetchGivesUpAfterRetries(t *testing.T) {
	f := newSyncFixture(t, googleUser())
	transient := emaildomain.NewSyncError(emaildomain.ErrKindTransient, "gmail.list", errors.New("503"))
	f.mail.errs = []error{transient, transient, transient}

	_, err := f.uc.SyncUser(context.Background(), "user-1")
	require.Error(t, err)
	assert.Equal(t, emaildomain.ErrKindTransient, emaildomain.KindOf(err))
	assert.Equal(t, fetchRetryAttempts, f.mail.calls)
	assert.Equal(t, 1, f.cursors.failed)
}

func TestSyncUser_SingleFlight(t *testing.T) {
	f := newSyncFixture(t, googleUser())
	block := make(chan struct{})
	f.mail.block = block

	done := make(chan error, 1)
	go func() {
		_, err := f.uc.SyncUser(context.Background(), "user-1")
		done <- err
	}()

	// Wait until the first run is inside the provider call.
	require.Eventually(t, func() bool {
		f.mail.mu.Lock()
		defer f.mail.mu.Unlock()
		return f.mail.calls > 0
	}, time.Second, 5*time.Millisecond)

	_, err := f.uc.SyncUser(context.Background(), "user-1")
	assert.ErrorIs(t, err, emaildomain.ErrSyncInProgress)

	close(block)
	require.NoError(t, <-done)

	// Finished runs release the guard.
	f.mail.mu.Lock()
	f.mail.calls = 0
	f.mail.block = nil
	f.mail.mu.Unlock()
	_, err = f.uc.SyncUser(context.Background(), "user-1")
	assert.NoError(t, err)
}

func TestSyncUser_PaginatedFetch(t *testing.T) {
	f := newSyncFixture(t, googleUser())
	base := time.Now().Add(-time.Hour)
	f.mail.pages = []*emaildomain.MessagePage{
		{
			Messages:      []*emaildomain.MailboxMessage{personalMsg("m1", "Page one.", base)},
			NextPageToken: "page-2",
		},
		{
			Messages: []*emaildomain.MailboxMessage{personalMsg("m2", "Page two.", base.Add(time.Minute))},
		},
	}

	summary, err := f.uc.SyncUser(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 2, f.mail.calls)
	// Every page acquires a mailbox rate slot.
	assert.Equal(t, 2, f.governor.waits["mailbox:user-1"])
}

func TestSyncUser_ImapAccount(t *testing.T) {
	encrypted, err := crypto.Encrypt("imap-secret", "test-encryption-key")
	require.NoError(t, err)

	user := &authdomain.User{
		ID:           "user-1",
		Email:        "me@example.com",
		Provider:     "email",
		ImapServer:   "mail.example.com",
		ImapPort:     993,
		ImapPassword: encrypted,
	}
	f := newSyncFixture(t, user)
	base := time.Now().Add(-time.Hour)
	f.imap.page = &emaildomain.MessagePage{
		Messages: []*emaildomain.MailboxMessage{personalMsg("INBOX:1:42", "Over IMAP.", base)},
	}

	summary, err := f.uc.SyncUser(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, "imap-secret", f.imap.lastPass)
	assert.Equal(t, "me@example.com", f.imap.lastUser) // falls back to account email
}

func TestSyncUser_NoMailboxConnected(t *testing.T) {
	f := newSyncFixture(t, &authdomain.User{ID: "user-1", Email: "me@example.com", Provider: "email"})

	_, err := f.uc.SyncUser(context.Background(), "user-1")
	require.Error(t, err)
	assert.Equal(t, emaildomain.ErrKindPermanent, emaildomain.KindOf(err))
}

func TestGetSyncStatus(t *testing.T) {
	f := newSyncFixture(t, googleUser())

	status, err := f.uc.GetSyncStatus("user-1")
	require.NoError(t, err)
	assert.False(t, status.InProgress)
	assert.Nil(t, status.LastSyncedAt)

	base := time.Now().Add(-time.Hour)
	f.cursors.cursor = &emaildomain.SyncCursor{
		UserID:        "user-1",
		LastSyncedAt:  base,
		LastRunStatus: emaildomain.RunStatusSuccess,
	}

	status, err = f.uc.GetSyncStatus("user-1")
	require.NoError(t, err)
	require.NotNil(t, status.LastSyncedAt)
	assert.Equal(t, base, *status.LastSyncedAt)
	assert.Equal(t, emaildomain.RunStatusSuccess, status.LastRunStatus)
}
