package usecase

import (
	"context"
	"testing"
	"time"

	emaildomain "mailrecall-backend/internal/email/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedVectorized(t *testing.T, f *syncFixture, ext, subject string, sentAt time.Time) *emaildomain.IndexedEmail {
	t.Helper()
	now := time.Now()
	row := &emaildomain.IndexedEmail{
		UserID:       "user-1",
		ExternalID:   ext,
		Subject:      subject,
		SentAt:       sentAt,
		VectorizedAt: &now,
		TextChunks: emaildomain.ChunkList{
			{Index: 0, Content: "chunk content", IsComplete: true},
		},
	}
	require.NoError(t, f.emailRepo.Create(row))
	return row
}

func TestSemanticSearch_RanksByBestChunkPerEmail(t *testing.T) {
	f := newSyncFixture(t, googleUser())
	base := time.Now().Add(-24 * time.Hour)

	a := seedVectorized(t, f, "m1", "Trip itinerary", base)
	b := seedVectorized(t, f, "m2", "Team retro notes", base.Add(time.Hour))

	// Two chunks of the same email plus one of another: the duplicate
	// email collapses into its best chunk.
	f.index.matches = []emaildomain.ChunkMatch{
		{EmailID: a.ID, ChunkIndex: 2, Similarity: 0.91},
		{EmailID: b.ID, ChunkIndex: 0, Similarity: 0.85},
		{EmailID: a.ID, ChunkIndex: 0, Similarity: 0.70},
	}

	results, err := f.uc.SemanticSearch(context.Background(), "user-1", "flight to berlin", 10, 0)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, a.ID, results[0].Email.ID)
	assert.Equal(t, 2, results[0].ChunkIndex)
	assert.InDelta(t, 0.91, results[0].Similarity, 1e-9)
	assert.Equal(t, b.ID, results[1].Email.ID)

	assert.Equal(t, 1, f.embedder.embedCalls)
	assert.Equal(t, 1, f.governor.waits["embed:user-1"])
}

func TestSemanticSearch_ThresholdFilters(t *testing.T) {
	f := newSyncFixture(t, googleUser())
	a := seedVectorized(t, f, "m1", "A", time.Now())
	b := seedVectorized(t, f, "m2", "B", time.Now())

	f.index.matches = []emaildomain.ChunkMatch{
		{EmailID: a.ID, Similarity: 0.9},
		{EmailID: b.ID, Similarity: 0.3},
	}

	results, err := f.uc.SemanticSearch(context.Background(), "user-1", "query", 10, 0.5)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, a.ID, results[0].Email.ID)
}

func TestSemanticSearch_EmptyResultIsNotAnError(t *testing.T) {
	f := newSyncFixture(t, googleUser())

	results, err := f.uc.SemanticSearch(context.Background(), "user-1", "anything at all", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSemanticSearch_EmptyQueryRejected(t *testing.T) {
	f := newSyncFixture(t, googleUser())

	_, err := f.uc.SemanticSearch(context.Background(), "user-1", "   ", 10, 0)
	assert.Error(t, err)
	assert.Equal(t, 0, f.embedder.embedCalls)
}

func TestSemanticSearch_StaleVectorEntriesDropped(t *testing.T) {
	f := newSyncFixture(t, googleUser())

	// Row exists but was never marked vectorized; a leftover index entry
	// must not surface it.
	row := &emaildomain.IndexedEmail{
		UserID:     "user-1",
		ExternalID: "m1",
		Subject:    "Ghost",
		SentAt:     time.Now(),
	}
	require.NoError(t, f.emailRepo.Create(row))

	f.index.matches = []emaildomain.ChunkMatch{
		{EmailID: row.ID, Similarity: 0.99},
		{EmailID: "no-such-row", Similarity: 0.95},
	}

	results, err := f.uc.SemanticSearch(context.Background(), "user-1", "ghost", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSemanticSearch_TieBreaksByRecency(t *testing.T) {
	f := newSyncFixture(t, googleUser())
	older := seedVectorized(t, f, "m1", "Older", time.Now().Add(-48*time.Hour))
	newer := seedVectorized(t, f, "m2", "Newer", time.Now().Add(-1*time.Hour))

	f.index.matches = []emaildomain.ChunkMatch{
		{EmailID: older.ID, Similarity: 0.8},
		{EmailID: newer.ID, Similarity: 0.8},
	}

	results, err := f.uc.SemanticSearch(context.Background(), "user-1", "query", 10, 0)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, newer.ID, results[0].Email.ID)
	assert.Equal(t, older.ID, results[1].Email.ID)
}

func TestStats(t *testing.T) {
	f := newSyncFixture(t, googleUser())
	seedVectorized(t, f, "m1", "A", time.Now())
	require.NoError(t, f.emailRepo.Create(&emaildomain.IndexedEmail{
		UserID: "user-1", ExternalID: "m2", SentAt: time.Now(),
	}))

	stats, err := f.uc.Stats("user-1")
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Vectorized)
	assert.Equal(t, int64(1), stats.Pending)
}
