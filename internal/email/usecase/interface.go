package usecase

import (
	"context"
	"time"

	emaildomain "mailrecall-backend/internal/email/domain"
)

// SyncSummary reports the outcome of one sync run.
type SyncSummary struct {
	Processed int       `json:"processed"` // newly indexed, queued for vectorization
	Filtered  int       `json:"filtered"`  // stored but excluded from the index
	Skipped   int       `json:"skipped"`   // duplicates of already-indexed messages
	Failed    int       `json:"failed"`    // excluded after a processing error
	FromDate  time.Time `json:"from_date"` // cursor the run started from
}

// SyncStatus is the persisted state of a user's most recent run.
type SyncStatus struct {
	LastSyncedAt  *time.Time            `json:"last_synced_at,omitempty"`
	LastRunStatus emaildomain.RunStatus `json:"last_run_status,omitempty"`
	LastError     string                `json:"last_error,omitempty"`
	InProgress    bool                  `json:"in_progress"`
}

// SearchResult is one email-level hit from semantic search.
type SearchResult struct {
	Email      *emaildomain.IndexedEmail `json:"email"`
	Similarity float64                   `json:"similarity"`
	ChunkIndex int                       `json:"chunk_index"` // best-matching chunk
}

// EmailSyncUsecase defines the ingestion and search use cases
type EmailSyncUsecase interface {
	// SyncUser runs one full sync for the user. Returns
	// emaildomain.ErrSyncInProgress when a run is already active.
	SyncUser(ctx context.Context, userID string) (*SyncSummary, error)
	// RetryPending re-attempts vectorization for indexed emails whose
	// embedding step previously failed. Returns the number vectorized.
	RetryPending(ctx context.Context, userID string, limit int) (int, error)
	// SemanticSearch embeds the query and returns matching emails ranked by
	// similarity. An empty result is not an error.
	SemanticSearch(ctx context.Context, userID, query string, limit int, threshold float64) ([]*SearchResult, error)
	GetSyncStatus(userID string) (*SyncStatus, error)
	Stats(userID string) (*emaildomain.IndexStats, error)
}

// EmbeddingProvider turns text into vectors. Matches pkg/embedding.Provider.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// RateGovernor gates calls to external services. Matches
// pkg/ratelimit.Governor.
type RateGovernor interface {
	Wait(ctx context.Context, key string, window time.Duration, maxCalls int) error
}
