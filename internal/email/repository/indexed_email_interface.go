package repository

import (
	"time"

	emaildomain "mailrecall-backend/internal/email/domain"
)

// IndexedEmailRepository defines the persistence operations for indexed emails
type IndexedEmailRepository interface {
	// Create inserts a new row; duplicate (user, external id) pairs surface
	// a fatal error because classification must dedup before creation.
	Create(email *emaildomain.IndexedEmail) error
	GetByID(id string) (*emaildomain.IndexedEmail, error)
	GetByIDs(ids []string) ([]*emaildomain.IndexedEmail, error)
	// ExistingExternalIDs loads the dedup key set for a user, once per run.
	ExistingExternalIDs(userID string) (map[string]struct{}, error)
	// SaveChunks persists the chunked text before the embedding stage runs.
	SaveChunks(id string, chunks emaildomain.ChunkList) error
	// MarkVectorized records durable embedding persistence (idempotent).
	MarkVectorized(id string, at time.Time) error
	// MarkProcessingError flags a permanently failed item; it is excluded
	// from embedding and from GetPendingVectorization.
	MarkProcessingError(id string) error
	// GetPendingVectorization lists unfiltered rows that still need
	// embeddings, oldest first.
	GetPendingVectorization(userID string, limit int) ([]*emaildomain.IndexedEmail, error)
	Stats(userID string) (*emaildomain.IndexStats, error)
}
