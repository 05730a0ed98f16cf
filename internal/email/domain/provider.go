package domain

import (
	"context"
	"time"
)

// MailProvider fetches pages of messages from an OAuth mailbox (Gmail).
type MailProvider interface {
	FetchMessagesSince(ctx context.Context, accessToken, refreshToken string, since time.Time, folders []string, pageToken string, pageSize int, onTokenRefresh TokenUpdateFunc) (*MessagePage, error)
	ValidateToken(ctx context.Context, accessToken, refreshToken string, onTokenRefresh TokenUpdateFunc) error
}

// IMAPProvider fetches messages from a password-authenticated IMAP account.
// IMAP has no server-side pagination, so the result is always a single page.
type IMAPProvider interface {
	FetchMessagesSince(ctx context.Context, server string, port int, username, password string, since time.Time, folders []string) (*MessagePage, error)
	ValidateCredentials(server string, port int, username, password string) error
}

// VectorIndex stores chunk embeddings and serves similarity queries.
type VectorIndex interface {
	UpsertChunks(ctx context.Context, userID, emailID, subject string, sentAt time.Time, contents []string, vectors [][]float32) error
	SearchChunks(ctx context.Context, userID string, queryVector []float32, limit int) ([]ChunkMatch, error)
	DeleteEmailChunks(ctx context.Context, emailID string) error
}

// ChunkMatch is one similarity hit from the vector index.
type ChunkMatch struct {
	EmailID    string
	ChunkIndex int
	Similarity float64
	Subject    string
	SentAt     time.Time
}
