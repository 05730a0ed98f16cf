package repository

import (
	"time"

	emaildomain "mailrecall-backend/internal/email/domain"
)

// SyncCursorRepository defines the interface for sync cursor operations
type SyncCursorRepository interface {
	// GetCursor returns the user's cursor, or nil when no run has completed.
	GetCursor(userID string) (*emaildomain.SyncCursor, error)
	// CommitCursor upserts the cursor after a run. LastSyncedAt never
	// regresses; a commit with an older timestamp keeps the stored value.
	CommitCursor(userID string, lastSyncedAt time.Time, status emaildomain.RunStatus, lastError string) error
	// MarkRunFailed records a run-fatal outcome without touching
	// LastSyncedAt.
	MarkRunFailed(userID string, lastError string) error
}
