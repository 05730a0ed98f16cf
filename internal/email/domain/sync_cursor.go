package domain

import "time"

// RunStatus is the outcome of the most recent sync run.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// SyncCursor marks the boundary between already-synced and not-yet-synced
// messages for one user. LastSyncedAt only advances after every message in a
// batch is durably persisted; replays from any earlier value are safe because
// dedup is idempotent on ExternalID.
type SyncCursor struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	UserID        string    `json:"user_id" gorm:"uniqueIndex;not null"`
	LastSyncedAt  time.Time `json:"last_synced_at"`
	LastRunStatus RunStatus `json:"last_run_status"`
	LastError     string    `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (SyncCursor) TableName() string {
	return "sync_cursors"
}
