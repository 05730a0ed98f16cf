package domain

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// FilterReason explains why a message was excluded from indexing.
type FilterReason string

const (
	FilterReasonNone            FilterReason = "none"
	FilterReasonMarketing       FilterReason = "marketing"
	FilterReasonAutomated       FilterReason = "automated"
	FilterReasonProcessingError FilterReason = "processing_error"
)

// TextChunk is one bounded segment of a message's combined text.
type TextChunk struct {
	Index      int    `json:"index"`
	Content    string `json:"content"`
	IsComplete bool   `json:"is_complete"`
}

// ChunkList is a custom type to handle a JSON chunk array in GORM
type ChunkList []TextChunk

// Value implements driver.Valuer
func (c ChunkList) Value() (driver.Value, error) {
	if len(c) == 0 {
		return "[]", nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner
func (c *ChunkList) Scan(value interface{}) error {
	if value == nil {
		*c = ChunkList{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}
	if len(bytes) == 0 {
		*c = ChunkList{}
		return nil
	}
	return json.Unmarshal(bytes, c)
}

// IndexedEmail is the pipeline's record of one mailbox message. ExternalID is
// the dedup key; VectorizedAt being set is the sole source of truth for
// whether the item is searchable. Rows are never deleted by the pipeline.
type IndexedEmail struct {
	ID           string       `json:"id" gorm:"primaryKey"`
	UserID       string       `json:"user_id" gorm:"uniqueIndex:idx_user_external_unique;not null"`
	ExternalID   string       `json:"external_id" gorm:"uniqueIndex:idx_user_external_unique;not null"`
	ThreadID     string       `json:"thread_id"`
	Sender       string       `json:"sender"`
	Subject      string       `json:"subject"`
	SentAt       time.Time    `json:"sent_at" gorm:"index"`
	IsFiltered   bool         `json:"is_filtered"`
	FilterReason FilterReason `json:"filter_reason" gorm:"default:none"`
	TextChunks   ChunkList    `json:"text_chunks" gorm:"type:text"`
	ChunkCount   int          `json:"chunk_count"`
	VectorizedAt *time.Time   `json:"vectorized_at"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (IndexedEmail) TableName() string {
	return "indexed_emails"
}

// IndexStats summarizes a user's index state.
type IndexStats struct {
	Total      int64 `json:"total"`
	Vectorized int64 `json:"vectorized"`
	Pending    int64 `json:"pending"`
}
