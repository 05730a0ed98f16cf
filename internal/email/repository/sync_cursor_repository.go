package repository

import (
	"errors"
	"time"

	emaildomain "mailrecall-backend/internal/email/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// syncCursorRepository implements SyncCursorRepository interface
type syncCursorRepository struct {
	db *gorm.DB
}

// NewSyncCursorRepository creates a new instance of syncCursorRepository
func NewSyncCursorRepository(db *gorm.DB) SyncCursorRepository {
	return &syncCursorRepository{
		db: db,
	}
}

func (r *syncCursorRepository) GetCursor(userID string) (*emaildomain.SyncCursor, error) {
	var cursor emaildomain.SyncCursor
	err := r.db.Where("user_id = ?", userID).First(&cursor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, emaildomain.NewSyncError(emaildomain.ErrKindFatal, "sync_cursor.get", err)
	}
	return &cursor, nil
}

func (r *syncCursorRepository) CommitCursor(userID string, lastSyncedAt time.Time, status emaildomain.RunStatus, lastError string) error {
	now := time.Now()

	var cursor emaildomain.SyncCursor
	err := r.db.Where("user_id = ?", userID).First(&cursor).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		cursor = emaildomain.SyncCursor{
			ID:            uuid.New().String(),
			UserID:        userID,
			LastSyncedAt:  lastSyncedAt,
			LastRunStatus: status,
			LastError:     lastError,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if createErr := r.db.Create(&cursor).Error; createErr != nil {
			return emaildomain.NewSyncError(emaildomain.ErrKindFatal, "sync_cursor.create", createErr)
		}
		return nil
	} else if err != nil {
		return emaildomain.NewSyncError(emaildomain.ErrKindFatal, "sync_cursor.get", err)
	}

	// Monotonic: never move the cursor backwards.
	if lastSyncedAt.After(cursor.LastSyncedAt) {
		cursor.LastSyncedAt = lastSyncedAt
	}
	cursor.LastRunStatus = status
	cursor.LastError = lastError
	cursor.UpdatedAt = now

	if saveErr := r.db.Save(&cursor).Error; saveErr != nil {
		return emaildomain.NewSyncError(emaildomain.ErrKindFatal, "sync_cursor.save", saveErr)
	}
	return nil
}

func (r *syncCursorRepository) MarkRunFailed(userID string, lastError string) error {
	now := time.Now()

	var cursor emaildomain.SyncCursor
	err := r.db.Where("user_id = ?", userID).First(&cursor).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		cursor = emaildomain.SyncCursor{
			ID:            uuid.New().String(),
			UserID:        userID,
			LastRunStatus: emaildomain.RunStatusFailed,
			LastError:     lastError,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if createErr := r.db.Create(&cursor).Error; createErr != nil {
			return emaildomain.NewSyncError(emaildomain.ErrKindFatal, "sync_cursor.create", createErr)
		}
		return nil
	} else if err != nil {
		return emaildomain.NewSyncError(emaildomain.ErrKindFatal, "sync_cursor.get", err)
	}

	cursor.LastRunStatus = emaildomain.RunStatusFailed
	cursor.LastError = lastError
	cursor.UpdatedAt = now

	if saveErr := r.db.Save(&cursor).Error; saveErr != nil {
		return emaildomain.NewSyncError(emaildomain.ErrKindFatal, "sync_cursor.save", saveErr)
	}
	return nil
}
