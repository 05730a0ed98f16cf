package repository

import (
	"errors"
	"fmt"
	"time"

	emaildomain "mailrecall-backend/internal/email/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// indexedEmailRepository implements IndexedEmailRepository interface
type indexedEmailRepository struct {
	db *gorm.DB
}

// NewIndexedEmailRepository creates a new instance of indexedEmailRepository
func NewIndexedEmailRepository(db *gorm.DB) IndexedEmailRepository {
	return &indexedEmailRepository{
		db: db,
	}
}

func (r *indexedEmailRepository) Create(email *emaildomain.IndexedEmail) error {
	if email.ID == "" {
		email.ID = uuid.New().String()
	}
	now := time.Now()
	email.CreatedAt = now
	email.UpdatedAt = now
	if email.FilterReason == "" {
		email.FilterReason = emaildomain.FilterReasonNone
	}
	if err := r.db.Create(email).Error; err != nil {
		return emaildomain.NewSyncError(emaildomain.ErrKindFatal, "indexed_email.create", err)
	}
	return nil
}

func (r *indexedEmailRepository) GetByID(id string) (*emaildomain.IndexedEmail, error) {
	var email emaildomain.IndexedEmail
	err := r.db.Where("id = ?", id).First(&email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, emaildomain.NewSyncError(emaildomain.ErrKindFatal, "indexed_email.get", err)
	}
	return &email, nil
}

func (r *indexedEmailRepository) GetByIDs(ids []string) ([]*emaildomain.IndexedEmail, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var emails []*emaildomain.IndexedEmail
	if err := r.db.Where("id IN ?", ids).Find(&emails).Error; err != nil {
		return nil, emaildomain.NewSyncError(emaildomain.ErrKindFatal, "indexed_email.get_by_ids", err)
	}
	return emails, nil
}

func (r *indexedEmailRepository) ExistingExternalIDs(userID string) (map[string]struct{}, error) {
	var ids []string
	err := r.db.Model(&emaildomain.IndexedEmail{}).
		Where("user_id = ?", userID).
		Pluck("external_id", &ids).Error
	if err != nil {
		return nil, emaildomain.NewSyncError(emaildomain.ErrKindFatal, "indexed_email.existing_ids", err)
	}

	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func (r *indexedEmailRepository) SaveChunks(id string, chunks emaildomain.ChunkList) error {
	err := r.db.Model(&emaildomain.IndexedEmail{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"text_chunks": chunks,
			"chunk_count": len(chunks),
			"updated_at":  time.Now(),
		}).Error
	if err != nil {
		return emaildomain.NewSyncError(emaildomain.ErrKindFatal, "indexed_email.save_chunks", err)
	}
	return nil
}

func (r *indexedEmailRepository) MarkVectorized(id string, at time.Time) error {
	err := r.db.Model(&emaildomain.IndexedEmail{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"vectorized_at": at,
			"updated_at":    time.Now(),
		}).Error
	if err != nil {
		return emaildomain.NewSyncError(emaildomain.ErrKindFatal, "indexed_email.mark_vectorized", err)
	}
	return nil
}

func (r *indexedEmailRepository) MarkProcessingError(id string) error {
	err := r.db.Model(&emaildomain.IndexedEmail{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_filtered":   true,
			"filter_reason": emaildomain.FilterReasonProcessingError,
			"updated_at":    time.Now(),
		}).Error
	if err != nil {
		return emaildomain.NewSyncError(emaildomain.ErrKindFatal, "indexed_email.mark_processing_error", err)
	}
	return nil
}

func (r *indexedEmailRepository) GetPendingVectorization(userID string, limit int) ([]*emaildomain.IndexedEmail, error) {
	if limit <= 0 {
		limit = 50
	}
	var emails []*emaildomain.IndexedEmail
	err := r.db.Where("user_id = ? AND vectorized_at IS NULL AND is_filtered = ?", userID, false).
		Order("sent_at asc").
		Limit(limit).
		Find(&emails).Error
	if err != nil {
		return nil, emaildomain.NewSyncError(emaildomain.ErrKindFatal, "indexed_email.pending", err)
	}
	return emails, nil
}

func (r *indexedEmailRepository) Stats(userID string) (*emaildomain.IndexStats, error) {
	stats := &emaildomain.IndexStats{}

	base := r.db.Model(&emaildomain.IndexedEmail{}).Where("user_id = ? AND is_filtered = ?", userID, false)
	if err := base.Count(&stats.Total).Error; err != nil {
		return nil, fmt.Errorf("failed to count indexed emails: %w", err)
	}

	err := r.db.Model(&emaildomain.IndexedEmail{}).
		Where("user_id = ? AND is_filtered = ? AND vectorized_at IS NOT NULL", userID, false).
		Count(&stats.Vectorized).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count vectorized emails: %w", err)
	}

	stats.Pending = stats.Total - stats.Vectorized
	return stats, nil
}
