package repository

import (
	"context"
	"fmt"

	"collab-sync/internal/models"

	"gorm.io/gorm"
)

/*
LEARNING: STEP HISTORY PERSISTENCE

Query patterns:
- AppendBatch: one row per accepted batch
- ListSince:   batches ending after a version (audit / history API)
- Prune:       keep only the newest N batches of a document
*/

// StepRepositoryImpl handles step batch storage
type StepRepositoryImpl struct {
	db *gorm.DB
}

// NewStepRepository creates a new step repository
func NewStepRepository(db *gorm.DB) *StepRepositoryImpl {
	return &StepRepositoryImpl{db: db}
}

// AppendBatch stores an accepted batch
func (r *StepRepositoryImpl) AppendBatch(ctx context.Context, batch *models.StepBatch) error {
	if err := r.db.WithContext(ctx).Create(batch).Error; err != nil {
		return fmt.Errorf("failed to store step batch: %w", err)
	}
	return nil
}

// ListSince returns batches of a document that contain steps after sinceVersion,
// oldest first.
func (r *StepRepositoryImpl) ListSince(ctx context.Context, documentID string, sinceVersion int, limit int) ([]*models.StepBatch, error) {
	var batches []*models.StepBatch

	err := r.db.WithContext(ctx).
		Where("document_id = ? AND start_version + cardinality(client_ids) > ?", documentID, sinceVersion).
		Order("start_version ASC, created_at ASC").
		Limit(limit).
		Find(&batches).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list step batches: %w", err)
	}

	return batches, nil
}

// Prune removes all but the newest keepCount batches of a document.
func (r *StepRepositoryImpl) Prune(ctx context.Context, documentID string, keepCount int) error {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.StepBatch{}).
		Where("document_id = ?", documentID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count step batches: %w", err)
	}

	if count <= int64(keepCount) {
		return nil
	}

	// Oldest batch that survives
	var cutoff models.StepBatch
	if err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("start_version ASC").
		Offset(int(count - int64(keepCount))).
		First(&cutoff).Error; err != nil {
		return fmt.Errorf("failed to find prune cutoff: %w", err)
	}

	result := r.db.WithContext(ctx).
		Where("document_id = ? AND start_version < ?", documentID, cutoff.StartVersion).
		Delete(&models.StepBatch{})
	if result.Error != nil {
		return fmt.Errorf("failed to prune step batches: %w", result.Error)
	}

	return nil
}
