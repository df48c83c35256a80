package repository

import (
	"context"
	"errors"
	"fmt"

	"collab-sync/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SnapshotRepositoryImpl stores document snapshots in PostgreSQL.
type SnapshotRepositoryImpl struct {
	db *gorm.DB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *gorm.DB) *SnapshotRepositoryImpl {
	return &SnapshotRepositoryImpl{db: db}
}

// Load returns the stored snapshot or ErrNotFound.
func (r *SnapshotRepositoryImpl) Load(ctx context.Context, documentID string) (*Snapshot, error) {
	var row models.DocumentSnapshot

	err := r.db.WithContext(ctx).First(&row, "document_id = ?", documentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	return &Snapshot{Doc: row.Doc.Raw(), Version: row.Version}, nil
}

// Save upserts the snapshot. The acting identity, if any, is recorded as updated_by.
func (r *SnapshotRepositoryImpl) Save(ctx context.Context, documentID string, snap Snapshot) error {
	row := &models.DocumentSnapshot{
		DocumentID: documentID,
		Doc:        models.JSON(snap.Doc),
		Version:    snap.Version,
	}
	if id, ok := models.IdentityFrom(ctx); ok {
		row.UpdatedBy = id.UserID
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"doc", "version", "updated_by", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}
