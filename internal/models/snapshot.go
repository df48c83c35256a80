package models

import (
	"time"
)

// DocumentSnapshot is the durable mirror of a document instance: its portable
// JSON form at a given version.
type DocumentSnapshot struct {
	DocumentID string    `gorm:"type:varchar(255);primaryKey" json:"document_id"`
	Doc        JSON      `gorm:"type:jsonb;not null" json:"doc"`
	Version    int       `gorm:"not null;default:0" json:"version"`
	UpdatedBy  string    `gorm:"type:varchar(255)" json:"updated_by,omitempty"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName override
func (DocumentSnapshot) TableName() string {
	return "document_snapshots"
}
