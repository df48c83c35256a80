package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

/*
LEARNING: STEP HISTORY

The in-memory step log only answers catch-up requests for its last few hundred
entries. Every accepted batch is also archived here so that the history of a
document survives restarts and can be audited:

  client submits steps → instance accepts → archive worker → step_batches row

Rows are written off the critical path and pruned per document.
*/

// StepBatch is one accepted batch of steps. ClientIDs[i] authored Steps[i].
type StepBatch struct {
	ID           string         `gorm:"type:varchar(27);primaryKey" json:"id"`
	DocumentID   string         `gorm:"type:varchar(255);not null;index:idx_batch_doc_version" json:"document_id"`
	StartVersion int            `gorm:"not null;index:idx_batch_doc_version" json:"start_version"`
	Steps        JSON           `gorm:"type:jsonb;not null" json:"steps"`
	ClientIDs    pq.StringArray `gorm:"type:text[];not null" json:"client_ids"`
	CreatedAt    time.Time      `json:"created_at"`
}

// BeforeCreate generates KSUID
func (b *StepBatch) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = ksuid.New().String()
	}
	return nil
}

// EndVersion is the document version after the batch.
func (b *StepBatch) EndVersion() int {
	return b.StartVersion + len(b.ClientIDs)
}

// TableName override
func (StepBatch) TableName() string {
	return "step_batches"
}
