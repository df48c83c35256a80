package repository

import (
	"encoding/json"
	"errors"
)

// ErrNotFound is returned when no snapshot exists for a document.
var ErrNotFound = errors.New("not found")

// Snapshot is what the storage collaborator loads and saves: the portable
// document and the version it corresponds to.
type Snapshot struct {
	Doc     json.RawMessage `json:"doc"`
	Version int             `json:"version"`
}
