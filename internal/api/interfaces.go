package api

import (
	"context"
	"encoding/json"
	"net/http"

	"collab-sync/internal/models"
	"collab-sync/internal/repository"
)

/*
LEARNING: CONSUMER-DRIVEN INTERFACES

The HTTP layer declares only the operations it calls. The collaboration
session manager satisfies CollabService without knowing this package exists,
and tests can swap in a stub.
*/

// CollabService is what the REST handlers need from the collaboration core.
type CollabService interface {
	PushSteps(documentID, clientID string, steps []json.RawMessage, changeID string) bool
	DocumentSnapshot(ctx context.Context, documentID string) (*repository.Snapshot, error)
	History(ctx context.Context, documentID string, sinceVersion, limit int) ([]*models.StepBatch, error)
}

// DocumentSocket serves the collaboration websocket.
type DocumentSocket interface {
	HandleDocumentConnection(w http.ResponseWriter, r *http.Request)
}
