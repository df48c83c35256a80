package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"collab-sync/internal/collab"
	"collab-sync/internal/logger"
	"collab-sync/internal/middleware"
	"collab-sync/internal/repository"

	"github.com/gorilla/mux"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// Handler handles HTTP requests
type Handler struct {
	collab     CollabService
	socket     DocumentSocket
	pushAPIKey string
}

func NewHandler(svc CollabService, socket DocumentSocket, pushAPIKey string) *Handler {
	return &Handler{
		collab:     svc,
		socket:     socket,
		pushAPIKey: pushAPIKey,
	}
}

type pushRequest struct {
	ClientID string            `json:"clientID"`
	Steps    []json.RawMessage `json:"steps"`
	ChangeID string            `json:"changeId"`
}

// PushSteps delivers automation steps to one connected client.
// An absent client is a no-op reported as delivered=false.
func (h *Handler) PushSteps(w http.ResponseWriter, r *http.Request) {
	if h.pushAPIKey != "" {
		key := r.Header.Get("X-Push-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(h.pushAPIKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid push key")
			return
		}
	}

	documentID := mux.Vars(r)["id"]

	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ClientID == "" || len(req.Steps) == 0 {
		writeError(w, http.StatusBadRequest, "clientID and steps are required")
		return
	}

	delivered := h.collab.PushSteps(documentID, req.ClientID, req.Steps, req.ChangeID)
	logger.L().Info("targeted push",
		"rid", middleware.GetRequestID(r.Context()),
		"document_id", documentID,
		"client_id", req.ClientID,
		"change_id", req.ChangeID,
		"delivered", delivered,
	)

	writeJSON(w, http.StatusOK, map[string]bool{"delivered": delivered})
}

// GetSnapshot returns the current document and version.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["id"]

	snap, err := h.collab.DocumentSnapshot(r.Context(), documentID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		middleware.AddSpanError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documentId": documentID,
		"doc":        snap.Doc,
		"version":    snap.Version,
	})
}

// GetHistory lists archived step batches after ?since=N.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["id"]

	since, err := queryInt(r, "since", 0)
	if err != nil || since < 0 {
		writeError(w, http.StatusBadRequest, "since must be a non-negative integer")
		return
	}
	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	batches, err := h.collab.History(r.Context(), documentID, since, limit)
	if errors.Is(err, collab.ErrHistoryDisabled) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		middleware.AddSpanError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documentId": documentID,
		"since":      since,
		"batches":    batches,
	})
}

func (h *Handler) HandleDocumentWebSocket(w http.ResponseWriter, r *http.Request) {
	h.socket.HandleDocumentConnection(w, r)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L().Error("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
