package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"collab-sync/internal/collab"
	"collab-sync/internal/models"
	"collab-sync/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCollab struct {
	connected map[string]bool
	pushed    []string
	snaps     map[string]*repository.Snapshot
	history   []*models.StepBatch
	noHistory bool
	lastSince int
}

func (s *stubCollab) PushSteps(documentID, clientID string, steps []json.RawMessage, changeID string) bool {
	s.pushed = append(s.pushed, clientID)
	return s.connected[clientID]
}

func (s *stubCollab) DocumentSnapshot(ctx context.Context, documentID string) (*repository.Snapshot, error) {
	snap, ok := s.snaps[documentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return snap, nil
}

func (s *stubCollab) History(ctx context.Context, documentID string, sinceVersion, limit int) ([]*models.StepBatch, error) {
	if s.noHistory {
		return nil, collab.ErrHistoryDisabled
	}
	s.lastSince = sinceVersion
	return s.history, nil
}

func newTestRouter(svc *stubCollab, pushKey string) http.Handler {
	return SetupRoutes(NewHandler(svc, nil, pushKey))
}

func TestPushSteps(t *testing.T) {
	svc := &stubCollab{connected: map[string]bool{"c1": true}}
	router := newTestRouter(svc, "")

	body := `{"clientID":"c1","steps":[{"stepType":"replace","from":0,"to":0}],"changeId":"x"}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/documents/d1/push", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"delivered":true}`, w.Body.String())

	body = `{"clientID":"gone","steps":[{"stepType":"replace","from":0,"to":0}]}`
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/documents/d1/push", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"delivered":false}`, w.Body.String())
}

func TestPushStepsValidation(t *testing.T) {
	svc := &stubCollab{}
	router := newTestRouter(svc, "")

	for _, body := range []string{`not json`, `{"clientID":"c1"}`, `{"steps":[{}]}`} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/documents/d1/push", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Empty(t, svc.pushed)
}

func TestPushStepsRequiresKey(t *testing.T) {
	svc := &stubCollab{connected: map[string]bool{"c1": true}}
	router := newTestRouter(svc, "s3cret")
	body := `{"clientID":"c1","steps":[{}]}`

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/documents/d1/push", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/documents/d1/push", strings.NewReader(body))
	req.Header.Set("X-Push-Key", "s3cret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetSnapshot(t *testing.T) {
	svc := &stubCollab{snaps: map[string]*repository.Snapshot{
		"d1": {Doc: json.RawMessage(`{"type":"doc","content":[]}`), Version: 3},
	}}
	router := newTestRouter(svc, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/documents/d1/snapshot", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"documentId":"d1","doc":{"type":"doc","content":[]},"version":3}`, w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/documents/missing/snapshot", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetHistory(t *testing.T) {
	svc := &stubCollab{history: []*models.StepBatch{{DocumentID: "d1", StartVersion: 4, ClientIDs: []string{"a"}}}}
	router := newTestRouter(svc, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/documents/d1/history?since=4", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 4, svc.lastSince)

	var resp struct {
		Batches []models.StepBatch `json:"batches"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Batches, 1)
	assert.Equal(t, 4, resp.Batches[0].StartVersion)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/documents/d1/history?since=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetHistoryDisabled(t *testing.T) {
	router := newTestRouter(&stubCollab{noHistory: true}, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/documents/d1/history", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	router := newTestRouter(&stubCollab{}, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "collab_active_sessions")
}
