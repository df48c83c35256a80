package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"collab-sync/internal/docmodel"
	"collab-sync/internal/logger"
	"collab-sync/internal/metrics"
	"collab-sync/internal/models"
	"collab-sync/internal/repository"

	"github.com/gorilla/websocket"
)

/*
LEARNING: WIRING THE COLLABORATION CORE

  websocket ─► Session ─► Instance.AddEvents ──(OnAccept, under lock)──► Gateway ─► every Session.send
                  │                          └────────────────────────► Archiver (async)
                  └─► Bridge.ScheduleSave (debounced, async)

The manager owns the long-lived parts and their lifecycle: the registry sweep,
the heartbeat monitor, the archive workers and the pending saves.
*/

// ManagerOptions configures the collaboration core.
type ManagerOptions struct {
	Registry          RegistryOptions
	SaveDelay         time.Duration
	HeartbeatInterval time.Duration
}

// SessionManager connects sockets to document instances.
type SessionManager struct {
	schema   docmodel.Schema
	store    SnapshotStore
	registry *Registry
	gateway  *Gateway
	bridge   *Bridge
	archiver *Archiver
	monitor  *Monitor
}

// NewSessionManager builds the collaboration core. archiver may be nil when
// the storage backend keeps no step history.
func NewSessionManager(schema docmodel.Schema, store SnapshotStore, archiver *Archiver, opts ManagerOptions) *SessionManager {
	m := &SessionManager{
		schema:   schema,
		store:    store,
		gateway:  NewGateway(),
		bridge:   NewBridge(store, opts.SaveDelay),
		archiver: archiver,
	}

	regOpts := opts.Registry
	regOpts.Instance.OnAccept = m.onAccept
	regOpts.Retain = m.bridge.Unsaved
	m.registry = NewRegistry(StoreLoader(store, schema), regOpts)
	m.monitor = NewMonitor(opts.HeartbeatInterval, m.gateway.AllPeers)

	return m
}

// Registry exposes the live document instances.
func (m *SessionManager) Registry() *Registry { return m.registry }

func (m *SessionManager) Gateway() *Gateway { return m.gateway }

func (m *SessionManager) Bridge() *Bridge { return m.bridge }

func (m *SessionManager) Monitor() *Monitor { return m.monitor }

// Start launches the background loops.
func (m *SessionManager) Start() {
	m.registry.Start()
	m.monitor.Start()
	if m.archiver != nil {
		m.archiver.Start()
	}
	logger.L().Info("collaboration session manager started")
}

// Shutdown closes every socket, writes pending snapshots and drains the archive.
func (m *SessionManager) Shutdown(ctx context.Context) {
	m.monitor.Stop()
	m.registry.Shutdown()

	for _, peer := range m.gateway.AllPeers() {
		if s, ok := peer.(*Session); ok {
			s.Close()
		}
	}

	m.bridge.Flush(ctx)
	if m.archiver != nil {
		m.archiver.Shutdown()
	}
	logger.L().Info("collaboration session manager stopped")
}

// onAccept fans an accepted batch out to every session of the document,
// including its author, and queues it for the archive.
func (m *SessionManager) onAccept(a Accepted) {
	raw, err := docmodel.StepsToJSON(a.Steps)
	if err != nil {
		logger.L().Error("failed to serialize accepted steps",
			"document_id", a.DocumentID,
			"start_version", a.StartVersion,
			"error", err,
		)
		return
	}

	metrics.StepsAccepted.Add(float64(len(a.Steps)))
	m.gateway.BroadcastToAll(a.DocumentID, stepsMessage(a.StartVersion, raw, a.ClientIDs))

	if m.archiver != nil {
		m.archiver.Submit(ArchiveJob{
			DocumentID:   a.DocumentID,
			StartVersion: a.StartVersion,
			Steps:        raw,
			ClientIDs:    a.ClientIDs,
		})
	}
}

// Connect attaches an upgraded socket to documentID and starts its pumps.
func (m *SessionManager) Connect(ctx context.Context, conn *websocket.Conn, documentID, scopeID string, identity models.Identity) (*Session, error) {
	s := newSession(conn, m, documentID, scopeID, identity)

	inst, err := m.registry.Join(ctx, documentID, s)
	if err != nil {
		return nil, err
	}
	s.instance = inst

	// connected is queued before the session can receive any fan-out.
	_ = s.Send(encode(ConnectedMessage{
		Type:       MsgConnected,
		ClientID:   s.clientID,
		DocumentID: documentID,
	}))

	m.gateway.Register(documentID, s)
	s.state.Store(int32(StateActive))
	metrics.ActiveSessions.Inc()

	go s.WritePump()
	go s.ReadPump(context.WithoutCancel(ctx))

	logger.L().Info("session connected",
		"session_id", s.ID,
		"client_id", s.clientID,
		"document_id", documentID,
		"scope_id", scopeID,
		"user_id", identity.UserID,
		"users", inst.UserCount(),
	)
	return s, nil
}

// PushSteps delivers automation steps to one connected client. It reports
// false, without error, when that client is not connected.
func (m *SessionManager) PushSteps(documentID, clientID string, steps []json.RawMessage, changeID string) bool {
	version := 0
	if inst, ok := m.registry.Lookup(documentID); ok {
		version = inst.Version()
	}
	return m.gateway.PushSteps(documentID, clientID, version, steps, changeID)
}

// DocumentSnapshot returns the live state when the document is loaded and the
// stored snapshot otherwise.
func (m *SessionManager) DocumentSnapshot(ctx context.Context, documentID string) (*repository.Snapshot, error) {
	if inst, ok := m.registry.Lookup(documentID); ok {
		doc, version := inst.Snapshot()
		raw, err := doc.ToJSON()
		if err != nil {
			return nil, fmt.Errorf("failed to serialize document: %w", err)
		}
		return &repository.Snapshot{Doc: raw, Version: version}, nil
	}
	return m.store.Load(ctx, documentID)
}

// ErrHistoryDisabled is returned by History when no step archive is configured.
var ErrHistoryDisabled = errors.New("step history is disabled")

// History returns archived batches ending after sinceVersion.
func (m *SessionManager) History(ctx context.Context, documentID string, sinceVersion, limit int) ([]*models.StepBatch, error) {
	if m.archiver == nil {
		return nil, ErrHistoryDisabled
	}
	return m.archiver.archive.ListSince(ctx, documentID, sinceVersion, limit)
}
