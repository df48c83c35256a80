package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"collab-sync/internal/docmodel"
	"collab-sync/internal/logger"
	"collab-sync/internal/metrics"
	"collab-sync/internal/middleware"
	"collab-sync/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

var (
	errSessionClosed  = errors.New("session closed")
	errSendBufferFull = errors.New("send buffer full")
)

// SessionState is the lifecycle stage of a Session.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session binds one websocket to one document instance.
type Session struct {
	*models.Session

	conn     *websocket.Conn
	send     chan []byte
	manager  *SessionManager
	clientID string
	identity models.Identity
	instance *Instance

	alive atomic.Bool
	state atomic.Int32

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, manager *SessionManager, documentID, scopeID string, identity models.Identity) *Session {
	s := &Session{
		Session:  models.NewSession(documentID, scopeID, identity),
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		manager:  manager,
		clientID: uuid.NewString(),
		identity: identity,
		done:     make(chan struct{}),
	}
	s.alive.Store(true)
	return s
}

func (s *Session) ClientID() string {
	return s.clientID
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Send queues a message for the write pump. A client that cannot keep up is
// disconnected instead of slowing down the document.
func (s *Session) Send(message []byte) error {
	if message == nil {
		return nil
	}

	select {
	case <-s.done:
		return errSessionClosed
	default:
	}

	select {
	case s.send <- message:
		return nil
	default:
		logger.L().Warn("session send buffer full, terminating",
			"session_id", s.ID,
			"client_id", s.clientID,
		)
		s.Terminate()
		return errSendBufferFull
	}
}

// IsAlive reports whether the client answered the last ping.
func (s *Session) IsAlive() bool {
	return s.alive.Load()
}

func (s *Session) MarkNotAlive() {
	s.alive.Store(false)
}

// Ping sends a websocket ping. The pong handler marks the session alive.
func (s *Session) Ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Terminate drops the socket. The read pump then runs the close sequence.
func (s *Session) Terminate() {
	_ = s.conn.Close()
}

// WritePump delivers queued messages, one text frame per message.
func (s *Session) WritePump() {
	defer s.conn.Close()

	for {
		select {
		case <-s.done:
			return
		case message := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.L().Debug("websocket write failed", "client_id", s.clientID, "error", err)
				return
			}
		}
	}
}

// ReadPump processes inbound messages sequentially until the socket closes.
func (s *Session) ReadPump(ctx context.Context) {
	defer s.Close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetPongHandler(func(string) error {
		s.alive.Store(true)
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.L().Info("websocket closed unexpectedly", "client_id", s.clientID, "error", err)
			}
			return
		}
		s.handleMessage(ctx, data)
	}
}

func (s *Session) handleMessage(ctx context.Context, data []byte) {
	ctx, span := middleware.StartSpan(ctx, "Session.HandleMessage",
		attribute.String("session.id", s.ID),
		attribute.String("document.id", s.DocumentID),
		attribute.Int("message.size", len(data)),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			middleware.AddSpanError(ctx, err)
			logger.L().Error("panic while handling message",
				"client_id", s.clientID,
				"document_id", s.DocumentID,
				"error", err,
			)
			_ = s.Send(errorMessage("Internal error", ""))
		}
	}()

	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = s.Send(errorMessage("Invalid message format", ""))
		return
	}
	span.SetAttributes(attribute.String("message.type", msg.Type))

	switch msg.Type {
	case MsgSync:
		s.handleSync()
	case MsgSteps:
		s.handleSteps(ctx, msg)
	case MsgPresence:
		s.handlePresence(data)
	case MsgPullUpdates:
		s.handlePullUpdates(msg)
	default:
		logger.L().Warn("unknown message type",
			"type", msg.Type,
			"client_id", s.clientID,
			"document_id", s.DocumentID,
		)
	}
}

func (s *Session) handleSync() {
	doc, version := s.instance.Snapshot()
	raw, err := doc.ToJSON()
	if err != nil {
		logger.L().Error("failed to serialize document", "document_id", s.DocumentID, "error", err)
		_ = s.Send(errorMessage("Failed to serialize document", ""))
		return
	}
	_ = s.Send(encode(SyncMessage{Type: MsgSync, Doc: raw, Version: version}))
}

func (s *Session) handleSteps(ctx context.Context, msg inboundMessage) {
	if msg.Version == nil {
		metrics.RecordRejected("invalid")
		_ = s.Send(errorMessage("Missing version", ""))
		return
	}

	steps, err := docmodel.StepsFromJSON(s.manager.schema, msg.Steps)
	if err != nil {
		metrics.RecordRejected("invalid")
		_ = s.Send(errorMessage(fmt.Sprintf("Invalid steps: %v", err), ""))
		return
	}

	accepted, err := s.instance.AddEvents(*msg.Version, steps, s.clientID)
	if err != nil {
		metrics.RecordRejected("apply_failed")
		middleware.AddSpanError(ctx, err)
		logger.L().Warn("failed to apply steps",
			"document_id", s.DocumentID,
			"client_id", s.clientID,
			"error", err,
		)
		_ = s.Send(errorMessage(fmt.Sprintf("Failed to apply steps: %v", err), ""))
		return
	}
	if !accepted {
		metrics.RecordRejected("version_mismatch")
		middleware.AddSpanEvent(ctx, "version_mismatch",
			attribute.Int("client.version", *msg.Version),
			attribute.Int("document.version", s.instance.Version()),
		)
		logger.L().Debug("version mismatch",
			"document_id", s.DocumentID,
			"client_id", s.clientID,
			"client_version", *msg.Version,
		)
		_ = s.Send(errorMessage("Version mismatch", CodeVersionMismatch))
		return
	}

	if len(steps) > 0 {
		s.manager.bridge.ScheduleSave(s.DocumentID, s.instance, s.identity)
	}
}

func (s *Session) handlePresence(data []byte) {
	var p PresenceMessage
	if err := json.Unmarshal(data, &p); err != nil {
		_ = s.Send(errorMessage("Invalid presence message", ""))
		return
	}
	p.Type = MsgPresence
	p.ClientID = s.clientID
	if p.UserID == "" {
		p.UserID = s.UserID
	}
	if p.UserName == "" {
		p.UserName = s.UserName
	}

	s.manager.gateway.BroadcastToOthers(s.DocumentID, s, encode(p))
}

func (s *Session) handlePullUpdates(msg inboundMessage) {
	if msg.Version == nil {
		_ = s.Send(errorMessage("Missing version", ""))
		return
	}

	events, ok := s.instance.GetEvents(*msg.Version)
	if !ok {
		_ = s.Send(errorMessage("History no longer available", CodeHistoryUnavailable))
		return
	}
	if len(events.Steps) == 0 {
		_ = s.Send(encode(UpToDateMessage{Type: MsgUpToDate, Version: events.Version}))
		return
	}

	raw, err := docmodel.StepsToJSON(events.Steps)
	if err != nil {
		logger.L().Error("failed to serialize steps", "document_id", s.DocumentID, "error", err)
		_ = s.Send(errorMessage("Failed to serialize steps", ""))
		return
	}
	_ = s.Send(stepsMessage(*msg.Version, raw, events.ClientIDs))
}

// Close detaches the session from its document and tells the remaining
// collaborators. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		wasActive := s.state.Swap(int32(StateClosed)) == int32(StateActive)
		close(s.done)
		_ = s.conn.Close()

		if s.instance != nil {
			s.instance.RemoveUser(s.clientID)
		}
		remaining := s.manager.gateway.Unregister(s.DocumentID, s)
		if wasActive {
			metrics.ActiveSessions.Dec()
		}

		s.manager.gateway.BroadcastToAll(s.DocumentID, encode(UserLeftMessage{
			Type:     MsgUserLeft,
			ClientID: s.clientID,
			UserID:   s.UserID,
		}))

		logger.L().Info("session closed",
			"session_id", s.ID,
			"client_id", s.clientID,
			"document_id", s.DocumentID,
			"remaining", remaining,
		)
	})
}
