package collab

import (
	"errors"
	"net/http"
	"time"

	"collab-sync/internal/logger"
	"collab-sync/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler performs the collaboration handshake.
type WebSocketHandler struct {
	manager *SessionManager
	auth    Authenticator
}

func NewWebSocketHandler(manager *SessionManager, auth Authenticator) *WebSocketHandler {
	if auth == nil {
		auth = AnonymousAuthenticator{}
	}
	return &WebSocketHandler{manager: manager, auth: auth}
}

// HandleDocumentConnection serves GET /ws/documents/{id}?scopeId=...
//
// The socket is upgraded before validation so that failures reach the client
// as close frames with a code and reason.
func (h *WebSocketHandler) HandleDocumentConnection(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["id"]
	scopeID := r.URL.Query().Get("scopeId")

	ctx, span := middleware.StartSpan(r.Context(), "WebSocket.Connect",
		attribute.String("document.id", documentID),
		attribute.String("scope.id", scopeID),
	)
	defer span.End()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.L().Warn("failed to upgrade websocket", "error", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	if documentID == "" || scopeID == "" {
		closeWith(conn, websocket.ClosePolicyViolation, "Missing document or scope id")
		return
	}

	identity, err := h.auth.Authenticate(r)
	if err != nil {
		reason := ErrAuthRequired.Error()
		if errors.Is(err, ErrSessionExpired) {
			reason = ErrSessionExpired.Error()
		}
		logger.L().Info("websocket authentication failed", "document_id", documentID, "reason", reason)
		closeWith(conn, websocket.ClosePolicyViolation, reason)
		return
	}
	span.SetAttributes(attribute.String("user.id", identity.UserID))

	if _, err := h.manager.Connect(ctx, conn, documentID, scopeID, identity); err != nil {
		middleware.AddSpanError(ctx, err)
		logger.L().Error("failed to open document session",
			"document_id", documentID,
			"error", err,
		)
		closeWith(conn, websocket.CloseInternalServerErr, "Failed to load document")
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}
