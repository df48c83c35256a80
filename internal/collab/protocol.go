package collab

import (
	"encoding/json"

	"collab-sync/internal/logger"
)

// Message types of the collaboration protocol (JSON text frames).
const (
	MsgSync        = "sync"
	MsgSteps       = "steps"
	MsgPresence    = "presence"
	MsgPullUpdates = "pullUpdates"
	MsgConnected   = "connected"
	MsgUpToDate    = "upToDate"
	MsgUserLeft    = "user_left"
	MsgError       = "error"
)

// Machine-checkable error codes.
const (
	CodeVersionMismatch    = "VERSION_MISMATCH"
	CodeHistoryUnavailable = "HISTORY_UNAVAILABLE"
)

// AgentClientID attributes steps pushed by automation actors.
const AgentClientID = "agent"

// inboundMessage covers every client → server message shape.
type inboundMessage struct {
	Type     string            `json:"type"`
	Version  *int              `json:"version,omitempty"`
	Steps    []json.RawMessage `json:"steps,omitempty"`
	ClientID string            `json:"clientID,omitempty"`
}

type ConnectedMessage struct {
	Type       string `json:"type"`
	ClientID   string `json:"clientID"`
	DocumentID string `json:"documentId"`
}

type SyncMessage struct {
	Type    string          `json:"type"`
	Doc     json.RawMessage `json:"doc"`
	Version int             `json:"version"`
}

// StepsMessage carries steps starting at Version. ClientIDs[i] authored Steps[i].
type StepsMessage struct {
	Type      string            `json:"type"`
	Version   int               `json:"version"`
	Steps     []json.RawMessage `json:"steps"`
	ClientIDs []string          `json:"clientIDs"`
	ChangeID  string            `json:"changeId,omitempty"`
}

type UpToDateMessage struct {
	Type    string `json:"type"`
	Version int    `json:"version"`
}

// PresenceMessage is relayed as-is to the other sessions of a document,
// with ClientID stamped by the server.
type PresenceMessage struct {
	Type      string          `json:"type"`
	ClientID  string          `json:"clientID"`
	UserID    string          `json:"userId,omitempty"`
	UserName  string          `json:"userName,omitempty"`
	UserColor string          `json:"userColor,omitempty"`
	Selection json.RawMessage `json:"selection,omitempty"`
}

type UserLeftMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"clientID"`
	UserID   string `json:"userId"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// encode marshals an outbound message. The message types above cannot fail
// to marshal unless they carry invalid raw JSON, which is logged and dropped.
func encode(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		logger.L().Error("failed to encode message", "error", err)
		return nil
	}
	return data
}

func stepsMessage(version int, steps []json.RawMessage, clientIDs []string) []byte {
	return encode(StepsMessage{
		Type:      MsgSteps,
		Version:   version,
		Steps:     steps,
		ClientIDs: clientIDs,
	})
}

func errorMessage(text, code string) []byte {
	return encode(ErrorMessage{Type: MsgError, Error: text, Code: code})
}
