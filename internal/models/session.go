package models

import (
	"context"
	"time"

	"github.com/segmentio/ksuid"
)

// Session is the metadata of one client connection to a document.
type Session struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	ScopeID     string    `json:"scope_id"`
	UserID      string    `json:"user_id"`
	UserName    string    `json:"user_name"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Identity is the caller resolved at handshake time. It travels with
// persistence writes so storage can attribute them.
type Identity struct {
	UserID   string   `json:"user_id"`
	UserName string   `json:"user_name"`
	Scopes   []string `json:"scopes,omitempty"`
}

// Anonymous is used when authentication is disabled.
var Anonymous = Identity{UserID: "anonymous", UserName: "Anonymous"}

func NewSession(documentID, scopeID string, id Identity) *Session {
	return &Session{
		ID:          ksuid.New().String(),
		DocumentID:  documentID,
		ScopeID:     scopeID,
		UserID:      id.UserID,
		UserName:    id.UserName,
		ConnectedAt: time.Now(),
	}
}

type identityKey struct{}

// WithIdentity attaches the acting identity to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity attached to ctx, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
