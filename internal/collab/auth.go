package collab

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"collab-sync/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrAuthRequired   = errors.New("Authentication required")
	ErrSessionExpired = errors.New("Session expired")
)

// Authenticator resolves the identity behind a connection request.
type Authenticator interface {
	Authenticate(r *http.Request) (models.Identity, error)
}

// Claims carried by collaboration tokens.
type Claims struct {
	UserID   string   `json:"user_id"`
	UserName string   `json:"user_name"`
	Scopes   []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator validates HS256 tokens from the `token` query parameter
// or an Authorization bearer header.
type JWTAuthenticator struct {
	secret []byte
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

func (a *JWTAuthenticator) Authenticate(r *http.Request) (models.Identity, error) {
	raw := tokenFromRequest(r)
	if raw == "" {
		return models.Identity{}, ErrAuthRequired
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if errors.Is(err, jwt.ErrTokenExpired) {
		return models.Identity{}, ErrSessionExpired
	}
	if err != nil || !parsed.Valid {
		return models.Identity{}, ErrAuthRequired
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.UserID == "" {
		return models.Identity{}, ErrAuthRequired
	}

	name := claims.UserName
	if name == "" {
		name = claims.UserID
	}
	return models.Identity{UserID: claims.UserID, UserName: name, Scopes: claims.Scopes}, nil
}

// IssueToken signs a token for userID. A zero ttl issues a token without expiry.
func (a *JWTAuthenticator) IssueToken(userID, userName string, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		UserName: userName,
		Scopes:   scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func tokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// AnonymousAuthenticator accepts every request. user_id and user_name query
// parameters are honored for display.
type AnonymousAuthenticator struct{}

func (AnonymousAuthenticator) Authenticate(r *http.Request) (models.Identity, error) {
	id := models.Anonymous
	if v := r.URL.Query().Get("user_id"); v != "" {
		id.UserID = v
	}
	if v := r.URL.Query().Get("user_name"); v != "" {
		id.UserName = v
	}
	return id, nil
}
