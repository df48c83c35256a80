package collab

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTAuthenticator(t *testing.T) {
	auth := NewJWTAuthenticator("secret")
	token, err := auth.IssueToken("u1", "Ada", []string{"edit"}, time.Hour)
	require.NoError(t, err)

	t.Run("query token", func(t *testing.T) {
		id, err := auth.Authenticate(httptest.NewRequest(http.MethodGet, "/ws/documents/d?token="+token, nil))
		require.NoError(t, err)
		assert.Equal(t, "u1", id.UserID)
		assert.Equal(t, "Ada", id.UserName)
		assert.Equal(t, []string{"edit"}, id.Scopes)
	})

	t.Run("bearer header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws/documents/d", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		id, err := auth.Authenticate(r)
		require.NoError(t, err)
		assert.Equal(t, "u1", id.UserID)
	})

	t.Run("missing token", func(t *testing.T) {
		_, err := auth.Authenticate(httptest.NewRequest(http.MethodGet, "/ws/documents/d", nil))
		assert.ErrorIs(t, err, ErrAuthRequired)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewJWTAuthenticator("other").IssueToken("u1", "Ada", nil, time.Hour)
		require.NoError(t, err)
		_, err = auth.Authenticate(httptest.NewRequest(http.MethodGet, "/?token="+other, nil))
		assert.ErrorIs(t, err, ErrAuthRequired)
	})

	t.Run("expired", func(t *testing.T) {
		expired, err := auth.IssueToken("u1", "Ada", nil, -time.Minute)
		require.NoError(t, err)
		_, err = auth.Authenticate(httptest.NewRequest(http.MethodGet, "/?token="+expired, nil))
		assert.ErrorIs(t, err, ErrSessionExpired)
	})
}

func TestAnonymousAuthenticator(t *testing.T) {
	id, err := AnonymousAuthenticator{}.Authenticate(httptest.NewRequest(http.MethodGet, "/?user_id=u9&user_name=Bo", nil))
	require.NoError(t, err)
	assert.Equal(t, "u9", id.UserID)
	assert.Equal(t, "Bo", id.UserName)

	id, err = AnonymousAuthenticator{}.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, "anonymous", id.UserID)
}
