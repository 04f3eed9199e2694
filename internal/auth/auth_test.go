package auth

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidateToken(t *testing.T) {
	m := New("secret")
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }

	token, err := m.IssueToken("cam", 0, "10.0.0.1")
	require.NoError(t, err)
	assert.Len(t, token.Token, 64)
	assert.Equal(t, now.Add(DefaultExpiration), token.ExpiresAt)

	assert.NoError(t, m.ValidateToken(token.Token, "cam"))
	assert.ErrorIs(t, m.ValidateToken(token.Token, "other"), ErrWrongStream)
	assert.ErrorIs(t, m.ValidateToken("nope", "cam"), ErrInvalidToken)

	global, err := m.IssueToken("", 48*3600, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, now.Add(MaxExpiration), global.ExpiresAt, "expiry is capped")
	assert.NoError(t, m.ValidateToken(global.Token, "other"))

	now = now.Add(2 * time.Hour)
	assert.ErrorIs(t, m.ValidateToken(token.Token, "cam"), ErrTokenExpired)
	assert.Equal(t, 1, m.CleanupExpiredTokens())
	assert.Equal(t, 1, m.GetTokenCount())

	m.RevokeToken(global.Token)
	assert.Zero(t, m.GetTokenCount())
}

func TestIssueTokenHugeExpiry(t *testing.T) {
	m := New("secret")
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }

	for _, expiresIn := range []int{math.MaxInt, math.MaxInt / 2, int(MaxExpiration / time.Second)} {
		token, err := m.IssueToken("cam", expiresIn, "10.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, now.Add(MaxExpiration), token.ExpiresAt, "expiresIn=%d", expiresIn)
		assert.NoError(t, m.ValidateToken(token.Token, "cam"))
	}
}

func newRouter(m *Manager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }
	r.POST("/streams/:streamName/stop", m.RequireControl(StreamParam), ok)
	r.POST("/tokens", m.RequireAPIKey(), ok)
	return r
}

func do(r http.Handler, path, credential string) int {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec.Code
}

func TestMiddleware(t *testing.T) {
	m := New("secret")
	r := newRouter(m)

	token, err := m.IssueToken("cam", 60, "")
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, do(r, "/streams/cam/stop", ""))
	assert.Equal(t, http.StatusNoContent, do(r, "/streams/cam/stop", "secret"))
	assert.Equal(t, http.StatusNoContent, do(r, "/streams/cam/stop", token.Token))
	assert.Equal(t, http.StatusUnauthorized, do(r, "/streams/other/stop", token.Token))

	assert.Equal(t, http.StatusNoContent, do(r, "/tokens", "secret"))
	assert.Equal(t, http.StatusUnauthorized, do(r, "/tokens", token.Token), "tokens cannot mint tokens")
}

func TestMiddlewareDisabledWithoutKey(t *testing.T) {
	m := New("")
	assert.False(t, m.Enabled())

	r := newRouter(m)
	assert.Equal(t, http.StatusNoContent, do(r, "/streams/cam/stop", ""))
	assert.Equal(t, http.StatusNoContent, do(r, "/tokens", ""))
}
