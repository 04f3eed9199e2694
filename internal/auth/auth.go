package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"camproducer/pkg/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrWrongStream  = errors.New("token not valid for this stream")
)

const (
	DefaultExpiration = 1 * time.Hour
	MaxExpiration     = 24 * time.Hour
)

// Manager guards the control endpoints with an API key and the control tokens issued under it.
// A manager without an API key lets every request through.
type Manager struct {
	apiKey string
	tokens map[string]*models.ControlToken // token -> ControlToken
	mu     sync.RWMutex

	defaultExpiration time.Duration
	maxExpiration     time.Duration
	now               func() time.Time
}

// New creates a new auth manager
func New(apiKey string) *Manager {
	return &Manager{
		apiKey:            apiKey,
		tokens:            make(map[string]*models.ControlToken),
		defaultExpiration: DefaultExpiration,
		maxExpiration:     MaxExpiration,
		now:               time.Now,
	}
}

// Enabled reports whether requests need credentials
func (m *Manager) Enabled() bool {
	return m.apiKey != ""
}

// IssueToken creates a control token for a stream. An empty stream name covers every stream.
func (m *Manager) IssueToken(streamName string, expiresIn int, issuedTo string) (*models.ControlToken, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	expiration := m.defaultExpiration
	if expiresIn > 0 {
		expiration = m.maxExpiration
		if int64(expiresIn) < int64(m.maxExpiration/time.Second) {
			expiration = time.Duration(expiresIn) * time.Second
		}
	}
	if expiration > m.maxExpiration {
		expiration = m.maxExpiration
	}

	now := m.now()
	token := &models.ControlToken{
		Token:      hex.EncodeToString(tokenBytes),
		StreamName: streamName,
		CreatedAt:  now,
		ExpiresAt:  now.Add(expiration),
		IssuedTo:   issuedTo,
	}

	m.mu.Lock()
	m.tokens[token.Token] = token
	m.mu.Unlock()

	return token, nil
}

// ValidateToken checks that a token may control streamName
func (m *Manager) ValidateToken(tokenString, streamName string) error {
	m.mu.RLock()
	token, exists := m.tokens[tokenString]
	m.mu.RUnlock()

	if !exists {
		return ErrInvalidToken
	}
	if !token.IsValid(m.now()) {
		return ErrTokenExpired
	}
	if !token.Allows(streamName) {
		return ErrWrongStream
	}
	return nil
}

// RevokeToken revokes a token
func (m *Manager) RevokeToken(tokenString string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, tokenString)
}

// CleanupExpiredTokens removes all expired tokens and returns how many were removed
func (m *Manager) CleanupExpiredTokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for tokenString, token := range m.tokens {
		if !token.IsValid(now) {
			delete(m.tokens, tokenString)
			removed++
		}
	}
	return removed
}

// GetTokenCount returns the number of tokens held
func (m *Manager) GetTokenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tokens)
}

func (m *Manager) isAPIKey(credential string) bool {
	return subtle.ConstantTimeCompare([]byte(credential), []byte(m.apiKey)) == 1
}

// RequireAPIKey only admits requests carrying the API key itself
func (m *Manager) RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}
		if !m.isAPIKey(bearer(c)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "api key required"})
			return
		}
		c.Next()
	}
}

// RequireControl admits the API key or a control token valid for the stream the request targets
func (m *Manager) RequireControl(streamName func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}

		credential := bearer(c)
		if credential == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		if m.isAPIKey(credential) {
			c.Next()
			return
		}
		if err := m.ValidateToken(credential, streamName(c)); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// StreamParam resolves the target stream from the :streamName route parameter
func StreamParam(c *gin.Context) string {
	return c.Param("streamName")
}

func bearer(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
