package models

import "time"

// ControlToken authorizes control requests (start, stop, metadata) against the HTTP API
type ControlToken struct {
	Token      string    // The actual token string
	StreamName string    // Stream this token is valid for; empty means every stream
	CreatedAt  time.Time // When token was created
	ExpiresAt  time.Time // When token expires
	IssuedTo   string    // IP address that requested the token
}

// IsValid checks if the token is still valid
func (t *ControlToken) IsValid(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}

// Allows reports whether the token may control streamName
func (t *ControlToken) Allows(streamName string) bool {
	return t.StreamName == "" || t.StreamName == streamName
}

// TokenRequest represents a request to issue a control token
type TokenRequest struct {
	StreamName string `json:"streamName"`
	ExpiresIn  int    `json:"expiresIn"` // Seconds until expiration (default 3600)
}

// TokenResponse represents the response to a token request
type TokenResponse struct {
	Token      string `json:"token"`
	StreamName string `json:"streamName,omitempty"`
	ExpiresAt  string `json:"expiresAt"`
}
