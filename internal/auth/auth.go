// Package auth provides the Provider contract and a minimal static/env-backed
// implementation used to authenticate Helix API requests. The full Twitch
// login flow (password, device-code, cookie persistence) is out of scope:
// only a bearer-token holder is needed here.
package auth

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
)

// Authenticator is a static bearer-token Provider: the token is supplied at
// construction (from config/environment) and can be swapped in place via
// TokenUpdated, e.g. after an external refresh.
type Authenticator struct {
	mu sync.RWMutex

	clientID  string
	authToken string
}

// NewAuthenticator creates an Authenticator from an already-obtained OAuth
// token and client id.
func NewAuthenticator(clientID, authToken string) *Authenticator {
	return &Authenticator{
		clientID:  clientID,
		authToken: authToken,
	}
}

// AuthToken returns the current OAuth token.
func (a *Authenticator) AuthToken() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.authToken
}

// TokenUpdated replaces the held token. Safe for concurrent use; takes
// effect on the next GetAuthHeaders call.
func (a *Authenticator) TokenUpdated(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.authToken = token
}

// GetAuthHeaders returns the headers needed for every Helix request.
func (a *Authenticator) GetAuthHeaders() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return map[string]string{
		"Authorization": "Bearer " + a.authToken,
		"Client-Id":     a.clientID,
	}
}

// GenerateHex creates a random hex string of the given byte length. No
// package in this module calls it.
func GenerateHex(numBytes int) string {
	randomBytes := make([]byte, numBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return strings.Repeat("0", numBytes*2)
	}
	return fmt.Sprintf("%x", randomBytes)
}
