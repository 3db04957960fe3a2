package config

import (
	"sync"
)

var (
	accessTokenMu sync.RWMutex
	// accessToken is the bearer token issued by the identity provider.
	// The client never mints it; it only forwards it.
	accessToken = GetEnvOrDefault("PHANTOM_ACCESS_TOKEN", "")
)

// SetAccessToken temporarily changes the access token and returns a function to restore it
// This is primarily used for testing
func SetAccessToken(token string) func() {
	accessTokenMu.Lock()
	previous := accessToken
	accessToken = token
	accessTokenMu.Unlock()

	return func() {
		accessTokenMu.Lock()
		accessToken = previous
		accessTokenMu.Unlock()
	}
}

// GetAccessToken returns the current access token in a thread-safe manner
func GetAccessToken() string {
	accessTokenMu.RLock()
	defer accessTokenMu.RUnlock()
	return accessToken
}
