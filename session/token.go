/*
Package session holds the authentication state of an application session.

The token is owned by a TokenStore instance that is created once and injected
wherever it is needed, instead of being looked up from ambient storage.
*/
package session

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// ErrNoToken is returned when a token is required but none was set
var ErrNoToken = errors.New("no session token")

// TokenStore holds the bearer token for the current session
type TokenStore struct {
	mu    sync.RWMutex
	token string
}

// NewTokenStore creates a store seeded with token (which may be empty)
func NewTokenStore(token string) *TokenStore {
	return &TokenStore{token: strings.TrimSpace(token)}
}

// Get returns the current token
func (s *TokenStore) Get() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// Set replaces the token
func (s *TokenStore) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = strings.TrimSpace(token)
}

// Clear forgets the token
func (s *TokenStore) Clear() {
	s.Set("")
}

// DetailPath builds the URL of the detail view of a bulk job without any
// credential. The admin panel attaches its own session token.
func DetailPath(appURL, jobID string) (string, error) {
	u, err := url.Parse(appURL)
	if err != nil {
		return "", fmt.Errorf("invalid app url: %w", err)
	}
	base := strings.TrimRight(u.EscapedPath(), "/")
	u.Path = strings.TrimRight(u.Path, "/") + "/bulk-monitor/" + jobID
	u.RawPath = base + "/bulk-monitor/" + url.PathEscape(jobID)
	return u.String(), nil
}

// DetailLink builds the URL that opens the detail view of a bulk job in a new
// tab with the session token attached. The token travels in the fragment so
// it never reaches server logs. Only hand these links to the session owner.
func (s *TokenStore) DetailLink(appURL, jobID string) (string, error) {
	token, ok := s.Get()
	if !ok {
		return "", ErrNoToken
	}

	link, err := DetailPath(appURL, jobID)
	if err != nil {
		return "", err
	}
	return link + "#token=" + url.QueryEscape(token), nil
}
