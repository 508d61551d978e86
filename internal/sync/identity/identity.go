// Package identity supplies the authenticated user, if any.
package identity

import (
	"context"
	"sync"
)

// Provider returns the current user id, or false when nobody is signed in.
type Provider interface {
	CurrentUserID(ctx context.Context) (string, bool)
}

// Static is a fixed identity. The zero value is unauthenticated.
type Static string

// CurrentUserID returns the static id.
func (s Static) CurrentUserID(context.Context) (string, bool) {
	return string(s), s != ""
}

// Session is a mutable sign-in state.
type Session struct {
	mu     sync.RWMutex
	userID string
	token  string
}

// NewSession creates a signed-out Session.
func NewSession() *Session {
	return &Session{}
}

// SignIn records the signed-in user and their access token.
func (s *Session) SignIn(userID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.token = token
}

// SignOut clears the session.
func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = ""
	s.token = ""
}

// CurrentUserID returns the signed-in user.
func (s *Session) CurrentUserID(context.Context) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.userID != ""
}

// AccessToken returns the session token, or "" when signed out.
func (s *Session) AccessToken(context.Context) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}
