// Package session holds the signed-in user and their API token for the
// lifetime of a login, instead of a package-level token variable.
package session

import (
	"net/http"
	"sync"
)

// User 当前登录用户的最小视图。
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// UserProvider exposes the signed-in user, or nil for a guest.
type UserProvider interface {
	CurrentUser() *User
}

// Session is set on login and cleared on logout. It is safe for concurrent use.
type Session struct {
	mu    sync.RWMutex
	user  *User
	token string
}

// New returns an empty (guest) session.
func New() *Session {
	return &Session{}
}

// NewWithUser returns a session already signed in as user.
func NewWithUser(user User, token string) *Session {
	s := New()
	s.Login(user, token)
	return s
}

// Login replaces the current identity.
func (s *Session) Login(user User, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := user
	s.user = &u
	s.token = token
}

// Logout drops the identity and token.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = nil
	s.token = ""
}

// CurrentUser returns a copy of the signed-in user, or nil.
func (s *Session) CurrentUser() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Token returns the bearer token, empty for guests.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Authenticated reports whether a user is signed in.
func (s *Session) Authenticated() bool {
	return s.CurrentUser() != nil
}

// AuthHeader returns request headers carrying the bearer token, if any.
func (s *Session) AuthHeader() http.Header {
	header := http.Header{}
	if token := s.Token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return header
}
