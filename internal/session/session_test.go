package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLifecycle(t *testing.T) {
	s := New()
	assert.Nil(t, s.CurrentUser())
	assert.Empty(t, s.AuthHeader().Get("Authorization"))

	s.Login(User{ID: "42", Username: "alice"}, "tok")
	require.True(t, s.Authenticated())
	assert.Equal(t, "Bearer tok", s.AuthHeader().Get("Authorization"))

	u := s.CurrentUser()
	u.Username = "mutated"
	assert.Equal(t, "alice", s.CurrentUser().Username)

	s.Logout()
	assert.False(t, s.Authenticated())
	assert.Empty(t, s.Token())
}
