package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistry_RegisterAndLookup(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("run-1", "session-abc")
	sid, ok := r.SessionFor("run-1")
	assert.True(t, ok)
	assert.Equal(t, "session-abc", sid)

	_, ok = r.SessionFor("unknown")
	assert.False(t, ok)
}

func TestSessionRegistry_LatestCallerWins(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("run-1", "session-old")
	r.Register("run-1", "session-new")

	sid, _ := r.SessionFor("run-1")
	assert.Equal(t, "session-new", sid)
	assert.Equal(t, 1, r.Len())
}

func TestSessionRegistry_RemoveSession(t *testing.T) {
	r := NewSessionRegistry()
	r.Register("run-1", "session-abc")
	r.Register("run-2", "session-abc")
	r.Register("run-3", "session-xyz")

	r.Remove("session-abc")

	_, ok := r.SessionFor("run-1")
	assert.False(t, ok)
	_, ok = r.SessionFor("run-2")
	assert.False(t, ok)
	_, ok = r.SessionFor("run-3")
	assert.True(t, ok)
}

func TestSessionRegistry_Forget(t *testing.T) {
	r := NewSessionRegistry()
	r.Register("run-1", "session-abc")
	r.Forget("run-1")
	r.Forget("run-1")
	assert.Equal(t, 0, r.Len())
}
