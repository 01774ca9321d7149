package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker() *Tracker {
	return NewTracker("shop_session-id", 60*time.Second, 10*time.Second)
}

func TestBindAndLookup(t *testing.T) {
	tr := newTestTracker()
	tr.Bind("alice", "sess-1")

	id, ok := tr.SessionFor("alice")
	require.True(t, ok)
	assert.Equal(t, "sess-1", id)

	user, ok := tr.UserFor("sess-1")
	require.True(t, ok)
	assert.Equal(t, "alice", user)
}

func TestBijectionOnRebind(t *testing.T) {
	tr := newTestTracker()
	tr.Bind("alice", "sess-1")
	tr.Bind("alice", "sess-2")

	// The old session id no longer resolves.
	_, ok := tr.UserFor("sess-1")
	assert.False(t, ok)

	user, ok := tr.UserFor("sess-2")
	require.True(t, ok)
	assert.Equal(t, "alice", user)
}

func TestBijectionOnSessionTakeover(t *testing.T) {
	tr := newTestTracker()
	tr.Bind("alice", "sess-1")
	tr.Bind("bob", "sess-1")

	_, ok := tr.SessionFor("alice")
	assert.False(t, ok, "alice lost the session to bob")

	user, ok := tr.UserFor("sess-1")
	require.True(t, ok)
	assert.Equal(t, "bob", user)

	// Forward and reverse maps stay mutual inverses.
	for _, b := range tr.Bindings() {
		u, ok := tr.UserFor(b.SessionID)
		require.True(t, ok)
		assert.Equal(t, b.User, u)
	}
}

func TestLastChangeOnlyMovesOnNewID(t *testing.T) {
	tr := newTestTracker()
	tr.Bind("alice", "sess-1")

	before := tr.Bindings()[0].LastChange
	time.Sleep(5 * time.Millisecond)

	tr.Bind("alice", "sess-1")
	assert.Equal(t, before, tr.Bindings()[0].LastChange)

	tr.Bind("alice", "sess-2")
	assert.True(t, tr.Bindings()[0].LastChange.After(before))
}

func TestObserveParsesSetCookie(t *testing.T) {
	tr := newTestTracker()

	rec := httptest.NewRecorder()
	http.SetCookie(rec, &http.Cookie{Name: "shop_session-id", Value: "cookie-7"})
	resp := rec.Result()

	tr.Observe("alice", resp)

	id, ok := tr.SessionFor("alice")
	require.True(t, ok)
	assert.Equal(t, "cookie-7", id)
}

func TestAttachSetsKnownCookie(t *testing.T) {
	tr := newTestTracker()
	tr.Bind("alice", "sess-9")

	req := httptest.NewRequest(http.MethodGet, "http://cart/", nil)
	tr.Attach(req, "alice")

	c, err := req.Cookie("shop_session-id")
	require.NoError(t, err)
	assert.Equal(t, "sess-9", c.Value)

	// Unknown users get no cookie.
	req2 := httptest.NewRequest(http.MethodGet, "http://cart/", nil)
	tr.Attach(req2, "mallory")
	_, err = req2.Cookie("shop_session-id")
	assert.Error(t, err)
}

func TestSweepExpiresIdleEntries(t *testing.T) {
	tr := NewTracker("shop_session-id", 20*time.Millisecond, time.Hour)
	tr.Bind("alice", "sess-1")
	tr.Bind("bob", "sess-2")

	time.Sleep(30 * time.Millisecond)
	tr.Touch("bob") // bob stays active

	tr.sweep()

	_, ok := tr.SessionFor("alice")
	assert.False(t, ok)
	_, ok = tr.SessionFor("bob")
	assert.True(t, ok)
}
