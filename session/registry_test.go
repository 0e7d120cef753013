package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"maillite.dev/maillite/consts"
)

var testIP = net.IPv4(10, 0, 0, 7)

func TestOpenReplacesExistingSession(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	first := r.Open("alice", testIP, 4000)
	r.Authenticate("alice")
	second := r.Open("alice", testIP, 5000)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 1, r.TotalSessions())

	// The replacement starts over: unauthenticated, ACTIVE.
	s, ok := r.Get("alice")
	require.True(t, ok)
	assert.False(t, s.Authenticated)
	assert.Equal(t, consts.StatusActive, s.Status)
	assert.Equal(t, 5000, s.NotifyPort)
}

func TestAtMostOneOnlineEntryPerUser(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	r.Open("alice", testIP, 4000)
	r.Authenticate("alice")
	r.Open("alice", testIP, 4001)
	r.Authenticate("alice")

	online := r.ListOnline()
	require.Len(t, online, 1)
}

func TestListOnlineSkipsUnauthenticated(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	r.Open("alice", testIP, 4000)
	r.Open("bob", testIP, NoNotifyPort)
	r.Authenticate("bob")

	assert.Equal(t, 2, r.TotalSessions())
	assert.Equal(t, 1, r.OnlineCount())

	online := r.ListOnline()
	require.Len(t, online, 1)
	assert.Contains(t, online[0], "bob ACTIVE ")
}

func TestGetRefreshesActivity(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.Open("alice", testIP, NoNotifyPort)

	past := time.Now().Add(-time.Hour)
	r.mu.Lock()
	r.sessions["alice"].LastActivity = past
	r.mu.Unlock()

	s, ok := r.Get("alice")
	require.True(t, ok)
	assert.True(t, s.LastActivity.After(past))

	_, ok = r.Get("nobody")
	assert.False(t, ok)
}

func TestCloseIsIdempotent(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.Open("alice", testIP, NoNotifyPort)

	r.Close("alice")
	r.Close("alice")
	assert.Equal(t, 0, r.TotalSessions())
}

func TestSetStatusNoSessionIsNoop(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.SetStatus("ghost", consts.StatusBusy)
	assert.Equal(t, 0, r.TotalSessions())
}

func TestEvictInactive(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.Open("stale", testIP, NoNotifyPort)
	r.Open("fresh", testIP, NoNotifyPort)
	r.Authenticate("stale")

	r.mu.Lock()
	r.sessions["stale"].LastActivity = time.Now().Add(-31 * time.Minute)
	r.mu.Unlock()

	evicted := r.EvictInactive(30 * time.Minute)
	require.Len(t, evicted, 1)
	assert.Equal(t, "stale", evicted[0].Username)
	assert.Equal(t, 1, r.TotalSessions())
}

func TestIdleActiveSelectsOnlyActiveAuthenticated(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	for _, name := range []string{"idler", "busy", "greeter"} {
		r.Open(name, testIP, NoNotifyPort)
	}
	r.Authenticate("idler")
	r.Authenticate("busy")
	r.SetStatus("busy", consts.StatusBusy)

	past := time.Now().Add(-11 * time.Minute)
	r.mu.Lock()
	for _, s := range r.sessions {
		s.LastActivity = past
	}
	r.mu.Unlock()

	idle := r.IdleActive(10 * time.Minute)
	require.Len(t, idle, 1)
	assert.Equal(t, "idler", idle[0].Username)
}

func TestPresenceRecordFormat(t *testing.T) {
	s := Session{
		Username:   "alice",
		Status:     consts.StatusAway,
		Addr:       testIP,
		NotifyPort: 4000,
		LoginTime:  time.UnixMilli(1700000000000),
	}
	assert.Equal(t, "alice AWAY 10.0.0.7 4000 1700000000000", s.PresenceRecord())
}
