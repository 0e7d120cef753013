package maintenance

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"maillite.dev/maillite/consts"
	"maillite.dev/maillite/session"
	"maillite.dev/maillite/store"
)

type fakeBroadcaster struct {
	mu       sync.Mutex
	statuses []string
	rosters  int
}

func (b *fakeBroadcaster) BroadcastStatus(username string, status consts.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses = append(b.statuses, username+":"+string(status))
}

func (b *fakeBroadcaster) BroadcastOnlineList() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rosters++
}

func (b *fakeBroadcaster) statusLog() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.statuses...)
}

func (b *fakeBroadcaster) rosterCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rosters
}

type fakeExpirer struct {
	gotDays []int
	removed int
}

func (e *fakeExpirer) ExpireArchived(olderThanDays int) int {
	e.gotDays = append(e.gotDays, olderThanDays)
	return e.removed
}

// shortConfig trades the production cadences for thresholds a test can
// cross with a sleep.
func shortConfig() Config {
	cfg := DefaultConfig()
	cfg.AutoAwayIdle = 40 * time.Millisecond
	cfg.EvictionIdle = 40 * time.Millisecond
	return cfg
}

func TestAutoAwaySweep(t *testing.T) {
	r := session.NewRegistry(zap.NewNop())
	r.Open("idler", net.IPv4(127, 0, 0, 1), session.NoNotifyPort)
	r.Authenticate("idler")
	r.Open("fresh", net.IPv4(127, 0, 0, 1), session.NoNotifyPort)
	r.Authenticate("fresh")

	users := store.NewUsers(zap.NewNop(), nil)
	require.True(t, users.Add("idler", "pw"))
	broadcaster := &fakeBroadcaster{}
	s := NewScheduler(shortConfig(), r, users, &fakeExpirer{}, broadcaster, zap.NewNop())

	time.Sleep(60 * time.Millisecond)
	r.Touch("fresh")
	s.AutoAwaySweep()

	sess, ok := r.Get("idler")
	require.True(t, ok)
	assert.Equal(t, consts.StatusAway, sess.Status)

	user, ok := users.Get("idler")
	require.True(t, ok)
	assert.Equal(t, consts.StatusAway, user.Status)

	fresh, ok := r.Get("fresh")
	require.True(t, ok)
	assert.Equal(t, consts.StatusActive, fresh.Status)

	assert.Equal(t, []string{"idler:AWAY"}, broadcaster.statusLog())

	// The demoted session is no longer ACTIVE, so the next sweep skips it.
	// One broadcast per demotion, not per tick.
	time.Sleep(60 * time.Millisecond)
	r.Touch("fresh")
	s.AutoAwaySweep()
	assert.Equal(t, []string{"idler:AWAY"}, broadcaster.statusLog())
}

func TestEvictionSweep(t *testing.T) {
	r := session.NewRegistry(zap.NewNop())
	r.Open("stale", net.IPv4(127, 0, 0, 1), session.NoNotifyPort)
	r.Open("fresh", net.IPv4(127, 0, 0, 1), session.NoNotifyPort)

	users := store.NewUsers(zap.NewNop(), nil)
	s := NewScheduler(shortConfig(), r, users, &fakeExpirer{}, &fakeBroadcaster{}, zap.NewNop())

	time.Sleep(60 * time.Millisecond)
	r.Touch("fresh")
	s.EvictionSweep()

	assert.Equal(t, 1, r.TotalSessions())
	_, ok := r.Get("stale")
	assert.False(t, ok)
	_, ok = r.Get("fresh")
	assert.True(t, ok)
}

func TestExpirySweepUsesRuntimeRetention(t *testing.T) {
	r := session.NewRegistry(zap.NewNop())
	users := store.NewUsers(zap.NewNop(), nil)
	expirer := &fakeExpirer{removed: 2}
	s := NewScheduler(DefaultConfig(), r, users, expirer, &fakeBroadcaster{}, zap.NewNop())

	s.ExpirySweep()
	s.SetRetentionDays(7)
	require.Equal(t, 7, s.RetentionDays())
	s.ExpirySweep()

	assert.Equal(t, []int{30, 7}, expirer.gotDays)
}

func TestPresenceSweepFeedsSink(t *testing.T) {
	r := session.NewRegistry(zap.NewNop())
	r.Open("alice", net.IPv4(127, 0, 0, 1), session.NoNotifyPort)
	r.Authenticate("alice")

	users := store.NewUsers(zap.NewNop(), nil)
	broadcaster := &fakeBroadcaster{}
	s := NewScheduler(DefaultConfig(), r, users, &fakeExpirer{}, broadcaster, zap.NewNop())

	var sunk [][]string
	s.SetRosterSink(func(roster []string) { sunk = append(sunk, roster) })

	s.PresenceSweep()

	assert.Equal(t, 1, broadcaster.rosterCount())
	require.Len(t, sunk, 1)
	require.Len(t, sunk[0], 1)
	assert.Contains(t, sunk[0][0], "alice ")
}

func TestSweepPanicIsIsolated(t *testing.T) {
	r := session.NewRegistry(zap.NewNop())
	users := store.NewUsers(zap.NewNop(), nil)
	s := NewScheduler(DefaultConfig(), r, users, &fakeExpirer{}, &fakeBroadcaster{}, zap.NewNop())

	assert.NotPanics(t, func() {
		s.runSweep("boom", func() { panic("sweep failure") })
	})
}

func TestStartStop(t *testing.T) {
	r := session.NewRegistry(zap.NewNop())
	users := store.NewUsers(zap.NewNop(), nil)
	s := NewScheduler(DefaultConfig(), r, users, &fakeExpirer{}, &fakeBroadcaster{}, zap.NewNop())

	s.Start()
	s.Stop()
}
