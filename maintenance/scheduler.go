// Package maintenance runs the time-driven sweeps that keep session and
// mailbox state consistent independently of any single connection: auto-away
// demotion, presence refresh, inactive-session eviction, and archived
// message expiry.
package maintenance

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"maillite.dev/maillite/consts"
	"maillite.dev/maillite/metrics"
	"maillite.dev/maillite/session"
)

// Registry is the session surface the sweeps operate through. Sweeps use
// the same atomic operations as request handling; there is no privileged
// internal path.
type Registry interface {
	IdleActive(threshold time.Duration) []session.Session
	EvictInactive(threshold time.Duration) []session.Session
	SetStatus(username string, status consts.Status)
	ListOnline() []string
}

// Identities records status changes on the identity directory.
type Identities interface {
	SetStatus(username string, status consts.Status)
}

// MessageExpirer purges old archived copies.
type MessageExpirer interface {
	ExpireArchived(olderThanDays int) int
}

// Broadcaster is the notification fan-out used by the sweeps.
type Broadcaster interface {
	BroadcastStatus(username string, status consts.Status)
	BroadcastOnlineList()
}

// Config fixes the sweep cadences and thresholds.
type Config struct {
	AutoAwayInterval time.Duration
	AutoAwayIdle     time.Duration
	PresenceInterval time.Duration
	EvictionInterval time.Duration
	EvictionIdle     time.Duration
	ExpiryInterval   time.Duration
	RetentionDays    int
}

// DefaultConfig mirrors the production cadences: frequent presence and
// auto-away ticks, 5-minute eviction passes with a 30-minute threshold, and
// hourly expiry with 30-day retention.
func DefaultConfig() Config {
	return Config{
		AutoAwayInterval: time.Minute,
		AutoAwayIdle:     10 * time.Minute,
		PresenceInterval: 30 * time.Second,
		EvictionInterval: 5 * time.Minute,
		EvictionIdle:     30 * time.Minute,
		ExpiryInterval:   time.Hour,
		RetentionDays:    30,
	}
}

// Scheduler owns the four sweep goroutines. Each sweep is idempotent and
// isolated: a failure in one pass neither stops its own ticker nor the
// other sweeps.
type Scheduler struct {
	cfg      Config
	sessions Registry
	users    Identities
	mail     MessageExpirer
	notifier Broadcaster

	// rosterSink, when set, receives the online roster every presence
	// sweep (the attached display collaborator).
	rosterSink func([]string)

	retentionDays atomic.Int64

	log  *zap.Logger
	done chan struct{}
	wg   sync.WaitGroup
}

func NewScheduler(cfg Config, sessions Registry, users Identities, mail MessageExpirer, notifier Broadcaster, log *zap.Logger) *Scheduler {
	s := &Scheduler{
		cfg:      cfg,
		sessions: sessions,
		users:    users,
		mail:     mail,
		notifier: notifier,
		log:      log.Named("maintenance"),
	}
	s.retentionDays.Store(int64(cfg.RetentionDays))
	return s
}

// SetRosterSink attaches a display collaborator fed by the presence sweep.
func (s *Scheduler) SetRosterSink(sink func([]string)) {
	s.rosterSink = sink
}

// RetentionDays returns the current expiry window.
func (s *Scheduler) RetentionDays() int {
	return int(s.retentionDays.Load())
}

// SetRetentionDays adjusts the expiry window at runtime.
func (s *Scheduler) SetRetentionDays(days int) {
	s.retentionDays.Store(int64(days))
	s.log.Info("retention window changed", zap.Int("days", days))
}

// Start launches the sweep goroutines.
func (s *Scheduler) Start() {
	s.done = make(chan struct{})
	s.runPeriodic("auto_away", s.cfg.AutoAwayInterval, s.AutoAwaySweep)
	s.runPeriodic("presence", s.cfg.PresenceInterval, s.PresenceSweep)
	s.runPeriodic("eviction", s.cfg.EvictionInterval, s.EvictionSweep)
	s.runPeriodic("expiry", s.cfg.ExpiryInterval, s.ExpirySweep)
	s.log.Info("maintenance sweeps started")
}

// Stop cancels all sweeps. In-flight passes are allowed to finish.
func (s *Scheduler) Stop() {
	close(s.done)
	s.wg.Wait()
	s.log.Info("maintenance sweeps stopped")
}

func (s *Scheduler) runPeriodic(name string, interval time.Duration, sweep func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.runSweep(name, sweep)
			}
		}
	}()
}

func (s *Scheduler) runSweep(name string, sweep func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("sweep panicked", zap.String("sweep", name), zap.Any("panic", r))
		}
	}()
	metrics.SweepRan(name)
	sweep()
}

// AutoAwaySweep demotes sessions that have sat ACTIVE beyond the idle
// threshold. Each demoted user gets exactly one status broadcast per sweep;
// once AWAY, a session is no longer a candidate.
func (s *Scheduler) AutoAwaySweep() {
	for _, sess := range s.sessions.IdleActive(s.cfg.AutoAwayIdle) {
		s.sessions.SetStatus(sess.Username, consts.StatusAway)
		s.users.SetStatus(sess.Username, consts.StatusAway)
		s.notifier.BroadcastStatus(sess.Username, consts.StatusAway)
		s.log.Info("auto-away", zap.String("user", sess.Username))
	}
}

// PresenceSweep pushes the online roster to the notification channel and
// any attached display.
func (s *Scheduler) PresenceSweep() {
	s.notifier.BroadcastOnlineList()
	if s.rosterSink != nil {
		s.rosterSink(s.sessions.ListOnline())
	}
}

// EvictionSweep removes sessions idle beyond the eviction threshold,
// regardless of status or authentication.
func (s *Scheduler) EvictionSweep() {
	evicted := s.sessions.EvictInactive(s.cfg.EvictionIdle)
	if len(evicted) > 0 {
		s.log.Info("evicted inactive sessions", zap.Int("count", len(evicted)))
	}
}

// ExpirySweep purges archived messages older than the retention window.
func (s *Scheduler) ExpirySweep() {
	removed := s.mail.ExpireArchived(s.RetentionDays())
	if removed > 0 {
		s.log.Info("expired archived messages", zap.Int("removed", removed))
	}
}
