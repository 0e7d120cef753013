// Package session tracks the live binding between connected transports and
// identities. The registry is the single shared map consulted by every
// connection handler, the notifier, and the maintenance sweeps.
package session

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"maillite.dev/maillite/consts"
)

// NoNotifyPort marks a session whose client did not advertise a UDP
// notification endpoint.
const NoNotifyPort = -1

// Session is one live connection's state. Fields are only mutated through
// Registry methods; callers receive value snapshots.
type Session struct {
	// ID correlates log lines across the connection's lifetime.
	ID            string
	Username      string
	Addr          net.IP
	NotifyPort    int
	Authenticated bool
	Status        consts.Status
	LoginTime     time.Time
	LastActivity  time.Time
}

// HasNotifyEndpoint reports whether the session can receive datagrams.
func (s Session) HasNotifyEndpoint() bool {
	return s.NotifyPort > 0
}

// NotifyAddr is the UDP endpoint the client registered with HELO.
func (s Session) NotifyAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: s.Addr, Port: s.NotifyPort}
}

// PresenceRecord renders the WHO line payload:
// username status ip notifyPort loginMillis.
func (s Session) PresenceRecord() string {
	return fmt.Sprintf("%s %s %s %d %d",
		s.Username, s.Status, s.Addr, s.NotifyPort, s.LoginTime.UnixMilli())
}

// Registry holds at most one session per username. All operations are
// atomic with respect to concurrent callers.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	log *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		log:      log.Named("sessions"),
	}
}

// Open creates a session for the username, replacing any existing one.
// The new session starts unauthenticated with status ACTIVE.
func (r *Registry) Open(username string, addr net.IP, notifyPort int) Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.sessions[username]; ok {
		r.log.Info("replacing session",
			zap.String("user", username),
			zap.String("session", old.ID))
	}

	now := time.Now()
	s := &Session{
		ID:           uuid.NewString(),
		Username:     username,
		Addr:         addr,
		NotifyPort:   notifyPort,
		Status:       consts.StatusActive,
		LoginTime:    now,
		LastActivity: now,
	}
	r.sessions[username] = s

	r.log.Info("opened session",
		zap.String("user", username),
		zap.String("session", s.ID),
		zap.Int("notifyPort", notifyPort))
	return *s
}

// Authenticate marks the session authenticated and ACTIVE. No-op if the
// session is gone.
func (r *Registry) Authenticate(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[username]
	if !ok {
		return
	}
	s.Authenticated = true
	s.Status = consts.StatusActive
	s.LastActivity = time.Now()
}

// Close removes the session if present. Absence is not an error.
func (r *Registry) Close(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[username]
	if !ok {
		r.log.Debug("no session to close", zap.String("user", username))
		return
	}
	delete(r.sessions, username)
	r.log.Info("closed session", zap.String("user", username), zap.String("session", s.ID))
}

// Get returns a snapshot of the user's session. Every lookup counts as
// proof of liveness and refreshes the activity timestamp.
func (r *Registry) Get(username string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[username]
	if !ok {
		return Session{}, false
	}
	s.LastActivity = time.Now()
	return *s, true
}

// Touch refreshes the session's activity timestamp without copying it out.
func (r *Registry) Touch(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[username]; ok {
		s.LastActivity = time.Now()
	}
}

// SetStatus updates status and refreshes activity. No-op when no session
// exists for the username.
func (r *Registry) SetStatus(username string, status consts.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[username]
	if !ok {
		return
	}
	old := s.Status
	s.Status = status
	s.LastActivity = time.Now()
	r.log.Info("status changed",
		zap.String("user", username),
		zap.String("from", old.String()),
		zap.String("to", status.String()))
}

// ListOnline returns presence records for every authenticated session.
func (r *Registry) ListOnline() []string {
	records := make([]string, 0)
	for _, s := range r.AllAuthenticated() {
		records = append(records, s.PresenceRecord())
	}
	return records
}

// AllAuthenticated returns snapshots of every authenticated session, the
// iteration set for broadcasts and sweeps.
func (r *Registry) AllAuthenticated() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.Authenticated {
			out = append(out, *s)
		}
	}
	return out
}

// OnlineCount counts authenticated sessions.
func (r *Registry) OnlineCount() int {
	return len(r.AllAuthenticated())
}

// TotalSessions counts all sessions, authenticated or not.
func (r *Registry) TotalSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}

// EvictInactive removes every session idle beyond the threshold, regardless
// of authentication state, and returns the evicted snapshots.
func (r *Registry) EvictInactive(threshold time.Duration) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var evicted []Session
	for username, s := range r.sessions {
		if now.Sub(s.LastActivity) > threshold {
			evicted = append(evicted, *s)
			delete(r.sessions, username)
			r.log.Info("evicted inactive session",
				zap.String("user", username),
				zap.Duration("idle", now.Sub(s.LastActivity)))
		}
	}
	return evicted
}

// IdleActive returns authenticated sessions that have sat in ACTIVE status
// longer than the threshold, the auto-away candidate set.
func (r *Registry) IdleActive(threshold time.Duration) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var idle []Session
	for _, s := range r.sessions {
		if s.Authenticated && s.Status == consts.StatusActive && now.Sub(s.LastActivity) > threshold {
			idle = append(idle, *s)
		}
	}
	return idle
}
