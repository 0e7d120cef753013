// Package notify implements the best-effort UDP side channel used for
// low-latency presence and new-mail pushes. It fans out over registry state
// and owns no session data of its own; individual send failures are logged
// and swallowed, never surfaced to the triggering command.
package notify

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"maillite.dev/maillite/consts"
	"maillite.dev/maillite/metrics"
	"maillite.dev/maillite/session"
)

// SessionSource is the registry view the notifier fans out over.
type SessionSource interface {
	Get(username string) (session.Session, bool)
	AllAuthenticated() []session.Session
}

// Notifier owns one UDP socket: a receive loop for inbound datagrams (which
// are logged and dropped — they are not part of the protocol contract) and
// fire-and-forget outbound sends. Reconfigure by Stop then Start.
type Notifier struct {
	sessions SessionSource
	log      *zap.Logger

	mu   sync.Mutex
	conn *net.UDPConn
	done chan struct{}
	wg   sync.WaitGroup
}

func NewNotifier(sessions SessionSource, log *zap.Logger) *Notifier {
	return &Notifier{
		sessions: sessions,
		log:      log.Named("notify"),
	}
}

// Start binds the socket on the given port and launches the receive loop.
func (n *Notifier) Start(port int) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn != nil {
		return fmt.Errorf("notifier already running")
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return fmt.Errorf("notifier listen: %w", err)
	}
	n.conn = conn
	n.done = make(chan struct{})

	n.wg.Add(1)
	go n.receiveLoop(conn, n.done)

	n.log.Info("notifier started", zap.Int("port", port))
	return nil
}

// Stop closes the socket and waits for the receive loop to observe it.
func (n *Notifier) Stop() {
	n.mu.Lock()
	if n.conn == nil {
		n.mu.Unlock()
		return
	}
	close(n.done)
	n.conn.Close()
	n.conn = nil
	n.mu.Unlock()

	n.wg.Wait()
	n.log.Info("notifier stopped")
}

// receiveLoop drains inbound datagrams. The short read deadline lets it
// observe a stop request promptly.
func (n *Notifier) receiveLoop(conn *net.UDPConn, done <-chan struct{}) {
	defer n.wg.Done()

	buf := make([]byte, 1024)
	for {
		select {
		case <-done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(time.Second))
		size, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-done:
			default:
				n.log.Error("receive", zap.Error(err))
			}
			return
		}

		n.log.Info("datagram received",
			zap.String("payload", strings.TrimSpace(string(buf[:size]))),
			zap.Stringer("from", addr))
	}
}

// Notify sends one new-mail datagram to the user's registered endpoint.
// Silent no-op if the user has no session or no notify endpoint.
func (n *Notifier) Notify(username string, unreadCount int) {
	s, ok := n.sessions.Get(username)
	if !ok || !s.HasNotifyEndpoint() {
		return
	}
	n.send(s, fmt.Sprintf("NOTIFY NEWMAIL %s %d", username, unreadCount))
}

// BroadcastStatus announces a status change to every other authenticated,
// notify-enabled session.
func (n *Notifier) BroadcastStatus(username string, status consts.Status) {
	payload := fmt.Sprintf("NOTIFY STATUS %s %s", username, status)
	for _, s := range n.sessions.AllAuthenticated() {
		if s.Username == username || !s.HasNotifyEndpoint() {
			continue
		}
		n.send(s, payload)
	}
}

// BroadcastOnlineList pushes the full presence roster to every
// notify-enabled session, including the subject users themselves.
func (n *Notifier) BroadcastOnlineList() {
	sessions := n.sessions.AllAuthenticated()

	var sb strings.Builder
	sb.WriteString("ONLINE_USERS ")
	for _, s := range sessions {
		fmt.Fprintf(&sb, "%s,%s,%s;", s.Username, s.Status, s.Addr)
	}
	payload := sb.String()

	for _, s := range sessions {
		if s.HasNotifyEndpoint() {
			n.send(s, payload)
		}
	}
}

func (n *Notifier) send(s session.Session, payload string) {
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()
	if conn == nil {
		return
	}

	if _, err := conn.WriteToUDP([]byte(payload), s.NotifyAddr()); err != nil {
		n.log.Error("send failed",
			zap.String("user", s.Username),
			zap.Error(err))
		return
	}
	switch {
	case strings.HasPrefix(payload, "NOTIFY NEWMAIL"):
		metrics.NotificationSent("newmail")
	case strings.HasPrefix(payload, "NOTIFY STATUS"):
		metrics.NotificationSent("status")
	default:
		metrics.NotificationSent("online_users")
	}
	n.log.Debug("sent datagram",
		zap.String("user", s.Username),
		zap.String("payload", payload))
}
