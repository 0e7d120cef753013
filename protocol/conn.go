package protocol

import (
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"maillite.dev/maillite/consts"
	"maillite.dev/maillite/metrics"
	"maillite.dev/maillite/session"
)

type connection struct {
	server Server

	tp         *textproto.Conn
	netConn    net.Conn
	remoteAddr net.Addr

	log *zap.Logger

	line string

	// user is the session identity once HELO has been seen. A connection
	// moves greeted -> authenticated and never back except via re-HELO.
	user          string
	greeted       bool
	authenticated bool
}

// AcceptConnection runs the command loop for one client until QUIT, idle
// timeout, or transport error. Cleanup runs through a single disconnect
// path regardless of which trigger fired.
func AcceptConnection(netConn net.Conn, server Server, log *zap.Logger) {
	log = log.With(zap.Stringer("client", netConn.RemoteAddr()))
	conn := connection{
		server:     server,
		tp:         textproto.NewConn(netConn),
		netConn:    netConn,
		remoteAddr: netConn.RemoteAddr(),
		log:        log,
	}

	conn.log.Info("accepted connection", zap.String("server", server.Name()))
	metrics.ConnectionOpened()
	defer metrics.ConnectionClosed()
	defer conn.disconnect()

	for {
		if err := conn.readLine(); err != nil {
			conn.log.Info("connection closed", zap.Error(err))
			return
		}
		if strings.TrimSpace(conn.line) == "" {
			continue
		}

		var cmd string
		fmt.Sscanf(conn.line, "%s", &cmd)
		cmd = strings.ToUpper(cmd)

		conn.log.Debug("command received",
			zap.String("command", cmd),
			zap.String("user", conn.user))
		metrics.CommandReceived(cmd)

		if quit := conn.processCommand(cmd); quit {
			return
		}

		if conn.authenticated {
			conn.server.Sessions().Touch(conn.user)
		}
	}
}

// processCommand dispatches one command. A handler failure is reported to
// the client and the connection stays open; only QUIT and transport errors
// end the loop.
func (conn *connection) processCommand(cmd string) (quit bool) {
	var err error
	switch cmd {
	case "HELO":
		conn.doHELO()
	case "AUTH":
		conn.doAUTH()
	case "SEND":
		if conn.requireAuth() {
			err = conn.doSEND()
		}
	case "LIST":
		if conn.requireAuth() {
			conn.doLIST()
		}
	case "RETR":
		if conn.requireAuth() {
			conn.doRETR()
		}
	case "DELE":
		if conn.requireAuth() {
			conn.doArchive(true)
		}
	case "RESTORE":
		if conn.requireAuth() {
			conn.doArchive(false)
		}
	case "MARK":
		if conn.requireAuth() {
			conn.doMARK()
		}
	case "SETSTAT":
		if conn.requireAuth() {
			conn.doSETSTAT()
		}
	case "WHO":
		if conn.requireAuth() {
			conn.doWHO()
		}
	case "STAT":
		if conn.requireAuth() {
			conn.doSTAT()
		}
	case "EXPORT":
		if conn.requireAuth() {
			conn.reply(ReplyExportReady)
		}
	case "QUIT":
		conn.reply(ReplyBye)
		return true
	default:
		conn.log.Info("unknown command", zap.String("command", cmd))
		conn.reply(ReplyUnknown)
	}

	if err != nil {
		// Transport failure mid-command is fatal to this connection.
		conn.log.Error("command aborted", zap.String("command", cmd), zap.Error(err))
		return true
	}
	return false
}

// readLine reads the next command line under the idle deadline.
func (conn *connection) readLine() error {
	conn.netConn.SetReadDeadline(timeoutDeadline(conn.server.ReadTimeout()))
	var err error
	conn.line, err = conn.tp.ReadLine()
	return err
}

func (conn *connection) reply(r ReplyLine) {
	conn.tp.PrintfLine("%d %s", r.Code, r.Message)
}

func (conn *connection) replyf(code int, format string, args ...any) {
	conn.tp.PrintfLine("%d "+format, append([]any{code}, args...)...)
}

// args returns everything after the command word, split on spaces.
func (conn *connection) args() []string {
	fields := strings.Fields(conn.line)
	if len(fields) < 2 {
		return nil
	}
	return fields[1:]
}

func (conn *connection) requireAuth() bool {
	if !conn.authenticated {
		conn.reply(ReplyNotAuthed)
		return false
	}
	return true
}

// doHELO opens (or replaces) a session for the named user. It never
// authenticates; a re-HELO drops any previous authentication.
func (conn *connection) doHELO() {
	args := conn.args()
	if len(args) == 0 {
		conn.reply(ReplySyntaxError)
		return
	}

	username := args[0]
	notifyPort := session.NoNotifyPort
	if len(args) > 1 && strings.HasPrefix(args[1], "UDP:") {
		port, err := strconv.Atoi(strings.TrimPrefix(args[1], "UDP:"))
		if err != nil {
			conn.log.Error("bad UDP port", zap.String("arg", args[1]), zap.Error(err))
		} else {
			notifyPort = port
		}
	}

	conn.server.Sessions().Open(username, remoteIP(conn.remoteAddr), notifyPort)
	conn.user = username
	conn.greeted = true
	conn.authenticated = false

	conn.log.Info("greeted",
		zap.String("user", username),
		zap.Int("notifyPort", notifyPort))
	conn.reply(ReplyReady)
}

func (conn *connection) doAUTH() {
	if !conn.greeted {
		conn.reply(ReplyHeloFirst)
		return
	}

	args := conn.args()
	if len(args) < 2 {
		conn.reply(ReplySyntaxError)
		return
	}
	username, password := args[0], args[1]

	if !conn.server.Authenticate(username, password) {
		conn.log.Info("auth failed", zap.String("user", username))
		metrics.AuthAttempt(false)
		conn.reply(ReplyAuthFailed)
		return
	}

	// Clients normally AUTH as the HELO identity; if they do not, the
	// session is rebound so the registry key matches the authenticated
	// user and the one-session-per-identity invariant holds.
	if username != conn.user {
		conn.rebindSession(username)
	}

	conn.server.Sessions().Authenticate(conn.user)
	conn.server.SetUserStatus(conn.user, consts.StatusActive)
	conn.authenticated = true

	conn.log.Info("authenticated", zap.String("user", conn.user))
	metrics.AuthAttempt(true)
	conn.reply(ReplyAuthSuccess)

	conn.server.Notifier().BroadcastStatus(conn.user, consts.StatusActive)
}

func (conn *connection) rebindSession(username string) {
	sessions := conn.server.Sessions()
	notifyPort := session.NoNotifyPort
	if old, found := sessions.Get(conn.user); found {
		notifyPort = old.NotifyPort
	}
	sessions.Close(conn.user)
	sessions.Open(username, remoteIP(conn.remoteAddr), notifyPort)
	conn.user = username
}

// doSEND runs the two-phase send exchange. The returned error is a
// transport failure; protocol-level rejections reply and return nil.
func (conn *connection) doSEND() error {
	conn.reply(ReplySendHeaders)

	conn.netConn.SetReadDeadline(timeoutDeadline(conn.server.ReadTimeout()))
	headerLine, err := conn.tp.ReadLine()
	if err != nil {
		conn.reply(ReplyTimeout)
		return err
	}

	var from, to, subject string
	bodyLen := 0
	for _, tok := range strings.Fields(headerLine) {
		switch {
		case strings.HasPrefix(tok, "FROM:"):
			from = strings.TrimPrefix(tok, "FROM:")
		case strings.HasPrefix(tok, "TO:"):
			to = strings.TrimPrefix(tok, "TO:")
		case strings.HasPrefix(tok, "SUBJ:"):
			subject = strings.TrimPrefix(tok, "SUBJ:")
		case strings.HasPrefix(tok, "BODYLEN:"):
			bodyLen, _ = strconv.Atoi(strings.TrimPrefix(tok, "BODYLEN:"))
		}
	}

	if from == "" || to == "" || subject == "" || bodyLen <= 0 {
		conn.reply(ReplyBadHeaders)
		return nil
	}
	if from != conn.user {
		conn.log.Info("sender mismatch",
			zap.String("claimed", from),
			zap.String("authenticated", conn.user))
		conn.reply(ReplyBadSender)
		return nil
	}
	if bodyLen > conn.server.MaxMessageBytes() {
		conn.reply(ReplyTooLarge)
		return nil
	}

	conn.reply(ReplySendBody)

	// Read exactly bodyLen bytes; whatever arrived before a closed stream
	// is used as-is.
	conn.netConn.SetReadDeadline(timeoutDeadline(conn.server.ReadTimeout()))
	body := make([]byte, bodyLen)
	read, err := io.ReadFull(conn.tp.R, body)
	body = body[:read]
	if err == nil {
		// Trailing line terminator after the body.
		conn.tp.ReadLine()
	}

	id, depositErr := conn.server.Store().Deposit(conn.user, to, subject, string(body))
	if depositErr != nil {
		conn.log.Error("deposit failed", zap.Error(depositErr))
		conn.reply(ReplySaveFailed)
		return nil
	}

	conn.log.Info("message accepted",
		zap.String("id", id),
		zap.String("to", to),
		zap.Int("size", len(body)))
	metrics.MessageDeposited(len(body))
	conn.replyf(250, "MSGID %s", id)

	for _, recipient := range strings.Split(to, ",") {
		recipient = strings.TrimSpace(recipient)
		if recipient == "" {
			continue
		}
		unread := conn.server.Store().UnreadCount(recipient)
		conn.server.Notifier().Notify(recipient, unread)
	}
	return nil
}

// doLIST detects the folder by substring against the raw command line,
// first match winning in the order checked.
func (conn *connection) doLIST() {
	line := strings.ToUpper(conn.line)
	folder := "INBOX"
	switch {
	case strings.Contains(line, "ALL"):
		folder = "ALL"
	case strings.Contains(line, "UNREAD"):
		folder = "UNREAD"
	case strings.Contains(line, "SENT"):
		folder = "SENT"
	case strings.Contains(line, "ARCHIVE"):
		folder = "ARCHIVE"
	}

	lines := conn.server.Store().ListFolder(conn.user, folder)
	conn.log.Info("list",
		zap.String("folder", folder),
		zap.Int("count", len(lines)))

	conn.replyf(213, "%d", len(lines))
	for _, l := range lines {
		conn.replyf(213, "%s", l)
	}
	conn.tp.PrintfLine("213 END")
}

func (conn *connection) doRETR() {
	args := conn.args()
	if len(args) == 0 {
		conn.reply(ReplySyntaxError)
		return
	}
	id := args[0]

	msg, ok := conn.server.Store().Fetch(id, conn.user)
	if !ok {
		conn.log.Info("retrieve failed", zap.String("id", id))
		conn.reply(ReplyNotFound)
		return
	}

	conn.log.Info("retrieved message", zap.String("id", id))
	conn.replyf(214, "FROM:%s", msg.From)
	conn.replyf(214, "TO:%s", msg.ToLine())
	conn.replyf(214, "SUBJ:%s", msg.Subject)
	conn.replyf(214, "TIMESTAMP:%d", msg.Timestamp)
	conn.tp.PrintfLine("214 BODY")
	for _, line := range strings.Split(msg.Body, "\n") {
		conn.tp.PrintfLine("%s", line)
	}
	conn.tp.PrintfLine("214 END")
}

func (conn *connection) doArchive(archive bool) {
	args := conn.args()
	if len(args) == 0 {
		conn.reply(ReplySyntaxError)
		return
	}
	id := args[0]

	found := conn.server.Store().SetArchived(id, conn.user, archive)
	switch {
	case found && archive:
		conn.log.Info("archived message", zap.String("id", id))
		conn.reply(ReplyMsgArchived)
	case found:
		conn.log.Info("restored message", zap.String("id", id))
		conn.reply(ReplyMsgRestored)
	case archive:
		conn.reply(ReplyArchiveFail)
	default:
		conn.reply(ReplyRestoreFail)
	}
}

func (conn *connection) doMARK() {
	args := conn.args()
	if len(args) == 0 {
		conn.reply(ReplySyntaxError)
		return
	}
	id := args[0]

	if conn.server.Store().MarkRead(id, conn.user) {
		conn.log.Info("marked read", zap.String("id", id))
		conn.reply(ReplyMsgMarked)
	} else {
		conn.reply(ReplyMarkFail)
	}
}

func (conn *connection) doSETSTAT() {
	args := conn.args()
	if len(args) == 0 {
		conn.reply(ReplyBadStatus)
		return
	}

	status, ok := consts.ParseStatus(strings.ToUpper(args[0]))
	if !ok || !status.Settable() {
		conn.reply(ReplyBadStatus)
		return
	}

	conn.server.Sessions().SetStatus(conn.user, status)
	conn.server.SetUserStatus(conn.user, status)

	conn.log.Info("status updated", zap.String("status", status.String()))
	conn.reply(ReplyStatusSet)

	conn.server.Notifier().BroadcastStatus(conn.user, status)
}

func (conn *connection) doWHO() {
	records := conn.server.Sessions().ListOnline()
	conn.replyf(212, "%d", len(records))
	for _, r := range records {
		conn.tp.PrintfLine("212U %s", r)
	}
	conn.tp.PrintfLine("212 END")
}

func (conn *connection) doSTAT() {
	st := conn.server.Store()
	unread := st.UnreadCount(conn.user)
	storage := st.StorageUsed(conn.user)
	online := conn.server.Sessions().OnlineCount()
	conn.replyf(211, "M:%d S:%d U:%d", unread, storage, online)
}

// disconnect is the single teardown path for QUIT, timeout, and transport
// errors. An authenticated session is removed, the identity goes OFFLINE,
// and the change is broadcast.
func (conn *connection) disconnect() {
	if conn.authenticated {
		conn.server.Sessions().Close(conn.user)
		conn.server.SetUserStatus(conn.user, consts.StatusOffline)
		conn.server.Notifier().BroadcastStatus(conn.user, consts.StatusOffline)
		conn.log.Info("disconnected", zap.String("user", conn.user))
	}
	conn.tp.Close()
}

func remoteIP(addr net.Addr) net.IP {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP
	}
	return net.IPv4zero
}

// timeoutDeadline converts the idle timeout to an absolute deadline. A
// non-positive timeout disables the deadline.
func timeoutDeadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}
