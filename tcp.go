package main

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"maillite.dev/maillite/consts"
	"maillite.dev/maillite/notify"
	"maillite.dev/maillite/protocol"
	"maillite.dev/maillite/session"
	"maillite.dev/maillite/store"
)

func runTCPServer(server *mailServer) <-chan ServerControlMessage {
	go server.run()
	return server.controlChan
}

// mailServer is the command-protocol driver: it owns the listener and hands
// every accepted connection a protocol engine wired to the shared stores.
// It implements protocol.Server.
type mailServer struct {
	config Config

	users     *store.Users
	mailboxes *store.Mailboxes
	sessions  *session.Registry
	notifier  *notify.Notifier

	log *zap.Logger

	controlChan chan ServerControlMessage

	mu       sync.Mutex
	listener net.Listener
}

func newMailServer(config Config, users *store.Users, mailboxes *store.Mailboxes,
	sessions *session.Registry, notifier *notify.Notifier, log *zap.Logger) *mailServer {
	return &mailServer{
		config:      config,
		users:       users,
		mailboxes:   mailboxes,
		sessions:    sessions,
		notifier:    notifier,
		log:         log.With(zap.String("server", "tcp")),
		controlChan: make(chan ServerControlMessage),
	}
}

func (server *mailServer) run() {
	addr := fmt.Sprintf(":%d", server.config.TCPPort)
	server.log.Info("starting server", zap.String("address", addr))

	l, err := net.Listen("tcp", addr)
	if err != nil {
		server.log.Error("listen", zap.Error(err))
		server.controlChan <- ServerControlFatalError
		return
	}
	server.mu.Lock()
	server.listener = l
	server.mu.Unlock()

	connChan := make(chan net.Conn)
	go RunAcceptLoop(l, connChan, server.log)

	for conn := range connChan {
		go protocol.AcceptConnection(conn, server, server.log)
	}
	server.controlChan <- ServerControlStopped
}

// stop closes the listener; in-flight connections run to completion.
func (server *mailServer) stop() {
	server.mu.Lock()
	defer server.mu.Unlock()
	if server.listener != nil {
		server.listener.Close()
		server.listener = nil
	}
}

func (server *mailServer) Name() string {
	return server.config.Hostname
}

func (server *mailServer) Authenticate(username, password string) bool {
	return server.users.Authenticate(username, password)
}

func (server *mailServer) SetUserStatus(username string, status consts.Status) {
	server.users.SetStatus(username, status)
}

func (server *mailServer) Store() protocol.MessageStore {
	return server.mailboxes
}

func (server *mailServer) Sessions() protocol.SessionRegistry {
	return server.sessions
}

func (server *mailServer) Notifier() protocol.Notifier {
	return server.notifier
}

func (server *mailServer) MaxMessageBytes() int {
	return server.config.MaxMessageBytes
}

func (server *mailServer) ReadTimeout() time.Duration {
	return server.config.ReadTimeout()
}
