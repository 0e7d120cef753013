package main

import (
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

type ServerControlMessage int

const (
	ServerControlFatalError ServerControlMessage = iota
	ServerControlStopped
)

// RunAcceptLoop feeds accepted connections into `c` until the listener
// fails, then closes the channel.
func RunAcceptLoop(l net.Listener, c chan<- net.Conn, log *zap.Logger) {
	for {
		conn, err := l.Accept()
		if err != nil {
			log.Error("accept", zap.Error(err))
			close(c)
			return
		}

		c <- conn
	}
}

// CreateReloadSignal delivers SIGHUP, used to re-read the config file at
// runtime.
func CreateReloadSignal() <-chan os.Signal {
	reloadChan := make(chan os.Signal, 1)
	signal.Notify(reloadChan, syscall.SIGHUP)
	return reloadChan
}

// CreateShutdownSignal delivers SIGINT/SIGTERM.
func CreateShutdownSignal() <-chan os.Signal {
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)
	return shutdownChan
}
