// Package protocol implements the per-connection command engine: a
// line-oriented state machine that authenticates one remote party and
// manipulates the shared stores on its behalf.
package protocol

import (
	"net"
	"time"

	"maillite.dev/maillite/consts"
	"maillite.dev/maillite/session"
	"maillite.dev/maillite/store"
)

// ReplyLine is one status line sent to the client.
type ReplyLine struct {
	Code    int
	Message string
}

var (
	ReplyReady        = ReplyLine{250, "READY"}
	ReplyMsgArchived  = ReplyLine{250, "MESSAGE ARCHIVED"}
	ReplyMsgRestored  = ReplyLine{250, "MESSAGE RESTORED"}
	ReplyMsgMarked    = ReplyLine{250, "MESSAGE MARKED AS READ"}
	ReplyStatusSet    = ReplyLine{250, "STATUS UPDATED"}
	ReplyExportReady  = ReplyLine{250, "EXPORT READY"}
	ReplyBye          = ReplyLine{221, "BYE"}
	ReplyAuthSuccess  = ReplyLine{235, "AUTH SUCCESS"}
	ReplySendHeaders  = ReplyLine{354, "FROM? TO? SUBJ? BODYLEN?"}
	ReplySendBody     = ReplyLine{354, "SEND BODY"}
	ReplyUnknown      = ReplyLine{500, "UNKNOWN COMMAND"}
	ReplySyntaxError  = ReplyLine{501, "SYNTAX ERROR"}
	ReplyBadStatus    = ReplyLine{501, "INVALID STATUS"}
	ReplyHeloFirst    = ReplyLine{503, "HELO first"}
	ReplyNotAuthed    = ReplyLine{530, "NOT AUTHENTICATED"}
	ReplyAuthFailed   = ReplyLine{535, "AUTH FAILED"}
	ReplyBadHeaders   = ReplyLine{550, "INVALID HEADERS"}
	ReplyBadSender    = ReplyLine{550, "SENDER MISMATCH"}
	ReplyTooLarge     = ReplyLine{550, "MESSAGE TOO LARGE"}
	ReplyTimeout      = ReplyLine{550, "TIMEOUT"}
	ReplySaveFailed   = ReplyLine{550, "SAVE FAILED"}
	ReplyNotFound     = ReplyLine{550, "MESSAGE NOT FOUND"}
	ReplyArchiveFail  = ReplyLine{550, "ARCHIVE FAILED"}
	ReplyRestoreFail  = ReplyLine{550, "RESTORE FAILED"}
	ReplyMarkFail     = ReplyLine{550, "MARK FAILED"}
)

// MessageStore is the mailbox surface the engine mutates.
type MessageStore interface {
	Deposit(from, recipients, subject, body string) (string, error)
	ListFolder(username, folder string) []string
	Fetch(id, username string) (store.Message, bool)
	SetArchived(id, username string, archived bool) bool
	MarkRead(id, username string) bool
	UnreadCount(username string) int
	StorageUsed(username string) int
}

// SessionRegistry is the presence surface shared across connections.
type SessionRegistry interface {
	Open(username string, addr net.IP, notifyPort int) session.Session
	Authenticate(username string)
	Close(username string)
	Get(username string) (session.Session, bool)
	SetStatus(username string, status consts.Status)
	Touch(username string)
	ListOnline() []string
	OnlineCount() int
}

// Notifier is the best-effort side channel; calls never fail.
type Notifier interface {
	Notify(username string, unreadCount int)
	BroadcastStatus(username string, status consts.Status)
}

// Server provides the engine its collaborators and policy knobs. The root
// driver implements it.
type Server interface {
	Name() string

	// Authenticate checks the identity credential.
	Authenticate(username, password string) bool
	// SetUserStatus records a status change on the identity itself, in
	// addition to the live session.
	SetUserStatus(username string, status consts.Status)

	Store() MessageStore
	Sessions() SessionRegistry
	Notifier() Notifier

	// MaxMessageBytes caps SEND body length.
	MaxMessageBytes() int
	// ReadTimeout bounds how long a connection may sit idle between
	// commands before the transport tears it down.
	ReadTimeout() time.Duration
}
