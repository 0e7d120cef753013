package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoRecipients is returned by Deposit when the recipient list is empty
// after trimming.
var ErrNoRecipients = errors.New("no valid recipients")

const sentSuffix = "_sent"

// SaveMessagesFunc persists a full snapshot of every mailbox. It is called
// synchronously under the store lock on every mutation.
type SaveMessagesFunc func(map[string][]*Message) error

// Mailboxes owns all stored message copies, keyed by mailbox: lower(user)
// for received copies and lower(user)_sent for sent copies. Folder views
// are computed queries over these lists, never separate stores.
type Mailboxes struct {
	mu      sync.Mutex
	boxes   map[string][]*Message
	nextSeq int64

	save SaveMessagesFunc
	log  *zap.Logger
}

func NewMailboxes(log *zap.Logger, save SaveMessagesFunc) *Mailboxes {
	if save == nil {
		save = func(map[string][]*Message) error { return nil }
	}
	return &Mailboxes{
		boxes:   make(map[string][]*Message),
		nextSeq: 1,
		save:    save,
		log:     log.Named("mailboxes"),
	}
}

// Load replaces the store contents with a previously persisted snapshot and
// re-derives the ID sequence from the highest stored ID.
func (s *Mailboxes) Load(snapshot map[string][]*Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.boxes = make(map[string][]*Message, len(snapshot))
	count := 0
	for key, msgs := range snapshot {
		s.boxes[strings.ToLower(key)] = msgs
		count += len(msgs)
		for _, m := range msgs {
			if seq := seqFromID(m.ID); seq >= s.nextSeq {
				s.nextSeq = seq + 1
			}
		}
	}
	s.log.Info("loaded messages", zap.Int("messages", count), zap.Int("mailboxes", len(s.boxes)))
}

// seqFromID recovers the trailing sequence number from a msg_<millis>_<seq>
// identifier. Returns 0 for IDs it cannot parse.
func seqFromID(id string) int64 {
	idx := strings.LastIndex(id, "_")
	if idx < 0 {
		return 0
	}
	var seq int64
	if _, err := fmt.Sscanf(id[idx+1:], "%d", &seq); err != nil {
		return 0
	}
	return seq
}

// Deposit splits the comma-separated recipient list, stores one independent
// copy per recipient plus a sent copy for the sender, persists, and returns
// the shared message ID.
func (s *Mailboxes) Deposit(from, recipients, subject, body string) (string, error) {
	recipList := splitRecipients(recipients)
	if len(recipList) == 0 {
		return "", ErrNoRecipients
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	id := fmt.Sprintf("msg_%d_%d", now, s.nextSeq)
	s.nextSeq++

	for _, to := range recipList {
		s.prepend(strings.ToLower(to), &Message{
			ID:        id,
			From:      from,
			To:        []string{to},
			Subject:   subject,
			Body:      body,
			Timestamp: now,
		})
	}
	s.prepend(strings.ToLower(from)+sentSuffix, &Message{
		ID:        id,
		From:      from,
		To:        recipList,
		Subject:   subject,
		Body:      body,
		Timestamp: now,
	})

	if err := s.save(s.boxes); err != nil {
		s.log.Error("save after deposit", zap.Error(err))
		return "", err
	}

	s.log.Info("deposited message",
		zap.String("id", id),
		zap.String("from", from),
		zap.Strings("to", recipList),
		zap.Int("size", len(body)))
	return id, nil
}

func (s *Mailboxes) prepend(key string, m *Message) {
	s.boxes[key] = append([]*Message{m}, s.boxes[key]...)
}

func splitRecipients(recipients string) []string {
	var out []string
	for _, r := range strings.Split(recipients, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// ListFolder returns summary lines for the named folder view, newest first.
// ARCHIVE shows only archived copies; every other folder excludes them;
// UNREAD additionally excludes read copies. Unrecognized folder names get
// inbox semantics.
func (s *Mailboxes) ListFolder(username, folder string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	folder = strings.ToUpper(folder)
	key := strings.ToLower(username)
	if folder == "SENT" {
		key += sentSuffix
	}

	msgs := make([]*Message, len(s.boxes[key]))
	copy(msgs, s.boxes[key])
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp > msgs[j].Timestamp
	})

	var lines []string
	for _, m := range msgs {
		if folder == "ARCHIVE" {
			if !m.Archived {
				continue
			}
		} else if m.Archived {
			continue
		}
		if folder == "UNREAD" && m.Read {
			continue
		}
		lines = append(lines, m.SummaryLine())
	}
	return lines
}

// Fetch locates the requester's copy of a message. Access requires the
// requester to be the sender or a recipient of that copy. Fetching as a
// recipient marks that copy read and persists; fetching one's own sent copy
// never touches read state. The returned Message is a snapshot.
func (s *Mailboxes) Fetch(id, username string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The requester's own mailboxes are checked first so the copy returned
	// is deterministic; the full scan covers a sender whose sent copy has
	// been expired while a recipient copy survives.
	key := strings.ToLower(username)
	keys := []string{key, key + sentSuffix}
	for boxKey := range s.boxes {
		if boxKey != keys[0] && boxKey != keys[1] {
			keys = append(keys, boxKey)
		}
	}

	for _, boxKey := range keys {
		for _, m := range s.boxes[boxKey] {
			if m.ID != id {
				continue
			}
			if !m.isSender(username) && !m.isRecipient(username) {
				continue
			}
			if m.isRecipient(username) && !m.isSender(username) && !m.Read {
				m.Read = true
				if err := s.save(s.boxes); err != nil {
					s.log.Error("save after fetch", zap.Error(err))
				}
			}
			return *m, true
		}
	}
	return Message{}, false
}

// SetArchived flips the archived flag on every copy of the ID in the user's
// inbox and sent mailboxes. Returns whether any copy was touched.
func (s *Mailboxes) SetArchived(id, username string, archived bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(username)
	found := false
	for _, boxKey := range []string{key, key + sentSuffix} {
		for _, m := range s.boxes[boxKey] {
			if m.ID == id {
				m.Archived = archived
				found = true
			}
		}
	}
	if found {
		if err := s.save(s.boxes); err != nil {
			s.log.Error("save after archive change", zap.Error(err))
		}
	}
	return found
}

// MarkRead marks the user's inbox copy read. The user must be a listed
// recipient of that copy.
func (s *Mailboxes) MarkRead(id, username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.boxes[strings.ToLower(username)] {
		if m.ID == id && m.isRecipient(username) {
			m.Read = true
			if err := s.save(s.boxes); err != nil {
				s.log.Error("save after mark read", zap.Error(err))
			}
			return true
		}
	}
	return false
}

// UnreadCount counts inbox copies that are neither read nor archived.
func (s *Mailboxes) UnreadCount(username string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, m := range s.boxes[strings.ToLower(username)] {
		if !m.Read && !m.Archived {
			count++
		}
	}
	return count
}

// StorageUsed sums body lengths across the user's inbox and sent copies.
func (s *Mailboxes) StorageUsed(username string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(username)
	total := 0
	for _, boxKey := range []string{key, key + sentSuffix} {
		for _, m := range s.boxes[boxKey] {
			total += len(m.Body)
		}
	}
	return total
}

// ExpireArchived permanently removes copies that are archived and strictly
// older than the cutoff, across all mailboxes. Returns the number removed.
func (s *Mailboxes) ExpireArchived(olderThanDays int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UnixMilli() - int64(olderThanDays)*86400000
	removed := 0
	for key, msgs := range s.boxes {
		kept := msgs[:0]
		for _, m := range msgs {
			if m.Archived && m.Timestamp < cutoff {
				removed++
				continue
			}
			kept = append(kept, m)
		}
		s.boxes[key] = kept
	}

	if removed > 0 {
		if err := s.save(s.boxes); err != nil {
			s.log.Error("save after expiry", zap.Error(err))
		}
		s.log.Info("expired archived messages",
			zap.Int("removed", removed),
			zap.Int("olderThanDays", olderThanDays))
	}
	return removed
}

// Snapshot returns a deep-enough copy of the mailbox map for read-only
// inspection (admin reporting).
func (s *Mailboxes) Snapshot() map[string][]*Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]*Message, len(s.boxes))
	for key, msgs := range s.boxes {
		out[key] = append([]*Message(nil), msgs...)
	}
	return out
}
