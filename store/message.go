package store

import (
	"fmt"
	"strings"
)

// Message is one stored copy of a logical send. Every recipient owns an
// independent copy, and the sender owns a sent copy; all copies of one send
// share the same ID.
type Message struct {
	ID        string   `json:"id"`
	From      string   `json:"from"`
	To        []string `json:"to"`
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
	Timestamp int64    `json:"timestamp"`
	Read      bool     `json:"read"`
	Archived  bool     `json:"archived"`
}

// SummaryLine renders the fixed-field listing format:
// id sender bodyLen timestampMillis subject.
func (m *Message) SummaryLine() string {
	return fmt.Sprintf("%s %s %d %d %s", m.ID, m.From, len(m.Body), m.Timestamp, m.Subject)
}

// ToLine joins the recipient list for display.
func (m *Message) ToLine() string {
	if len(m.To) == 0 {
		return "Unknown"
	}
	return strings.Join(m.To, ", ")
}

func (m *Message) isRecipient(username string) bool {
	for _, to := range m.To {
		if strings.EqualFold(to, username) {
			return true
		}
	}
	return false
}

func (m *Message) isSender(username string) bool {
	return strings.EqualFold(m.From, username)
}
