// Package consts holds enumerations shared across the server packages.
package consts

// Status is a user's coarse presence state.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusBusy    Status = "BUSY"
	StatusAway    Status = "AWAY"
	StatusOffline Status = "OFFLINE"
)

// ParseStatus maps a wire token to a Status by exact membership. The token
// is expected to be upper-cased by the caller.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusActive, StatusBusy, StatusAway, StatusOffline:
		return Status(s), true
	}
	return "", false
}

// Settable reports whether a client may request this status with SETSTAT.
// OFFLINE is only ever set by the disconnect path.
func (s Status) Settable() bool {
	return s == StatusActive || s == StatusBusy || s == StatusAway
}

func (s Status) String() string {
	return string(s)
}
