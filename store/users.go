package store

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"maillite.dev/maillite/consts"
)

// User is a registered identity, independent of any live connection.
type User struct {
	Username  string        `json:"username"`
	Password  string        `json:"password"`
	Status    consts.Status `json:"status"`
	LastLogin int64         `json:"lastLogin"`
	LastSeen  int64         `json:"lastSeen"`
}

// SaveUsersFunc persists a full snapshot of the identity set. Called
// synchronously under the directory lock on every mutation.
type SaveUsersFunc func(map[string]*User) error

// Users is the identity directory: username (lowercase key) to credential
// and coarse status. Shared by every connection handler, the scheduler, and
// the admin surface.
type Users struct {
	mu    sync.Mutex
	users map[string]*User

	save SaveUsersFunc
	log  *zap.Logger
}

func NewUsers(log *zap.Logger, save SaveUsersFunc) *Users {
	if save == nil {
		save = func(map[string]*User) error { return nil }
	}
	return &Users{
		users: make(map[string]*User),
		save:  save,
		log:   log.Named("users"),
	}
}

// Load replaces the directory with a persisted snapshot. If the snapshot is
// empty, a default identity set is seeded so a fresh server is usable.
func (u *Users) Load(snapshot map[string]*User) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.users = make(map[string]*User, len(snapshot))
	for key, user := range snapshot {
		u.users[strings.ToLower(key)] = user
	}

	if len(u.users) == 0 {
		u.seedDefaults()
		if err := u.save(u.users); err != nil {
			u.log.Error("save seeded users", zap.Error(err))
		}
	}
	u.log.Info("identity directory ready", zap.Int("users", len(u.users)))
}

func (u *Users) seedDefaults() {
	defaults := []struct{ name, pass string }{
		{"admin", "admin"},
		{"user1", "123"},
		{"user2", "123"},
		{"test", "test"},
	}
	now := time.Now().UnixMilli()
	for _, d := range defaults {
		u.users[d.name] = &User{
			Username:  d.name,
			Password:  d.pass,
			Status:    consts.StatusOffline,
			LastLogin: now,
			LastSeen:  now,
		}
	}
	u.log.Info("seeded default users", zap.Int("count", len(defaults)))
}

// Authenticate checks the credential. Every attempt is independent; there is
// no lockout. Success stamps the login time and persists.
func (u *Users) Authenticate(username, password string) bool {
	username = strings.TrimSpace(username)
	if username == "" {
		return false
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	user, ok := u.users[strings.ToLower(username)]
	if !ok || user.Password != password {
		return false
	}

	user.LastLogin = time.Now().UnixMilli()
	if err := u.save(u.users); err != nil {
		u.log.Error("save after login", zap.Error(err))
	}
	return true
}

// Add registers a new identity. Fails on empty fields or a duplicate name.
func (u *Users) Add(username, password string) bool {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || password == "" {
		return false
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if _, exists := u.users[username]; exists {
		return false
	}

	now := time.Now().UnixMilli()
	u.users[username] = &User{
		Username:  username,
		Password:  password,
		Status:    consts.StatusOffline,
		LastLogin: now,
		LastSeen:  now,
	}
	if err := u.save(u.users); err != nil {
		u.log.Error("save after add", zap.Error(err))
	}
	u.log.Info("user added", zap.String("user", username))
	return true
}

// Remove deletes an identity. Returns whether it existed.
func (u *Users) Remove(username string) bool {
	username = strings.ToLower(strings.TrimSpace(username))

	u.mu.Lock()
	defer u.mu.Unlock()

	if _, exists := u.users[username]; !exists {
		return false
	}
	delete(u.users, username)
	if err := u.save(u.users); err != nil {
		u.log.Error("save after remove", zap.Error(err))
	}
	u.log.Info("user removed", zap.String("user", username))
	return true
}

// SetStatus updates the identity's status and last-seen time. No-op for an
// unknown user.
func (u *Users) SetStatus(username string, status consts.Status) {
	u.mu.Lock()
	defer u.mu.Unlock()

	user, ok := u.users[strings.ToLower(username)]
	if !ok {
		return
	}
	user.Status = status
	user.LastSeen = time.Now().UnixMilli()
	if err := u.save(u.users); err != nil {
		u.log.Error("save after status change", zap.Error(err))
	}
}

// Get returns a snapshot of one identity.
func (u *Users) Get(username string) (User, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	user, ok := u.users[strings.ToLower(username)]
	if !ok {
		return User{}, false
	}
	return *user, true
}

// Exists reports whether the username is registered.
func (u *Users) Exists(username string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	_, ok := u.users[strings.ToLower(strings.TrimSpace(username))]
	return ok
}

// All returns a snapshot of every identity, for admin reporting.
func (u *Users) All() []User {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make([]User, 0, len(u.users))
	for _, user := range u.users {
		out = append(out, *user)
	}
	return out
}

// Count returns the number of registered identities.
func (u *Users) Count() int {
	u.mu.Lock()
	defer u.mu.Unlock()

	return len(u.users)
}
