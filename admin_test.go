package main

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"maillite.dev/maillite/maintenance"
	"maillite.dev/maillite/notify"
	"maillite.dev/maillite/session"
	"maillite.dev/maillite/store"
)

func newTestAdmin(t *testing.T) *adminServer {
	t.Helper()
	log := zap.NewNop()
	users := store.NewUsers(log, nil)
	users.Load(nil)
	sessions := session.NewRegistry(log)
	notifier := notify.NewNotifier(sessions, log)
	mailboxes := store.NewMailboxes(log, nil)
	scheduler := maintenance.NewScheduler(maintenance.DefaultConfig(), sessions, users, mailboxes, notifier, log)
	return &adminServer{
		config:    DefaultConfig(),
		users:     users,
		mailboxes: mailboxes,
		sessions:  sessions,
		notifier:  notifier,
		scheduler: scheduler,
		log:       log,
	}
}

func adminRequest(t *testing.T, a *adminServer, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	a.router().ServeHTTP(rec, req)
	return rec
}

func TestAdminStatus(t *testing.T) {
	a := newTestAdmin(t)
	a.sessions.Open("admin", net.IPv4(127, 0, 0, 1), session.NoNotifyPort)
	a.sessions.Authenticate("admin")

	rec := adminRequest(t, a, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `"hostname":"maillite"`)
	assert.Contains(t, body, `"users":4`)
	assert.Contains(t, body, `"online":1`)
	assert.Contains(t, body, `"messages":0`)
	assert.Contains(t, body, `"retentionDays":30`)
}

func TestAdminSessions(t *testing.T) {
	a := newTestAdmin(t)
	a.sessions.Open("user1", net.IPv4(10, 0, 0, 5), 4000)
	a.sessions.Authenticate("user1")

	rec := adminRequest(t, a, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "user1 ACTIVE 10.0.0.5 4000")
}

func TestAdminAddAndRemoveUser(t *testing.T) {
	a := newTestAdmin(t)

	rec := adminRequest(t, a, http.MethodPost, "/api/users", `{"username":"carol","password":"pw"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, a.users.Exists("carol"))

	// Duplicate add conflicts.
	rec = adminRequest(t, a, http.MethodPost, "/api/users", `{"username":"carol","password":"pw"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = adminRequest(t, a, http.MethodDelete, "/api/users/carol", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, a.users.Exists("carol"))

	rec = adminRequest(t, a, http.MethodDelete, "/api/users/carol", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminListUsersOmitsPasswords(t *testing.T) {
	a := newTestAdmin(t)

	rec := adminRequest(t, a, http.MethodGet, "/api/users", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `"username":"admin"`)
	assert.Contains(t, body, `"status":"OFFLINE"`)
	assert.NotContains(t, body, "password")
}

func TestAdminAddUserBadBody(t *testing.T) {
	a := newTestAdmin(t)
	rec := adminRequest(t, a, http.MethodPost, "/api/users", "{broken")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminConfigRetention(t *testing.T) {
	a := newTestAdmin(t)

	rec := adminRequest(t, a, http.MethodPut, "/api/config", `{"retentionDays":14}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 14, a.scheduler.RetentionDays())

	rec = adminRequest(t, a, http.MethodPut, "/api/config", `{"retentionDays":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 14, a.scheduler.RetentionDays())

	rec = adminRequest(t, a, http.MethodPut, "/api/config", `{"retentionDays":400}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminConfigMovesNotifier(t *testing.T) {
	a := newTestAdmin(t)
	require.NoError(t, a.notifier.Start(0))
	defer a.notifier.Stop()

	rec := adminRequest(t, a, http.MethodPut, "/api/config", `{"udpPort":0}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, a.config.UDPPort)
}

func TestAdminMetricsEndpoint(t *testing.T) {
	a := newTestAdmin(t)
	rec := adminRequest(t, a, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "maillite_")
}
