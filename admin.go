package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"maillite.dev/maillite/maintenance"
	"maillite.dev/maillite/notify"
	"maillite.dev/maillite/session"
	"maillite.dev/maillite/store"
)

// adminServer is the administrative collaborator surface: identity
// management, roster/aggregate reads, listener control, and runtime
// reconfiguration of retention and the notification port.
type adminServer struct {
	config    Config
	server    *mailServer
	users     *store.Users
	mailboxes *store.Mailboxes
	sessions  *session.Registry
	notifier  *notify.Notifier
	scheduler *maintenance.Scheduler

	log *zap.Logger
}

func (a *adminServer) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/status", a.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions", a.handleSessions).Methods(http.MethodGet)
	r.HandleFunc("/api/users", a.handleListUsers).Methods(http.MethodGet)
	r.HandleFunc("/api/users", a.handleAddUser).Methods(http.MethodPost)
	r.HandleFunc("/api/users/{username}", a.handleRemoveUser).Methods(http.MethodDelete)
	r.HandleFunc("/api/server/start", a.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/api/server/stop", a.handleStop).Methods(http.MethodPost)
	r.HandleFunc("/api/config", a.handleConfig).Methods(http.MethodPut)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func runAdminServer(a *adminServer) {
	r := a.router()
	addr := fmt.Sprintf("127.0.0.1:%d", a.config.AdminPort)
	a.log.Info("admin API listening", zap.String("address", addr))
	go func() {
		if err := http.ListenAndServe(addr, r); err != nil {
			a.log.Error("admin API", zap.Error(err))
		}
	}()
}

func (a *adminServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (a *adminServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	messages := 0
	for _, msgs := range a.mailboxes.Snapshot() {
		messages += len(msgs)
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"hostname":      a.config.Hostname,
		"version":       versionNumber,
		"users":         a.users.Count(),
		"online":        a.sessions.OnlineCount(),
		"sessions":      a.sessions.TotalSessions(),
		"messages":      messages,
		"retentionDays": a.scheduler.RetentionDays(),
	})
}

func (a *adminServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{
		"online": a.sessions.ListOnline(),
	})
}

// handleListUsers returns the identity directory without credentials.
func (a *adminServer) handleListUsers(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Username  string `json:"username"`
		Status    string `json:"status"`
		LastLogin int64  `json:"lastLogin"`
		LastSeen  int64  `json:"lastSeen"`
	}
	users := a.users.All()
	out := make([]entry, 0, len(users))
	for _, u := range users {
		out = append(out, entry{
			Username:  u.Username,
			Status:    u.Status.String(),
			LastLogin: u.LastLogin,
			LastSeen:  u.LastSeen,
		})
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

func (a *adminServer) handleAddUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !a.users.Add(req.Username, req.Password) {
		http.Error(w, "user exists or fields empty", http.StatusConflict)
		return
	}
	a.log.Info("admin added user", zap.String("user", req.Username))
	a.writeJSON(w, http.StatusCreated, map[string]string{"username": req.Username})
}

func (a *adminServer) handleRemoveUser(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	if !a.users.Remove(username) {
		http.Error(w, "no such user", http.StatusNotFound)
		return
	}
	a.log.Info("admin removed user", zap.String("user", username))
	w.WriteHeader(http.StatusNoContent)
}

func (a *adminServer) handleStart(w http.ResponseWriter, r *http.Request) {
	go a.server.run()
	a.log.Info("admin started listener")
	w.WriteHeader(http.StatusAccepted)
}

func (a *adminServer) handleStop(w http.ResponseWriter, r *http.Request) {
	a.server.stop()
	a.log.Info("admin stopped listener")
	w.WriteHeader(http.StatusAccepted)
}

// handleConfig adjusts the runtime-tunable settings. Changing the UDP port
// restarts the notification channel on the new port.
func (a *adminServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RetentionDays *int `json:"retentionDays"`
		UDPPort       *int `json:"udpPort"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.RetentionDays != nil {
		if *req.RetentionDays < 1 || *req.RetentionDays > 365 {
			http.Error(w, "retentionDays must be 1-365", http.StatusBadRequest)
			return
		}
		a.scheduler.SetRetentionDays(*req.RetentionDays)
	}

	if req.UDPPort != nil {
		a.notifier.Stop()
		if err := a.notifier.Start(*req.UDPPort); err != nil {
			a.log.Error("notifier restart", zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		a.config.UDPPort = *req.UDPPort
		a.log.Info("notifier moved", zap.Int("port", *req.UDPPort))
	}

	w.WriteHeader(http.StatusNoContent)
}
