// Package metrics exposes Prometheus collectors for the server's command,
// notification, and sweep activity. Served by the admin HTTP endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maillite_connections_total",
			Help: "Total number of accepted client connections",
		},
	)

	connectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "maillite_connections_current",
			Help: "Current number of open client connections",
		},
	)

	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maillite_commands_total",
			Help: "Total protocol commands processed, by command word",
		},
		[]string{"command"},
	)

	authAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maillite_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	messagesDeposited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maillite_messages_deposited_total",
			Help: "Total messages accepted for delivery",
		},
	)

	messageBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maillite_message_bytes_total",
			Help: "Total message body bytes accepted",
		},
	)

	notificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maillite_notifications_sent_total",
			Help: "Total UDP notification datagrams sent, by kind",
		},
		[]string{"kind"},
	)

	sweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maillite_sweep_runs_total",
			Help: "Total maintenance sweep executions, by sweep",
		},
		[]string{"sweep"},
	)
)

func ConnectionOpened() {
	connectionsTotal.Inc()
	connectionsCurrent.Inc()
}

func ConnectionClosed() {
	connectionsCurrent.Dec()
}

func CommandReceived(command string) {
	commandsTotal.WithLabelValues(command).Inc()
}

func AuthAttempt(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	authAttempts.WithLabelValues(result).Inc()
}

func MessageDeposited(bodyBytes int) {
	messagesDeposited.Inc()
	messageBytes.Add(float64(bodyBytes))
}

func NotificationSent(kind string) {
	notificationsSent.WithLabelValues(kind).Inc()
}

func SweepRan(sweep string) {
	sweepRuns.WithLabelValues(sweep).Inc()
}
