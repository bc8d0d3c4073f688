// Package metrics defines the Prometheus metrics for the connection and
// broadcast layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection registry metrics
var (
	// RegistryActiveConnections tracks connections currently registered on this instance.
	RegistryActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_active_connections",
			Help: "Connections currently registered on this instance",
		},
	)

	// RegistryActiveUsers tracks users with at least one local connection.
	RegistryActiveUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_active_users",
			Help: "Users with at least one connection on this instance",
		},
	)

	// RegistryDeliveriesTotal counts envelope deliveries by route.
	RegistryDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_deliveries_total",
			Help: "Envelope deliveries by route (personal/user/room/broadcast)",
		},
		[]string{"route"},
	)

	// RegistrySendFailuresTotal counts transport send failures.
	RegistrySendFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_send_failures_total",
			Help: "Transport send failures that triggered a disconnect",
		},
	)

	// RegistryAuthFailuresTotal counts rejected credentials on connect.
	RegistryAuthFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_auth_failures_total",
			Help: "Connections rejected due to authentication failure",
		},
	)

	// RegistryStoreErrorsTotal counts distributed store failures by operation.
	RegistryStoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_store_errors_total",
			Help: "Distributed store failures by operation",
		},
		[]string{"operation"},
	)
)

// Heartbeat metrics
var (
	// HeartbeatMonitoredConnections tracks connections with an active heartbeat task.
	HeartbeatMonitoredConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "heartbeat_monitored_connections",
			Help: "Connections currently monitored by the heartbeat loop",
		},
	)

	// HeartbeatTimeoutsTotal counts connections evicted for missing pongs.
	HeartbeatTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "heartbeat_timeouts_total",
			Help: "Connections marked dead because the pong timeout elapsed",
		},
	)

	// HeartbeatPingFailuresTotal counts failed ping sends.
	HeartbeatPingFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "heartbeat_ping_failures_total",
			Help: "Ping sends that failed and marked the connection dead",
		},
	)
)

// Broadcast router metrics
var (
	// RouterMessagesReceivedTotal counts broker-delivered messages by channel kind.
	RouterMessagesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_messages_received_total",
			Help: "Messages received from the broker by channel kind",
		},
		[]string{"kind"},
	)

	// RouterPublishFailuresTotal counts failed publishes (fire-and-forget).
	RouterPublishFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "router_publish_failures_total",
			Help: "Broker publishes that failed and were dropped",
		},
	)

	// RouterReconnectsTotal counts reconnect attempts against the broker.
	RouterReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "router_reconnects_total",
			Help: "Reconnect attempts after broker listen failures",
		},
	)

	// RouterHandlerPanicsTotal counts handler panics recovered during dispatch.
	RouterHandlerPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "router_handler_panics_total",
			Help: "Handler panics recovered by the dispatch loop",
		},
	)

	// RouterDroppedMessagesTotal counts messages dropped by reason.
	RouterDroppedMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_dropped_messages_total",
			Help: "Broker messages dropped by reason (malformed/unknown_channel)",
		},
		[]string{"reason"},
	)
)

// HTTP server metrics
var (
	// ServerConnectionsRejectedTotal counts upgrade rejections by limit reason.
	ServerConnectionsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "server_connections_rejected_total",
			Help: "WebSocket upgrades rejected by limit reason",
		},
		[]string{"reason"},
	)
)
