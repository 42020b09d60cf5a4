// internal/metrics/prometheus.go
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"hostmonitor/internal/database"
)

// Prometheus metrics
var (
	CheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hostmonitor_check_duration_seconds",
			Help:    "Elapsed time of reachability checks",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host", "method", "result"},
	)

	CheckTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostmonitor_checks_total",
			Help: "Total number of checks executed",
		},
		[]string{"host", "method", "result"},
	)

	HostStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hostmonitor_host_status",
			Help: "Current status of hosts (0=online, 1=warning, 2=offline, 3=checking, 4=unknown)",
		},
		[]string{"host_id", "host", "group"},
	)

	HostLatency = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hostmonitor_host_average_latency_ms",
			Help: "Average elapsed time across the latest results of a host",
		},
		[]string{"host_id", "host", "group"},
	)

	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostmonitor_status_transitions_total",
			Help: "Offline and recovery transitions",
		},
		[]string{"host", "to"},
	)

	ActiveLoops = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hostmonitor_active_loops",
			Help: "Number of running check loops",
		},
	)

	ConfiguredHosts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hostmonitor_hosts_total",
			Help: "Number of hosts in the repository",
		},
	)

	EnabledMethods = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hostmonitor_enabled_methods_total",
			Help: "Number of enabled check methods across all hosts",
		},
	)

	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostmonitor_database_operations_total",
			Help: "Total database operations performed",
		},
		[]string{"operation", "status"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hostmonitor_events_dropped_total",
			Help: "Events not delivered because a subscriber lagged",
		},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hostmonitor_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)
)

type hostLabels struct {
	name, group string
}

type Collector struct {
	store database.Store

	mu    sync.Mutex
	hosts map[string]hostLabels
}

func NewCollector(store database.Store) *Collector {
	return &Collector{store: store, hosts: make(map[string]hostLabels)}
}

func (c *Collector) RecordCheckResult(host, method string, success bool, elapsed time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}
	CheckDuration.WithLabelValues(host, method, result).Observe(elapsed.Seconds())
	CheckTotal.WithLabelValues(host, method, result).Inc()
}

// UpdateHostStatus records the consolidated status; avgMs is nil while the
// host is still checking. A renamed or regrouped host loses its old series.
func (c *Collector) UpdateHostStatus(hostID, host, group, status string, avgMs *float64) {
	labels := hostLabels{name: host, group: group}

	c.mu.Lock()
	if prev, ok := c.hosts[hostID]; ok && prev != labels {
		deleteHostSeries(hostID, prev)
	}
	c.hosts[hostID] = labels
	c.mu.Unlock()

	HostStatus.WithLabelValues(hostID, host, group).Set(statusValue(status))
	if avgMs != nil {
		HostLatency.WithLabelValues(hostID, host, group).Set(*avgMs)
	}
}

func (c *Collector) RemoveHost(hostID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.hosts[hostID]; ok {
		deleteHostSeries(hostID, prev)
		delete(c.hosts, hostID)
	}
}

func deleteHostSeries(hostID string, l hostLabels) {
	HostStatus.DeleteLabelValues(hostID, l.name, l.group)
	HostLatency.DeleteLabelValues(hostID, l.name, l.group)
}

func (c *Collector) RecordTransition(host, to string) {
	Transitions.WithLabelValues(host, to).Inc()
}

func (c *Collector) SetActiveLoops(n int) {
	ActiveLoops.Set(float64(n))
}

func (c *Collector) RecordEventDropped() {
	EventsDropped.Inc()
}

func (c *Collector) UpdateSystemMetrics(ctx context.Context) error {
	stats, err := c.store.Stats(ctx)
	if err != nil {
		DatabaseOperations.WithLabelValues("stats", "error").Inc()
		return err
	}
	DatabaseOperations.WithLabelValues("stats", "success").Inc()

	ConfiguredHosts.Set(float64(stats.TotalHosts))
	EnabledMethods.Set(float64(stats.EnabledMethods))
	return nil
}

func (c *Collector) RecordDatabaseOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperations.WithLabelValues(operation, status).Inc()
}

func (c *Collector) RecordWebSocketConnection(delta int) {
	WebSocketConnections.Add(float64(delta))
}

func statusValue(status string) float64 {
	switch status {
	case "online":
		return 0
	case "warning":
		return 1
	case "offline":
		return 2
	case "checking":
		return 3
	default:
		return 4
	}
}
