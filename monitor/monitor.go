// monitor/monitor.go
package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wfunc/esquisse/models"
)

type Metrics struct {
	OnlinePeers      prometheus.Gauge
	ActiveSessions   prometheus.Gauge
	Subscribers      prometheus.Gauge
	CommandsTotal    *prometheus.CounterVec
	CommandLatency   *prometheus.HistogramVec
	EventsPublished  *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	VersionConflicts prometheus.Counter
	SessionsReaped   prometheus.Counter
	MessagesReceived prometheus.Counter
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OnlinePeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_peers",
			Help:      "Number of connected websocket peers",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions touched by this instance",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Number of live event subscriptions",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands executed by op and result code",
		}, []string{"op", "code"}),
		CommandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_latency_seconds",
			Help:      "Command processing latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}, []string{"op"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published by topic",
		}, []string{"topic"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped on full subscriber queues by topic",
		}, []string{"topic"}),
		VersionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_conflicts_total",
			Help:      "Session saves that lost an optimistic version race",
		}),
		SessionsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_reaped_total",
			Help:      "Expired sessions purged",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of websocket packets received",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.OnlinePeers,
			m.ActiveSessions,
			m.Subscribers,
			m.CommandsTotal,
			m.CommandLatency,
			m.EventsPublished,
			m.EventsDropped,
			m.VersionConflicts,
			m.SessionsReaped,
			m.MessagesReceived,
		)
	}

	return m
}

// Monitor wraps Metrics with the hooks the rest of the server calls.
type Monitor struct {
	metrics   *Metrics
	startTime time.Time
}

func NewMonitor(namespace string, reg prometheus.Registerer) *Monitor {
	return &Monitor{
		metrics:   NewMetrics(namespace, reg),
		startTime: time.Now(),
	}
}

func (m *Monitor) Metrics() *Metrics {
	return m.metrics
}

func (m *Monitor) Uptime() time.Duration {
	return time.Since(m.startTime)
}

func (m *Monitor) IncOnlinePeers() {
	m.metrics.OnlinePeers.Inc()
}

func (m *Monitor) DecOnlinePeers() {
	m.metrics.OnlinePeers.Dec()
}

func (m *Monitor) SetActiveSessions(count int) {
	m.metrics.ActiveSessions.Set(float64(count))
}

func (m *Monitor) IncMessagesReceived() {
	m.metrics.MessagesReceived.Inc()
}

// ObserveCommand records one executed command.
func (m *Monitor) ObserveCommand(op, code string, duration time.Duration) {
	m.metrics.CommandsTotal.WithLabelValues(op, code).Inc()
	m.metrics.CommandLatency.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *Monitor) VersionConflict(sessionID string) {
	m.metrics.VersionConflicts.Inc()
}

func (m *Monitor) SessionsReaped(n int) {
	m.metrics.SessionsReaped.Add(float64(n))
}

// broadcast.Observer

func (m *Monitor) EventPublished(topic models.Topic) {
	m.metrics.EventsPublished.WithLabelValues(topic.String()).Inc()
}

func (m *Monitor) EventDropped(topic models.Topic) {
	m.metrics.EventsDropped.WithLabelValues(topic.String()).Inc()
}

func (m *Monitor) SubscribersChanged(delta int) {
	m.metrics.Subscribers.Add(float64(delta))
}
