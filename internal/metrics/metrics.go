// ABOUTME: Prometheus collectors for subscription upserts, notifications and sweeps
// ABOUTME: Collectors live in a per-instance registry; a nil *Metrics records nothing

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prompt-forge collectors.
type Metrics struct {
	registry *prometheus.Registry

	subscriptionUpserts   *prometheus.CounterVec
	subscriptionDeletes   prometheus.Counter
	autoSubscribeFailures prometheus.Counter
	notificationsSent     prometheus.Counter
	notificationsFailed   prometheus.Counter
	fanoutDuration        prometheus.Histogram
	sweepDeleted          prometheus.Counter
	sweepFailures         prometheus.Counter
	sweepDuration         prometheus.Histogram
	versionsPublished     prometheus.Counter
}

// New creates a registry with the process and Go collectors plus the prompt-forge ones.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		subscriptionUpserts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "promptforge_subscription_upserts_total",
			Help: "Subscription upserts by source (explicit, auto) and result (created, refreshed)",
		}, []string{"source", "result"}),
		subscriptionDeletes: f.NewCounter(prometheus.CounterOpts{
			Name: "promptforge_subscription_deletes_total",
			Help: "Explicit unsubscribe calls",
		}),
		autoSubscribeFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "promptforge_auto_subscribe_failures_total",
			Help: "Auto-subscribe side effects that failed or timed out",
		}),
		notificationsSent: f.NewCounter(prometheus.CounterOpts{
			Name: "promptforge_notifications_sent_total",
			Help: "Per-agent prompt update events handed to the transport",
		}),
		notificationsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "promptforge_notifications_failed_total",
			Help: "Per-agent prompt update events the transport rejected or timed out on",
		}),
		fanoutDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "promptforge_notification_fanout_duration_seconds",
			Help:    "Duration of one publish fan-out across all subscribers",
			Buckets: prometheus.DefBuckets,
		}),
		sweepDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "promptforge_sweep_deleted_total",
			Help: "Subscriptions removed by reclamation sweeps",
		}),
		sweepFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "promptforge_sweep_failures_total",
			Help: "Reclamation sweeps that returned an error",
		}),
		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "promptforge_sweep_duration_seconds",
			Help:    "Duration of reclamation sweeps",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),
		versionsPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "promptforge_versions_published_total",
			Help: "Prompt versions committed, including rollbacks",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SubscriptionUpserted records a subscribe or auto-subscribe.
func (m *Metrics) SubscriptionUpserted(auto, created bool) {
	if m == nil {
		return
	}
	source, result := "explicit", "refreshed"
	if auto {
		source = "auto"
	}
	if created {
		result = "created"
	}
	m.subscriptionUpserts.WithLabelValues(source, result).Inc()
}

// SubscriptionDeleted records an unsubscribe.
func (m *Metrics) SubscriptionDeleted() {
	if m == nil {
		return
	}
	m.subscriptionDeletes.Inc()
}

// AutoSubscribeFailed records a swallowed auto-subscribe failure.
func (m *Metrics) AutoSubscribeFailed() {
	if m == nil {
		return
	}
	m.autoSubscribeFailures.Inc()
}

// NotificationSent records one delivered event.
func (m *Metrics) NotificationSent() {
	if m == nil {
		return
	}
	m.notificationsSent.Inc()
}

// NotificationFailed records one failed delivery.
func (m *Metrics) NotificationFailed() {
	if m == nil {
		return
	}
	m.notificationsFailed.Inc()
}

// FanoutCompleted records how long a fan-out took.
func (m *Metrics) FanoutCompleted(d time.Duration) {
	if m == nil {
		return
	}
	m.fanoutDuration.Observe(d.Seconds())
}

// SweepCompleted records a sweep outcome.
func (m *Metrics) SweepCompleted(deleted int64, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
	if err != nil {
		m.sweepFailures.Inc()
		return
	}
	m.sweepDeleted.Add(float64(deleted))
}

// VersionPublished records a committed version.
func (m *Metrics) VersionPublished() {
	if m == nil {
		return
	}
	m.versionsPublished.Inc()
}
