// Package metrics exposes Prometheus counters and gauges for the sync layer.
//
// A nil *Metrics is valid and records nothing, so components can take one
// optionally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "farmbook"

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	dispatches    *prometheus.CounterVec
	writes        *prometheus.CounterVec
	merges        *prometheus.CounterVec
	remoteChanges *prometheus.CounterVec
	notices       *prometheus.CounterVec
	hydrated      prometheus.Gauge
	cloudSyncing  prometheus.Gauge
	loggedIn      prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatched_actions_total",
			Help:      "Actions applied to in-memory state, by kind.",
		}, []string{"kind"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_writes_total",
			Help:      "Background backend writes, by backend and result.",
		}, []string{"backend", "result"}),
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_merges_total",
			Help:      "Merge-on-login runs, by result.",
		}, []string{"result"}),
		remoteChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_changes_total",
			Help:      "Remote snapshots applied, by collection.",
		}, []string{"collection"}),
		notices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notices_total",
			Help:      "Notices emitted on the side channel, by level.",
		}, []string{"level"}),
		hydrated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hydrated",
			Help:      "1 once in-memory state was loaded from its backend.",
		}),
		cloudSyncing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cloud_syncing",
			Help:      "1 while a merge-on-login is running.",
		}),
		loggedIn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "logged_in",
			Help:      "1 while a user identity is present.",
		}),
	}

	m.registry.MustRegister(
		m.dispatches, m.writes, m.merges, m.remoteChanges, m.notices,
		m.hydrated, m.cloudSyncing, m.loggedIn,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Dispatched counts one applied action.
func (m *Metrics) Dispatched(kind string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(kind).Inc()
}

// BackendWrite counts one background write.
func (m *Metrics) BackendWrite(backend string, err error) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(backend, result(err)).Inc()
}

// Merge counts one merge-on-login run.
func (m *Metrics) Merge(err error) {
	if m == nil {
		return
	}
	m.merges.WithLabelValues(result(err)).Inc()
}

// RemoteChange counts one applied remote snapshot.
func (m *Metrics) RemoteChange(collection string) {
	if m == nil {
		return
	}
	m.remoteChanges.WithLabelValues(collection).Inc()
}

// Notice counts one emitted notice.
func (m *Metrics) Notice(level string) {
	if m == nil {
		return
	}
	m.notices.WithLabelValues(level).Inc()
}

// SetHydrated records the hydration flag.
func (m *Metrics) SetHydrated(v bool) {
	if m == nil {
		return
	}
	m.hydrated.Set(gauge(v))
}

// SetCloudSyncing records whether a merge is running.
func (m *Metrics) SetCloudSyncing(v bool) {
	if m == nil {
		return
	}
	m.cloudSyncing.Set(gauge(v))
}

// SetLoggedIn records identity presence.
func (m *Metrics) SetLoggedIn(v bool) {
	if m == nil {
		return
	}
	m.loggedIn.Set(gauge(v))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func gauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
