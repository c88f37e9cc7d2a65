// Package metrics exposes the Prometheus collectors shared by the peer
// and name-server processes.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector this service registers. A dedicated
// registry (rather than the global default) keeps peer and name-server
// metrics from colliding when both run in the same test process.
type Metrics struct {
	Registry *prometheus.Registry

	SendAttempts   *prometheus.CounterVec
	SendFailures   *prometheus.CounterVec
	DirectorySize  prometheus.Gauge
	ClockValue     prometheus.Gauge
	MutexState     *prometheus.GaugeVec
	RepliesWaiting prometheus.Gauge
	DeferredQueue  prometheus.Gauge
	SyncPushes     prometheus.Counter
	Registrations  prometheus.Counter
}

// New builds and registers a fresh set of collectors labeled with this
// node's id.
func New(nodeID string) *Metrics {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"node_id": nodeID}

	m := &Metrics{
		Registry: reg,
		SendAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "dscinema_send_attempts_total",
			Help:        "Outbound framed sends attempted, by destination peer.",
			ConstLabels: constLabels,
		}, []string{"peer"}),
		SendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "dscinema_send_failures_total",
			Help:        "Outbound framed sends that failed, by destination peer.",
			ConstLabels: constLabels,
		}, []string{"peer"}),
		DirectorySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "dscinema_directory_size",
			Help:        "Number of peers currently known.",
			ConstLabels: constLabels,
		}),
		ClockValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "dscinema_lamport_clock",
			Help:        "Current Lamport clock value.",
			ConstLabels: constLabels,
		}),
		MutexState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "dscinema_mutex_state",
			Help:        "1 for the current mutex state, 0 otherwise, labeled released/wanted/held.",
			ConstLabels: constLabels,
		}, []string{"state"}),
		RepliesWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "dscinema_replies_waiting",
			Help:        "Replies still needed before the current WANTED request may enter HELD.",
			ConstLabels: constLabels,
		}),
		DeferredQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "dscinema_deferred_queue_length",
			Help:        "Number of REQUESTs currently deferred.",
			ConstLabels: constLabels,
		}),
		SyncPushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "dscinema_sync_pushes_total",
			Help:        "SYNC broadcast rounds pushed by the name server to all registered peers.",
			ConstLabels: constLabels,
		}),
		Registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "dscinema_registrations_total",
			Help:        "REGISTER messages handled by the name server.",
			ConstLabels: constLabels,
		}),
	}

	reg.MustRegister(
		m.SendAttempts, m.SendFailures, m.DirectorySize, m.ClockValue,
		m.MutexState, m.RepliesWaiting, m.DeferredQueue, m.SyncPushes, m.Registrations,
	)
	return m
}

// SetMutexState zeroes every known state label then sets the active one,
// so a Prometheus query always sees exactly one state at 1.
func (m *Metrics) SetMutexState(active string) {
	for _, s := range []string{"released", "wanted", "held"} {
		v := 0.0
		if s == active {
			v = 1.0
		}
		m.MutexState.WithLabelValues(s).Set(v)
	}
}
