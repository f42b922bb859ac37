// Package metrics holds the Prometheus collectors shared by the effector
// process. They are served on /metrics by the status server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncConnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simctl_sync_connects_total",
		Help: "Total number of successful connections to the manager",
	})

	SyncReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simctl_sync_reconnects_total",
		Help: "Same-address reconnect attempts by result",
	}, []string{"result"})

	// SyncState is the channel state as its numeric value.
	SyncState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simctl_sync_state",
		Help: "Sync channel state (0 discovering, 1 connected, 2 error, 3 reconnecting)",
	})

	SyncEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simctl_sync_events_total",
		Help: "Events received from the manager by kind",
	}, []string{"event"})

	SyncProbes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simctl_sync_probes_total",
		Help: "Liveness probe bytes written to the manager",
	})

	DiscoveryPasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simctl_discovery_passes_total",
		Help: "Completed discovery passes without finding a manager",
	})

	TimingAnomalies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simctl_timing_anomalies_total",
		Help: "Computed delays that were negative and clamped",
	})

	EffectorTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simctl_effector_ticks_total",
		Help: "Heart and breath ticks consumed by the effector loop",
	}, []string{"kind"})

	AudioCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simctl_audio_commands_total",
		Help: "Audio board commands by result (sent, dropped, failed)",
	}, []string{"result"})

	ValveState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "simctl_valve_state",
		Help: "Pneumatic valve states (1 open)",
	}, []string{"valve"})

	LoopOverruns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simctl_loop_overruns_total",
		Help: "Effector loop iterations that took longer than the quantum",
	})
)
