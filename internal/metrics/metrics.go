package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "relayctl"

var (
	// SyncPasses counts synchronize passes by outcome.
	SyncPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_passes_total",
		Help:      "Synchronize passes by outcome.",
	}, []string{"outcome"})

	// SyncOps counts individual backend block/unblock operations.
	SyncOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_ops_total",
		Help:      "Backend rule operations by direction and status.",
	}, []string{"op", "status"})

	// SyncDuration records wall time of a synchronize pass.
	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_duration_seconds",
		Help:      "Synchronize pass duration in seconds.",
		Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1.0, 5.0, 15.0},
	})

	// SubmissionsCoalesced counts desired sets superseded before application.
	SubmissionsCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submissions_coalesced_total",
		Help:      "Desired-set submissions dropped because a newer set superseded them.",
	})

	// AppliedRules is the current size of the applied rule set.
	AppliedRules = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "applied_rules",
		Help:      "Addresses currently blocked by tool-owned rules.",
	})

	// BlockedRegions is the number of regions currently toggled blocked.
	BlockedRegions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "blocked_regions",
		Help:      "Regions currently toggled blocked.",
	})

	// ProbesSent counts ICMP echo requests sent.
	ProbesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "probes_sent_total",
		Help:      "ICMP echo requests sent.",
	})

	// ProbesLost counts probe cycles that ended in a timeout.
	ProbesLost = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "probes_lost_total",
		Help:      "Probe cycles recorded as a miss.",
	})

	// ProbeRTT records round-trip times of successful probes.
	ProbeRTT = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "probe_rtt_seconds",
		Help:      "Round-trip time of successful ICMP probes.",
		Buckets:   []float64{0.005, 0.015, 0.035, 0.075, 0.15, 0.3, 0.6, 1.0},
	})

	// ProbeLossRatio is the rolling loss ratio per probed address.
	ProbeLossRatio = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "probe_loss_ratio",
		Help:      "Rolling loss ratio over the current probe window.",
	}, []string{"addr"})

	// DirectoryServers is the number of servers in the loaded directory.
	DirectoryServers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "directory_servers",
		Help:      "Servers in the currently loaded directory.",
	})

	// DirectoryRefreshes counts directory refresh attempts by outcome.
	DirectoryRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "directory_refreshes_total",
		Help:      "Directory refresh attempts by outcome.",
	}, []string{"outcome"})

	// DBSizeBytes tracks bbolt on-disk file size.
	DBSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_size_bytes",
		Help:      "bbolt on-disk file size in bytes.",
	})
)
