// Package metrics holds the process-wide Prometheus collectors.
// Collectors are registered on the default registry and exposed by the /metrics route.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RegistryScans counts directory scans by result (ok, error).
	RegistryScans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callmon_registry_scans_total",
			Help: "Directory scans performed by the call registry.",
		},
		[]string{"result"},
	)

	// RegistryCalls is the number of known calls by status after the last scan.
	RegistryCalls = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "callmon_registry_calls",
			Help: "Calls currently held by the registry.",
		},
		[]string{"status"},
	)

	// StreamsOpen is the number of open audio streams per channel.
	StreamsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "callmon_audio_streams_open",
			Help: "Live audio streams currently open.",
		},
		[]string{"channel"},
	)

	// StreamChunks counts framed audio chunks delivered per channel.
	StreamChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callmon_audio_chunks_total",
			Help: "Framed audio chunks delivered to clients.",
		},
		[]string{"channel"},
	)

	// TranscriptEvents counts consumed events by status and outcome
	// (published, persisted, duplicate, not_leader, persist_failed, invalid).
	TranscriptEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callmon_transcript_events_total",
			Help: "Transcript events consumed from the feed.",
		},
		[]string{"status", "outcome"},
	)

	// DedupFallbacks counts claims decided locally because the shared store failed.
	DedupFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callmon_dedup_local_fallbacks_total",
		Help: "Dedup claims that fell back to the local buffer.",
	})

	// LeaseHeld is 1 while this instance holds the ingestion lease.
	LeaseHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "callmon_lease_held",
		Help: "Whether this instance currently holds the ingestion lease.",
	})

	// LeaseTransitions counts role changes by direction (elected, demoted).
	LeaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callmon_lease_transitions_total",
			Help: "Lease role changes observed by this instance.",
		},
		[]string{"direction"},
	)

	// FanoutSubscribers is the number of connected subscribers.
	FanoutSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "callmon_fanout_subscribers",
		Help: "Connected realtime subscribers.",
	})

	// FanoutDropped counts messages dropped for slow subscribers.
	FanoutDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callmon_fanout_dropped_total",
		Help: "Messages dropped because a subscriber queue was full.",
	})
)
