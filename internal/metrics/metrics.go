// Package metrics holds the process-wide Prometheus collectors and the
// HTTP endpoint serving them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "flowcache"

// Pipeline stages reported in PacketsTotal.
const (
	StageReceived      = "received"
	StageDecoded       = "decoded"
	StageDecodeError   = "decode_error"
	StageChecksumError = "checksum_error"
	StageParseError    = "parse_error"
	StageObserved      = "observed"
	StageEmitted       = "emitted"
	StageEmitError     = "emit_error"
)

var (
	// PacketsTotal counts packets per pipeline and stage.
	PacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Total number of packets seen by each pipeline stage",
		},
		[]string{"pipeline", "stage"},
	)

	// CaptureDropsTotal counts frames lost before the pipeline.
	CaptureDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_drops_total",
			Help:      "Total number of frames dropped by the capture source",
		},
		[]string{"source"},
	)

	// FlowEventsTotal counts flow table writes by kind (insert, update).
	FlowEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_events_total",
			Help:      "Total number of flow table inserts and updates",
		},
		[]string{"event"},
	)

	// TimestampRegressionsTotal counts updates whose ingress timestamp was
	// older than the slot's firstSeen.
	TimestampRegressionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timestamp_regressions_total",
			Help:      "Total number of flow updates with a timestamp before first_seen",
		},
	)

	// ForwardDecisionsTotal counts forwarding verdicts.
	ForwardDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_decisions_total",
			Help:      "Total number of forwarding decisions by action and table",
		},
		[]string{"action", "table"},
	)

	// PacketCounter mirrors the wrapping global packet counter.
	PacketCounter = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "packet_counter",
			Help:      "Current value of the 32-bit global packet counter",
		},
	)

	// FlowTableOccupancy is the number of slots with exists set.
	FlowTableOccupancy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flow_table_occupancy",
			Help:      "Number of occupied flow table slots",
		},
	)

	// ProcessLatencySeconds measures per-packet processing time.
	ProcessLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_latency_seconds",
			Help:      "Per-packet pipeline processing latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0000001, 2, 20), // 100ns to ~50ms
		},
		[]string{"pipeline"},
	)

	// ExportErrorsTotal counts failed snapshot exports.
	ExportErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_errors_total",
			Help:      "Total number of failed flow table exports",
		},
		[]string{"exporter"},
	)

	// ExportedSlotsTotal counts slots shipped per exporter.
	ExportedSlotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exported_slots_total",
			Help:      "Total number of flow table slots exported",
		},
		[]string{"exporter"},
	)
)
