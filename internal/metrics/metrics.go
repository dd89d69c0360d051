// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"firestige.xyz/pktedit/pkg/packet"
)

var (
	// PacketsReadTotal counts packets read from capture files by link type
	PacketsReadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pktedit_packets_read_total",
			Help: "Total number of packets read from capture files",
		},
		[]string{"link"},
	)

	// PacketsFilteredTotal counts packets dropped by the capture filter
	PacketsFilteredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pktedit_packets_filtered_total",
			Help: "Total number of packets rejected by the capture filter",
		},
	)

	// PacketsWrittenTotal counts packets written to capture files
	PacketsWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pktedit_packets_written_total",
			Help: "Total number of packets written to capture files",
		},
	)

	// BytesWrittenTotal counts captured bytes written to capture files
	BytesWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pktedit_bytes_written_total",
			Help: "Total number of captured bytes written to capture files",
		},
	)

	// LayersParsedTotal counts decoded layers by protocol
	LayersParsedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pktedit_layers_parsed_total",
			Help: "Total number of layers decoded by protocol",
		},
		[]string{"protocol"},
	)

	// EditOpsTotal counts edit script operations by op and result
	EditOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pktedit_edit_ops_total",
			Help: "Total number of edit operations applied",
		},
		[]string{"op", "result"},
	)

	// PacketProcessSeconds measures per-packet processing latency
	PacketProcessSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pktedit_packet_process_seconds",
			Help:    "Latency of per-packet processing in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
		[]string{"command"},
	)
)

// Edit results used as the "result" label of EditOpsTotal.
const (
	ResultOK       = "ok"
	ResultSkipped  = "skipped"
	ResultRejected = "rejected"
)

// RecordLayers counts every layer in p's chain.
func RecordLayers(p *packet.Packet) {
	for l := p.FirstLayer(); l != nil; l = l.Next() {
		LayersParsedTotal.WithLabelValues(l.Protocol().String()).Inc()
	}
}

// RecordEdit counts one edit operation. A nil error counts as ok, skipped
// marks operations that had nothing to act on.
func RecordEdit(op string, skipped bool, err error) {
	switch {
	case err != nil:
		EditOpsTotal.WithLabelValues(op, ResultRejected).Inc()
	case skipped:
		EditOpsTotal.WithLabelValues(op, ResultSkipped).Inc()
	default:
		EditOpsTotal.WithLabelValues(op, ResultOK).Inc()
	}
}
