package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "solo6010"

var (
	dmaTransfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "p2m",
		Name:      "transfers_total",
		Help:      "P2M transactions by channel and result",
	}, []string{"channel", "result"})

	dmaBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "p2m",
		Name:      "bytes_total",
		Help:      "Bytes moved by successful P2M transactions",
	}, []string{"channel"})

	dmaRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "p2m",
		Name:      "retries_total",
		Help:      "P2M transactions re-issued after a PCI error",
	}, []string{"channel"})

	descriptorsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "descriptors_total",
		Help:      "Frame descriptors published to the software ring",
	}, []string{"channel"})

	gopResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "gop_resets_total",
		Help:      "Encoder ring desyncs that forced a GOP reset",
	}, []string{"channel"})

	framesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "frames_total",
		Help:      "Buffers completed by readers, by format and result",
	}, []string{"channel", "format", "result"})

	bandwidthRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "bandwidth_remaining",
		Help:      "Encoder bandwidth budget not claimed by active channels",
	})

	activeReaders = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "active_readers",
		Help:      "Readers currently streaming from a channel",
	}, []string{"channel"})
)

func label(n int) string {
	return strconv.Itoa(n)
}

// RecordTransfer counts one finished P2M transaction
func RecordTransfer(channel int, result string, bytes int) {
	dmaTransfers.WithLabelValues(label(channel), result).Inc()
	if result == "ok" {
		dmaBytes.WithLabelValues(label(channel)).Add(float64(bytes))
	}
}

// RecordRetry counts a P2M retry
func RecordRetry(channel int) {
	dmaRetries.WithLabelValues(label(channel)).Inc()
}

// RecordDescriptor counts a published frame descriptor
func RecordDescriptor(channel int) {
	descriptorsPublished.WithLabelValues(label(channel)).Inc()
}

// RecordGOPReset counts an encoder desync
func RecordGOPReset(channel int) {
	gopResets.WithLabelValues(label(channel)).Inc()
}

// RecordFrame counts a completed reader buffer
func RecordFrame(channel int, format, result string) {
	framesDelivered.WithLabelValues(label(channel), format, result).Inc()
}

// SetBandwidthRemaining publishes the admission ledger
func SetBandwidthRemaining(v int) {
	bandwidthRemaining.Set(float64(v))
}

// SetActiveReaders publishes a channel's reader count
func SetActiveReaders(channel, n int) {
	activeReaders.WithLabelValues(label(channel)).Set(float64(n))
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
