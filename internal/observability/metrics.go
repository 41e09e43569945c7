package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "edgeipc"

var (
	registerOnce sync.Once

	streamMessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "messages_sent_total",
			Help:      "Messages written to connections.",
		},
		[]string{"mode"},
	)
	streamBytesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "bytes_sent_total",
			Help:      "Payload bytes written to connections.",
		},
	)
	spliceSpliced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "splice_pdus_total",
			Help:      "PDUs relayed from received messages into outbound streams.",
		},
	)
	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "message",
			Name:      "received_total",
			Help:      "Messages received and validated.",
		},
		[]string{"mode"},
	)
	messageBytesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "message",
			Name:      "bytes_received_total",
			Help:      "Payload bytes received.",
		},
	)
	protocolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "errors_total",
			Help:      "Failed engine operations by error kind.",
		},
		[]string{"op", "kind"},
	)
	catalogueLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalogue",
			Name:      "loads_total",
			Help:      "Struct schema file load attempts by outcome.",
		},
		[]string{"outcome"},
	)
	catalogueStructs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "catalogue",
			Name:      "structs",
			Help:      "Struct schemas currently registered.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			streamMessagesSent, streamBytesSent, spliceSpliced,
			messagesReceived, messageBytesReceived, protocolErrors,
			catalogueLoads, catalogueStructs,
			httpRequests, httpDuration,
		)
	})
}

func RecordSend(mode string, bytes uint64) {
	RegisterMetrics()
	streamMessagesSent.WithLabelValues(mode).Inc()
	streamBytesSent.Add(float64(bytes))
}

func RecordReceive(mode string, bytes uint32) {
	RegisterMetrics()
	messagesReceived.WithLabelValues(mode).Inc()
	messageBytesReceived.Add(float64(bytes))
}

func RecordSplice(pdus int) {
	RegisterMetrics()
	spliceSpliced.Add(float64(pdus))
}

func RecordError(op, kind string) {
	RegisterMetrics()
	protocolErrors.WithLabelValues(op, kind).Inc()
}

func RecordCatalogueLoad(outcome string) {
	RegisterMetrics()
	catalogueLoads.WithLabelValues(outcome).Inc()
}

func SetCatalogueStructs(n int) {
	RegisterMetrics()
	catalogueStructs.Set(float64(n))
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func AddCatalogueStructs(n int) {
	RegisterMetrics()
	catalogueStructs.Add(float64(n))
}
