package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	connected        prometheus.Gauge
	connects         prometheus.Counter
	connectFailures  prometheus.Counter
	disconnects      *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	bytesReceived    prometheus.Counter
	imagesDeposited  *prometheus.CounterVec
	decodeFailures   *prometheus.CounterVec
	unknownMessages  prometheus.Counter
	commandsSent     *prometheus.CounterVec
	bytesSent        prometheus.Counter
	eventsDropped    prometheus.Counter
	decodeSeconds    prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	const ns, sub = "flowmap", "client"
	return &metrics{
		connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "connected",
			Help: "1 while a server connection is open.",
		}),
		connects: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "connects_total",
			Help: "Successful connections.",
		}),
		connectFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "connect_failures_total",
			Help: "Failed connection attempts.",
		}),
		disconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "disconnects_total",
			Help: "Connection teardowns by reason.",
		}, []string{"reason"}),
		messagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "messages_received_total",
			Help: "Framed messages read from the server by tag.",
		}, []string{"tag"}),
		bytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "payload_bytes_received_total",
			Help: "Payload bytes read from the server.",
		}),
		imagesDeposited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "images_deposited_total",
			Help: "Decoded images deposited into the store by class.",
		}, []string{"class"}),
		decodeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "decode_failures_total",
			Help: "Payloads dropped because they did not decode as an image.",
		}, []string{"class"}),
		unknownMessages: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "unknown_messages_total",
			Help: "Messages with an unrecognised or untracked tag.",
		}),
		commandsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "commands_sent_total",
			Help: "Outbound commands written to the server.",
		}, []string{"command"}),
		bytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "bytes_sent_total",
			Help: "Bytes written to the server.",
		}),
		eventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "events_dropped_total",
			Help: "Arrival events dropped because listeners fell behind.",
		}),
		decodeSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub, Name: "decode_seconds",
			Help:    "Time spent decoding image payloads.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}
}
