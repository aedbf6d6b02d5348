// services/feed/pkg/feed/metrics.go
package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metrics = struct {
	Messages     *prometheus.CounterVec
	DecodeErrors prometheus.Counter
	Gaps         *prometheus.CounterVec
	Duplicates   *prometheus.CounterVec
	Resyncs      prometheus.Counter
	Reconnects   prometheus.Counter
	QueueDrops   prometheus.Counter
	State        prometheus.Gauge
	Latency      prometheus.Histogram
}{
	Messages: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feed", Subsystem: "ws", Name: "messages_total",
		Help: "Decoded frames by kind",
	}, []string{"kind"}),
	DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feed", Subsystem: "ws", Name: "decode_errors_total",
		Help: "Frames that failed to decode",
	}),
	Gaps: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feed", Subsystem: "sequence", Name: "gaps_total",
		Help: "Sequence gaps by channel",
	}, []string{"channel"}),
	Duplicates: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feed", Subsystem: "sequence", Name: "duplicates_total",
		Help: "Dropped duplicate or stale messages by channel",
	}, []string{"channel"}),
	Resyncs: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feed", Subsystem: "sequence", Name: "resyncs_total",
		Help: "Resubscriptions issued after gaps",
	}),
	Reconnects: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feed", Subsystem: "ws", Name: "reconnects_total",
		Help: "Reconnect attempts",
	}),
	QueueDrops: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feed", Subsystem: "queue", Name: "dropped_total",
		Help: "Messages dropped by the overflow policy",
	}),
	State: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "feed", Subsystem: "ws", Name: "state",
		Help: "Connection state (0 disconnected, 1 connecting, 2 subscribed, 3 degraded)",
	}),
	Latency: promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "feed", Subsystem: "ws", Name: "exchange_latency_seconds",
		Help:    "Receive time minus exchange timestamp",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}),
}
