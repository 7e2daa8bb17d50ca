// Package metrics exposes Prometheus instrumentation for the voice gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the gateway. All collectors
// live under the "voicebridge" namespace.
type Metrics struct {
	SessionsActive   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsSwept    prometheus.Counter
	ReconnectsTotal  prometheus.Counter
	SessionEvents    *prometheus.CounterVec
	RelayMessagesIn  *prometheus.CounterVec
	RelayMessagesOut *prometheus.CounterVec
	UpstreamErrors   prometheus.Counter
	AudioBytesIn     prometheus.Counter
	AudioBytesOut    prometheus.Counter
}

// New registers the gateway collectors with reg. Pass
// prometheus.DefaultRegisterer for the process-wide registry; tests use a
// fresh prometheus.NewRegistry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "voicebridge",
			Name:      "sessions_active",
			Help:      "Number of dialog sessions currently registered",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "voicebridge",
			Name:      "sessions_created_total",
			Help:      "Total number of dialog sessions created",
		}),
		SessionsSwept: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "voicebridge",
			Name:      "sessions_swept_total",
			Help:      "Total number of idle sessions reaped by the sweeper",
		}),
		ReconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "voicebridge",
			Name:      "reconnects_total",
			Help:      "Total number of upstream reconnect attempts observed",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicebridge",
			Name:      "events_published_total",
			Help:      "Session events published to subscribers, by event type",
		}, []string{"type"}),
		RelayMessagesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicebridge",
			Name:      "relay_messages_in_total",
			Help:      "Messages received on client relay websockets, by message type",
		}, []string{"type"}),
		RelayMessagesOut: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicebridge",
			Name:      "relay_messages_out_total",
			Help:      "Messages written to client relay websockets, by kind",
		}, []string{"kind"}),
		UpstreamErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "voicebridge",
			Name:      "upstream_errors_total",
			Help:      "Total number of error events reported by the upstream dialog service",
		}),
		AudioBytesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "voicebridge",
			Name:      "audio_bytes_in_total",
			Help:      "Audio bytes accepted from clients and forwarded upstream",
		}),
		AudioBytesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "voicebridge",
			Name:      "audio_bytes_out_total",
			Help:      "Synthesized audio bytes delivered to clients",
		}),
	}
}
