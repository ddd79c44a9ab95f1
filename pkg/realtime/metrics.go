package realtime

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the Prometheus instruments for the streaming session.
// All methods are nil-safe so instrumentation can be disabled by leaving
// Config.Metrics unset.
type Metrics struct {
	Messages          *prometheus.CounterVec
	AudioBytesSent    prometheus.Counter
	FramesSent        prometheus.Counter
	DroppedMessages   prometheus.Counter
	FirstAudioLatency prometheus.Histogram
}

// NewMetrics registers the session instruments with the given registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		AudioBytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Raw PCM bytes forwarded to the backend.",
		}),
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Video frames forwarded to the backend.",
		}),
		DroppedMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Inbound messages dropped as malformed or unknown.",
		}),
		FirstAudioLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Time from connect to first outbound audio send in milliseconds.",
			Buckets:   []float64{50, 100, 200, 300, 500, 700, 1000, 2000, 5000},
		}),
	}
}

func (m *Metrics) incMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) addAudioBytes(n int) {
	if m == nil {
		return
	}
	m.AudioBytesSent.Add(float64(n))
}

func (m *Metrics) incFrame() {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
}

func (m *Metrics) incDropped() {
	if m == nil {
		return
	}
	m.DroppedMessages.Inc()
}

func (m *Metrics) observeFirstAudio(d time.Duration) {
	if m == nil {
		return
	}
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
}
