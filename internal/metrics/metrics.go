package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Assistant reply outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeEmpty   = "empty"
	OutcomeDropped = "dropped"
)

// Metrics bundles the relay's collectors on their own registry so tests can
// create as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	RoomsActive       prometheus.Gauge
	ConnectionsActive prometheus.Gauge
	MessagesTotal     prometheus.Counter
	AssistantReplies  *prometheus.CounterVec
	ImagesTotal       *prometheus.CounterVec
	JoinFailures      prometheus.Counter
	PersistOps        *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RoomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_rooms_active",
			Help: "Rooms currently held in the registry.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Open websocket connections.",
		}),
		MessagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Participant messages relayed.",
		}),
		AssistantReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_assistant_replies_total",
			Help: "Assistant reply attempts by outcome.",
		}, []string{"outcome"}),
		ImagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_images_generated_total",
			Help: "Image generation requests by outcome.",
		}, []string{"outcome"}),
		JoinFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_join_failures_total",
			Help: "Join requests against unknown room codes.",
		}),
		PersistOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_persist_operations_total",
			Help: "Snapshot store operations by kind and outcome.",
		}, []string{"op", "outcome"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RoomsActive,
		m.ConnectionsActive,
		m.MessagesTotal,
		m.AssistantReplies,
		m.ImagesTotal,
		m.JoinFailures,
		m.PersistOps,
	)
	return m
}

// Handler exposes the registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) ObservePersist(op string, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.PersistOps.WithLabelValues(op, outcome).Inc()
}
