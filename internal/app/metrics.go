package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the orchestration-layer collectors. A nil *Metrics is valid
// and turns every recording call into a no-op, which keeps tests free of
// registry bookkeeping.
type Metrics struct {
	roomsActive        prometheus.Gauge
	participantsActive prometheus.Gauge
	messagesTotal      *prometheus.CounterVec
	joinsRejected      *prometheus.CounterVec
	deliveryFailures   prometheus.Counter
	mediaFailures      prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		roomsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "groupcall",
			Name:      "rooms_active",
			Help:      "Number of currently published rooms.",
		}),
		participantsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "groupcall",
			Name:      "participants_active",
			Help:      "Number of participants currently joined to any room.",
		}),
		messagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupcall",
			Name:      "messages_total",
			Help:      "Incoming signaling messages by kind.",
		}, []string{"kind"}),
		joinsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupcall",
			Name:      "joins_rejected_total",
			Help:      "Join attempts rejected before any state mutation.",
		}, []string{"reason"}),
		deliveryFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "groupcall",
			Name:      "delivery_failures_total",
			Help:      "Outbound frames that could not be delivered to a participant.",
		}),
		mediaFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "groupcall",
			Name:      "media_failures_total",
			Help:      "Failed media-engine operations.",
		}),
	}
}

func (m *Metrics) RoomOpened() {
	if m != nil {
		m.roomsActive.Inc()
	}
}

func (m *Metrics) RoomClosed() {
	if m != nil {
		m.roomsActive.Dec()
	}
}

func (m *Metrics) ParticipantJoined() {
	if m != nil {
		m.participantsActive.Inc()
	}
}

func (m *Metrics) ParticipantLeft() {
	if m != nil {
		m.participantsActive.Dec()
	}
}

func (m *Metrics) Message(kind string) {
	if m != nil {
		m.messagesTotal.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) JoinRejected(reason string) {
	if m != nil {
		m.joinsRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) DeliveryFailure() {
	if m != nil {
		m.deliveryFailures.Inc()
	}
}

func (m *Metrics) MediaFailure() {
	if m != nil {
		m.mediaFailures.Inc()
	}
}
