package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DroppedEvents - события, не доставленные транспорту
var DroppedEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spotex",
		Subsystem: "notify",
		Name:      "dropped_events_total",
		Help:      "Events dropped because a transport buffer was full or a write failed",
	},
	[]string{"transport"},
)

// RecordDroppedEvent учитывает потерянное событие
func RecordDroppedEvent(transport string) {
	DroppedEvents.WithLabelValues(transport).Inc()
}
