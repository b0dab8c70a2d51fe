package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Checks counts check verdicts by outcome (ready|waiting)
	Checks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitroom_checks_total",
		Help: "Admission checks by verdict.",
	}, []string{"verdict"})

	// Tickets counts waiting users promoted straight to a seat
	Tickets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waitroom_tickets_total",
		Help: "Waiting users promoted to a ticket by a check.",
	})

	// DropoutsPurged counts stale waiting entries removed by checks
	DropoutsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waitroom_dropouts_purged_total",
		Help: "Waiting-list members purged after missing check-ins.",
	})

	// Disconnects counts deferred disconnect outcomes (confirmed|reconnected|error)
	Disconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitroom_disconnects_total",
		Help: "Disconnect confirmations by outcome.",
	}, []string{"outcome"})

	// Sockets tracks open websocket connections on this instance
	Sockets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "waitroom_sockets",
		Help: "Open websocket connections.",
	})
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
