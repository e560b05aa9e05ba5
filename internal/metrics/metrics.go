package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Admissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall", Name: "admissions_total", Help: "Admission attempts by outcome",
	}, []string{"outcome"})
	TicketsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rollcall", Name: "tickets_created_total", Help: "Session tickets created",
	})
	TicketsRevoked = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rollcall", Name: "tickets_revoked_total", Help: "Session tickets revoked",
	})
	TicketsSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rollcall", Name: "tickets_swept_total", Help: "Expired tickets deactivated by the sweep",
	})
	EventsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rollcall", Name: "admission_events_consumed_total", Help: "Admission events drained by the worker",
	})
)

func init() {
	prometheus.MustRegister(Admissions, TicketsCreated, TicketsRevoked, TicketsSwept, EventsConsumed)
}

// Handler exposes the prometheus endpoint.
func Handler() http.Handler { return promhttp.Handler() }

// ObserveAdmission records one attempt outcome ("accepted" or an error kind).
func ObserveAdmission(outcome string) { Admissions.WithLabelValues(outcome).Inc() }
