package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ehailing"

var (
	RidesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rides_created_total", Help: "Rides created by ride type"},
		[]string{"ride_type"},
	)
	RideTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_total", Help: "Applied ride status transitions"},
		[]string{"from", "to"},
	)
	RideTransitionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_rejected_total", Help: "Rejected ride transition attempts"},
		[]string{"action"},
	)
	CandidateListSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "candidate_list_size",
		Help:      "Number of drivers offered to a rider",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
	})
	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_online", Help: "Number of online drivers"})

	PresenceWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "presence_writes_total", Help: "Driver presence updates by outcome"},
		[]string{"outcome"},
	)

	Payments = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "payments_total", Help: "Ride payment attempts by outcome"},
		[]string{"outcome"},
	)
	CallableDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "callable_duration_seconds",
			Help:      "Remote function call latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"function", "status"},
	)

	MapsLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "maps_lookups_total", Help: "Maps API lookups"},
		[]string{"api", "cached"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
