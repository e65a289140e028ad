package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	VotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "verdictx_votes_total", Help: "Votes cast by outcome"},
		[]string{"outcome"},
	)
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "verdictx_messages_total", Help: "Chat messages appended by kind"},
		[]string{"kind"},
	)
	AnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "verdictx_analyses_total", Help: "Token analyses by result"},
		[]string{"result"},
	)
	HubDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "verdictx_hub_dropped_total", Help: "Realtime events dropped for slow subscribers"},
	)
	HubSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "verdictx_hub_subscribers", Help: "Open realtime subscriptions"},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "verdictx_http_request_duration_seconds", Help: "HTTP request duration", Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}},
		[]string{"method", "route", "status"},
	)

	registerOnce sync.Once
)

// MustRegister registers every collector with the default registry. Extra
// calls are no-ops.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			VotesTotal,
			MessagesTotal,
			AnalysesTotal,
			HubDroppedTotal,
			HubSubscribers,
			RequestDuration,
		)
	})
}

func IncVote(outcome string)    { VotesTotal.WithLabelValues(outcome).Inc() }
func IncMessage(kind string)    { MessagesTotal.WithLabelValues(kind).Inc() }
func IncAnalysis(result string) { AnalysesTotal.WithLabelValues(result).Inc() }
func IncHubDropped()            { HubDroppedTotal.Inc() }

func AddSubscribers(delta int) { HubSubscribers.Add(float64(delta)) }

func ObserveRequest(method, route, status string, seconds float64) {
	RequestDuration.WithLabelValues(method, route, status).Observe(seconds)
}
