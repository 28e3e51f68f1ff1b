package proxy

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors the proxy reports to.
type Metrics struct {
	RequestsTotal *prometheus.CounterVec
	StoredTotal   prometheus.Counter
	UpdatesTotal  *prometheus.CounterVec
}

// NewMetrics creates the proxy metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cachecontrol",
			Name:      "requests_total",
			Help:      "Requests served, partitioned by cache status and forward reason.",
		}, []string{"status", "reason"}),
		StoredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cachecontrol",
			Name:      "stored_responses_total",
			Help:      "Responses written to the cache.",
		}),
		UpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cachecontrol",
			Name:      "updates_total",
			Help:      "Background cache updates, partitioned by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.StoredTotal,
		m.UpdatesTotal,
	)

	return m
}
