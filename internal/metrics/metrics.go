package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	Logins           *prometheus.CounterVec
	LoginDuration    *prometheus.HistogramVec
	MMRPages         *prometheus.CounterVec
	ResolverRequests *prometheus.CounterVec
	RankLookups      *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riot_logins_total",
			Help: "Login sequences run per region, by outcome.",
		}, []string{"region", "outcome"}),
		LoginDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "riot_login_duration_seconds",
			Help:    "Duration of the four-step login sequence.",
			Buckets: prometheus.DefBuckets,
		}, []string{"region"}),
		MMRPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riot_competitive_update_pages_total",
			Help: "Competitive-updates pages fetched per region.",
		}, []string{"region"}),
		ResolverRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hdev_resolve_requests_total",
			Help: "Handle resolution requests, by outcome.",
		}, []string{"outcome"}),
		RankLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rank_lookups_total",
			Help: "Current-rank scans, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Logins,
		m.LoginDuration,
		m.MMRPages,
		m.ResolverRequests,
		m.RankLookups,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
