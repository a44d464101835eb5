package server

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects provider counters on a private registry so tests can
// run multiple instances without collisions.
type Metrics struct {
	Registry        *prometheus.Registry
	TokensMinted    *prometheus.CounterVec
	UserInfoResults *prometheus.CounterVec
}

// NewMetrics builds and registers the counter set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		TokensMinted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oidp_tokens_minted_total",
			Help: "Tokens minted, by kind.",
		}, []string{"kind"}),
		UserInfoResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oidp_userinfo_requests_total",
			Help: "UserInfo requests, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.TokensMinted, m.UserInfoResults)
	return m
}
