// metrics: прикладные Prometheus-метрики сервиса.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics объединяет коллекторы HTTP-слоя и ограничителя попыток.
type Metrics struct {
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	RateLimited  *prometheus.CounterVec
	EmailFailed  *prometheus.CounterVec
}

// New создаёт коллекторы и регистрирует их в reg (nil: prometheus.DefaultRegisterer).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route pattern, method and status code.",
		}, []string{"route", "method", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "auth",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "rate_limited_total",
			Help:      "Attempts rejected by the rate limiter, by policy.",
		}, []string{"policy"}),
		EmailFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "email_delivery_failures_total",
			Help:      "Failed outbound emails, by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(m.HTTPRequests, m.HTTPDuration, m.RateLimited, m.EmailFailed)

	return m
}
