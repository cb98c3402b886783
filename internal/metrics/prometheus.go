package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	CallbacksTotal      *prometheus.CounterVec
	ExchangesTotal      *prometheus.CounterVec
	RefreshesTotal      *prometheus.CounterVec
	HealthProbesTotal   *prometheus.CounterVec
	PendingSweptTotal   prometheus.Counter
	CallbackRateLimited prometheus.Counter
)

// InitCustomMetrics initializes and registers the OAuth flow metrics.
// It should be called once at application startup.
func InitCustomMetrics(reg prometheus.Registerer) {
	CallbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_callbacks_total",
		Help: "OAuth callback outcomes by error code (outcome=ok on success).",
	}, []string{"outcome"})
	ExchangesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_exchanges_total",
		Help: "Authorization-code exchanges by provider and result.",
	}, []string{"provider", "result"})
	RefreshesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_refreshes_total",
		Help: "Token refreshes by provider and result.",
	}, []string{"provider", "result"})
	HealthProbesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_health_probes_total",
		Help: "Integration health probes by reported status.",
	}, []string{"status"})
	PendingSweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oauth_pending_swept_total",
		Help: "Integrations expired by the pending backstop sweeper.",
	})
	CallbackRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oauth_callback_rate_limited_total",
		Help: "Callback requests rejected by the per-IP rate limiter.",
	})

	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register custom metrics.")
		return
	}
	for _, c := range []prometheus.Collector{
		CallbacksTotal, ExchangesTotal, RefreshesTotal,
		HealthProbesTotal, PendingSweptTotal, CallbackRateLimited,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register metric")
		}
	}
}
