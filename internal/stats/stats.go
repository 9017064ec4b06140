// Package stats exposes process-wide counters for upstream calls, cache
// behavior, and webhook latency, backed by Prometheus client metrics.
package stats

import "github.com/prometheus/client_golang/prometheus"

// Stats holds the Prometheus collectors the rest of the system observes.
// A nil *Stats is safe to call methods on (all become no-ops), mirroring
// the teacher's nil-receiver-safe MessagingMetrics.
type Stats struct {
	upstreamTotal   *prometheus.CounterVec
	upstreamSuccess *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	webhookLatency  *prometheus.HistogramVec
	routerFallback  *prometheus.CounterVec
}

// New registers and returns a Stats instance. If reg is nil, the
// prometheus.DefaultRegisterer is used.
func New(reg prometheus.Registerer) *Stats {
	s := &Stats{
		upstreamTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "upstream",
			Name:      "calls_total",
			Help:      "Total upstream vendor calls attempted, by vendor.",
		}, []string{"vendor"}),
		upstreamSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "upstream",
			Name:      "calls_success_total",
			Help:      "Total upstream vendor calls that succeeded, by vendor.",
		}, []string{"vendor"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache hits, by cache name.",
		}, []string{"cache"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache misses, by cache name.",
		}, []string{"cache"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Latency of webhook processing, by path.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path"}),
		routerFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "router",
			Name:      "fallback_total",
			Help:      "Turns that fell back to LLM-without-context, by reason.",
		}, []string{"reason"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(s.upstreamTotal, s.upstreamSuccess, s.cacheHits, s.cacheMisses, s.webhookLatency, s.routerFallback)
	return s
}

// ObserveUpstreamCall records an attempted call to vendor, and whether it succeeded.
func (s *Stats) ObserveUpstreamCall(vendor string, success bool) {
	if s == nil {
		return
	}
	s.upstreamTotal.WithLabelValues(vendor).Inc()
	if success {
		s.upstreamSuccess.WithLabelValues(vendor).Inc()
	}
}

// ObserveCache records a cache hit or miss for the named cache instance.
func (s *Stats) ObserveCache(name string, hit bool) {
	if s == nil {
		return
	}
	if hit {
		s.cacheHits.WithLabelValues(name).Inc()
		return
	}
	s.cacheMisses.WithLabelValues(name).Inc()
}

// ObserveWebhookLatency records processing latency for a webhook path.
func (s *Stats) ObserveWebhookLatency(path string, seconds float64) {
	if s == nil {
		return
	}
	s.webhookLatency.WithLabelValues(path).Observe(seconds)
}

// ObserveFallback records a router turn that fell back to LLM-without-context.
func (s *Stats) ObserveFallback(reason string) {
	if s == nil {
		return
	}
	s.routerFallback.WithLabelValues(reason).Inc()
}
