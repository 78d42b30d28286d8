// Package metrics provides Prometheus metrics for the data layer:
// probe outcomes, endpoint health, failovers, pool pressure, and
// cross-region routing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Health Probes ──────────────────────────────────────────────────────────

// ProbesTotal counts probe completions by endpoint key and outcome.
var ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "datalayer",
	Name:      "health_probes_total",
	Help:      "Completed health probes by endpoint and outcome.",
}, []string{"endpoint", "outcome"})

// EndpointHealthy exports each endpoint's health flag (1 healthy, 0 not).
var EndpointHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "datalayer",
	Name:      "endpoint_healthy",
	Help:      "Whether the endpoint's last probe succeeded.",
}, []string{"endpoint"})

// ConsecutiveFailures exports the per-endpoint failure streak.
var ConsecutiveFailures = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "datalayer",
	Name:      "consecutive_probe_failures",
	Help:      "Sequential failed probes since the last success.",
}, []string{"endpoint"})

// ─── Failover ───────────────────────────────────────────────────────────────

// FailoversTotal counts completed transitions by trigger.
var FailoversTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "datalayer",
	Name:      "failovers_total",
	Help:      "Completed failover transitions by trigger.",
}, []string{"trigger"})

// FailoverDuration tracks transition duration in seconds.
var FailoverDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "datalayer",
	Name:      "failover_duration_seconds",
	Help:      "Failover transition duration.",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
})

// FailoversRejected counts transition requests refused while one was in
// flight or no candidate was healthy.
var FailoversRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "datalayer",
	Name:      "failovers_rejected_total",
	Help:      "Rejected failover requests by reason.",
}, []string{"reason"})

// ─── Connections ────────────────────────────────────────────────────────────

// PoolTimeouts counts connection acquisitions that timed out.
var PoolTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "datalayer",
	Name:      "pool_timeouts_total",
	Help:      "Pooled connection acquisitions that timed out.",
}, []string{"endpoint"})

// DegradedReads counts reads served by a non-preferred endpoint.
var DegradedReads = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "datalayer",
	Name:      "degraded_reads_total",
	Help:      "Reads served by a fallback endpoint after the preferred one was unhealthy.",
})

// CacheRetries counts cache commands retried against the primary.
var CacheRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "datalayer",
	Name:      "cache_retries_total",
	Help:      "Cache commands retried against the primary after a replica failure.",
})

// ─── Geo-Routing ────────────────────────────────────────────────────────────

// RouteDecisions counts routing resolutions by reason.
var RouteDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "datalayer",
	Name:      "route_decisions_total",
	Help:      "Per-request routing decisions by reason.",
}, []string{"reason"})

// CrossRegionProxies counts requests proxied to another region's ingress.
var CrossRegionProxies = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "datalayer",
	Name:      "cross_region_proxies_total",
	Help:      "Requests proxied to a non-local region.",
}, []string{"region"})
