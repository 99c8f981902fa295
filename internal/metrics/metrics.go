package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for SQLWarden.
type Collector struct {
	Registry *prometheus.Registry

	sessionsActive   prometheus.Gauge
	sessionsTotal    prometheus.Counter
	loginRejects     prometheus.Counter
	queriesAnalyzed  *prometheus.CounterVec
	queriesBlocked   *prometheus.CounterVec
	attackPosterior  *prometheus.HistogramVec
	analysisDuration prometheus.Histogram
	cacheLookups     *prometheus.CounterVec
	errorsSuppressed prometheus.Counter
	whitelistPasses  *prometheus.CounterVec
	upstreamHealthy  prometheus.Gauge
}

// New creates and registers all metrics on an independent registry, so
// tests and reloads never collide with a global one.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sqlwarden_sessions_active",
			Help: "Number of client sessions currently proxied",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sqlwarden_sessions_total",
			Help: "Total client sessions accepted",
		}),
		loginRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sqlwarden_login_rejects_total",
			Help: "Logins rejected by the user/host filter",
		}),
		queriesAnalyzed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sqlwarden_queries_analyzed_total",
			Help: "Queries run through the analysis pipeline, by verdict",
		}, []string{"verdict"}),
		queriesBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sqlwarden_queries_blocked_total",
			Help: "Blocked queries by cause (attack type, parse_error, internal_error)",
		}, []string{"cause"}),
		attackPosterior: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sqlwarden_attack_posterior",
			Help:    "Posterior probabilities computed per attack type",
			Buckets: prometheus.LinearBuckets(0.05, 0.05, 19),
		}, []string{"attack"}),
		analysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sqlwarden_analysis_duration_seconds",
			Help:    "Wall time of parse plus classification per query",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 16),
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sqlwarden_evidence_cache_lookups_total",
			Help: "Evidence cache lookups by attack type and outcome",
		}, []string{"attack", "outcome"}),
		errorsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sqlwarden_server_errors_suppressed_total",
			Help: "Server error packets replaced with synthetic replies",
		}),
		whitelistPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sqlwarden_whitelist_passes_total",
			Help: "Queries forwarded because of a whitelist entry, by list",
		}, []string{"list"}),
		upstreamHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sqlwarden_upstream_healthy",
			Help: "Health of the protected server (1=healthy, 0=unhealthy)",
		}),
	}

	reg.MustRegister(
		c.sessionsActive,
		c.sessionsTotal,
		c.loginRejects,
		c.queriesAnalyzed,
		c.queriesBlocked,
		c.attackPosterior,
		c.analysisDuration,
		c.cacheLookups,
		c.errorsSuppressed,
		c.whitelistPasses,
		c.upstreamHealthy,
	)
	return c
}

// SessionStarted tracks a newly accepted client session.
func (c *Collector) SessionStarted() {
	c.sessionsTotal.Inc()
	c.sessionsActive.Inc()
}

// SessionEnded tracks a closed session.
func (c *Collector) SessionEnded() {
	c.sessionsActive.Dec()
}

// LoginRejected counts a login-filter rejection.
func (c *Collector) LoginRejected() {
	c.loginRejects.Inc()
}

// QueryAnalyzed records one analysed query and its verdict
// ("forwarded" or "blocked").
func (c *Collector) QueryAnalyzed(verdict string, elapsed time.Duration) {
	c.queriesAnalyzed.WithLabelValues(verdict).Inc()
	c.analysisDuration.Observe(elapsed.Seconds())
}

// QueryBlocked counts a block by cause: an attack type name, "parse_error",
// or "internal_error".
func (c *Collector) QueryBlocked(cause string) {
	c.queriesBlocked.WithLabelValues(cause).Inc()
}

// PosteriorComputed records one posterior sample.
func (c *Collector) PosteriorComputed(attack string, p float64) {
	c.attackPosterior.WithLabelValues(attack).Observe(p)
}

// CacheLookup counts an evidence cache hit or miss.
func (c *Collector) CacheLookup(attack string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	c.cacheLookups.WithLabelValues(attack, outcome).Inc()
}

// ServerErrorSuppressed counts a replaced server error packet.
func (c *Collector) ServerErrorSuppressed() {
	c.errorsSuppressed.Inc()
}

// WhitelistPass counts a whitelist exemption ("parse" or "block").
func (c *Collector) WhitelistPass(list string) {
	c.whitelistPasses.WithLabelValues(list).Inc()
}

// SetUpstreamHealth publishes the protected server's health.
func (c *Collector) SetUpstreamHealth(healthy bool) {
	if healthy {
		c.upstreamHealthy.Set(1)
	} else {
		c.upstreamHealthy.Set(0)
	}
}
