// Package metrics provides Prometheus metrics for the RTB auction core
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Auction metrics
	AuctionsTotal   *prometheus.CounterVec
	AuctionDuration *prometheus.HistogramVec
	BidsReceived    *prometheus.CounterVec
	BidAmount       *prometheus.HistogramVec
	BidsRejected    *prometheus.CounterVec
	OptimalBid      *prometheus.HistogramVec

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Partner metrics
	PartnerRequests     *prometheus.CounterVec
	PartnerLatency      prometheus.Histogram
	PartnerCircuitState prometheus.Gauge

	// Tracking metrics
	TrackingQueued  prometheus.Counter
	TrackingDropped prometheus.Counter

	// System metrics
	RateLimitRejected prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "rtb"
	}

	m := &Metrics{
		// Request metrics
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being served",
			},
		),

		// Auction metrics
		AuctionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auctions_total",
				Help:      "Total number of auctions",
			},
			[]string{"status", "vertical"},
		),
		AuctionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "auction_duration_seconds",
				Help:      "Auction duration in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, .75, 1, 1.5, 2},
			},
			[]string{"vertical"},
		),
		BidsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bids_received_total",
				Help:      "Total number of bids received from partners",
			},
			[]string{"vertical"},
		),
		BidAmount: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bid_amount",
				Help:      "Bid amount distribution in currency units",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"vertical"},
		),
		BidsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bids_rejected_total",
				Help:      "Total bids rejected before ranking",
			},
			[]string{"reason"},
		),
		OptimalBid: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "optimal_bid_amount",
				Help:      "Computed optimal bid distribution in currency units",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"vertical"},
		),

		// Cache metrics
		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bid_cache_hits_total",
				Help:      "Total bid cache hits",
			},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bid_cache_misses_total",
				Help:      "Total bid cache misses",
			},
		),

		// Partner metrics
		PartnerRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "partner_requests_total",
				Help:      "Total requests to the RTB partner",
			},
			[]string{"status"},
		),
		PartnerLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "partner_latency_seconds",
				Help:      "RTB partner response latency in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .15, .2, .3, .5, .75, 1},
			},
		),
		PartnerCircuitState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "partner_circuit_breaker_state",
				Help:      "Partner circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),

		// Tracking metrics
		TrackingQueued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tracking_events_queued_total",
				Help:      "Total tracking events queued",
			},
		),
		TrackingDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tracking_events_dropped_total",
				Help:      "Total tracking events dropped past the retry ceiling",
			},
		),

		// System metrics
		RateLimitRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_rejected_total",
				Help:      "Total requests rejected due to rate limiting",
			},
		),
	}

	// Register all metrics
	prometheus.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.AuctionsTotal,
		m.AuctionDuration,
		m.BidsReceived,
		m.BidAmount,
		m.BidsRejected,
		m.OptimalBid,
		m.CacheHits,
		m.CacheMisses,
		m.PartnerRequests,
		m.PartnerLatency,
		m.PartnerCircuitState,
		m.TrackingQueued,
		m.TrackingDropped,
		m.RateLimitRejected,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns HTTP middleware that records request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(wrapped.statusCode)

		m.RequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		m.RequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecordAuction records the outcome of one auction round
func (m *Metrics) RecordAuction(status, vertical string, duration time.Duration) {
	m.AuctionsTotal.WithLabelValues(status, vertical).Inc()
	m.AuctionDuration.WithLabelValues(vertical).Observe(duration.Seconds())
}

// RecordBid records a bid received from the partner
func (m *Metrics) RecordBid(vertical string, amount float64) {
	m.BidsReceived.WithLabelValues(vertical).Inc()
	m.BidAmount.WithLabelValues(vertical).Observe(amount)
}

// RecordBidRejected records a bid filtered out before ranking
func (m *Metrics) RecordBidRejected(reason string) {
	m.BidsRejected.WithLabelValues(reason).Inc()
}

// RecordOptimalBid records a computed optimal bid amount
func (m *Metrics) RecordOptimalBid(vertical string, amount float64) {
	m.OptimalBid.WithLabelValues(vertical).Observe(amount)
}

// RecordCacheHit increments the bid cache hit counter
func (m *Metrics) RecordCacheHit() { m.CacheHits.Inc() }

// RecordCacheMiss increments the bid cache miss counter
func (m *Metrics) RecordCacheMiss() { m.CacheMisses.Inc() }

// RecordPartnerRequest records a partner request outcome
func (m *Metrics) RecordPartnerRequest(status string, latency time.Duration) {
	m.PartnerRequests.WithLabelValues(status).Inc()
	m.PartnerLatency.Observe(latency.Seconds())
}

// SetPartnerCircuitState sets the partner circuit breaker state metric
func (m *Metrics) SetPartnerCircuitState(state string) {
	var value float64
	switch state {
	case "closed":
		value = 0
	case "open":
		value = 1
	case "half-open":
		value = 2
	}
	m.PartnerCircuitState.Set(value)
}

// IncTrackingQueued increments the tracking queued counter
func (m *Metrics) IncTrackingQueued() { m.TrackingQueued.Inc() }

// IncTrackingDropped increments the tracking dropped counter
func (m *Metrics) IncTrackingDropped() { m.TrackingDropped.Inc() }

// IncRateLimitRejected increments the rate limit rejected counter
func (m *Metrics) IncRateLimitRejected() { m.RateLimitRejected.Inc() }
