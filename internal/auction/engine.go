// Package auction orchestrates bid requests, filtering, scoring, and
// selection for a single lead.
package auction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/leadwire/rtb-core/internal/bid"
	"github.com/leadwire/rtb-core/internal/bidcache"
	"github.com/leadwire/rtb-core/internal/metrics"
	"github.com/leadwire/rtb-core/internal/partner"
	"github.com/leadwire/rtb-core/internal/pricing"
	"github.com/leadwire/rtb-core/internal/ratelimit"
	"github.com/leadwire/rtb-core/internal/tracking"
	"github.com/leadwire/rtb-core/pkg/logger"
)

// Scoring weights: closeness to the optimal price and lead quality
// dominate, signature presence breaks near-ties. This is deliberately
// not a highest-bid-wins auction.
const (
	weightProximity = 0.4
	weightLeadScore = 0.4
	weightSecurity  = 0.2
)

// ErrRateLimited is returned when the engine's token bucket is drained.
// Callers must back off; the engine never blocks waiting for a token.
var ErrRateLimited = errors.New("auction rate limit exceeded")

// BidRequester issues bid requests to an RTB partner
type BidRequester interface {
	RequestBids(ctx context.Context, req *bid.Request) ([]bid.Bid, error)
}

// Tracker records auction lifecycle events
type Tracker interface {
	TrackImpression(ctx context.Context, b *bid.Bid, leadID string) error
	TrackClick(ctx context.Context, b *bid.Bid, leadID string) error
	TrackPerformance(ctx context.Context, b *bid.Bid, leadID string, timing *tracking.PerformanceTiming) error
}

// Config holds auction engine configuration
type Config struct {
	Optimization *bid.OptimizationConfig
	RateLimit    *ratelimit.Config

	// EnableFraudDetection adds signature and amount-bound checks on
	// top of structural validation
	EnableFraudDetection bool

	// MaxWinners truncates the ranked result; 0 means unlimited
	MaxWinners int

	// AdvertiserDiversity keeps at most one bid per advertiser in the
	// ranked result
	AdvertiserDiversity bool

	// VerticalMultipliers scale the optimal price per lead vertical.
	// Verticals without an entry use 1.0.
	VerticalMultipliers map[string]float64

	// RequestTimeout is the partner call budget, clamped to the wire
	// contract's [100ms,1s] window
	RequestTimeout time.Duration
}

// DefaultConfig returns production defaults
func DefaultConfig() *Config {
	return &Config{
		Optimization:         bid.DefaultOptimizationConfig(),
		EnableFraudDetection: true,
		MaxWinners:           3,
		AdvertiserDiversity:  true,
		RequestTimeout:       500 * time.Millisecond,
	}
}

// Dependencies are the engine's injected collaborators. The limiter and
// the partner client's circuit breaker are owned by whoever constructs
// the engine; sharing them across engines is an explicit caller choice.
type Dependencies struct {
	Limiter    *ratelimit.Limiter
	Cache      bidcache.Store
	Calculator *pricing.Calculator
	Partner    BidRequester
	Tracker    Tracker
	Metrics    *metrics.Metrics
}

// Engine runs the bid auction for one lead at a time. Safe for
// concurrent use across leads; the cache and limiter are the only
// shared mutable state.
type Engine struct {
	config     *Config
	limiter    *ratelimit.Limiter
	cache      bidcache.Store
	calculator *pricing.Calculator
	partner    BidRequester
	tracker    Tracker
	metrics    *metrics.Metrics
	validator  *bid.Validator
}

// New creates an auction engine. A malformed config fails here, not
// deep inside a request.
func New(config *Config, deps Dependencies) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Optimization == nil {
		config.Optimization = bid.DefaultOptimizationConfig()
	}
	if err := config.Optimization.Validate(); err != nil {
		return nil, fmt.Errorf("invalid optimization config: %w", err)
	}
	if config.MaxWinners < 0 {
		return nil, fmt.Errorf("max winners cannot be negative: %d", config.MaxWinners)
	}
	if deps.Partner == nil {
		return nil, errors.New("partner client is required")
	}
	config.RequestTimeout = partner.ClampTimeout(config.RequestTimeout)

	if deps.Limiter == nil {
		deps.Limiter = ratelimit.New(config.RateLimit)
	}
	if deps.Cache == nil {
		deps.Cache = bidcache.NewMemory()
	}
	if deps.Calculator == nil {
		deps.Calculator = pricing.NewCalculator()
	}

	return &Engine{
		config:     config,
		limiter:    deps.Limiter,
		cache:      deps.Cache,
		calculator: deps.Calculator,
		partner:    deps.Partner,
		tracker:    deps.Tracker,
		metrics:    deps.Metrics,
		validator:  bid.NewValidator(),
	}, nil
}

// RequestBids fetches the candidate bid set for a lead: rate limit,
// cache lookup, partner fan-out, validation, fraud filtering, caching.
// An empty result after filtering is a valid outcome, not an error.
// A positive timeout overrides the configured partner budget, clamped
// to the wire contract's [100ms,1s] window; zero keeps the default.
func (e *Engine) RequestBids(ctx context.Context, leadID, vertical string, userData map[string]interface{}, timeout time.Duration) ([]bid.Bid, error) {
	if leadID == "" {
		return nil, errors.New("lead id is required")
	}

	budget := e.config.RequestTimeout
	if timeout > 0 {
		budget = partner.ClampTimeout(timeout)
	}

	start := time.Now()

	if !e.limiter.Allow("auction") {
		if e.metrics != nil {
			e.metrics.IncRateLimitRejected()
		}
		return nil, ErrRateLimited
	}

	cached, found, err := e.cache.Get(ctx, leadID)
	if err != nil {
		// A backend error is a miss, but never a silent one
		logger.Log.Warn().Err(err).Str("lead_id", leadID).Msg("bid cache lookup failed")
	} else if found {
		if e.metrics != nil {
			e.metrics.RecordCacheHit()
		}
		logger.Log.Debug().Str("lead_id", leadID).Int("bids", len(cached)).Msg("bid cache hit")
		return cached, nil
	}
	if e.metrics != nil {
		e.metrics.RecordCacheMiss()
	}

	req := &bid.Request{
		RequestID: uuid.NewString(),
		LeadID:    leadID,
		Vertical:  vertical,
		UserData:  userData,
		TimeoutMS: int(budget.Milliseconds()),
		Timestamp: time.Now().UTC(),
	}

	reqCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	received, err := e.partner.RequestBids(reqCtx, req)
	elapsed := time.Since(start)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordPartnerRequest("error", elapsed)
			e.metrics.RecordAuction("partner_failure", vertical, elapsed)
		}
		return nil, fmt.Errorf("partner bid request: %w", err)
	}
	if e.metrics != nil {
		e.metrics.RecordPartnerRequest("ok", elapsed)
	}

	valid := e.filterBids(received, vertical)

	if len(valid) > 0 {
		if err := e.cache.Set(ctx, leadID, valid, e.config.Optimization.CacheDuration); err != nil {
			logger.Log.Warn().Err(err).Str("lead_id", leadID).Msg("failed to cache bids")
		}
		e.trackImpressions(valid, leadID)
	}

	if e.metrics != nil {
		e.metrics.RecordAuction("ok", vertical, time.Since(start))
	}

	logger.Log.Info().
		Str("request_id", req.RequestID).
		Str("lead_id", leadID).
		Str("vertical", vertical).
		Int("received", len(received)).
		Int("valid", len(valid)).
		Dur("duration", time.Since(start)).
		Msg("auction round complete")

	return valid, nil
}

// filterBids applies structural validation and, when enabled, fraud
// checks. Failures silently shrink the candidate set.
func (e *Engine) filterBids(bids []bid.Bid, vertical string) []bid.Bid {
	valid := make([]bid.Bid, 0, len(bids))
	for i := range bids {
		b := &bids[i]
		if !e.validator.Validate(b) {
			e.rejectBid("invalid")
			continue
		}
		if e.config.EnableFraudDetection && !e.passesFraudChecks(b) {
			e.rejectBid("fraud")
			continue
		}
		if e.metrics != nil {
			e.metrics.RecordBid(vertical, b.Amount)
		}
		valid = append(valid, *b)
	}
	return valid
}

func (e *Engine) rejectBid(reason string) {
	if e.metrics != nil {
		e.metrics.RecordBidRejected(reason)
	}
}

// passesFraudChecks enforces signature presence and amount bounds. The
// https requirement is already covered by structural validation.
func (e *Engine) passesFraudChecks(b *bid.Bid) bool {
	if e.config.Optimization.Security.RequireSignature {
		if b.SecurityMetadata == nil || b.SecurityMetadata.Signature == "" {
			return false
		}
	}
	if b.Amount < e.config.Optimization.MinBidAmount || b.Amount > e.config.Optimization.MaxBidAmount {
		return false
	}
	return true
}

// trackImpressions records impressions asynchronously. Failures are
// logged, never retried inline, and never block the auction.
func (e *Engine) trackImpressions(bids []bid.Bid, leadID string) {
	if e.tracker == nil {
		return
	}
	for i := range bids {
		go func(b bid.Bid) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := e.tracker.TrackImpression(ctx, &b, leadID); err != nil {
				logger.Log.Warn().Err(err).Str("bid_id", b.ID).Str("lead_id", leadID).Msg("impression tracking failed")
			}
		}(bids[i])
	}
}

// scoredBid pairs a bid with its computed score for ranking
type scoredBid struct {
	bid   bid.Bid
	score float64
}

// SelectOptimalBids ranks bids by closeness to the computed optimal
// price, weighted by lead quality and signature presence. The sort is
// stable: equal scores keep their arrival order. The internal score is
// not attached to the returned bids.
func (e *Engine) SelectOptimalBids(bids []bid.Bid, leadScore float64, vertical string, mc bid.MarketConditions) []bid.Bid {
	if len(bids) == 0 {
		return nil
	}

	if leadScore < 0 || math.IsNaN(leadScore) {
		leadScore = 0
	} else if leadScore > 1 {
		leadScore = 1
	}

	optimal := e.calculator.OptimalBid(leadScore, e.optimizationFor(vertical), mc)
	if e.metrics != nil && optimal > 0 {
		e.metrics.RecordOptimalBid(vertical, optimal)
	}

	scored := make([]scoredBid, len(bids))
	for i, b := range bids {
		scored[i] = scoredBid{bid: b, score: e.scoreBid(&b, leadScore, optimal)}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	return e.pickWinners(scored)
}

// optimizationFor folds the vertical multiplier into the quality
// multiplier so the effective price scales per vertical. The cached
// config is never mutated.
func (e *Engine) optimizationFor(vertical string) *bid.OptimizationConfig {
	m, ok := e.config.VerticalMultipliers[vertical]
	if !ok || m <= 0 || m == 1 {
		return e.config.Optimization
	}
	cfg := *e.config.Optimization
	cfg.QualityMultiplier *= m
	return &cfg
}

// scoreBid computes 0.4*proximity + 0.4*leadScore + 0.2*security
func (e *Engine) scoreBid(b *bid.Bid, leadScore, optimal float64) float64 {
	var proximity float64
	if optimal > 0 {
		proximity = 1 - math.Abs(b.Amount-optimal)/optimal
	}

	security := 0.5
	if b.SecurityMetadata != nil && b.SecurityMetadata.Signature != "" {
		security = 1.0
	}

	return weightProximity*proximity + weightLeadScore*leadScore + weightSecurity*security
}

// pickWinners walks the ranked list applying advertiser diversity and
// the max-winners cap
func (e *Engine) pickWinners(scored []scoredBid) []bid.Bid {
	limit := e.config.MaxWinners
	if limit <= 0 || limit > len(scored) {
		limit = len(scored)
	}

	winners := make([]bid.Bid, 0, limit)
	seen := make(map[string]bool)

	for _, s := range scored {
		if len(winners) >= limit {
			break
		}
		if e.config.AdvertiserDiversity && seen[s.bid.AdvertiserID] {
			continue
		}
		seen[s.bid.AdvertiserID] = true
		winners = append(winners, s.bid)
	}

	return winners
}

// TrackBidSelection records the click and performance events for a
// user-selected bid. Click delivery errors propagate to the caller
// because the click gates navigation; the performance event is queued
// best-effort.
func (e *Engine) TrackBidSelection(ctx context.Context, b *bid.Bid, leadID string, perf *tracking.PerformanceTiming) error {
	if e.tracker == nil {
		return errors.New("tracking is not configured")
	}
	if b == nil {
		return errors.New("nil bid")
	}

	if err := e.tracker.TrackClick(ctx, b, leadID); err != nil {
		return fmt.Errorf("click tracking: %w", err)
	}

	if err := e.tracker.TrackPerformance(ctx, b, leadID, perf); err != nil {
		logger.Log.Warn().Err(err).Str("bid_id", b.ID).Msg("performance tracking failed")
	}

	return nil
}

// Close releases the engine's owned resources
func (e *Engine) Close() {
	e.limiter.Stop()
}
