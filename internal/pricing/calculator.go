// Package pricing computes the optimal bid amount used as the ranking anchor
package pricing

import (
	"fmt"
	"math"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/leadwire/rtb-core/internal/bid"
	"github.com/leadwire/rtb-core/pkg/logger"
)

// cacheCleanupInterval controls how often expired calculator entries are purged
const cacheCleanupInterval = time.Minute

// Calculator computes target prices from lead quality and market conditions.
// Results are memoized per (leadScore, config, market) for the config's
// cache duration, so repeat calls within a round return identical values.
type Calculator struct {
	cache *gocache.Cache
	now   func() time.Time
}

// NewCalculator creates a calculator with an empty result cache
func NewCalculator() *Calculator {
	return &Calculator{
		cache: gocache.New(gocache.NoExpiration, cacheCleanupInterval),
		now:   time.Now,
	}
}

// NewCalculatorAt creates a calculator with an injected clock, for tests
func NewCalculatorAt(now func() time.Time) *Calculator {
	return &Calculator{
		cache: gocache.New(gocache.NoExpiration, cacheCleanupInterval),
		now:   now,
	}
}

// OptimalBid returns the target amount for a lead. Input errors are
// absorbed: an out-of-range score or internal failure yields the configured
// minimum rather than an error, so the auction never sees a pricing fault.
func (c *Calculator) OptimalBid(leadScore float64, cfg *bid.OptimizationConfig, mc bid.MarketConditions) (amount float64) {
	if cfg == nil {
		return 0
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error().Interface("panic", r).Msg("optimal bid calculation panicked, using minimum")
			amount = cfg.MinBidAmount
		}
	}()

	if leadScore < 0 || leadScore > 1 || math.IsNaN(leadScore) {
		return cfg.MinBidAmount
	}

	mc = bid.NormalizedMarket(mc, c.now())

	key := cacheKey(leadScore, cfg, mc)
	if cached, found := c.cache.Get(key); found {
		return cached.(float64)
	}

	amount = compute(leadScore, cfg, mc)

	if cfg.CacheDuration > 0 {
		c.cache.Set(key, amount, cfg.CacheDuration)
	}

	return amount
}

// compute performs the pricing arithmetic in decimal space. Raw float64
// multiplication drifts at cent precision, which matters for billing.
func compute(leadScore float64, cfg *bid.OptimizationConfig, mc bid.MarketConditions) float64 {
	minAmount := decimal.NewFromFloat(cfg.MinBidAmount)
	maxAmount := decimal.NewFromFloat(cfg.MaxBidAmount)
	score := decimal.NewFromFloat(leadScore)

	// Linear interpolation between the configured bounds
	base := minAmount.Add(maxAmount.Sub(minAmount).Mul(score))

	value := base.
		Mul(decimal.NewFromFloat(cfg.QualityMultiplier)).
		Mul(decimal.NewFromFloat(mc.DemandMultiplier)).
		Mul(decimal.NewFromFloat(mc.CompetitionFactor)).
		Mul(decimal.NewFromFloat(mc.TimeOfDayAdjustment)).
		Mul(decimal.NewFromFloat(1 + cfg.DefaultMarkup))

	value = round(value, cfg.Rounding)

	// Clamp into the configured range
	if value.LessThan(minAmount) {
		value = minAmount
	}
	if value.GreaterThan(maxAmount) {
		value = maxAmount
	}

	result, _ := value.Float64()
	return result
}

// round applies the configured rounding strategy
func round(v decimal.Decimal, strategy bid.RoundingStrategy) decimal.Decimal {
	switch strategy.Mode {
	case bid.RoundFloor:
		return v.RoundFloor(strategy.Precision)
	case bid.RoundCeil:
		return v.RoundCeil(strategy.Precision)
	default:
		return v.Round(strategy.Precision)
	}
}

// cacheKey builds a deterministic key over every pricing input
func cacheKey(leadScore float64, cfg *bid.OptimizationConfig, mc bid.MarketConditions) string {
	return fmt.Sprintf("%.6f|%.4f|%.4f|%.4f|%.4f|%d|%s|%.4f|%.4f|%.4f",
		leadScore,
		cfg.MinBidAmount, cfg.MaxBidAmount, cfg.DefaultMarkup, cfg.QualityMultiplier,
		cfg.Rounding.Precision, cfg.Rounding.Mode,
		mc.DemandMultiplier, mc.CompetitionFactor, mc.TimeOfDayAdjustment,
	)
}
