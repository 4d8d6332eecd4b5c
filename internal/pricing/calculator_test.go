package pricing

import (
	"math"
	"testing"
	"time"

	"github.com/leadwire/rtb-core/internal/bid"
)

// testConfig returns a config with neutral multipliers so expected values
// are easy to compute by hand
func testConfig() *bid.OptimizationConfig {
	return &bid.OptimizationConfig{
		MinBidAmount:      10,
		MaxBidAmount:      100,
		DefaultMarkup:     0.10,
		QualityMultiplier: 1.0,
		CacheDuration:     30 * time.Second,
		Rounding:          bid.RoundingStrategy{Precision: 2, Mode: bid.RoundNearest},
	}
}

// unitMarket has every multiplier at 1.0
var unitMarket = bid.MarketConditions{
	DemandMultiplier:    1.0,
	CompetitionFactor:   1.0,
	TimeOfDayAdjustment: 1.0,
}

func TestOptimalBid_ZeroScore(t *testing.T) {
	c := NewCalculator()
	// base = min, then *1.1 markup: 10 * 1.1 = 11
	got := c.OptimalBid(0, testConfig(), unitMarket)
	if got != 11.0 {
		t.Errorf("expected 11.0, got %v", got)
	}
}

func TestOptimalBid_FullScoreClampsToMax(t *testing.T) {
	c := NewCalculator()
	// base = max = 100, *1.1 = 110, clamped to max 100
	got := c.OptimalBid(1, testConfig(), unitMarket)
	if got != 100.0 {
		t.Errorf("expected clamp to 100.0, got %v", got)
	}
}

func TestOptimalBid_MidScore(t *testing.T) {
	c := NewCalculator()
	// base = 10 + 90*0.5 = 55, *1.1 = 60.5
	got := c.OptimalBid(0.5, testConfig(), unitMarket)
	if got != 60.5 {
		t.Errorf("expected 60.5, got %v", got)
	}
}

func TestOptimalBid_InvalidScoreFallsBackToMin(t *testing.T) {
	c := NewCalculator()
	cfg := testConfig()

	for _, score := range []float64{-0.1, 1.1, math.NaN()} {
		if got := c.OptimalBid(score, cfg, unitMarket); got != cfg.MinBidAmount {
			t.Errorf("score %v: expected fallback to min %v, got %v", score, cfg.MinBidAmount, got)
		}
	}
}

func TestOptimalBid_AlwaysWithinBounds(t *testing.T) {
	c := NewCalculator()
	cfg := testConfig()
	cfg.CacheDuration = 0 // disable memoization across cases

	extremes := []bid.MarketConditions{
		{DemandMultiplier: 100, CompetitionFactor: 100, TimeOfDayAdjustment: 100},
		{DemandMultiplier: 0.0001, CompetitionFactor: 0.0001, TimeOfDayAdjustment: 0.0001},
		{DemandMultiplier: 1, CompetitionFactor: 50, TimeOfDayAdjustment: 0.001},
	}

	for _, mc := range extremes {
		for _, score := range []float64{0, 0.25, 0.5, 0.75, 1} {
			got := c.OptimalBid(score, cfg, mc)
			if got < cfg.MinBidAmount || got > cfg.MaxBidAmount {
				t.Errorf("score=%v market=%+v: result %v outside [%v,%v]",
					score, mc, got, cfg.MinBidAmount, cfg.MaxBidAmount)
			}
		}
	}
}

func TestOptimalBid_DecimalRounding(t *testing.T) {
	tests := []struct {
		name     string
		mode     bid.RoundingMode
		demand   float64
		expected float64
	}{
		// base=55, *1.1=60.5, *1.0101 = 61.11105
		{"floor", bid.RoundFloor, 1.0101, 61.11},
		{"ceil", bid.RoundCeil, 1.0101, 61.12},
		{"round", bid.RoundNearest, 1.0101, 61.11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCalculator()
			cfg := testConfig()
			cfg.Rounding.Mode = tt.mode

			mc := unitMarket
			mc.DemandMultiplier = tt.demand

			got := c.OptimalBid(0.5, cfg, mc)
			if got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestOptimalBid_CachedResultIsIdentical(t *testing.T) {
	c := NewCalculator()
	cfg := testConfig()

	first := c.OptimalBid(0.42, cfg, unitMarket)
	second := c.OptimalBid(0.42, cfg, unitMarket)

	if first != second {
		t.Errorf("expected identical cached value, got %v then %v", first, second)
	}
}

func TestOptimalBid_CacheKeyedByInputs(t *testing.T) {
	c := NewCalculator()
	cfg := testConfig()

	a := c.OptimalBid(0.2, cfg, unitMarket)
	b := c.OptimalBid(0.8, cfg, unitMarket)

	if a == b {
		t.Errorf("different scores returned the same amount: %v", a)
	}
}

func TestOptimalBid_NilConfig(t *testing.T) {
	c := NewCalculator()
	if got := c.OptimalBid(0.5, nil, unitMarket); got != 0 {
		t.Errorf("expected 0 for nil config, got %v", got)
	}
}

func TestOptimalBid_ZeroMarketUsesTimeOfDayDefault(t *testing.T) {
	frozen := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC) // off-peak: 0.9
	c := NewCalculatorAt(func() time.Time { return frozen })
	cfg := testConfig()

	// base = 55, *0.9 = 49.5, *1.1 = 54.45
	got := c.OptimalBid(0.5, cfg, bid.MarketConditions{})
	if got != 54.45 {
		t.Errorf("expected 54.45 with off-peak default, got %v", got)
	}
}
