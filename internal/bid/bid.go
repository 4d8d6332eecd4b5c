// Package bid defines the bid data model and validation rules
package bid

import (
	"fmt"
	"time"
)

// AllowedCurrencies is the fixed currency allow-list for incoming bids
var AllowedCurrencies = map[string]bool{
	"USD": true,
	"EUR": true,
	"GBP": true,
	"CAD": true,
}

// SecurityMetadata carries the signature material attached to a bid.
// Enforcement happens in the auction engine's fraud checks, not here.
type SecurityMetadata struct {
	Signature         string   `json:"signature,omitempty"`
	CertificateID     string   `json:"certificate_id,omitempty"`
	EncryptionVersion string   `json:"encryption_version,omitempty"`
	Flags             []string `json:"flags,omitempty"`
}

// Bid represents a single advertiser's priced, time-limited offer for a lead
type Bid struct {
	ID               string                 `json:"id"`
	AdvertiserID     string                 `json:"advertiser_id"`
	Amount           float64                `json:"amount"`
	Currency         string                 `json:"currency"`
	TargetURL        string                 `json:"target_url"`
	CreativeHTML     string                 `json:"creative_html"`
	ExpiresAt        time.Time              `json:"expires_at"`
	SecurityMetadata *SecurityMetadata      `json:"security_metadata"`
	Metadata         map[string]interface{} `json:"metadata"`
}

// Request is the payload sent to the RTB partner endpoint
type Request struct {
	RequestID         string                 `json:"requestId"`
	LeadID            string                 `json:"leadId"`
	Vertical          string                 `json:"vertical"`
	UserData          map[string]interface{} `json:"userData,omitempty"`
	TimeoutMS         int                    `json:"timeout_ms"`
	FloorPrice        *float64               `json:"floorPrice,omitempty"`
	TargetingCriteria map[string]interface{} `json:"targetingCriteria,omitempty"`
	Timestamp         time.Time              `json:"timestamp"`
}

// Response is the partner's reply to a bid request
type Response struct {
	Bids []Bid `json:"bids"`
}

// MarketConditions are ephemeral per-request multipliers supplied by the caller
type MarketConditions struct {
	DemandMultiplier    float64 `json:"demand_multiplier"`
	CompetitionFactor   float64 `json:"competition_factor"`
	TimeOfDayAdjustment float64 `json:"time_of_day_adjustment"`
}

// RoundingMode selects how computed prices are rounded
type RoundingMode string

const (
	RoundFloor   RoundingMode = "floor"
	RoundCeil    RoundingMode = "ceil"
	RoundNearest RoundingMode = "round"
)

// RoundingStrategy holds decimal precision and mode for price rounding
type RoundingStrategy struct {
	Precision int32        `json:"precision"`
	Mode      RoundingMode `json:"mode"`
}

// SecurityRules configure the engine's fraud and signature checks
type SecurityRules struct {
	RequireSignature bool          `json:"require_signature"`
	AllowedDomains   []string      `json:"allowed_domains,omitempty"`
	MaxBidAge        time.Duration `json:"max_bid_age"`
}

// OptimizationConfig holds per-auction-round tunables. It is built fresh
// per auction invocation and must not be mutated once the auction starts.
type OptimizationConfig struct {
	MinBidAmount      float64          `json:"min_bid_amount"`
	MaxBidAmount      float64          `json:"max_bid_amount"`
	DefaultMarkup     float64          `json:"default_markup"`
	QualityMultiplier float64          `json:"quality_multiplier"`
	CacheDuration     time.Duration    `json:"cache_duration"`
	Rounding          RoundingStrategy `json:"rounding"`
	Security          SecurityRules    `json:"security"`
	AllowedProtocols  []string         `json:"allowed_protocols,omitempty"`
}

// DefaultOptimizationConfig returns production defaults
func DefaultOptimizationConfig() *OptimizationConfig {
	return &OptimizationConfig{
		MinBidAmount:      0.01,
		MaxBidAmount:      100.0,
		DefaultMarkup:     0.15,
		QualityMultiplier: 1.0,
		CacheDuration:     30 * time.Second,
		Rounding:          RoundingStrategy{Precision: 2, Mode: RoundNearest},
		Security:          SecurityRules{MaxBidAge: 5 * time.Minute},
		AllowedProtocols:  []string{"https"},
	}
}

// Validate checks config invariants. A malformed config is a programming
// error and must fail at construction, not deep inside a request.
func (c *OptimizationConfig) Validate() error {
	if c.MinBidAmount <= 0 {
		return fmt.Errorf("min bid amount must be positive, got %v", c.MinBidAmount)
	}
	if c.MaxBidAmount <= c.MinBidAmount {
		return fmt.Errorf("invalid bid amount range: min=%v, max=%v", c.MinBidAmount, c.MaxBidAmount)
	}
	if c.DefaultMarkup < 0 || c.DefaultMarkup > 1 {
		return fmt.Errorf("default markup must be within [0,1], got %v", c.DefaultMarkup)
	}
	if c.QualityMultiplier < 0.1 || c.QualityMultiplier > 10.0 {
		return fmt.Errorf("quality multiplier must be within [0.1,10], got %v", c.QualityMultiplier)
	}
	if c.CacheDuration < 0 {
		return fmt.Errorf("cache duration cannot be negative: %v", c.CacheDuration)
	}
	if c.Rounding.Precision < 0 || c.Rounding.Precision > 8 {
		return fmt.Errorf("rounding precision must be within [0,8], got %d", c.Rounding.Precision)
	}
	switch c.Rounding.Mode {
	case RoundFloor, RoundCeil, RoundNearest:
	default:
		return fmt.Errorf("unknown rounding mode %q", c.Rounding.Mode)
	}
	return nil
}

// NormalizedMarket fills zero-valued multipliers with defaults. The
// time-of-day default follows the historical peak/evening/off-peak table.
func NormalizedMarket(mc MarketConditions, now time.Time) MarketConditions {
	if mc.DemandMultiplier <= 0 {
		mc.DemandMultiplier = 1.0
	}
	if mc.CompetitionFactor <= 0 {
		mc.CompetitionFactor = 1.0
	}
	if mc.TimeOfDayAdjustment <= 0 {
		mc.TimeOfDayAdjustment = TimeOfDayMultiplier(now.Hour())
	}
	return mc
}

// TimeOfDayMultiplier returns the default adjustment for an hour of day.
// Peak business hours bid up, overnight bids down.
func TimeOfDayMultiplier(hour int) float64 {
	switch {
	case hour >= 9 && hour <= 17:
		return 1.2
	case hour >= 18 && hour <= 22:
		return 1.1
	default:
		return 0.9
	}
}
