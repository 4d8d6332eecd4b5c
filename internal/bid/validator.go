package bid

import (
	"math"
	"net/url"
	"regexp"
	"time"

	"github.com/leadwire/rtb-core/pkg/logger"
)

// scriptPattern detects executable fragments in creative markup.
// Defense in depth only; the click wall sanitizes before rendering.
var scriptPattern = regexp.MustCompile(`(?i)<\s*script|javascript:`)

// Validator applies the all-or-nothing bid acceptance rules. It is pure:
// no I/O, never mutates its argument, and never panics into the caller.
type Validator struct {
	now func() time.Time
}

// NewValidator creates a validator using wall-clock time
func NewValidator() *Validator {
	return &Validator{now: time.Now}
}

// NewValidatorAt creates a validator with an injected clock, for tests
func NewValidatorAt(now func() time.Time) *Validator {
	return &Validator{now: now}
}

// Validate reports whether a bid may enter the auction. A bid failing any
// single rule is excluded from the round entirely.
func (v *Validator) Validate(b *Bid) (ok bool) {
	// An internal panic (malformed object, bad regex input) counts as
	// invalid rather than crashing the auction.
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error().Interface("panic", r).Msg("bid validation panicked, treating bid as invalid")
			ok = false
		}
	}()

	if reason := v.check(b); reason != "" {
		logger.Log.Debug().
			Str("reason", reason).
			Str("bid_id", safeBidID(b)).
			Msg("bid rejected")
		return false
	}
	return true
}

// check returns an empty string for a valid bid, or the first failed rule
func (v *Validator) check(b *Bid) string {
	if b == nil {
		return "nil bid"
	}
	if b.ID == "" {
		return "missing bid id"
	}
	if b.AdvertiserID == "" {
		return "missing advertiser id"
	}
	if b.Currency == "" {
		return "missing currency"
	}
	if b.TargetURL == "" {
		return "missing target url"
	}
	if b.Amount <= 0 || math.IsNaN(b.Amount) || math.IsInf(b.Amount, 0) {
		return "amount must be a positive finite number"
	}
	if !AllowedCurrencies[b.Currency] {
		return "currency not in allow-list"
	}
	if !b.ExpiresAt.After(v.now()) {
		return "bid expired"
	}
	u, err := url.Parse(b.TargetURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return "target url must be a valid https url"
	}
	if scriptPattern.MatchString(b.CreativeHTML) {
		return "creative contains executable markup"
	}
	if b.Metadata == nil {
		return "missing metadata"
	}
	if b.SecurityMetadata == nil {
		return "missing security metadata"
	}
	return ""
}

func safeBidID(b *Bid) string {
	if b == nil {
		return ""
	}
	return b.ID
}
