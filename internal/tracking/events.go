// Package tracking records impression, click, and performance events
// for auctioned bids and delivers them to the analytics collector.
package tracking

import (
	"time"

	"github.com/google/uuid"

	"github.com/leadwire/rtb-core/internal/bid"
)

// EventType identifies the kind of tracking event
type EventType string

const (
	EventImpression  EventType = "impression"
	EventClick       EventType = "click"
	EventPerformance EventType = "performance"
)

// DeviceFingerprint captures the client device characteristics reported
// with an event
type DeviceFingerprint struct {
	UserAgent      string `json:"userAgent,omitempty"`
	ScreenWidth    int    `json:"screenWidth,omitempty"`
	ScreenHeight   int    `json:"screenHeight,omitempty"`
	ViewportWidth  int    `json:"viewportWidth,omitempty"`
	ViewportHeight int    `json:"viewportHeight,omitempty"`
}

// UserContext carries the client-side session state attached to an event
type UserContext struct {
	AnonymousID      string `json:"anonymousId,omitempty"`
	SessionDuration  int64  `json:"sessionDurationMs,omitempty"`
	InteractionCount int    `json:"interactionCount,omitempty"`
}

// PerformanceTiming holds the latency breakdown reported with a
// performance event, in milliseconds
type PerformanceTiming struct {
	BidRequestMS int64 `json:"bidRequestMs,omitempty"`
	RenderMS     int64 `json:"renderMs,omitempty"`
	TotalMS      int64 `json:"totalMs,omitempty"`
}

// Metadata carries the bid attributes recorded with an event, plus
// free-form extension fields
type Metadata struct {
	AdvertiserID string                 `json:"advertiserId,omitempty"`
	Amount       float64                `json:"amount,omitempty"`
	Currency     string                 `json:"currency,omitempty"`
	TargetURL    string                 `json:"targetUrl,omitempty"`
	Extra        map[string]interface{} `json:"extra,omitempty"`
}

// Event is a single tracking record delivered to the collector
type Event struct {
	Type      EventType          `json:"type"`
	BidID     string             `json:"bidId"`
	LeadID    string             `json:"leadId"`
	Timestamp time.Time          `json:"timestamp"`
	SessionID string             `json:"sessionId"`
	Metadata  Metadata           `json:"metadata"`
	Device    DeviceFingerprint  `json:"device,omitempty"`
	User      UserContext        `json:"user,omitempty"`
	Timing    *PerformanceTiming `json:"timing,omitempty"`

	// attempts counts delivery failures for this event; events past the
	// configured retry ceiling are dropped with an error log
	attempts int
}

// ClientState exposes the client-side storage this package reads session
// context from. Implementations live outside the auction core.
type ClientState interface {
	AnonymousID() string
	SessionDuration() time.Duration
	InteractionCount() int
}

// noopState is used when no client storage is wired in
type noopState struct{}

func (noopState) AnonymousID() string            { return "" }
func (noopState) SessionDuration() time.Duration { return 0 }
func (noopState) InteractionCount() int          { return 0 }

// NewEvent builds a tracking event for a bid, stamping it with the
// session context read from state
func NewEvent(t EventType, b *bid.Bid, leadID, sessionID string, state ClientState) *Event {
	if state == nil {
		state = noopState{}
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ev := &Event{
		Type:      t,
		LeadID:    leadID,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		User: UserContext{
			AnonymousID:      state.AnonymousID(),
			SessionDuration:  state.SessionDuration().Milliseconds(),
			InteractionCount: state.InteractionCount(),
		},
	}

	if b != nil {
		ev.BidID = b.ID
		ev.Metadata = Metadata{
			AdvertiserID: b.AdvertiserID,
			Amount:       b.Amount,
			Currency:     b.Currency,
			TargetURL:    b.TargetURL,
		}
	}

	return ev
}
