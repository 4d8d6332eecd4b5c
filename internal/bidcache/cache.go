// Package bidcache provides the short-TTL store of recent valid bid sets
package bidcache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/leadwire/rtb-core/internal/bid"
)

// DefaultTTL is how long a bid set stays fresh when the caller does not
// override it
const DefaultTTL = 30 * time.Second

// Store maps a lead identifier to its most recent valid bid set. Entries
// expire by TTL only; there is no explicit invalidation signal.
type Store interface {
	// Get returns the cached bid set for a lead, or found=false on miss
	// or expiry
	Get(ctx context.Context, leadID string) (bids []bid.Bid, found bool, err error)

	// Set stores a bid set for a lead with the given TTL
	Set(ctx context.Context, leadID string, bids []bid.Bid, ttl time.Duration) error
}

// Memory is the in-process Store backend
type Memory struct {
	cache *gocache.Cache
}

// NewMemory creates an in-memory store. Expired entries are evicted lazily
// on lookup and swept periodically.
func NewMemory() *Memory {
	return &Memory{
		cache: gocache.New(DefaultTTL, time.Minute),
	}
}

// Get implements Store
func (m *Memory) Get(_ context.Context, leadID string) ([]bid.Bid, bool, error) {
	v, found := m.cache.Get(leadID)
	if !found {
		return nil, false, nil
	}
	return v.([]bid.Bid), true, nil
}

// Set implements Store
func (m *Memory) Set(_ context.Context, leadID string, bids []bid.Bid, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.cache.Set(leadID, bids, ttl)
	return nil
}
