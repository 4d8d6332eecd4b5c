package bidcache

import (
	"context"
	"testing"
	"time"

	"github.com/leadwire/rtb-core/internal/bid"
)

func sampleBids() []bid.Bid {
	return []bid.Bid{
		{
			ID:           "bid-1",
			AdvertiserID: "adv-1",
			Amount:       25.0,
			Currency:     "USD",
			TargetURL:    "https://offers.example.com/a",
			ExpiresAt:    time.Now().Add(time.Minute),
		},
		{
			ID:           "bid-2",
			AdvertiserID: "adv-2",
			Amount:       40.0,
			Currency:     "EUR",
			TargetURL:    "https://offers.example.com/b",
			ExpiresAt:    time.Now().Add(time.Minute),
		},
	}
}

func TestMemory_SetAndGet(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	if err := store.Set(ctx, "lead-1", sampleBids(), time.Minute); err != nil {
		t.Fatalf("unexpected error on set: %v", err)
	}

	bids, found, err := store.Get(ctx, "lead-1")
	if err != nil {
		t.Fatalf("unexpected error on get: %v", err)
	}
	if !found {
		t.Fatal("expected cache hit")
	}
	if len(bids) != 2 {
		t.Errorf("expected 2 bids, got %d", len(bids))
	}
	if bids[0].ID != "bid-1" || bids[1].ID != "bid-2" {
		t.Errorf("expected original bid order preserved, got %s, %s", bids[0].ID, bids[1].ID)
	}
}

func TestMemory_MissForUnknownLead(t *testing.T) {
	store := NewMemory()

	_, found, err := store.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected cache miss for unknown lead")
	}
}

func TestMemory_EntryExpires(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	if err := store.Set(ctx, "lead-1", sampleBids(), 10*time.Millisecond); err != nil {
		t.Fatalf("unexpected error on set: %v", err)
	}

	time.Sleep(25 * time.Millisecond)

	_, found, err := store.Get(ctx, "lead-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected entry to expire after TTL")
	}
}

func TestMemory_SetOverwrites(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	store.Set(ctx, "lead-1", sampleBids(), time.Minute)
	store.Set(ctx, "lead-1", sampleBids()[:1], time.Minute)

	bids, found, _ := store.Get(ctx, "lead-1")
	if !found {
		t.Fatal("expected cache hit")
	}
	if len(bids) != 1 {
		t.Errorf("expected overwrite to 1 bid, got %d", len(bids))
	}
}

func TestMemory_ZeroTTLUsesDefault(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	if err := store.Set(ctx, "lead-1", sampleBids(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, found, _ := store.Get(ctx, "lead-1")
	if !found {
		t.Error("expected entry stored with default TTL to be present immediately")
	}
}

func TestNewRedis_RejectsBadURL(t *testing.T) {
	if _, err := NewRedis(""); err == nil {
		t.Error("expected error for empty URL")
	}
	if _, err := NewRedis("://bad"); err == nil {
		t.Error("expected error for malformed URL")
	}
}
