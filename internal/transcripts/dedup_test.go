package transcripts

import (
	"context"
	"errors"
	"testing"
	"time"

	"call-monitor/pkg/logger"
)

type failingClaimStore struct{}

func (failingClaimStore) Claim(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestDeduper_FirstClaimWins(t *testing.T) {
	ctx := context.Background()
	shared := NewMemoryClaimStore(nil)
	a := NewDeduper(shared, 10, time.Minute, logger.Discard())
	b := NewDeduper(shared, 10, time.Minute, logger.Discard())

	if !a.Claim(ctx, "k1") {
		t.Fatalf("expected first claim to succeed")
	}
	if a.Claim(ctx, "k1") {
		t.Fatalf("expected local repeat to be rejected")
	}
	if b.Claim(ctx, "k1") {
		t.Fatalf("expected other instance to lose the shared claim")
	}
	if !b.Claim(ctx, "k2") {
		t.Fatalf("expected a new key to be claimable")
	}
}

func TestDeduper_FallsBackToLocalWhenStoreFails(t *testing.T) {
	ctx := context.Background()
	d := NewDeduper(failingClaimStore{}, 10, time.Minute, logger.Discard())

	if !d.Claim(ctx, "k1") {
		t.Fatalf("expected claim to proceed on store failure")
	}
	if d.Claim(ctx, "k1") {
		t.Fatalf("expected local buffer to still catch repeats")
	}
}

func TestDeduper_LocalOnly(t *testing.T) {
	ctx := context.Background()
	d := NewDeduper(nil, 2, time.Minute, logger.Discard())

	for _, k := range []string{"a", "b"} {
		if !d.Claim(ctx, k) {
			t.Fatalf("expected %s claimable", k)
		}
	}
	// Checking "a" again must not refresh it; adding "c" evicts the oldest entry.
	if d.Claim(ctx, "a") {
		t.Fatalf("expected a rejected")
	}
	if !d.Claim(ctx, "c") {
		t.Fatalf("expected c claimable")
	}
	if !d.Claim(ctx, "a") {
		t.Fatalf("expected a evicted in insertion order")
	}
}

func TestMemoryClaimStore_Expires(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(0, 0)
	s := NewMemoryClaimStore(func() time.Time { return now })

	if ok, _ := s.Claim(ctx, "k", time.Second); !ok {
		t.Fatalf("expected claim")
	}
	if ok, _ := s.Claim(ctx, "k", time.Second); ok {
		t.Fatalf("expected duplicate claim rejected")
	}
	now = now.Add(time.Second)
	if ok, _ := s.Claim(ctx, "k", time.Second); !ok {
		t.Fatalf("expected claim after expiry")
	}
}
