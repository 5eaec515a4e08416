package lease

import (
	"context"
	"errors"
	"testing"
	"time"

	"call-monitor/pkg/logger"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

const ttl = 15 * time.Second

func newPair(t *testing.T) (*fakeClock, *MemoryStore, *Lease, *Lease) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	store := NewMemoryStore(clock.Now)
	mk := func(id string) *Lease {
		return New(store, Options{
			Key:           "transcripts:leader",
			Holder:        id,
			TTL:           ttl,
			RenewInterval: 5 * time.Second,
			Logger:        logger.Discard(),
			Clock:         clock.Now,
		})
	}
	return clock, store, mk("a"), mk("b")
}

func TestLease_SingleHolder(t *testing.T) {
	ctx := context.Background()
	clock, _, a, b := newPair(t)

	a.Tick(ctx)
	b.Tick(ctx)
	if !a.IsLeader() || b.IsLeader() {
		t.Fatalf("expected only a to lead, a=%v b=%v", a.IsLeader(), b.IsLeader())
	}

	// Regular renewals keep a in charge well past the original TTL.
	for i := 0; i < 10; i++ {
		clock.Advance(5 * time.Second)
		a.Tick(ctx)
		b.Tick(ctx)
		if !a.IsLeader() || b.IsLeader() {
			t.Fatalf("round %d: expected a to keep the lease", i)
		}
	}
}

func TestLease_TakeoverWithinOneTTL(t *testing.T) {
	ctx := context.Background()
	clock, _, a, b := newPair(t)

	var elected int
	b.opts.OnElected = func() { elected++ }

	a.Tick(ctx)
	b.Tick(ctx)

	// a is killed: it stops renewing. b keeps trying every interval.
	var took time.Duration
	for took = 0; took <= ttl; took += 5 * time.Second {
		if a.IsLeader() && b.IsLeader() {
			t.Fatalf("both instances leader at +%s", took)
		}
		b.Tick(ctx)
		if b.IsLeader() {
			break
		}
		clock.Advance(5 * time.Second)
	}
	if !b.IsLeader() {
		t.Fatalf("b did not take over within one TTL")
	}
	if a.IsLeader() {
		t.Fatalf("a still believes it leads after its lease expired")
	}
	if elected != 1 {
		t.Fatalf("expected one election callback, got %d", elected)
	}
}

func TestLease_TakeoverWorstCasePhase(t *testing.T) {
	ctx := context.Background()
	clock, _, a, b := newPair(t)
	start := clock.Now()

	// a ticks at 0s, 5s, 10s and dies right after renewing at 10s.
	// b ticks out of phase at 4s, 9s, 14s, ... so it just misses the expiry at 25s.
	const renew = 5 * time.Second
	died := 10 * time.Second
	var tookOver time.Duration
	for elapsed := time.Duration(0); elapsed <= 40*time.Second; elapsed += time.Second {
		clock.now = start.Add(elapsed)
		if elapsed%renew == 0 && elapsed <= died {
			a.Tick(ctx)
		}
		if elapsed%renew == 4*time.Second {
			b.Tick(ctx)
		}
		if a.IsLeader() && b.IsLeader() {
			t.Fatalf("both instances leader at +%s", elapsed)
		}
		if b.IsLeader() {
			tookOver = elapsed
			break
		}
	}
	if tookOver == 0 {
		t.Fatalf("b never took over")
	}
	gap := tookOver - died
	if gap <= ttl {
		t.Fatalf("expected the out-of-phase case to need more than one TTL, took %s", gap)
	}
	if gap > ttl+renew {
		t.Fatalf("takeover took %s, more than TTL+RenewInterval", gap)
	}
}

func TestLease_SupersededHolderDemotes(t *testing.T) {
	ctx := context.Background()
	clock, _, a, b := newPair(t)

	var reason string
	a.opts.OnDemoted = func(r string) { reason = r }

	a.Tick(ctx)
	// a stalls past its TTL and b acquires the key meanwhile.
	clock.Advance(ttl + time.Second)
	b.Tick(ctx)
	if !b.IsLeader() {
		t.Fatalf("expected b to acquire the expired lease")
	}

	a.Tick(ctx)
	if a.IsLeader() {
		t.Fatalf("expected a to demote after read-back mismatch")
	}
	if reason != "superseded by b" {
		t.Fatalf("unexpected demote reason %q", reason)
	}
}

type brokenStore struct {
	*MemoryStore
	fail bool
}

func (s *brokenStore) Holder(ctx context.Context, key string) (string, error) {
	if s.fail {
		return "", errors.New("connection refused")
	}
	return s.MemoryStore.Holder(ctx, key)
}

func TestLease_StoreErrorFailsClosed(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	store := &brokenStore{MemoryStore: NewMemoryStore(clock.Now)}
	l := New(store, Options{Key: "k", Holder: "a", TTL: ttl, Logger: logger.Discard(), Clock: clock.Now})

	l.Tick(ctx)
	if !l.IsLeader() {
		t.Fatalf("expected leader")
	}
	store.fail = true
	l.Tick(ctx)
	if l.IsLeader() {
		t.Fatalf("expected demotion on store error")
	}
}

func TestLease_ExpiresWithoutRenewal(t *testing.T) {
	ctx := context.Background()
	clock, _, a, _ := newPair(t)

	a.Tick(ctx)
	clock.Advance(ttl - time.Millisecond)
	if !a.IsLeader() {
		t.Fatalf("expected lease valid just before TTL")
	}
	clock.Advance(time.Millisecond)
	if a.IsLeader() {
		t.Fatalf("expected lease invalid at TTL without renewal")
	}
}

func TestLease_Release(t *testing.T) {
	ctx := context.Background()
	_, store, a, b := newPair(t)

	a.Tick(ctx)
	if err := a.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if a.IsLeader() {
		t.Fatalf("expected a to step down on release")
	}
	if h, _ := store.Holder(ctx, "transcripts:leader"); h != "" {
		t.Fatalf("expected key removed, holder=%q", h)
	}

	b.Tick(ctx)
	if !b.IsLeader() {
		t.Fatalf("expected b to acquire immediately after release")
	}
	if err := a.Release(ctx); !IsNotHeld(err) {
		t.Fatalf("expected ErrNotHeld releasing someone else's lease, got %v", err)
	}
}

func TestLease_RunStopsOnCancel(t *testing.T) {
	store := NewMemoryStore(nil)
	l := New(store, Options{Key: "k", Holder: "a", TTL: time.Second, RenewInterval: 10 * time.Millisecond, Logger: logger.Discard()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for !l.IsLeader() {
		select {
		case <-deadline:
			t.Fatalf("lease never acquired")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestMemoryStore_CompareAndSet(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(0, 0)}
	s := NewMemoryStore(clock.Now)

	tests := []struct {
		name string
		op   func() (bool, error)
		want bool
	}{
		{"acquire free key", func() (bool, error) { return s.Acquire(ctx, "k", "a", time.Second) }, true},
		{"acquire held key", func() (bool, error) { return s.Acquire(ctx, "k", "b", time.Second) }, false},
		{"renew by other", func() (bool, error) { return s.Renew(ctx, "k", "b", time.Second) }, false},
		{"renew by holder", func() (bool, error) { return s.Renew(ctx, "k", "a", time.Second) }, true},
		{"release by other", func() (bool, error) { return s.Release(ctx, "k", "b") }, false},
		{"release by holder", func() (bool, error) { return s.Release(ctx, "k", "a") }, true},
		{"acquire after release", func() (bool, error) { return s.Acquire(ctx, "k", "b", time.Second) }, true},
	}
	for _, tt := range tests {
		got, err := tt.op()
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}
