package transcripts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"call-monitor/internal/metrics"
	"call-monitor/pkg/logger"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

const dedupPrefix = "transcripts:dedup:"

// ClaimStore is the shared insert-if-absent-with-expiry store behind dedup.
type ClaimStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type RedisClaimStore struct {
	rdb *redis.Client
}

func NewRedisClaimStore(rdb *redis.Client) *RedisClaimStore {
	return &RedisClaimStore{rdb: rdb}
}

func (s *RedisClaimStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, dedupPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup claim: %w", err)
	}
	return ok, nil
}

// MemoryClaimStore is a process-local ClaimStore for tests and single-instance runs.
type MemoryClaimStore struct {
	mu    sync.Mutex
	now   func() time.Time
	items map[string]time.Time
}

func NewMemoryClaimStore(clock func() time.Time) *MemoryClaimStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryClaimStore{now: clock, items: map[string]time.Time{}}
}

func (s *MemoryClaimStore) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if exp, ok := s.items[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.items[key] = now.Add(ttl)
	return true, nil
}

// Deduper decides whether this instance is the first to see a dedup key.
//
// A bounded local buffer short-circuits repeats seen by this instance. The
// shared store settles races between instances. When the shared store fails
// the local buffer alone decides.
type Deduper struct {
	local  *expirable.LRU[string, struct{}]
	remote ClaimStore
	ttl    time.Duration
	log    *slog.Logger
}

// NewDeduper builds a deduper. remote may be nil for local-only operation.
func NewDeduper(remote ClaimStore, localSize int, ttl time.Duration, log *slog.Logger) *Deduper {
	if localSize <= 0 {
		localSize = 1000
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Deduper{
		local:  expirable.NewLRU[string, struct{}](localSize, nil, ttl),
		remote: remote,
		ttl:    ttl,
		log:    logger.Component(log, "dedup"),
	}
}

// Claim returns true only for the first sighting of key.
func (d *Deduper) Claim(ctx context.Context, key string) bool {
	// Contains does not bump recency, so the buffer evicts in insertion order.
	if d.local.Contains(key) {
		return false
	}
	d.local.Add(key, struct{}{})

	if d.remote == nil {
		return true
	}
	ok, err := d.remote.Claim(ctx, key, d.ttl)
	if err != nil {
		metrics.DedupFallbacks.Inc()
		d.log.Warn("shared dedup store unavailable, using local buffer only", "err", err)
		return true
	}
	return ok
}
