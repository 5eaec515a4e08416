package lease

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"call-monitor/internal/metrics"
	"call-monitor/pkg/logger"
)

type Options struct {
	Key    string
	Holder string

	TTL time.Duration
	// RenewInterval drives both renewal and, for followers, acquisition attempts.
	// Must be shorter than TTL.
	RenewInterval time.Duration

	// OnElected and OnDemoted are called from the Run goroutine on role changes.
	OnElected func()
	OnDemoted func(reason string)

	Logger *slog.Logger
	Clock  func() time.Time
}

// Lease tracks this instance's claim on a shared leadership key.
//
// The holder treats itself as leader only until lastRenewal+TTL. If renewals
// stop succeeding it stops acting as leader by the time the key can expire,
// so two instances never both believe they hold a valid lease.
type Lease struct {
	store Store
	opts  Options
	log   *slog.Logger

	mu         sync.Mutex
	leader     bool
	validUntil time.Time
}

func New(store Store, opts Options) *Lease {
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Second
	}
	if opts.RenewInterval <= 0 || opts.RenewInterval >= opts.TTL {
		opts.RenewInterval = opts.TTL / 3
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Lease{
		store: store,
		opts:  opts,
		log:   logger.Component(opts.Logger, "lease").With("key", opts.Key, "holder", opts.Holder),
	}
}

// IsLeader reports whether this instance holds an unexpired lease right now.
func (l *Lease) IsLeader() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.leader && l.opts.Clock().Before(l.validUntil)
}

func (l *Lease) HolderID() string { return l.opts.Holder }

// Run attempts acquisition or renewal immediately and then every RenewInterval
// until ctx ends. It does not release the lease on exit; call Release for that.
func (l *Lease) Run(ctx context.Context) {
	l.Tick(ctx)

	t := time.NewTicker(l.opts.RenewInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Tick(ctx)
		}
	}
}

// Tick performs one acquire-or-renew step.
func (l *Lease) Tick(ctx context.Context) {
	started := l.opts.Clock()

	l.mu.Lock()
	leader := l.leader
	l.mu.Unlock()

	if !leader {
		ok, err := l.store.Acquire(ctx, l.opts.Key, l.opts.Holder, l.opts.TTL)
		if err != nil {
			l.log.Warn("lease acquire failed", "err", err)
			return
		}
		if ok {
			l.promote(started)
		}
		return
	}

	// Confirm we are still the recorded holder before extending anything.
	holder, err := l.store.Holder(ctx, l.opts.Key)
	if err != nil {
		l.demote("store error: " + err.Error())
		return
	}
	if holder != l.opts.Holder {
		l.demote("superseded by " + holderOrNone(holder))
		return
	}
	ok, err := l.store.Renew(ctx, l.opts.Key, l.opts.Holder, l.opts.TTL)
	if err != nil {
		l.demote("store error: " + err.Error())
		return
	}
	if !ok {
		l.demote("renew rejected")
		return
	}

	l.mu.Lock()
	l.validUntil = started.Add(l.opts.TTL)
	l.mu.Unlock()
}

// Release gives up the lease if this instance still holds it.
func (l *Lease) Release(ctx context.Context) error {
	l.mu.Lock()
	wasLeader := l.leader
	l.mu.Unlock()

	ok, err := l.store.Release(ctx, l.opts.Key, l.opts.Holder)
	if wasLeader {
		l.demote("released")
	}
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotHeld
	}
	return nil
}

func (l *Lease) promote(at time.Time) {
	l.mu.Lock()
	l.leader = true
	l.validUntil = at.Add(l.opts.TTL)
	l.mu.Unlock()

	metrics.LeaseHeld.Set(1)
	metrics.LeaseTransitions.WithLabelValues("elected").Inc()
	l.log.Info("lease acquired", "ttl", l.opts.TTL.String())
	if l.opts.OnElected != nil {
		l.opts.OnElected()
	}
}

func (l *Lease) demote(reason string) {
	l.mu.Lock()
	was := l.leader
	l.leader = false
	l.validUntil = time.Time{}
	l.mu.Unlock()
	if !was {
		return
	}

	metrics.LeaseHeld.Set(0)
	metrics.LeaseTransitions.WithLabelValues("demoted").Inc()
	l.log.Warn("lease lost", "reason", reason)
	if l.opts.OnDemoted != nil {
		l.opts.OnDemoted(reason)
	}
}

func holderOrNone(h string) string {
	if h == "" {
		return "<none>"
	}
	return h
}

// IsNotHeld is a small helper for shutdown paths that ignore a lost lease.
func IsNotHeld(err error) bool { return errors.Is(err, ErrNotHeld) }
