package calls

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"call-monitor/internal/metrics"
	"call-monitor/pkg/logger"

	"github.com/robfig/cron/v3"
)

const (
	DefaultActiveThreshold = 30 * time.Second
	DefaultCleanupGrace    = 5 * time.Minute
)

type RegistryOptions struct {
	// ActiveThreshold is how recently a channel file must have been modified
	// for the call to count as in progress.
	ActiveThreshold time.Duration
	// CleanupGrace is how long a completed record stays visible before eviction.
	CleanupGrace time.Duration

	Logger *slog.Logger
	Clock  func() time.Time
}

// Registry is the in-memory view of calls in the watch directory.
//
// Scan is the only writer. Readers (Get, ListActive, ListAll) take a read lock and
// receive copies, so they are safe to use from stream handlers while a scan runs.
type Registry struct {
	lister Lister
	opts   RegistryOptions
	log    *slog.Logger

	mu    sync.RWMutex
	calls map[string]*CallRecord
	// evicted holds ids removed after their grace period. An id stays here while
	// its files are still listed so the call cannot reappear.
	evicted  map[string]struct{}
	lastScan time.Time
}

func NewRegistry(lister Lister, opts RegistryOptions) *Registry {
	if opts.ActiveThreshold <= 0 {
		opts.ActiveThreshold = DefaultActiveThreshold
	}
	if opts.CleanupGrace <= 0 {
		opts.CleanupGrace = DefaultCleanupGrace
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Registry{
		lister:  lister,
		opts:    opts,
		log:     logger.Component(opts.Logger, "call_registry"),
		calls:   map[string]*CallRecord{},
		evicted: map[string]struct{}{},
	}
}

// callGroup collects the channel files of one call within a single listing.
type callGroup struct {
	name    ParsedName
	start   time.Time
	client  *ChannelFile
	agent   *ChannelFile
	lastMod time.Time
}

// Scan re-reads the directory and returns the current call set.
// A listing failure is logged and yields an empty result; known records keep
// aging so completions and evictions still happen while the directory is unreadable.
func (r *Registry) Scan(ctx context.Context) []CallRecord {
	files, err := r.lister.List(ctx)
	now := r.opts.Clock()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastScan = now

	if err != nil {
		metrics.RegistryScans.WithLabelValues("error").Inc()
		r.log.Warn("watch directory scan failed", "err", err)
		r.age(now, nil)
		r.reportLocked()
		return nil
	}
	metrics.RegistryScans.WithLabelValues("ok").Inc()

	groups := groupFiles(files)
	for id, g := range groups {
		r.upsert(now, id, g)
	}
	r.age(now, groups)

	r.reportLocked()
	return r.snapshotLocked(false)
}

func groupFiles(files []FileStat) map[string]*callGroup {
	groups := map[string]*callGroup{}
	for _, f := range files {
		if !IsAudioFile(f.Name) {
			continue
		}
		pn, ok := ParseFilename(f.Name)
		if !ok {
			continue
		}
		id := pn.CallID()
		g, ok := groups[id]
		if !ok {
			g = &callGroup{name: pn, start: pn.StartTime()}
			groups[id] = g
		}
		if g.name.CalledNumber == "" && pn.CalledNumber != "" {
			g.name.CalledNumber = pn.CalledNumber
		}
		cf := &ChannelFile{Path: f.Path, Size: f.Size, ModTime: f.ModTime}
		switch pn.Channel {
		case ChannelClient:
			g.client = cf
		case ChannelAgent:
			g.agent = cf
		}
		if f.ModTime.After(g.lastMod) {
			g.lastMod = f.ModTime
		}
	}
	return groups
}

func (r *Registry) upsert(now time.Time, id string, g *callGroup) {
	if _, gone := r.evicted[id]; gone {
		return
	}
	isActive := now.Sub(g.lastMod) <= r.opts.ActiveThreshold

	rec, ok := r.calls[id]
	if !ok {
		// Leftovers from long-finished calls (e.g. at startup) are never surfaced.
		if !isActive && now.Sub(g.lastMod) > r.opts.ActiveThreshold+r.opts.CleanupGrace {
			r.evicted[id] = struct{}{}
			return
		}
		rec = &CallRecord{
			CallID:       id,
			CallerNumber: g.name.CallerNumber,
			StartTime:    g.start,
			Status:       CallStatusActive,
		}
		if rec.StartTime.IsZero() {
			rec.StartTime = g.lastMod
		}
		r.calls[id] = rec
		r.log.Info("call discovered", "call_id", id, "active", isActive)
	}

	if !g.start.IsZero() && g.start.Before(rec.StartTime) {
		rec.StartTime = g.start
	}
	if g.lastMod.After(rec.LastActivity) {
		rec.LastActivity = g.lastMod
	}
	if rec.CalledNumber == "" {
		rec.CalledNumber = g.name.CalledNumber
	}
	if g.client != nil {
		rec.ClientFile = g.client
	}
	if g.agent != nil {
		rec.AgentFile = g.agent
	}

	if rec.Status == CallStatusActive && !isActive {
		rec.Status = CallStatusCompleted
		rec.CompletedAt = now
		r.log.Info("call completed", "call_id", id, "last_activity", rec.LastActivity)
	}
}

// age completes records whose files were not listed and evicts records past the grace period.
// seen is nil when the listing failed, in which case evicted ids are kept as they are.
func (r *Registry) age(now time.Time, seen map[string]*callGroup) {
	for id, rec := range r.calls {
		if _, listed := seen[id]; !listed && rec.Status == CallStatusActive &&
			now.Sub(rec.LastActivity) > r.opts.ActiveThreshold {
			rec.Status = CallStatusCompleted
			rec.CompletedAt = now
			r.log.Info("call completed", "call_id", id, "last_activity", rec.LastActivity)
		}
		if rec.Status == CallStatusCompleted && now.Sub(rec.CompletedAt) >= r.opts.CleanupGrace {
			delete(r.calls, id)
			r.evicted[id] = struct{}{}
			r.log.Debug("call evicted", "call_id", id)
		}
	}
	if seen == nil {
		return
	}
	for id := range r.evicted {
		if _, listed := seen[id]; !listed {
			delete(r.evicted, id)
		}
	}
}

func (r *Registry) reportLocked() {
	var active, completed int
	for _, rec := range r.calls {
		if rec.Status == CallStatusActive {
			active++
		} else {
			completed++
		}
	}
	metrics.RegistryCalls.WithLabelValues(string(CallStatusActive)).Set(float64(active))
	metrics.RegistryCalls.WithLabelValues(string(CallStatusCompleted)).Set(float64(completed))
}

// snapshotLocked returns copies sorted newest call first.
func (r *Registry) snapshotLocked(activeOnly bool) []CallRecord {
	out := make([]CallRecord, 0, len(r.calls))
	for _, rec := range r.calls {
		if activeOnly && rec.Status != CallStatusActive {
			continue
		}
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].CallID > out[j].CallID
		}
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

// Get returns a copy of one call record.
func (r *Registry) Get(callID string) (CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.calls[callID]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return rec.clone(), nil
}

func (r *Registry) ListActive() []CallRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(true)
}

func (r *Registry) ListAll() []CallRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(false)
}

// LastScan reports when Scan last ran (zero before the first scan).
func (r *Registry) LastScan() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastScan
}

// Run scans once immediately and then on a fixed schedule until ctx is done.
// Overlapping runs are skipped rather than queued. The schedule has one-second
// granularity; sub-second intervals are rounded up.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("calls: scan interval must be > 0")
	}
	sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := sched.AddFunc(fmt.Sprintf("@every %s", interval), func() { r.Scan(ctx) }); err != nil {
		return fmt.Errorf("calls: schedule scan: %w", err)
	}

	r.Scan(ctx)
	sched.Start()
	r.log.Info("registry scanning", "interval", interval.String())

	<-ctx.Done()
	<-sched.Stop().Done()
	return nil
}
