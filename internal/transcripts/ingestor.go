package transcripts

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"call-monitor/internal/metrics"
	"call-monitor/pkg/logger"

	"github.com/google/uuid"
)

// LeaderCheck reports whether this instance may write transcripts right now.
type LeaderCheck interface {
	IsLeader() bool
}

// Publisher pushes an event to the per-call topic and the global topic.
type Publisher interface {
	Publish(callID string, event any)
}

// AuditTrail records persistence outcomes. Failures to audit are logged only.
type AuditTrail interface {
	Persisted(ctx context.Context, callID, dedupKey, recordID, status string) error
	PersistFailed(ctx context.Context, callID, dedupKey, status string, cause error) error
}

// Retrier schedules an idempotent re-insert of a record whose first write failed.
type Retrier interface {
	Enqueue(ctx context.Context, rec Record) error
}

type Outcome string

const (
	OutcomePublished     Outcome = "published"
	OutcomePersisted     Outcome = "persisted"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeNotLeader     Outcome = "not_leader"
	OutcomePersistFailed Outcome = "persist_failed"
	OutcomeInvalid       Outcome = "invalid"
)

type IngestorOptions struct {
	Leader LeaderCheck
	Dedup  *Deduper
	Repo   Repository
	Audit  AuditTrail
	Fanout Publisher
	// Retry is optional. Without it a failed write is only audited and logged.
	Retry Retrier

	Logger *slog.Logger
	Clock  func() time.Time
}

// Ingestor turns the at-least-once transcript feed into effectively-once storage writes.
//
// Events are handled one at a time in feed order, which keeps per-call delivery
// order intact for subscribers.
type Ingestor struct {
	opts IngestorOptions
	log  *slog.Logger
}

func NewIngestor(opts IngestorOptions) (*Ingestor, error) {
	if opts.Leader == nil || opts.Dedup == nil || opts.Repo == nil || opts.Fanout == nil {
		return nil, errors.New("transcripts: leader, dedup, repo and fanout are required")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Ingestor{opts: opts, log: logger.Component(opts.Logger, "transcript_ingestor")}, nil
}

// Run consumes feed until ctx ends or the feed closes.
func (i *Ingestor) Run(ctx context.Context, feed Feed) error {
	msgs, err := feed.Messages(ctx)
	if err != nil {
		return err
	}
	i.log.Info("transcript ingestion started")
	for raw := range msgs {
		i.Handle(ctx, raw)
	}
	return ctx.Err()
}

// Handle processes one raw feed message.
func (i *Ingestor) Handle(ctx context.Context, raw []byte) Outcome {
	ev, err := ParseEvent(raw)
	if err != nil {
		metrics.TranscriptEvents.WithLabelValues("unknown", string(OutcomeInvalid)).Inc()
		i.log.Warn("dropping invalid transcript event", "err", err)
		return OutcomeInvalid
	}
	return i.HandleEvent(ctx, ev)
}

func (i *Ingestor) HandleEvent(ctx context.Context, ev Event) Outcome {
	out := i.handle(ctx, ev)
	metrics.TranscriptEvents.WithLabelValues(string(ev.Status), string(out)).Inc()
	return out
}

func (i *Ingestor) handle(ctx context.Context, ev Event) Outcome {
	if err := ev.Validate(); err != nil {
		return OutcomeInvalid
	}

	// Interim hints are informational; any instance may forward them.
	if !ev.Status.Gated() {
		i.opts.Fanout.Publish(ev.CallID, ev)
		return OutcomePublished
	}

	if !i.opts.Leader.IsLeader() {
		return OutcomeNotLeader
	}

	key := ev.DedupKey()
	if !i.opts.Dedup.Claim(ctx, key) {
		return OutcomeDuplicate
	}

	rec := Record{
		ID:        uuid.NewString(),
		DedupKey:  key,
		Event:     ev,
		CreatedAt: i.opts.Clock().UTC(),
	}
	log := i.log.With("call_id", ev.CallID, "dedup_key", key, "status", string(ev.Status))

	inserted, err := i.opts.Repo.Insert(ctx, rec)
	if err != nil {
		log.Error("persist transcript failed", "err", err)
		i.audit(log, func() error {
			return i.opts.Audit.PersistFailed(ctx, ev.CallID, key, string(ev.Status), err)
		})
		if i.opts.Retry != nil {
			if rerr := i.opts.Retry.Enqueue(ctx, rec); rerr != nil {
				log.Error("schedule persist retry failed", "err", rerr)
			} else {
				log.Info("persist retry scheduled")
			}
		}
		return OutcomePersistFailed
	}
	if !inserted {
		// Another instance stored it first (e.g. during a lease handover).
		return OutcomeDuplicate
	}

	i.audit(log, func() error {
		return i.opts.Audit.Persisted(ctx, ev.CallID, key, rec.ID, string(ev.Status))
	})
	i.opts.Fanout.Publish(ev.CallID, ev)
	log.Debug("transcript persisted", "record_id", rec.ID)
	return OutcomePersisted
}

func (i *Ingestor) audit(log *slog.Logger, write func() error) {
	if i.opts.Audit == nil {
		return
	}
	if err := write(); err != nil {
		log.Warn("audit append failed", "err", err)
	}
}
