package transcripts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"call-monitor/pkg/logger"

	"github.com/hibiken/asynq"
)

// TaskPersist re-inserts a record whose first write failed.
const TaskPersist = "transcript:persist"

const retryMaxAttempts = 5

// AsynqRetrier enqueues persist retries. The task id is the dedup key, so a
// record is queued at most once no matter how often its write fails.
type AsynqRetrier struct {
	client *asynq.Client
}

func NewAsynqRetrier(client *asynq.Client) *AsynqRetrier {
	return &AsynqRetrier{client: client}
}

func (r *AsynqRetrier) Enqueue(ctx context.Context, rec Record) error {
	task, err := newPersistTask(rec)
	if err != nil {
		return err
	}
	_, err = r.client.EnqueueContext(ctx, task, asynq.TaskID(rec.DedupKey), asynq.MaxRetry(retryMaxAttempts))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue persist retry: %w", err)
	}
	return nil
}

func newPersistTask(rec Record) (*asynq.Task, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(TaskPersist, data), nil
}

// RetryAudit records outcomes of the retry worker.
type RetryAudit interface {
	RetryPersisted(ctx context.Context, callID, dedupKey, recordID, status string) error
}

// RetryProcessor is the asynq side of persist retries.
type RetryProcessor struct {
	repo   Repository
	audit  RetryAudit
	fanout Publisher
	log    *slog.Logger
}

func NewRetryProcessor(repo Repository, audit RetryAudit, fanout Publisher, log *slog.Logger) *RetryProcessor {
	return &RetryProcessor{repo: repo, audit: audit, fanout: fanout, log: logger.Component(log, "persist_retry")}
}

// Handler registers the persist job handler.
func (p *RetryProcessor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskPersist, p.handlePersist)
	return mux
}

func (p *RetryProcessor) handlePersist(ctx context.Context, task *asynq.Task) error {
	var rec Record
	if err := json.Unmarshal(task.Payload(), &rec); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	log := p.log.With("call_id", rec.Event.CallID, "dedup_key", rec.DedupKey)

	inserted, err := p.repo.Insert(ctx, rec)
	if err != nil {
		log.Warn("persist retry failed", "err", err)
		return err
	}
	if !inserted {
		log.Debug("persist retry found record already stored")
		return nil
	}

	if p.audit != nil {
		if err := p.audit.RetryPersisted(ctx, rec.Event.CallID, rec.DedupKey, rec.ID, string(rec.Event.Status)); err != nil {
			log.Warn("audit append failed", "err", err)
		}
	}
	p.fanout.Publish(rec.Event.CallID, rec.Event)
	log.Info("transcript persisted on retry", "record_id", rec.ID)
	return nil
}
