package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit entries.
// It is append-only: there is no Update or Delete.
type Repository interface {
	Append(ctx context.Context, e Entry) error
}

// Service records persistence outcomes. Callers treat it as best-effort.
type Service struct {
	repo     Repository
	instance string
	clock    func() time.Time
}

func NewService(repo Repository, instance string) *Service {
	return &Service{repo: repo, instance: instance, clock: time.Now}
}

var ErrInvalidEntry = errors.New("audit: invalid entry")

func (s *Service) Append(ctx context.Context, e Entry) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.CallID == "" || e.Outcome == "" {
		return ErrInvalidEntry
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if e.Instance == "" {
		e.Instance = s.instance
	}
	return s.repo.Append(ctx, e)
}

// Persisted records a successful first write of a transcript.
func (s *Service) Persisted(ctx context.Context, callID, dedupKey, recordID, status string) error {
	return s.Append(ctx, Entry{
		Outcome:  OutcomePersisted,
		CallID:   callID,
		DedupKey: dedupKey,
		RecordID: recordID,
		Status:   status,
	})
}

// PersistFailed records a write that did not reach durable storage.
func (s *Service) PersistFailed(ctx context.Context, callID, dedupKey, status string, cause error) error {
	e := Entry{
		Outcome:  OutcomePersistFailed,
		CallID:   callID,
		DedupKey: dedupKey,
		Status:   status,
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	return s.Append(ctx, e)
}

// RetryPersisted records a write completed by the retry worker.
func (s *Service) RetryPersisted(ctx context.Context, callID, dedupKey, recordID, status string) error {
	return s.Append(ctx, Entry{
		Outcome:  OutcomeRetryPersisted,
		CallID:   callID,
		DedupKey: dedupKey,
		RecordID: recordID,
		Status:   status,
	})
}
