package transcripts

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory Repository used in tests and when no database is configured.
type MemoryRepo struct {
	mu      sync.Mutex
	byKey   map[string]struct{}
	records []Record

	failWith error
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byKey: map[string]struct{}{}}
}

func (r *MemoryRepo) Insert(_ context.Context, rec Record) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return false, r.failWith
	}
	if _, ok := r.byKey[rec.DedupKey]; ok {
		return false, nil
	}
	r.byKey[rec.DedupKey] = struct{}{}
	r.records = append(r.records, rec)
	return true, nil
}

// SetFailure makes Insert fail with err until cleared with nil.
func (r *MemoryRepo) SetFailure(err error) {
	r.mu.Lock()
	r.failWith = err
	r.mu.Unlock()
}

func (r *MemoryRepo) ListByCall(_ context.Context, callID string, limit int) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.records {
		if rec.Event.CallID == callID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Event.TsMs < out[j].Event.TsMs })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Records returns every stored record in insertion order.
func (r *MemoryRepo) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}
