package audit

import "time"

// Entry is one append-only record of a transcript persistence attempt.
//
// Invariants:
// - Entries are never updated or deleted.
// - CallID and Outcome are required.
// - Writing an entry is best-effort; ingestion never blocks on audit failures.
type Entry struct {
	ID      string  `json:"id"`
	Outcome Outcome `json:"outcome"`

	CallID   string `json:"call_id"`
	DedupKey string `json:"dedup_key,omitempty"`
	// RecordID is the stored transcript id when the write succeeded.
	RecordID string `json:"record_id,omitempty"`
	Status   string `json:"status,omitempty"`
	Instance string `json:"instance,omitempty"`

	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type Outcome string

const (
	OutcomePersisted      Outcome = "persisted"
	OutcomePersistFailed  Outcome = "persist_failed"
	OutcomeRetryPersisted Outcome = "retry_persisted"
)
