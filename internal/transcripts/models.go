package transcripts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var ErrInvalidEvent = errors.New("transcripts: invalid event")

type Status string

const (
	// StatusTranscribing is an interim "someone is speaking" hint. It is never persisted.
	StatusTranscribing Status = "transcribing"
	StatusPartial      Status = "partial"
	StatusConsolidated Status = "consolidated"
	StatusCompleted    Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusTranscribing, StatusPartial, StatusConsolidated, StatusCompleted:
		return true
	default:
		return false
	}
}

// Gated statuses go through leadership, dedup and persistence.
func (s Status) Gated() bool { return s.Valid() && s != StatusTranscribing }

// Event is one message from the transcription worker.
//
// Unknown JSON fields are kept in Extra and written back out on marshal,
// so subscribers see exactly what the worker sent.
type Event struct {
	CallID           string  `json:"callId"`
	TsMs             int64   `json:"tsMs"`
	Speaker          string  `json:"speaker"`
	Lang             string  `json:"lang"`
	Confidence       float64 `json:"confidence"`
	OffsetBytes      int64   `json:"offsetBytes"`
	Text             string  `json:"text"`
	Status           Status  `json:"status"`
	ProcessingTimeMs int64   `json:"processingTimeMs"`

	Extra map[string]json.RawMessage `json:"-"`
}

var knownFields = map[string]struct{}{
	"callId": {}, "tsMs": {}, "speaker": {}, "lang": {}, "confidence": {},
	"offsetBytes": {}, "text": {}, "status": {}, "processingTimeMs": {},
}

// eventFields has Event's fields without its methods.
type eventFields Event

func (e *Event) UnmarshalJSON(b []byte) error {
	var f eventFields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	f.Extra = nil
	for k, v := range all {
		if _, known := knownFields[k]; known {
			continue
		}
		if f.Extra == nil {
			f.Extra = map[string]json.RawMessage{}
		}
		f.Extra[k] = v
	}
	*e = Event(f)
	return nil
}

func (e Event) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(eventFields(e))
	if err != nil || len(e.Extra) == 0 {
		return base, err
	}
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range e.Extra {
		if _, known := knownFields[k]; !known {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// ParseEvent decodes and validates one feed message.
func ParseEvent(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

func (e Event) Validate() error {
	if e.CallID == "" {
		return fmt.Errorf("%w: callId is required", ErrInvalidEvent)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidEvent, e.Status)
	}
	return nil
}

// DedupKey identifies the logical event. Redeliveries of the same event hash
// to the same key; any change in the identifying fields gives a new key.
func (e Event) DedupKey() string {
	h := sha256.New()
	for i, part := range []string{
		e.CallID,
		e.Speaker,
		strconv.FormatInt(e.TsMs, 10),
		strconv.FormatInt(e.OffsetBytes, 10),
		strconv.FormatInt(e.ProcessingTimeMs, 10),
		e.Text,
	} {
		if i > 0 {
			h.Write([]byte{'|'})
		}
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Record is a persisted transcript row.
type Record struct {
	ID        string    `json:"id"`
	DedupKey  string    `json:"dedupKey"`
	Event     Event     `json:"event"`
	CreatedAt time.Time `json:"createdAt"`
}
