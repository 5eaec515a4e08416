package transcripts

import (
	"encoding/json"
	"errors"
	"testing"
)

const sampleEvent = `{"callId":"1700000000.5-15551234567","tsMs":1200,"speaker":"agent","lang":"en",
"confidence":0.93,"offsetBytes":19200,"text":"hello there","status":"completed","processingTimeMs":340,
"model":"large-v3","segments":[1,2]}`

func TestParseEvent_KeepsExtraFields(t *testing.T) {
	ev, err := ParseEvent([]byte(sampleEvent))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.CallID != "1700000000.5-15551234567" || ev.Status != StatusCompleted || ev.OffsetBytes != 19200 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if len(ev.Extra) != 2 || string(ev.Extra["model"]) != `"large-v3"` {
		t.Fatalf("expected extras preserved, got %v", ev.Extra)
	}

	out, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["model"] != "large-v3" || m["text"] != "hello there" {
		t.Fatalf("expected extras and known fields on the wire, got %v", m)
	}
}

func TestParseEvent_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `nope`},
		{"missing call", `{"status":"completed"}`},
		{"unknown status", `{"callId":"c1","status":"final"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseEvent([]byte(tt.raw)); !errors.Is(err, ErrInvalidEvent) {
				t.Fatalf("expected ErrInvalidEvent, got %v", err)
			}
		})
	}
}

func TestEvent_DedupKey(t *testing.T) {
	base := Event{CallID: "c1", Speaker: "client", TsMs: 10, OffsetBytes: 3200, ProcessingTimeMs: 5, Text: "hi", Status: StatusPartial}

	same := base
	same.Status = StatusCompleted
	same.Confidence = 0.4
	if base.DedupKey() != same.DedupKey() {
		t.Fatalf("status and confidence must not change the key")
	}
	if len(base.DedupKey()) != 64 {
		t.Fatalf("expected hex sha256, got %q", base.DedupKey())
	}

	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{"call", func(e *Event) { e.CallID = "c2" }},
		{"speaker", func(e *Event) { e.Speaker = "agent" }},
		{"timestamp", func(e *Event) { e.TsMs = 11 }},
		{"offset", func(e *Event) { e.OffsetBytes = 6400 }},
		{"processing time", func(e *Event) { e.ProcessingTimeMs = 6 }},
		{"text", func(e *Event) { e.Text = "hi!" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := base
			tt.mutate(&e)
			if e.DedupKey() == base.DedupKey() {
				t.Fatalf("expected a different key")
			}
		})
	}
}

func TestStatus_Gated(t *testing.T) {
	tests := []struct {
		s    Status
		want bool
	}{
		{StatusTranscribing, false},
		{StatusPartial, true},
		{StatusConsolidated, true},
		{StatusCompleted, true},
		{Status("bogus"), false},
	}
	for _, tt := range tests {
		if got := tt.s.Gated(); got != tt.want {
			t.Fatalf("%s: expected %v, got %v", tt.s, tt.want, got)
		}
	}
}
