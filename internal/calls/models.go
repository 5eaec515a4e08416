package calls

import (
	"errors"
	"time"
)

// CallRecord is one recorded phone call as observed in the watch directory.
//
// Invariants:
// - CallID is immutable once assigned (timestamp + caller number from the file name).
// - Status only moves forward: active -> completed.
// - An evicted CallID never comes back while its files remain in the directory.
type CallRecord struct {
	CallID       string `json:"callId"`
	CallerNumber string `json:"callerNumber"`
	CalledNumber string `json:"calledNumber,omitempty"`

	StartTime    time.Time  `json:"startTime"`
	LastActivity time.Time  `json:"lastActivity"`
	Status       CallStatus `json:"status"`

	// CompletedAt is the scan time that flipped the record to completed.
	// Eviction grace counts from here.
	CompletedAt time.Time `json:"completedAt,omitempty"`

	ClientFile *ChannelFile `json:"clientFile,omitempty"`
	AgentFile  *ChannelFile `json:"agentFile,omitempty"`
}

type CallStatus string

const (
	CallStatusActive    CallStatus = "active"
	CallStatusCompleted CallStatus = "completed"
)

// Channel selects one side of a recording, or both mixed together.
type Channel string

const (
	// ChannelClient is the client-facing leg, recorded to the "-in" file.
	ChannelClient Channel = "in"
	// ChannelAgent is the agent-facing leg, recorded to the "-out" file.
	ChannelAgent Channel = "out"
	// ChannelMixed combines both legs.
	ChannelMixed Channel = "mixed"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelClient, ChannelAgent, ChannelMixed:
		return true
	default:
		return false
	}
}

// ChannelFile is the last observed stat of one channel's recording.
// Size is non-decreasing while the call is active.
type ChannelFile struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
}

var ErrNotFound = errors.New("calls: not found")

// File returns the file backing a single channel, or nil if not seen yet.
func (r CallRecord) File(ch Channel) *ChannelFile {
	switch ch {
	case ChannelClient:
		return r.ClientFile
	case ChannelAgent:
		return r.AgentFile
	default:
		return nil
	}
}

func (r CallRecord) IsActive() bool { return r.Status == CallStatusActive }

// clone copies the record so callers never share the registry's channel file pointers.
func (r *CallRecord) clone() CallRecord {
	out := *r
	if r.ClientFile != nil {
		f := *r.ClientFile
		out.ClientFile = &f
	}
	if r.AgentFile != nil {
		f := *r.AgentFile
		out.AgentFile = &f
	}
	return out
}
