// Package fanout delivers transcript events to connected subscribers,
// scoped per call and globally.
package fanout

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"call-monitor/internal/metrics"
	"call-monitor/pkg/logger"
)

const GlobalTopic = "global"

func CallTopic(callID string) string { return "call:" + callID }

var ErrUnknownSubscriber = errors.New("fanout: unknown subscriber")

// Subscriber receives encoded envelopes. Send must not block: it returns
// false when the message could not be queued.
type Subscriber interface {
	ID() string
	Send(msg []byte) bool
}

// Envelope is the wire shape pushed to subscribers.
type Envelope struct {
	Topic string `json:"topic"`
	Event any    `json:"event"`
}

// Hub owns subscriber membership. Every registered subscriber is in the global
// set; call sets are joined and left explicitly.
type Hub struct {
	log *slog.Logger

	mu     sync.RWMutex
	subs   map[string]Subscriber
	byCall map[string]map[string]Subscriber
	// callsOf is the reverse index used to clean up on Remove.
	callsOf map[string]map[string]struct{}
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:     logger.Component(log, "fanout"),
		subs:    map[string]Subscriber{},
		byCall:  map[string]map[string]Subscriber{},
		callsOf: map[string]map[string]struct{}{},
	}
}

// Register adds s to the global set.
func (h *Hub) Register(s Subscriber) {
	h.mu.Lock()
	h.subs[s.ID()] = s
	n := len(h.subs)
	h.mu.Unlock()
	metrics.FanoutSubscribers.Set(float64(n))
}

// Remove drops s from every set. Removing an unknown id is a no-op.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	if _, ok := h.subs[id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, id)
	for callID := range h.callsOf[id] {
		h.leave(callID, id)
	}
	delete(h.callsOf, id)
	n := len(h.subs)
	h.mu.Unlock()
	metrics.FanoutSubscribers.Set(float64(n))
}

// Subscribe adds a registered subscriber to the call's set.
func (h *Hub) Subscribe(callID, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.subs[id]
	if !ok {
		return ErrUnknownSubscriber
	}
	members := h.byCall[callID]
	if members == nil {
		members = map[string]Subscriber{}
		h.byCall[callID] = members
	}
	members[id] = s

	calls := h.callsOf[id]
	if calls == nil {
		calls = map[string]struct{}{}
		h.callsOf[id] = calls
	}
	calls[callID] = struct{}{}
	return nil
}

// Unsubscribe removes id from the call's set. It is idempotent.
func (h *Hub) Unsubscribe(callID, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leave(callID, id)
	delete(h.callsOf[id], callID)
}

// leave expects h.mu held.
func (h *Hub) leave(callID, id string) {
	members := h.byCall[callID]
	delete(members, id)
	if len(members) == 0 {
		delete(h.byCall, callID)
	}
}

// Publish sends event to the call's current members and to every subscriber
// on the global topic. Slow subscribers lose the message; nobody waits on them.
func (h *Hub) Publish(callID string, event any) {
	scoped, err := json.Marshal(Envelope{Topic: CallTopic(callID), Event: event})
	if err != nil {
		h.log.Error("encode event failed", "call_id", callID, "err", err)
		return
	}
	global, err := json.Marshal(Envelope{Topic: GlobalTopic, Event: event})
	if err != nil {
		h.log.Error("encode event failed", "call_id", callID, "err", err)
		return
	}

	h.mu.RLock()
	members := make([]Subscriber, 0, len(h.byCall[callID]))
	for _, s := range h.byCall[callID] {
		members = append(members, s)
	}
	everyone := make([]Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		everyone = append(everyone, s)
	}
	h.mu.RUnlock()

	for _, s := range members {
		h.send(s, scoped)
	}
	for _, s := range everyone {
		h.send(s, global)
	}
}

func (h *Hub) send(s Subscriber, msg []byte) {
	if !s.Send(msg) {
		metrics.FanoutDropped.Inc()
		h.log.Debug("subscriber queue full, message dropped", "subscriber_id", s.ID())
	}
}

// Subscribers is the size of the global set.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Members is the number of subscribers currently joined to callID.
func (h *Hub) Members(callID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byCall[callID])
}
