// Package counters provides the registry of operational counters exposed
// to tooling. The registry is an explicitly passed, lifetime-scoped value
// rather than process-global state, so tests instantiate isolated
// instances. Counters are read-only to observers and polled, never
// pushed.
package counters

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Well-known counter type names.
const (
	TypeSenderLimit      = "sender-limit"
	TypeSenderPosition   = "sender-position"
	TypePublisherLimit   = "publisher-limit"
	TypeReceiverPosition = "receiver-position"
	TypeReceiverHWM      = "receiver-hwm"
	TypeLossBytes        = "loss-bytes"
	TypeNaksSent         = "naks-sent"
	TypeNaksReceived     = "naks-received"
	TypeRetransmits      = "retransmits"
	TypeHeartbeats       = "heartbeats"
)

// Counter is one 64-bit observable value.
type Counter struct {
	id        int32
	typ       string
	label     string
	streamID  int32
	sessionID int32
	value     atomic.Int64
}

func (c *Counter) ID() int32        { return c.id }
func (c *Counter) Type() string     { return c.typ }
func (c *Counter) Label() string    { return c.label }
func (c *Counter) StreamID() int32  { return c.streamID }
func (c *Counter) SessionID() int32 { return c.sessionID }

// Get returns the current value.
func (c *Counter) Get() int64 { return c.value.Load() }

// Set stores an absolute value.
func (c *Counter) Set(v int64) { c.value.Store(v) }

// Add increments the value by delta and returns the result.
func (c *Counter) Add(delta int64) int64 { return c.value.Add(delta) }

// SetMax raises the value to v if v is greater.
func (c *Counter) SetMax(v int64) {
	for {
		cur := c.value.Load()
		if v <= cur || c.value.CompareAndSwap(cur, v) {
			return
		}
	}
}

// Registry holds the counters of one node.
type Registry struct {
	mu       sync.Mutex
	nextID   int32
	counters []*Counter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Allocate creates a counter of the given type. The label names the
// publication, image, or stream the counter belongs to.
func (r *Registry) Allocate(typ, label string, sessionID, streamID int32) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &Counter{id: r.nextID, typ: typ, label: label, sessionID: sessionID, streamID: streamID}
	r.nextID++
	r.counters = append(r.counters, c)
	return c
}

// ForEach visits every counter in allocation order.
func (r *Registry) ForEach(fn func(*Counter)) {
	r.mu.Lock()
	snapshot := make([]*Counter, len(r.counters))
	copy(snapshot, r.counters)
	r.mu.Unlock()
	for _, c := range snapshot {
		fn(c)
	}
}

// Value is a point-in-time reading of one counter.
type Value struct {
	ID        int32  `json:"id"`
	Type      string `json:"type"`
	Label     string `json:"label"`
	SessionID int32  `json:"sessionId"`
	StreamID  int32  `json:"streamId"`
	Value     int64  `json:"value"`
}

// Snapshot reads all counters, sorted by id.
func (r *Registry) Snapshot() []Value {
	var out []Value
	r.ForEach(func(c *Counter) {
		out = append(out, Value{
			ID:        c.id,
			Type:      c.typ,
			Label:     c.label,
			SessionID: c.sessionID,
			StreamID:  c.streamID,
			Value:     c.Get(),
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
