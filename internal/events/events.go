// Package events carries server-to-device notifications: each device holds
// one bounded, ordered channel that its agent drains over an SSE stream.
package events

import (
	"errors"
	"sync"
	"time"
)

// Type discriminates the frames a device can receive.
type Type string

const (
	TypeConnected  Type = "connected"  // stream opened
	TypeRegistered Type = "registered" // one-time notice after registration
	TypeExec       Type = "exec"       // a compiled prompt to execute
	TypeCancel     Type = "cancel"     // stop a queued or running generation
	TypeHeartbeat  Type = "heartbeat"  // synthesized when the channel is idle
)

// Event is one frame on a device's channel.
type Event struct {
	Type    Type        `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

var (
	ErrNotConnected = errors.New("device has no open event stream")
	ErrChannelFull  = errors.New("device event channel is full")
)

// Hub owns the per-device channels.  One subscriber per device: a new stream
// for the same device replaces the previous one, which observes its channel
// closing.
type Hub struct {
	buffer    int
	heartbeat time.Duration

	mu                sync.Mutex
	channels          map[string]chan Event
	pendingRegistered map[string]bool
}

// NewHub creates a hub with the given per-device buffer and heartbeat
// interval for idle streams.
func NewHub(buffer int, heartbeat time.Duration) *Hub {
	return &Hub{
		buffer:            buffer,
		heartbeat:         heartbeat,
		channels:          make(map[string]chan Event),
		pendingRegistered: make(map[string]bool),
	}
}

// MarkRegistered queues the one-time registered notice for a device.  It is
// delivered as the first frame of the device's next stream.
func (h *Hub) MarkRegistered(deviceID string) {
	h.mu.Lock()
	h.pendingRegistered[deviceID] = true
	h.mu.Unlock()
}

// Subscribe opens the device's event channel.  The returned cancel func must
// be called when the stream ends; it is a no-op if another stream has already
// replaced this one.
func (h *Hub) Subscribe(deviceID string) (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	if old, ok := h.channels[deviceID]; ok {
		close(old)
	}
	h.channels[deviceID] = ch

	if h.pendingRegistered[deviceID] {
		delete(h.pendingRegistered, deviceID)
		ch <- Event{Type: TypeRegistered}
	}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if h.channels[deviceID] == ch {
			delete(h.channels, deviceID)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Connected reports whether a device currently holds an open stream.
func (h *Hub) Connected(deviceID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.channels[deviceID]
	return ok
}

// Publish enqueues an event for a device, preserving per-device order.  A
// full channel is an error, not a blocking wait: the caller decides whether
// to fail the operation or pick another device.
func (h *Hub) Publish(deviceID string, ev Event) error {
	// the send happens under the lock so a concurrent Subscribe cannot
	// close the channel out from under it; the channel is buffered, so
	// this never blocks
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[deviceID]
	if !ok {
		return ErrNotConnected
	}

	select {
	case ch <- ev:
		return nil
	default:
		return ErrChannelFull
	}
}
