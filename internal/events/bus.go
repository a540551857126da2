// Package events provides a lightweight in-process pub/sub bus. The loop,
// coordinator, and proposal service publish to it; the websocket endpoint
// and the MQTT notifier subscribe. A nil *Bus is valid and drops
// everything, so producers never need a nil check.
package events

import (
	"sync"
	"time"
)

// Event sources.
const (
	SourceLoop     = "loop"
	SourceTools    = "tools"
	SourceProposal = "proposal"
)

// Event is a single occurrence on the bus.
type Event struct {
	Time   time.Time      `json:"time"`
	Source string         `json:"source"`
	Type   string         `json:"type"`
	Data   map[string]any `json:"data,omitempty"`
}

// Bus fans events out to subscribers. Publishing never blocks: slow
// subscribers drop events rather than stalling the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Publish delivers the event to all subscribers. Safe on a nil bus.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a subscriber with the given channel buffer and
// returns the channel plus a cancel function. Cancel closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}
