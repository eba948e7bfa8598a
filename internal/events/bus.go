/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventSlotCreated       EventType = "slot.created"
	EventBidPlaced         EventType = "bid.placed"
	EventAuctionFinalized  EventType = "auction.finalized"
	EventInstructionsSet   EventType = "instructions.set"
	EventControllerChanged EventType = "controller.changed"
	EventCommandIssued     EventType = "command.issued"
	EventTxFailed          EventType = "tx.failed"
)

// All lists every event type, in a stable order.
var All = []EventType{
	EventSlotCreated,
	EventBidPlaced,
	EventAuctionFinalized,
	EventInstructionsSet,
	EventControllerChanged,
	EventCommandIssued,
	EventTxFailed,
}

// Payload generic event payload.
type Payload map[string]any

// OriginKey is set on payloads relayed from another instance and holds that
// instance's node id.
const OriginKey = "_origin"

// Remote reports whether p was published by another instance.
func (p Payload) Remote() bool {
	_, ok := p[OriginKey]
	return ok
}

// Subscriber receives event payloads.
type Subscriber chan Payload

// Broker is what publishers and subscribers depend on. Bus is the in-process
// implementation; eventbus provides distributed ones.
type Broker interface {
	Publish(eventType EventType, payload Payload)
	Subscribe(eventType EventType) Subscriber
	Unsubscribe(eventType EventType, sub Subscriber)
}

// Bus implements a simple in-process pubsub. Slow subscribers drop events.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

var _ Broker = (*Bus)(nil)

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 16)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	// Sends never block, so holding the read lock keeps Unsubscribe from
	// closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber and closes it. Unknown subscribers are
// ignored.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			b.subs[eventType] = append(subs[:i], subs[i+1:]...)
			close(sub)
			return
		}
	}
}
