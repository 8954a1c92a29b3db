/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventClipReady      EventType = "clip.ready"
	EventClipFailed     EventType = "clip.failed"
	EventFolderRollover EventType = "folder.rollover"
	EventSegmentSkipped EventType = "segment.skipped"
	EventPacingDrift    EventType = "pacing.drift"
	EventStreamEnd      EventType = "stream.end"
)

// AllEventTypes lists every event the scheduler emits.
var AllEventTypes = []EventType{
	EventClipReady,
	EventClipFailed,
	EventFolderRollover,
	EventSegmentSkipped,
	EventPacingDrift,
	EventStreamEnd,
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Publisher is anything events can be sent to.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
}

// Bus implements a simple in-process pubsub. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 32)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber and closes its channel. Publish holds
// the read lock while sending, so a closed channel is never written to.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}

// Fanout publishes to several publishers in order.
type Fanout []Publisher

// Publish sends payload to every publisher.
func (f Fanout) Publish(eventType EventType, payload Payload) {
	for _, p := range f {
		if p != nil {
			p.Publish(eventType, payload)
		}
	}
}
