package evaluation

import (
	"sync"
	"time"

	"github.com/Lllllllleong/answerevaluator/internal/models"
)

// EventType classifies messages published by the store and the document registry.
type EventType string

const (
	EventTypeItem     EventType = "item"
	EventTypeReset    EventType = "reset"
	EventTypeDocument EventType = "document"
)

// Event is a sequenced payload consumed by presentation subscribers.
type Event struct {
	Seq            int64                   `json:"seq"`
	Timestamp      time.Time               `json:"timestamp"`
	Type           EventType               `json:"type"`
	ItemID         string                  `json:"itemId,omitempty"`
	ItemStatus     models.GenerationStatus `json:"itemStatus,omitempty"`
	ItemCount      int                     `json:"itemCount,omitempty"`
	DocumentKind   models.DocumentKind     `json:"documentKind,omitempty"`
	DocumentStatus models.DocumentStatus   `json:"documentStatus,omitempty"`
	Message        string                  `json:"message,omitempty"`
}

// EventBus stores recent events and provides incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 1000
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	if b == nil {
		return event
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// LastSeq returns the sequence number of the most recent event.
func (b *EventBus) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}
