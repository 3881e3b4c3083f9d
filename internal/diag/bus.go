// Package diag provides a bounded in-process diagnostic event bus.
// Pipeline components emit typed events at defined checkpoints; the UI
// layer (or the `inkwell events` command) subscribes or snapshots them.
package diag

import (
	"sync"
	"time"

	"inkwell/internal/logging"
)

// Event kinds emitted at pipeline checkpoints.
const (
	EventSectionizeDone = "sectionize.done"
	EventCriticSweep    = "critic.sweep"
	EventCriticDone     = "critic.done"
	EventLLMRequest     = "llm.request"
	EventLLMResponse    = "llm.response"
	EventExtractStart   = "kg.extract.start"
	EventMergeDone      = "kg.merge.done"
)

// Event is one diagnostic checkpoint record.
type Event struct {
	Timestamp int64                  `json:"ts"` // Unix milliseconds
	Kind      string                 `json:"kind"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Bus buffers recent events and fans them out to subscribers.
// Emission never blocks and never fails; a slow subscriber only loses
// its own deliveries.
type Bus struct {
	mu      sync.RWMutex
	buffer  []Event
	max     int
	nextID  int
	subs    map[int]func(Event)
}

const defaultBufferSize = 500

// NewBus creates a bus holding up to max recent events.
func NewBus(max int) *Bus {
	if max <= 0 {
		max = defaultBufferSize
	}
	return &Bus{
		max:  max,
		subs: make(map[int]func(Event)),
	}
}

// Emit records an event and notifies subscribers.
func (b *Bus) Emit(kind string, fields map[string]interface{}) {
	e := Event{
		Timestamp: time.Now().UnixMilli(),
		Kind:      kind,
		Fields:    fields,
	}

	b.mu.Lock()
	b.buffer = append(b.buffer, e)
	if len(b.buffer) > b.max {
		b.buffer = b.buffer[len(b.buffer)-b.max:]
	}
	subs := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	logging.Get(logging.CategoryEvents).Debug("event %s fields=%v", kind, fields)

	for _, fn := range subs {
		fn(e)
	}
}

// Subscribe registers a listener for future events.
// The returned func removes the subscription.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Snapshot returns a copy of the buffered events, oldest first.
func (b *Bus) Snapshot() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.buffer))
	copy(out, b.buffer)
	return out
}

// Nop returns a bus that buffers nothing, for components constructed
// without observability wired in.
func Nop() *Bus {
	return NewBus(1)
}
