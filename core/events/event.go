package events

import (
	"sync"

	"ghreward/core/types"
)

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Typed is implemented by events that render into the wire representation
// stored in receipts and streamed to subscribers.
type Typed interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Committed tags an event with its position in the ledger. Height and Index
// identify the event uniquely even when two events carry identical data.
type Committed struct {
	Inner  Event
	Height uint64
	Index  int
}

func (c Committed) EventType() string { return c.Inner.EventType() }

// Event renders the wrapped event, or nil when it is not Typed.
func (c Committed) Event() *types.Event {
	typed, ok := c.Inner.(Typed)
	if !ok {
		return nil
	}
	return typed.Event()
}

// Buffer collects events until the surrounding transaction commits.
type Buffer struct {
	events []Event
}

func (b *Buffer) Emit(e Event) {
	if e == nil {
		return
	}
	b.events = append(b.events, e)
}

// Events returns the buffered events in emission order.
func (b *Buffer) Events() []Event {
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Reset drops buffered events.
func (b *Buffer) Reset() {
	b.events = b.events[:0]
}

// Fanout forwards each event to every registered emitter in order.
type Fanout struct {
	mu       sync.RWMutex
	emitters []Emitter
}

func NewFanout(emitters ...Emitter) *Fanout {
	f := &Fanout{}
	for _, e := range emitters {
		f.Add(e)
	}
	return f
}

// Add registers another downstream emitter.
func (f *Fanout) Add(e Emitter) {
	if e == nil {
		return
	}
	f.mu.Lock()
	f.emitters = append(f.emitters, e)
	f.mu.Unlock()
}

func (f *Fanout) Emit(e Event) {
	f.mu.RLock()
	emitters := append([]Emitter(nil), f.emitters...)
	f.mu.RUnlock()
	for _, emitter := range emitters {
		emitter.Emit(e)
	}
}

// Render converts events into their wire representation, skipping events that
// do not implement Typed.
func Render(evts []Event) []types.Event {
	out := make([]types.Event, 0, len(evts))
	for _, e := range evts {
		typed, ok := e.(Typed)
		if !ok {
			continue
		}
		if rendered := typed.Event(); rendered != nil {
			out = append(out, *rendered)
		}
	}
	return out
}
