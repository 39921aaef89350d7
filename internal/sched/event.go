package sched

import (
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/samcharles93/accelq/internal/accel"
)

// Event is a one-shot completion marker. The zero value is invalid; use
// CreateEvent or an EventPool.
type Event struct {
	token    accel.Event
	stream   *Stream
	recorded bool
}

// CreateEvent returns a valid, unrecorded event.
func CreateEvent(dev accel.Device) (Event, error) {
	tok, err := dev.NewEvent()
	if err != nil {
		return Event{}, errors.Wrap(err, "sched: create event")
	}
	return Event{token: tok}, nil
}

// DestroyEvent releases the backing token. It is safe on events that were
// never recorded and on invalid events.
func DestroyEvent(ev *Event) error {
	if ev.token == nil {
		return nil
	}
	err := ev.token.Destroy()
	*ev = Event{}
	return err
}

func (e *Event) Valid() bool {
	return e.token != nil
}

func (e *Event) Recorded() bool {
	return e.recorded
}

// Stream returns the stream the event was recorded on.
func (e *Event) Stream() *Stream {
	return e.stream
}

// Record places the event behind all work issued to s so far. Recording an
// invalid or already recorded event panics.
func (e *Event) Record(s *Stream) error {
	if !e.Valid() {
		exceptions.Panicf("sched: Record on an invalid event")
	}
	if e.recorded {
		exceptions.Panicf("sched: event already recorded on stream %d", e.stream.ID())
	}
	if err := s.queue.Record(e.token); err != nil {
		return err
	}
	e.stream = s
	e.recorded = true
	return nil
}

// IsFinished polls the event without blocking. It panics before Record.
func (e *Event) IsFinished() (bool, error) {
	if !e.recorded {
		exceptions.Panicf("sched: IsFinished on an unrecorded event")
	}
	return e.token.Query()
}

// Synchronize blocks until the event fires.
func (e *Event) Synchronize() error {
	if !e.recorded {
		exceptions.Panicf("sched: Synchronize on an unrecorded event")
	}
	return e.token.Synchronize()
}

// EventPool recycles event tokens. Returned events become unrecorded.
type EventPool struct {
	dev accel.Device

	mu      sync.Mutex
	free    []accel.Event
	created int
	closed  bool
}

func NewEventPool(dev accel.Device) *EventPool {
	return &EventPool{dev: dev}
}

func (p *EventPool) Get() (Event, error) {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		tok := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return Event{token: tok}, nil
	}
	p.created++
	p.mu.Unlock()
	return CreateEvent(p.dev)
}

// Put returns ev's token to the pool and invalidates ev.
func (p *EventPool) Put(ev *Event) {
	if !ev.Valid() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = DestroyEvent(ev)
		return
	}
	p.free = append(p.free, ev.token)
	*ev = Event{}
}

// Size returns the number of idle tokens and the number ever created.
func (p *EventPool) Size() (idle, created int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free), p.created
}

// Close destroys idle tokens. Tokens returned later are destroyed on Put.
func (p *EventPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	var first error
	for _, tok := range p.free {
		if err := tok.Destroy(); err != nil && first == nil {
			first = err
		}
	}
	p.free = nil
	return first
}
