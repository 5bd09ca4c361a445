package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds emitted by the pipeline.
const (
	EventGenerationCompleted = "generation.completed"
	EventGenerationFailed    = "generation.failed"
)

// Event is one pipeline notification.
type Event struct {
	Kind         string
	GenerationID uuid.UUID
	PersonID     uuid.UUID
	Message      string
	At           time.Time
}

// Sink receives events. Delivery is best-effort; a sink must not block for
// long or events behind it get dropped.
type Sink interface {
	Deliver(ev Event)
}

// LogSink writes events to the structured log.
type LogSink struct {
	Log *slog.Logger
}

func (s *LogSink) Deliver(ev Event) {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("pipeline event",
		"kind", ev.Kind, "generation_id", ev.GenerationID, "person_id", ev.PersonID, "message", ev.Message)
}

// Dispatcher fans events out to sinks from a single background goroutine.
// Dispatch never blocks the caller: when the buffer is full the event is
// dropped and counted. Generation state lives in the database; notifications
// are advisory.
type Dispatcher struct {
	events  chan Event
	sinks   []Sink
	log     *slog.Logger
	dropped int64

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

func NewDispatcher(buffer int, log *slog.Logger, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		events: make(chan Event, buffer),
		sinks:  sinks,
		log:    log,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Dispatch queues the event for delivery, dropping it when the buffer is full.
func (d *Dispatcher) Dispatch(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.events <- ev:
	default:
		d.dropped++
		d.log.Warn("notification buffer full, event dropped",
			"kind", ev.Kind, "generation_id", ev.GenerationID, "dropped_total", d.dropped)
	}
}

// Close drains queued events and stops the delivery goroutine.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.events)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.events {
		for _, sink := range d.sinks {
			sink.Deliver(ev)
		}
	}
}
