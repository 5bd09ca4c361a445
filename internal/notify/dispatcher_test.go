package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	gate   chan struct{}
}

func (s *recordingSink) Deliver(ev Event) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatchDeliversToAllSinks(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	d := NewDispatcher(8, nil, a, b)

	d.Dispatch(Event{Kind: EventGenerationCompleted, GenerationID: uuid.New()})
	d.Close()

	if a.count() != 1 || b.count() != 1 {
		t.Errorf("delivery counts: a=%d b=%d, want 1 each", a.count(), b.count())
	}
}

func TestDispatchNeverBlocksWhenBufferFull(t *testing.T) {
	gate := make(chan struct{})
	sink := &recordingSink{gate: gate}
	d := NewDispatcher(1, nil, sink)

	// With the sink stalled, flooding the dispatcher must return promptly.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			d.Dispatch(Event{Kind: EventGenerationFailed, GenerationID: uuid.New()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch blocked on a full buffer")
	}

	close(gate)
	d.Close()
	if sink.count() == 0 {
		t.Error("no events delivered at all")
	}
}

func TestDispatchAfterCloseIsNoop(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(8, nil, sink)
	d.Close()

	// Must not panic on the closed channel.
	d.Dispatch(Event{Kind: EventGenerationCompleted, GenerationID: uuid.New()})
	if sink.count() != 0 {
		t.Errorf("events after close: %d", sink.count())
	}
}
