package orchestrator

import (
	"context"
	"sync"

	"github.com/hochfrequenz/gba/internal/domain"
)

// EventBuffer is the capacity of a run's event channel. A consumer that
// falls this far behind blocks the pipeline.
const EventBuffer = 64

// Stream delivers the events of one run in pipeline order. The channel
// returned by Events is closed when the run's worker exits.
type Stream struct {
	events    chan domain.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newStream() *Stream {
	return &Stream{
		events: make(chan domain.Event, EventBuffer),
		done:   make(chan struct{}),
	}
}

// Events returns the receive side of the stream
func (s *Stream) Events() <-chan domain.Event {
	return s.events
}

// Close tells the worker that nobody is listening anymore. The worker stops
// at its next emit; a collaborator or check already running is not
// interrupted. Cancel the context given to Run to kill those as well.
// Close is idempotent.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// send delivers e, blocking while the buffer is full. It returns false once
// the stream is closed or ctx is done.
func (s *Stream) send(ctx context.Context, e domain.Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.events <- e:
		return true
	default:
	}

	select {
	case s.events <- e:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// finish closes the event channel; only the worker calls it
func (s *Stream) finish() {
	close(s.events)
}
