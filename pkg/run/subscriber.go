package run

import (
	"context"
	"sync"
)

// DefaultEventBuffer is the capacity of a subscriber's event channel.
const DefaultEventBuffer = 100

// Subscriber is the live event channel of one consumer of a run. The events
// channel is never closed; Done is closed when the subscriber is detached,
// after which consumers should drain Events once more and stop.
type Subscriber struct {
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func NewSubscriber(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Subscriber{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

func (s *Subscriber) Events() <-chan Event {
	return s.events
}

func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Close detaches the subscriber. It is safe to call more than once.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Send delivers ev, blocking while the buffer is full.
func (s *Subscriber) Send(ctx context.Context, ev Event) error {
	select {
	case <-s.done:
		return ErrSubscriberClosed
	default:
	}

	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return ErrSubscriberClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend delivers ev only if there is room right now.
func (s *Subscriber) TrySend(ev Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}
