package run

import (
	"context"
	"fmt"
	"time"
)

// FollowPollInterval is how often Follow re-reads the snapshot while waiting
// for live events. It covers subscribers that were replaced or that attached
// after the terminal event was published.
var FollowPollInterval = time.Second

// Follow streams the run's events to emit until exactly one terminal event
// has been emitted. A run that is already finished yields only its terminal
// event, rebuilt from the snapshot. Deltas published before Follow attached
// are not replayed.
func (m *Manager) Follow(ctx context.Context, id string, emit func(Event) error) error {
	sub, ok := m.Subscribe(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	defer m.Unsubscribe(id, sub)

	if done, err := m.emitIfFinished(id, emit); done || err != nil {
		return err
	}

	ticker := time.NewTicker(FollowPollInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-sub.Events():
			if err := emit(ev); err != nil {
				return err
			}
			if IsTerminalEvent(ev) {
				return nil
			}
		case <-sub.Done():
			return m.finish(sub, id, emit)
		case <-ticker.C:
			run, ok := m.registry.Get(id)
			if !ok {
				return fmt.Errorf("%w: %s", ErrRunNotFound, id)
			}
			if run.Status.IsTerminal() {
				return m.finish(sub, id, emit)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// finish flushes what is buffered on sub, then falls back to the snapshot
// if no terminal event was among it.
func (m *Manager) finish(sub *Subscriber, id string, emit func(Event) error) error {
	for {
		select {
		case ev := <-sub.Events():
			if err := emit(ev); err != nil {
				return err
			}
			if IsTerminalEvent(ev) {
				return nil
			}
		default:
			done, err := m.emitIfFinished(id, emit)
			if err != nil {
				return err
			}
			if !done {
				return ErrSubscriberClosed
			}
			return nil
		}
	}
}

func (m *Manager) emitIfFinished(id string, emit func(Event) error) (bool, error) {
	run, ok := m.registry.Get(id)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	ev, ok := TerminalEvent(run)
	if !ok {
		return false, nil
	}
	return true, emit(ev)
}
