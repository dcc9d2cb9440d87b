package run

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lipish/openrunner/internal/observability"
	"github.com/lipish/openrunner/internal/tracing"
	"github.com/lipish/openrunner/pkg/agent"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// ChannelClosedMessage is recorded when an agent handle dies without
	// publishing a terminal event.
	ChannelClosedMessage = "agent channel closed"

	terminalSendTimeout = 5 * time.Second
)

// ManagerConfig wires a Manager. Registry and Factory are required.
type ManagerConfig struct {
	Registry    *Registry
	Factory     agent.Creator
	Logger      zerolog.Logger
	EventBuffer int
	MailboxSize int
	// Observer, if set, is called with a snapshot after every status change.
	Observer func(Run)
}

type activeRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager starts runs and bridges agent stream events to run events.
type Manager struct {
	registry    *Registry
	factory     agent.Creator
	logger      zerolog.Logger
	eventBuffer int
	mailboxSize int
	observer    func(Run)

	mu     sync.Mutex
	active map[string]*activeRun
	closed bool
	wg     sync.WaitGroup
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = agent.DefaultMailboxSize
	}
	return &Manager{
		registry:    cfg.Registry,
		factory:     cfg.Factory,
		logger:      cfg.Logger.With().Str("component", "run_manager").Logger(),
		eventBuffer: cfg.EventBuffer,
		mailboxSize: cfg.MailboxSize,
		observer:    cfg.Observer,
		active:      make(map[string]*activeRun),
	}
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

// CreateRun stores a new pending run.
func (m *Manager) CreateRun(userID, sessionID, input string) string {
	id := m.registry.Create(userID, sessionID, input)
	observability.SetRegistrySize(m.registry.Len())
	m.logger.Debug().Str("run_id", id).Str("user_id", userID).Msg("run created")
	return id
}

// GetRun returns a snapshot of the run.
func (m *Manager) GetRun(id string) (Run, bool) {
	return m.registry.Get(id)
}

// StartRun builds the agent described by cfg and starts driving the run in
// the background. Agent construction errors are returned as is and leave the
// run pending. The returned error says nothing about the run's outcome.
func (m *Manager) StartRun(ctx context.Context, id string, cfg agent.Config) error {
	run, ok := m.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	a, err := m.factory.Create(cfg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if !m.registry.Start(id, cfg.Type) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRunNotPending, id)
	}

	runCtx, cancel := context.WithCancel(tracing.NewRunContext(tracing.Detach(ctx), id, cfg.Type))
	active := &activeRun{cancel: cancel, done: make(chan struct{})}
	m.active[id] = active
	m.wg.Add(1)
	m.mu.Unlock()

	logger := tracing.PropagateToLogger(runCtx, m.logger)
	events := make(chan agent.StreamEvent, m.eventBuffer)
	h := agent.Spawn(a, events,
		agent.WithMailboxSize(m.mailboxSize),
		agent.WithTimeout(cfg.Timeout()),
		agent.WithLogger(logger),
	)

	observability.RecordRunStarted(cfg.Type)
	observability.RecordRunAudit(runCtx, "run.start", id, run.UserID, string(StatusRunning))
	m.notify(id)
	logger.Info().Str("agent", a.Name()).Msg("run started")

	go m.drive(runCtx, id, cfg.Type, run.Input, h, events, active, logger)
	return nil
}

// drive runs the prompt on h and forwards its events until the run reaches a
// terminal status.
func (m *Manager) drive(ctx context.Context, id, agentType, input string, h *agent.Handle, events <-chan agent.StreamEvent, active *activeRun, logger zerolog.Logger) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "run", attribute.String("run_id", id), attribute.String("agent_type", agentType))

	result := make(chan error, 1)
	go func() {
		result <- h.Run(ctx, input)
	}()

	defer func() {
		active.cancel()
		_ = h.Cancel(context.Background())

		m.mu.Lock()
		delete(m.active, id)
		m.mu.Unlock()
		close(active.done)

		final, _ := m.registry.Get(id)
		observability.RecordRunFinished(agentType, string(final.Status), time.Since(start))
		var spanErr error
		if final.Status == StatusFailed {
			spanErr = errors.New(final.Error)
		}
		tracing.EndSpan(span, spanErr)
		logger.Info().Str("status", string(final.Status)).Dur("elapsed", time.Since(start)).Msg("run finished")
		m.wg.Done()
	}()

	m.forward(ctx, id, h, events, result, logger)

	if run, ok := m.registry.Get(id); ok && run.Status == StatusCancelled {
		sendCtx, cancel := context.WithTimeout(context.Background(), terminalSendTimeout)
		defer cancel()
		m.publish(sendCtx, id, RunFailed{Error: CancelledMessage})
	}
}

func (m *Manager) forward(ctx context.Context, id string, h *agent.Handle, events <-chan agent.StreamEvent, result <-chan error, logger zerolog.Logger) {
	for {
		select {
		case ev := <-events:
			if m.apply(ctx, id, ev) {
				return
			}
		case err := <-result:
			// The handle publishes its terminal event before replying, so
			// anything left to forward is already buffered.
			if m.drainBuffered(ctx, id, events) {
				return
			}
			if ctx.Err() != nil {
				m.markCancelled(id)
				return
			}
			msg := ChannelClosedMessage
			if err != nil && !errors.Is(err, agent.ErrChannelClosed) {
				msg = err.Error()
			}
			logger.Warn().Err(err).Str("handle_id", h.ID()).Msg("agent finished without a terminal event")
			m.fail(ctx, id, msg)
			return
		case <-ctx.Done():
			m.markCancelled(id)
			return
		}
	}
}

func (m *Manager) markCancelled(id string) {
	if m.registry.UpdateStatus(id, StatusCancelled) {
		m.notify(id)
	}
}

func (m *Manager) drainBuffered(ctx context.Context, id string, events <-chan agent.StreamEvent) bool {
	for {
		select {
		case ev := <-events:
			if m.apply(ctx, id, ev) {
				return true
			}
		default:
			return false
		}
	}
}

// apply folds one stream event into the run and reports whether the run has
// reached a terminal status.
func (m *Manager) apply(ctx context.Context, id string, ev agent.StreamEvent) bool {
	switch ev.Type {
	case agent.EventToken:
		if !m.registry.AppendOutput(id, ev.Content) {
			return true
		}
		m.publish(ctx, id, MessageDelta{Delta: ev.Content})
		return false

	case agent.EventDone:
		if m.registry.UpdateStatus(id, StatusCompleted) {
			run, _ := m.registry.Get(id)
			m.publish(ctx, id, RunCompleted{Message: Message{
				Role:      "assistant",
				Content:   run.Output,
				Timestamp: time.Now().UTC(),
			}})
			m.notify(id)
		}
		return true

	case agent.EventError:
		// An agent stopped by cancellation reports the context error.
		if ctx.Err() != nil {
			m.markCancelled(id)
			return true
		}
		msg := ev.Message
		if msg == "" {
			msg = "agent failed"
		}
		m.fail(ctx, id, msg)
		return true
	}

	m.logger.Warn().Str("run_id", id).Str("type", string(ev.Type)).Msg("ignoring unknown stream event")
	return false
}

func (m *Manager) fail(ctx context.Context, id, msg string) {
	if m.registry.SetError(id, msg) {
		m.publish(ctx, id, RunFailed{Error: msg})
		m.notify(id)
	}
}

// publish is best effort: no subscriber or a detached one drops ev.
func (m *Manager) publish(ctx context.Context, id string, ev Event) {
	sub := m.registry.Subscriber(id)
	if sub == nil {
		return
	}
	if err := sub.Send(ctx, ev); err != nil {
		m.logger.Debug().Err(err).Str("run_id", id).Str("event", ev.EventType()).Msg("event dropped")
	}
}

func (m *Manager) notify(id string) {
	if m.observer == nil {
		return
	}
	if run, ok := m.registry.Get(id); ok {
		m.observer(run)
	}
}

// Subscribe attaches a new subscriber to the run, detaching the previous one.
func (m *Manager) Subscribe(id string) (*Subscriber, bool) {
	sub := NewSubscriber(m.eventBuffer)
	prev, ok := m.registry.SetSubscriber(id, sub)
	if !ok {
		return nil, false
	}
	if prev != nil {
		prev.Close()
	}
	return sub, true
}

// Unsubscribe detaches sub from the run and closes it.
func (m *Manager) Unsubscribe(id string, sub *Subscriber) {
	m.registry.ClearSubscriber(id, sub)
	sub.Close()
}

// CancelRun marks the run cancelled and stops its agent. It returns false
// only when the run does not exist; cancelling a finished run changes nothing.
func (m *Manager) CancelRun(id string) bool {
	run, ok := m.registry.Get(id)
	if !ok {
		return false
	}
	if run.Status.IsTerminal() {
		return true
	}

	// Holding mu pins the active entry to the status flip: StartRun only
	// registers a driver under mu, and a driver only leaves under mu.
	m.mu.Lock()
	active := m.active[id]
	cancelled := m.registry.UpdateStatus(id, StatusCancelled)
	m.mu.Unlock()

	if !cancelled {
		return true
	}
	observability.RecordRunAudit(context.Background(), "run.cancel", id, run.UserID, string(StatusCancelled))
	m.notify(id)

	// A running driver publishes the terminal event itself.
	if active != nil {
		active.cancel()
	} else if sub := m.registry.Subscriber(id); sub != nil {
		sub.TrySend(RunFailed{Error: CancelledMessage})
	}
	return true
}

// Wait blocks until the run is no longer being driven and returns its final
// snapshot. A run that was never started is returned as is.
func (m *Manager) Wait(ctx context.Context, id string) (Run, error) {
	m.mu.Lock()
	active := m.active[id]
	m.mu.Unlock()

	if active != nil {
		select {
		case <-active.done:
		case <-ctx.Done():
			return Run{}, ctx.Err()
		}
	}

	run, ok := m.registry.Get(id)
	if !ok {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, nil
}

// ActiveCount returns the number of runs currently being driven.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Shutdown refuses new runs, cancels the active ones and waits for their
// forwarders to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, a := range m.active {
		a.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
