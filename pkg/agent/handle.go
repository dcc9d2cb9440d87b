package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lipish/openrunner/internal/observability"
	"github.com/rs/zerolog"
)

// DefaultMailboxSize is the capacity of a handle's command mailbox.
const DefaultMailboxSize = 32

type command interface{ command() }

type runCommand struct {
	ctx    context.Context
	prompt string
	reply  chan error
}

type cancelCommand struct{}

func (runCommand) command()    {}
func (cancelCommand) command() {}

type outcome struct {
	err      error
	panicked any
}

// Handle is an actor owning exactly one Agent. Commands are processed one at
// a time from a bounded mailbox by a single goroutine.
type Handle struct {
	id          uuid.UUID
	agent       Agent
	sink        chan<- StreamEvent
	mailbox     chan command
	mailboxSize int
	timeout     time.Duration
	done        chan struct{}
	logger      zerolog.Logger
}

// HandleOption configures Spawn.
type HandleOption func(*Handle)

// WithMailboxSize overrides DefaultMailboxSize.
func WithMailboxSize(n int) HandleOption {
	return func(h *Handle) {
		if n > 0 {
			h.mailboxSize = n
		}
	}
}

// WithTimeout bounds each Run command. Zero disables the watchdog.
func WithTimeout(d time.Duration) HandleOption {
	return func(h *Handle) {
		h.timeout = d
	}
}

func WithLogger(logger zerolog.Logger) HandleOption {
	return func(h *Handle) {
		h.logger = logger
	}
}

// Spawn starts the actor goroutine for a and returns its handle. Every Run
// command ends with the handle publishing its own terminal event on sink,
// after whatever terminal event the agent emitted itself.
func Spawn(a Agent, sink chan<- StreamEvent, opts ...HandleOption) *Handle {
	h := &Handle{
		id:          uuid.New(),
		agent:       a,
		sink:        sink,
		mailboxSize: DefaultMailboxSize,
		done:        make(chan struct{}),
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.mailbox = make(chan command, h.mailboxSize)
	h.logger = h.logger.With().
		Str("handle_id", h.id.String()).
		Str("agent", a.Name()).
		Logger()

	go h.loop()
	return h
}

// ID is the correlation id carried by this handle's Done events.
func (h *Handle) ID() string {
	return h.id.String()
}

// Done is closed once the actor goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Run queues prompt and waits for the agent to finish. The returned error is
// the agent's own; the terminal event has already been published on the sink.
func (h *Handle) Run(ctx context.Context, prompt string) error {
	reply := make(chan error, 1)

	select {
	case h.mailbox <- runCommand{ctx: ctx, prompt: prompt, reply: reply}:
	case <-h.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-h.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrChannelClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel asks the actor to exit after the command in flight, if any. It
// does not interrupt a running agent; cancel that run's context for that.
func (h *Handle) Cancel(ctx context.Context) error {
	select {
	case h.mailbox <- cancelCommand{}:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the actor goroutine exits.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) loop() {
	defer close(h.done)
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Msg("agent handle crashed")
		}
	}()

	for cmd := range h.mailbox {
		switch c := cmd.(type) {
		case runCommand:
			h.execute(c)
		case cancelCommand:
			h.logger.Debug().Msg("agent handle cancelled")
			return
		}
	}
}

func (h *Handle) execute(c runCommand) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if h.timeout > 0 {
		ctx, cancel = context.WithTimeout(c.ctx, h.timeout)
	} else {
		ctx, cancel = context.WithCancel(c.ctx)
	}
	defer cancel()

	start := time.Now()
	res := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				res <- outcome{panicked: r}
			}
		}()
		res <- outcome{err: h.agent.Run(ctx, c.prompt, h.sink)}
	}()

	var err error
	select {
	case o := <-res:
		if o.panicked != nil {
			panic(o.panicked)
		}
		err = o.err
	case <-ctx.Done():
		// The agent ignored cancellation; leave it to finish on its own.
		err = ctx.Err()
	}

	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && c.ctx.Err() == nil {
		err = fmt.Errorf("%w after %s", ErrAgentTimeout, h.timeout)
	}

	observability.RecordAgentRun(h.agent.Name(), time.Since(start), err == nil)

	terminal := Done(h.ID())
	if err != nil {
		h.logger.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("agent run failed")
		terminal = Failure(err.Error())
	} else {
		h.logger.Debug().Dur("elapsed", time.Since(start)).Msg("agent run completed")
	}

	select {
	case h.sink <- terminal:
	case <-c.ctx.Done():
	}

	c.reply <- err
}
