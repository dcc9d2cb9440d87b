package agent

import "errors"

var (
	// ErrUnknownAgentType is returned by the factory for an unrecognized type tag.
	ErrUnknownAgentType = errors.New("unknown agent type")
	// ErrMissingCredentials is returned when a provider agent has no API key.
	ErrMissingCredentials = errors.New("missing credentials")
	// ErrChannelClosed is returned when the handle actor is gone.
	ErrChannelClosed = errors.New("agent channel closed")
	// ErrAgentTimeout is reported when an invocation exceeds its timeout.
	ErrAgentTimeout = errors.New("agent timed out")
	// ErrBinaryNotFound is returned by CLI agents whose executable is not on PATH.
	ErrBinaryNotFound = errors.New("agent binary not found")
)
