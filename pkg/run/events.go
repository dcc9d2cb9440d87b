package run

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event discriminants as they appear on the wire.
const (
	TypeMessageDelta     = "message_delta"
	TypeToolCallStarted  = "tool_call_started"
	TypeToolCallFinished = "tool_call_finished"
	TypeRunCompleted     = "run_completed"
	TypeRunFailed        = "run_failed"
)

// Event is one item of a run's public event stream.
type Event interface {
	EventType() string
}

type MessageDelta struct {
	Delta string `json:"delta"`
}

type ToolCallStarted struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Input      json.RawMessage `json:"input,omitempty"`
}

type ToolCallFinished struct {
	ToolCallID string  `json:"tool_call_id"`
	Output     *string `json:"output,omitempty"`
	OK         bool    `json:"ok"`
}

// Message is the final assistant message of a completed run.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type RunCompleted struct {
	Message Message `json:"message"`
}

type RunFailed struct {
	Error string `json:"error"`
}

func (MessageDelta) EventType() string     { return TypeMessageDelta }
func (ToolCallStarted) EventType() string  { return TypeToolCallStarted }
func (ToolCallFinished) EventType() string { return TypeToolCallFinished }
func (RunCompleted) EventType() string     { return TypeRunCompleted }
func (RunFailed) EventType() string        { return TypeRunFailed }

// IsTerminalEvent reports whether ev ends a run's stream.
func IsTerminalEvent(ev Event) bool {
	switch ev.(type) {
	case RunCompleted, RunFailed:
		return true
	}
	return false
}

// Marshal returns the discriminant and JSON payload of ev.
func Marshal(ev Event) (string, []byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal %s event: %w", ev.EventType(), err)
	}
	return ev.EventType(), data, nil
}

// Unmarshal is the inverse of Marshal.
func Unmarshal(eventType string, data []byte) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch eventType {
	case TypeMessageDelta:
		var v MessageDelta
		err = json.Unmarshal(data, &v)
		ev = v
	case TypeToolCallStarted:
		var v ToolCallStarted
		err = json.Unmarshal(data, &v)
		ev = v
	case TypeToolCallFinished:
		var v ToolCallFinished
		err = json.Unmarshal(data, &v)
		ev = v
	case TypeRunCompleted:
		var v RunCompleted
		err = json.Unmarshal(data, &v)
		ev = v
	case TypeRunFailed:
		var v RunFailed
		err = json.Unmarshal(data, &v)
		ev = v
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s event: %w", eventType, err)
	}
	return ev, nil
}

// TerminalEvent rebuilds the terminal event of a finished run from its
// snapshot. Cancelled runs are reported as failed. ok is false while the run
// is still active.
func TerminalEvent(r Run) (Event, bool) {
	switch r.Status {
	case StatusCompleted:
		return RunCompleted{Message: Message{
			Role:      "assistant",
			Content:   r.Output,
			Timestamp: r.UpdatedAt,
		}}, true
	case StatusFailed:
		return RunFailed{Error: r.Error}, true
	case StatusCancelled:
		return RunFailed{Error: CancelledMessage}, true
	}
	return nil, false
}

// CancelledMessage is the error reported to subscribers of a cancelled run.
const CancelledMessage = "run cancelled"
