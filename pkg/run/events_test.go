package run

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRoundTrip(t *testing.T) {
	output := "42"
	ts := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	events := []Event{
		MessageDelta{Delta: "he"},
		ToolCallStarted{ToolCallID: "call_1", Name: "bash", Input: json.RawMessage(`{"cmd":"ls"}`)},
		ToolCallStarted{ToolCallID: "call_2", Name: "noop"},
		ToolCallFinished{ToolCallID: "call_1", Output: &output, OK: true},
		ToolCallFinished{ToolCallID: "call_2", OK: false},
		RunCompleted{Message: Message{Role: "assistant", Content: "hello", Timestamp: ts}},
		RunFailed{Error: "boom"},
	}

	for _, ev := range events {
		t.Run(ev.EventType(), func(t *testing.T) {
			typ, data, err := Marshal(ev)
			require.NoError(t, err)
			assert.Equal(t, ev.EventType(), typ)

			back, err := Unmarshal(typ, data)
			require.NoError(t, err)
			assert.Equal(t, ev, back)
		})
	}
}

func TestEventPayloadShapes(t *testing.T) {
	tests := []struct {
		ev   Event
		want string
	}{
		{MessageDelta{Delta: "x"}, `{"delta":"x"}`},
		{ToolCallStarted{ToolCallID: "c", Name: "n"}, `{"tool_call_id":"c","name":"n"}`},
		{ToolCallFinished{ToolCallID: "c"}, `{"tool_call_id":"c","ok":false}`},
		{RunFailed{Error: "e"}, `{"error":"e"}`},
		{
			RunCompleted{Message: Message{Role: "assistant", Content: "hi", Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}},
			`{"message":{"role":"assistant","content":"hi","timestamp":"2024-01-02T03:04:05Z"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.ev.EventType(), func(t *testing.T) {
			_, data, err := Marshal(tt.ev)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestUnmarshalErrors(t *testing.T) {
	_, err := Unmarshal("bogus", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownEventType)

	_, err = Unmarshal(TypeMessageDelta, []byte(`{`))
	assert.Error(t, err)
}

func TestTerminalEvent(t *testing.T) {
	ts := time.Now().UTC()

	ev, ok := TerminalEvent(Run{Status: StatusCompleted, Output: "hello", UpdatedAt: ts})
	require.True(t, ok)
	assert.Equal(t, RunCompleted{Message: Message{Role: "assistant", Content: "hello", Timestamp: ts}}, ev)

	ev, ok = TerminalEvent(Run{Status: StatusFailed, Error: "boom"})
	require.True(t, ok)
	assert.Equal(t, RunFailed{Error: "boom"}, ev)

	ev, ok = TerminalEvent(Run{Status: StatusCancelled})
	require.True(t, ok)
	assert.Equal(t, RunFailed{Error: CancelledMessage}, ev)

	_, ok = TerminalEvent(Run{Status: StatusRunning})
	assert.False(t, ok)

	assert.True(t, IsTerminalEvent(RunFailed{}))
	assert.False(t, IsTerminalEvent(MessageDelta{}))
}
