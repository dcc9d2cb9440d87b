package server

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lipish/openrunner/pkg/run"
	"github.com/rs/zerolog"
)

// EventRunStatus is the firehose event sent on every run status change.
const EventRunStatus = "run.status"

// RunStatus is the payload of a run.status event.
type RunStatus struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	AgentType string     `json:"agent_type,omitempty"`
	Status    run.Status `json:"status"`
	Error     string     `json:"error,omitempty"`
}

// EventBroadcaster fans firehose events out to every connected client.
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     atomic.Int64
}

func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		clients: clients,
		logger:  logger.With().Str("component", "broadcaster").Logger(),
	}
}

// Clients returns the registry the broadcaster writes to.
func (b *EventBroadcaster) Clients() *ClientRegistry {
	return b.clients
}

// Broadcast sends an event to all connected clients
func (b *EventBroadcaster) Broadcast(event string, data interface{}) {
	b.broadcastMessage(EventMessage{
		Type:      "event",
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		Seq:       b.seq.Add(1),
	})
}

// ObserveRun is a run.Manager observer that publishes status changes.
func (b *EventBroadcaster) ObserveRun(r run.Run) {
	b.broadcastMessage(EventMessage{
		Type:  "event",
		Event: EventRunStatus,
		Data: RunStatus{
			ID:        r.ID,
			UserID:    r.UserID,
			AgentType: r.AgentType,
			Status:    r.Status,
			Error:     r.Error,
		},
		Timestamp: time.Now().UnixMilli(),
		Seq:       b.seq.Add(1),
		RunID:     r.ID,
	})
}

func (b *EventBroadcaster) broadcastMessage(msg EventMessage) {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("event", msg.Event).Int64("seq", msg.Seq).Msg("failed to marshal event")
		return
	}

	clients := b.clients.GetAll()
	if len(clients) == 0 {
		return
	}

	successCount := 0
	failureCount := 0
	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, jsonData); err != nil {
			b.logger.Warn().
				Err(err).
				Str("client_id", client.ID).
				Str("event", msg.Event).
				Int64("seq", msg.Seq).
				Msg("failed to broadcast to client")
			failureCount++
		} else {
			successCount++
		}
	}

	b.logger.Debug().
		Str("event", msg.Event).
		Int64("seq", msg.Seq).
		Int("success", successCount).
		Int("failed", failureCount).
		Msg("event broadcast complete")
}
