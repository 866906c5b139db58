package feed

import (
	"log/slog"

	"tailfeed/internal/store"
	"tailfeed/internal/types"
)

// Fanout is the delivery point for finalized messages: each message is
// appended to the durable store before any live subscriber sees it.
type Fanout struct {
	messages *store.Store
	hub      *Hub
	log      *slog.Logger
}

// NewFanout creates a fanout writing to the given store and hub.
func NewFanout(messages *store.Store, hub *Hub, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		messages: messages,
		hub:      hub,
		log:      logger.With("component", "fanout"),
	}
}

// Emit persists one message, then publishes it. An append failure is
// logged and live delivery still happens; the store's id dedup makes a
// later replay of the same message safe.
func (f *Fanout) Emit(sessionID string, msg types.ThreadMessage) {
	if err := f.messages.Append(sessionID, msg); err != nil {
		f.log.Error("failed to persist message",
			"session", sessionID,
			"message", msg.ID,
			"error", err)
	}
	f.hub.Publish(sessionID, MessageFrame(msg))
}

// EmitAll emits messages in order.
func (f *Fanout) EmitAll(sessionID string, msgs []types.ThreadMessage) {
	for _, msg := range msgs {
		f.Emit(sessionID, msg)
	}
}

// Status publishes a transient status frame. Status frames are never
// stored.
func (f *Fanout) Status(sessionID, status, detail string) {
	f.hub.Publish(sessionID, StatusFrame(status, detail))
}
