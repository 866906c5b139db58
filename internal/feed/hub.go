// Package feed fans finalized thread messages out to live subscribers.
// Delivery is per-session FIFO with bounded buffers: a subscriber that
// cannot keep up is disconnected rather than allowed to stall the
// pipeline or its peers.
package feed

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"tailfeed/internal/types"
)

// =============================================================================
// FRAMES
// =============================================================================

// Frame type discriminators
const (
	FrameMessage = "message"
	FrameStatus  = "status"
)

// Status frame values
const (
	StatusConnected  = "connected"
	StatusProcessing = "processing"
	StatusError      = "error"
)

// Frame is one unit delivered to a subscriber. Type selects which of the
// remaining fields are populated: "message" carries a thread message,
// "status" carries a connection or pipeline status change.
type Frame struct {
	Type    string               `json:"type"`
	Status  string               `json:"status,omitempty"`
	Detail  string               `json:"detail,omitempty"`
	Message *types.ThreadMessage `json:"message,omitempty"`
}

// MessageFrame wraps a thread message for delivery.
func MessageFrame(msg types.ThreadMessage) Frame {
	return Frame{Type: FrameMessage, Message: &msg}
}

// StatusFrame builds a status frame with an optional human-readable detail.
func StatusFrame(status, detail string) Frame {
	return Frame{Type: FrameStatus, Status: status, Detail: detail}
}

// =============================================================================
// SUBSCRIBERS
// =============================================================================

// Subscriber is one live consumer of a session's feed. Frames() is closed
// when the subscriber is disconnected, whether by Unsubscribe or by falling
// behind.
type Subscriber struct {
	id        string
	sessionID string
	frames    chan Frame
	closeOnce sync.Once
}

// ID returns the subscriber's unique identifier.
func (s *Subscriber) ID() string {
	return s.id
}

// SessionID returns the session this subscriber is attached to.
func (s *Subscriber) SessionID() string {
	return s.sessionID
}

// Frames returns the delivery channel. It is closed on disconnect.
func (s *Subscriber) Frames() <-chan Frame {
	return s.frames
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.frames)
	})
}

// =============================================================================
// HUB
// =============================================================================

// defaultBufferSize is the per-subscriber frame buffer when the hub is
// constructed with a non-positive size.
const defaultBufferSize = 64

// Hub routes frames to the subscribers of each session. Publish never
// blocks: a subscriber whose buffer is full is closed and removed.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]map[*Subscriber]struct{}
	buffer   int
	log      *slog.Logger
}

// NewHub creates a hub with the given per-subscriber buffer size.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		sessions: make(map[string]map[*Subscriber]struct{}),
		buffer:   buffer,
		log:      logger.With("component", "feed"),
	}
}

// Subscribe attaches a new subscriber to a session. The subscriber starts
// receiving frames published after this call returns.
func (h *Hub) Subscribe(sessionID string) *Subscriber {
	sub := &Subscriber{
		id:        uuid.New().String(),
		sessionID: sessionID,
		frames:    make(chan Frame, h.buffer),
	}

	h.mu.Lock()
	subs, ok := h.sessions[sessionID]
	if !ok {
		subs = make(map[*Subscriber]struct{})
		h.sessions[sessionID] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	h.log.Debug("subscriber attached", "session", sessionID, "subscriber", sub.id)
	return sub
}

// Unsubscribe detaches a subscriber and closes its frame channel. Safe to
// call more than once and for subscribers already disconnected.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	h.detachLocked(sub)
	h.mu.Unlock()
	sub.close()
}

// Publish delivers a frame to every subscriber of the session. Sends are
// non-blocking; a subscriber with a full buffer is disconnected so slow
// consumers can never stall the pipeline.
func (h *Hub) Publish(sessionID string, frame Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var stalled []*Subscriber
	for sub := range h.sessions[sessionID] {
		select {
		case sub.frames <- frame:
		default:
			stalled = append(stalled, sub)
		}
	}
	for _, sub := range stalled {
		h.log.Warn("disconnecting slow subscriber",
			"session", sessionID,
			"subscriber", sub.id,
			"buffer", h.buffer)
		h.detachLocked(sub)
		sub.close()
	}
}

// SubscriberCount returns how many subscribers a session currently has.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions[sessionID])
}

// Close disconnects every subscriber on every session.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sessionID, subs := range h.sessions {
		for sub := range subs {
			sub.close()
		}
		delete(h.sessions, sessionID)
	}
}

// detachLocked removes a subscriber from the routing table. Caller holds
// h.mu.
func (h *Hub) detachLocked(sub *Subscriber) {
	subs, ok := h.sessions[sub.sessionID]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.sessions, sub.sessionID)
	}
}
