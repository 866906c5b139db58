package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"tailfeed/internal/feed"
)

// =============================================================================
// LIVE STREAM HANDLER
// =============================================================================

const (
	// streamWriteWait bounds every individual websocket write.
	streamWriteWait = 10 * time.Second

	// streamPingInterval is the keepalive cadence on otherwise idle streams.
	streamPingInterval = 30 * time.Second
)

// upgrader accepts any origin: the service binds loopback by default and
// carries no credentials, so origin checks add nothing.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleStream upgrades the request to a websocket and forwards the
// session's feed frames until the client disconnects or falls behind.
//
// The subscriber is registered BEFORE the connected status frame is sent.
// This guarantees no frame is missed between the client receiving the ack
// and the subscription being active: by the time the client sees
// "connected", the subscriber channel is already receiving frames from any
// concurrent pipeline emissions.
func (a *App) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		a.log.Debug("websocket upgrade failed", "session", sessionID, "error", err)
		return
	}
	defer conn.Close()

	sub := a.hub.Subscribe(sessionID)
	defer a.hub.Unsubscribe(sub)

	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := conn.WriteJSON(feed.StatusFrame(feed.StatusConnected, "")); err != nil {
		a.log.Debug("failed to write connected frame", "session", sessionID, "error", err)
		return
	}

	a.log.Info("stream attached", "session", sessionID, "subscriber", sub.ID())
	defer a.log.Info("stream detached", "session", sessionID, "subscriber", sub.ID())

	// Reader goroutine. Clients send nothing meaningful; reading surfaces
	// close frames and dead connections, and answers pings.
	readerDone := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readerDone <- err
				return
			}
		}
	}()

	pingTicker := time.NewTicker(streamPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case frame, ok := <-sub.Frames():
			if !ok {
				// The hub dropped us: this stream could not keep up.
				// Tell the client to reconnect and re-sync from the store.
				deadline := time.Now().Add(streamWriteWait)
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "stream fell behind"), deadline)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(frame); err != nil {
				a.log.Debug("stream write failed", "session", sessionID, "error", err)
				return
			}

		case <-pingTicker.C:
			deadline := time.Now().Add(streamWriteWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				a.log.Debug("stream ping failed", "session", sessionID, "error", err)
				return
			}

		case err := <-readerDone:
			if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.log.Debug("stream read ended", "session", sessionID, "error", err)
			}
			return

		case <-r.Context().Done():
			return
		}
	}
}
