package main

import (
	"errors"
	"net/http"

	"tailfeed/internal/store"
)

// =============================================================================
// STORED MESSAGE HANDLERS
// =============================================================================

// handleReadMessages returns one page of a session's messages. Pagination is
// either limit+offset or limit+one cursor (after / before); the store rejects
// mixed modes.
func (a *App) handleReadMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := a.messages.Read(sessionID, store.ReadOptions{
		Limit:  limit,
		Offset: offset,
		After:  r.URL.Query().Get("after"),
		Before: r.URL.Query().Get("before"),
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidOptions) {
			a.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		a.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	a.writeJSON(w, http.StatusOK, page)
}

// handleLatestMessages returns the newest count messages in ascending order.
func (a *App) handleLatestMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	count, err := intQuery(r, "count", 10)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	messages, err := a.messages.Latest(sessionID, count)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	a.writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// handleClearMessages deletes a session's stored messages. Clearing a
// session with nothing stored succeeds.
func (a *App) handleClearMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if err := a.messages.Clear(sessionID); err != nil {
		a.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	a.log.Info("session messages cleared", "session", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handleSessionStats reports message count and last message time. Unknown
// sessions report zero values rather than an error.
func (a *App) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	stats, err := a.messages.Stats(sessionID)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	a.writeJSON(w, http.StatusOK, stats)
}
