package main

import (
	"errors"
	"net/http"

	"tailfeed/internal/pipeline"
	"tailfeed/internal/registry"
)

// =============================================================================
// SESSION REGISTRY HANDLERS
// =============================================================================

// registerSessionRequest is the body of POST /api/sessions. ID is optional;
// the registry assigns one when absent.
type registerSessionRequest struct {
	ID      string `json:"id"`
	LogPath string `json:"logPath"`
}

// sessionStatus is one entry of GET /api/sessions: the registered session
// plus whether a pipeline is currently tailing it.
type sessionStatus struct {
	registry.Session
	Tailing bool `json:"tailing"`
}

// handleRegisterSession registers a session id to log path mapping.
func (a *App) handleRegisterSession(w http.ResponseWriter, r *http.Request) {
	var req registerSessionRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.LogPath == "" {
		a.writeError(w, http.StatusBadRequest, "logPath is required")
		return
	}

	session, err := a.sessions.Register(registry.Session{ID: req.ID, LogPath: req.LogPath})
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	a.log.Info("session registered", "session", session.ID, "path", session.LogPath)
	a.writeJSON(w, http.StatusCreated, session)
}

// handleListSessions lists registered sessions with their tail state.
func (a *App) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := a.sessions.List()
	statuses := make([]sessionStatus, 0, len(sessions))
	for _, session := range sessions {
		statuses = append(statuses, sessionStatus{
			Session: session,
			Tailing: a.manager.IsTailing(session.ID),
		})
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"sessions": statuses})
}

// handleUnregisterSession removes a session from the registry, stopping its
// tail first if one is live. Stored messages are kept.
func (a *App) handleUnregisterSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if err := a.manager.StopSession(sessionID); err != nil && !errors.Is(err, pipeline.ErrNotTailing) {
		a.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := a.sessions.Remove(sessionID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			a.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		a.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	a.log.Info("session unregistered", "session", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// TAIL LIFECYCLE HANDLERS
// =============================================================================

// startTailRequest is the optional body of POST /api/sessions/{id}/tail.
// An empty LogPath resolves through the registry.
type startTailRequest struct {
	LogPath string `json:"logPath"`
}

// handleStartTail starts tailing a session's log file and returns the handle.
func (a *App) handleStartTail(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req startTailRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	handle, err := a.manager.Start(a.ctx, sessionID, req.LogPath)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrAlreadyTailing):
			a.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, registry.ErrNotFound):
			a.writeError(w, http.StatusNotFound, err.Error())
		default:
			a.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	a.writeJSON(w, http.StatusOK, handle)
}

// handleStopTail stops a session's tail, flushing any pending conversation
// snapshot to the store.
func (a *App) handleStopTail(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if err := a.manager.StopSession(sessionID); err != nil {
		if errors.Is(err, pipeline.ErrNotTailing) {
			a.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		a.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
