package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"tailfeed/internal/feed"
	"tailfeed/internal/registry"
	"tailfeed/internal/tailer"
)

// Lifecycle errors.
var (
	ErrAlreadyTailing = errors.New("session is already being tailed")
	ErrNotTailing     = errors.New("session is not being tailed")
)

// Handle identifies one live tail. Holding a stale handle is harmless:
// stopping it is a no-op.
type Handle struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
}

// Manager owns the set of live pipelines, at most one per session.
type Manager struct {
	registry *registry.Registry
	fanout   *feed.Fanout
	opts     tailer.Options
	log      *slog.Logger

	mu        sync.Mutex
	pipelines map[string]*Pipeline // session id -> live pipeline
	handles   map[string]string    // handle id -> session id
}

// NewManager creates a manager resolving log paths through the given
// registry and emitting through the given fanout.
func NewManager(reg *registry.Registry, fanout *feed.Fanout, opts tailer.Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry:  reg,
		fanout:    fanout,
		opts:      opts,
		log:       logger.With("component", "pipeline"),
		pipelines: make(map[string]*Pipeline),
		handles:   make(map[string]string),
	}
}

// Start begins tailing a session's log file. An empty logPath resolves
// through the registry. At most one pipeline per session may be live.
func (m *Manager) Start(ctx context.Context, sessionID, logPath string) (Handle, error) {
	if sessionID == "" {
		return Handle{}, fmt.Errorf("session id required")
	}
	if logPath == "" {
		session, err := m.registry.Lookup(sessionID)
		if err != nil {
			return Handle{}, err
		}
		logPath = session.LogPath
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pipelines[sessionID]; ok {
		return Handle{}, fmt.Errorf("%w: %s", ErrAlreadyTailing, sessionID)
	}

	p := newPipeline(sessionID, logPath, m.opts, m.fanout, m.log)
	p.start(ctx)

	handle := Handle{ID: uuid.New().String(), SessionID: sessionID}
	m.pipelines[sessionID] = p
	m.handles[handle.ID] = sessionID

	m.log.Info("tail started", "session", sessionID, "path", logPath)
	return handle, nil
}

// Stop ends the tail identified by handle, flushing its conversation
// state. A stale or unknown handle is a no-op.
func (m *Manager) Stop(handle Handle) error {
	m.mu.Lock()
	sessionID, ok := m.handles[handle.ID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	p := m.detachLocked(sessionID)
	m.mu.Unlock()

	if p != nil {
		p.stop()
		m.log.Info("tail stopped", "session", sessionID)
	}
	return nil
}

// StopSession ends the live tail for a session id.
func (m *Manager) StopSession(sessionID string) error {
	m.mu.Lock()
	p := m.detachLocked(sessionID)
	m.mu.Unlock()

	if p == nil {
		return fmt.Errorf("%w: %s", ErrNotTailing, sessionID)
	}
	p.stop()
	m.log.Info("tail stopped", "session", sessionID)
	return nil
}

// StopAll ends every live tail. Used at shutdown so each conversation is
// flushed before the store closes.
func (m *Manager) StopAll() {
	m.mu.Lock()
	stopped := make([]*Pipeline, 0, len(m.pipelines))
	for sessionID := range m.pipelines {
		if p := m.detachLocked(sessionID); p != nil {
			stopped = append(stopped, p)
		}
	}
	m.mu.Unlock()

	for _, p := range stopped {
		p.stop()
	}
	if len(stopped) > 0 {
		m.log.Info("all tails stopped", "count", len(stopped))
	}
}

// IsTailing reports whether a session has a live pipeline.
func (m *Manager) IsTailing(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pipelines[sessionID]
	return ok
}

// ActiveSessions returns the ids of all sessions with live pipelines.
func (m *Manager) ActiveSessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions := make([]string, 0, len(m.pipelines))
	for sessionID := range m.pipelines {
		sessions = append(sessions, sessionID)
	}
	sort.Strings(sessions)
	return sessions
}

// detachLocked removes a session's pipeline and any handles pointing at
// it. Caller holds m.mu; the returned pipeline is stopped outside the
// lock.
func (m *Manager) detachLocked(sessionID string) *Pipeline {
	p, ok := m.pipelines[sessionID]
	if !ok {
		return nil
	}
	delete(m.pipelines, sessionID)
	for id, sid := range m.handles {
		if sid == sessionID {
			delete(m.handles, id)
		}
	}
	return p
}
