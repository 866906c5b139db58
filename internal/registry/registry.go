// Package registry persists the set of registered sessions: which log file
// each session id is bound to. The index lives in one versioned JSON file
// rewritten atomically on every change.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a session id has no registration.
var ErrNotFound = errors.New("session not found")

const indexVersion = 1

// Session binds a session id to the log file it tails.
type Session struct {
	ID      string    `json:"id"`
	LogPath string    `json:"logPath"`
	Created time.Time `json:"created"`
}

// index is the on-disk shape of the registry file.
type index struct {
	Version  int       `json:"version"`
	Sessions []Session `json:"sessions"`
}

// Registry is a JSON-file-backed session index. All methods are safe for
// concurrent use.
type Registry struct {
	path string
	log  *slog.Logger

	mu       sync.Mutex
	sessions map[string]Session
}

// Open loads the registry at path, creating the containing directory if
// needed. A missing file is an empty registry; a corrupted one is reset
// with a warning.
func Open(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		path:     path,
		log:      logger.With("component", "registry"),
		sessions: make(map[string]Session),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session index: %w", err)
	}

	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		r.log.Warn("session index corrupted, starting fresh", "path", path, "error", err)
		return r, nil
	}
	for _, session := range idx.Sessions {
		r.sessions[session.ID] = session
	}
	return r, nil
}

// Register adds a session, assigning a fresh id when none is given.
// Re-registering an existing id updates its log path and keeps the
// original creation time.
func (r *Registry) Register(session Session) (Session, error) {
	if session.LogPath == "" {
		return Session{}, fmt.Errorf("log path required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if existing, ok := r.sessions[session.ID]; ok {
		session.Created = existing.Created
	} else if session.Created.IsZero() {
		session.Created = time.Now().UTC()
	}
	r.sessions[session.ID] = session

	if err := r.saveLocked(); err != nil {
		return Session{}, err
	}
	return session, nil
}

// Lookup returns the registration for a session id.
func (r *Registry) Lookup(id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return session, nil
}

// Remove deletes a session registration.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.sessions, id)
	return r.saveLocked()
}

// List returns all registered sessions ordered by creation time.
func (r *Registry) List() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make([]Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	sortSessions(sessions)
	return sessions
}

// saveLocked rewrites the index file atomically via a temp file and
// rename. Caller holds r.mu.
func (r *Registry) saveLocked() error {
	idx := index{
		Version:  indexVersion,
		Sessions: make([]Session, 0, len(r.sessions)),
	}
	for _, session := range r.sessions {
		idx.Sessions = append(idx.Sessions, session)
	}
	sortSessions(idx.Sessions)

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session index: %w", err)
	}

	tmpPath := r.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write session index: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace session index: %w", err)
	}
	return nil
}

func sortSessions(sessions []Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].Created.Equal(sessions[j].Created) {
			return sessions[i].Created.Before(sessions[j].Created)
		}
		return sessions[i].ID < sessions[j].ID
	})
}
