package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func openRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "sessions.json"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r
}

func TestRegister_AssignsID(t *testing.T) {
	t.Parallel()
	r := openRegistry(t)

	session, err := r.Register(Session{LogPath: "/var/log/agent.log"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if session.ID == "" {
		t.Error("got empty id, want one assigned")
	}
	if session.Created.IsZero() {
		t.Error("got zero creation time, want one assigned")
	}

	found, err := r.Lookup(session.ID)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if found.LogPath != "/var/log/agent.log" {
		t.Errorf("got log path %q, want the registered one", found.LogPath)
	}
}

func TestRegister_KeepsExplicitID(t *testing.T) {
	t.Parallel()
	r := openRegistry(t)

	session, err := r.Register(Session{ID: "mine", LogPath: "/tmp/a.log"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if session.ID != "mine" {
		t.Errorf("got id %q, want the explicit one kept", session.ID)
	}
}

func TestRegister_RequiresLogPath(t *testing.T) {
	t.Parallel()
	r := openRegistry(t)

	if _, err := r.Register(Session{ID: "no-path"}); err == nil {
		t.Error("got nil error for empty log path, want rejection")
	}
}

func TestRegister_UpdateKeepsCreationTime(t *testing.T) {
	t.Parallel()
	r := openRegistry(t)

	if _, err := r.Register(Session{ID: "s1", LogPath: "/tmp/old.log", Created: baseTime}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	updated, err := r.Register(Session{ID: "s1", LogPath: "/tmp/new.log"})
	if err != nil {
		t.Fatalf("re-Register: %v", err)
	}
	if updated.LogPath != "/tmp/new.log" {
		t.Errorf("got log path %q, want the new one", updated.LogPath)
	}
	if !updated.Created.Equal(baseTime) {
		t.Errorf("got created %v, want the original %v kept", updated.Created, baseTime)
	}

	if sessions := r.List(); len(sessions) != 1 {
		t.Errorf("got %d sessions after update, want still 1", len(sessions))
	}
}

func TestLookup_UnknownSession(t *testing.T) {
	t.Parallel()
	r := openRegistry(t)

	if _, err := r.Lookup("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	r := openRegistry(t)

	if _, err := r.Register(Session{ID: "gone", LogPath: "/tmp/a.log"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Remove("gone"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := r.Remove("gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second remove: got %v, want ErrNotFound", err)
	}
	if _, err := r.Lookup("gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup after remove: got %v, want ErrNotFound", err)
	}
}

func TestList_OrderedByCreation(t *testing.T) {
	t.Parallel()
	r := openRegistry(t)

	order := []struct {
		id      string
		created time.Time
	}{
		{"second", baseTime.Add(time.Hour)},
		{"first", baseTime},
		{"third", baseTime.Add(2 * time.Hour)},
	}
	for _, entry := range order {
		if _, err := r.Register(Session{ID: entry.id, LogPath: "/tmp/" + entry.id, Created: entry.created}); err != nil {
			t.Fatalf("Register %s: %v", entry.id, err)
		}
	}

	sessions := r.List()
	want := []string{"first", "second", "third"}
	if len(sessions) != len(want) {
		t.Fatalf("got %d sessions, want %d", len(sessions), len(want))
	}
	for i, id := range want {
		if sessions[i].ID != id {
			t.Errorf("position %d: got %q, want %q", i, sessions[i].ID, id)
		}
	}
}

func TestReopen_KeepsSessions(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sessions.json")

	r, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := r.Register(Session{ID: "kept", LogPath: "/tmp/kept.log", Created: baseTime}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	session, err := reopened.Lookup("kept")
	if err != nil {
		t.Fatalf("Lookup after reopen: %v", err)
	}
	if session.LogPath != "/tmp/kept.log" || !session.Created.Equal(baseTime) {
		t.Errorf("got %+v after reopen, want the original registration", session)
	}
}

func TestOpen_CorruptIndexStartsFresh(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sessions.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	r, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if sessions := r.List(); len(sessions) != 0 {
		t.Errorf("got %d sessions from corrupt index, want 0", len(sessions))
	}

	// The registry still works after the reset.
	if _, err := r.Register(Session{ID: "fresh", LogPath: "/tmp/fresh.log"}); err != nil {
		t.Fatalf("Register after reset: %v", err)
	}
}
