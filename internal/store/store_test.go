package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"tailfeed/internal/types"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "messages.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func message(id, content string, ts time.Time) types.ThreadMessage {
	return types.ThreadMessage{
		ID:        id,
		Type:      types.MessageAssistant,
		Content:   content,
		Timestamp: ts,
	}
}

// seedMessages appends n messages m1..mn with ascending timestamps.
func seedMessages(t *testing.T, s *Store, sessionID string, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		msg := message(
			fmt.Sprintf("m%d", i),
			fmt.Sprintf("message %d", i),
			baseTime.Add(time.Duration(i)*time.Second),
		)
		if err := s.Append(sessionID, msg); err != nil {
			t.Fatalf("Append %s: %v", msg.ID, err)
		}
	}
}

func messageIDs(messages []types.ThreadMessage) []string {
	ids := make([]string, len(messages))
	for i, msg := range messages {
		ids[i] = msg.ID
	}
	return ids
}

func assertIDs(t *testing.T, got []types.ThreadMessage, want ...string) {
	t.Helper()
	gotIDs := messageIDs(got)
	if len(gotIDs) != len(want) {
		t.Fatalf("got %d messages %v, want %d %v", len(gotIDs), gotIDs, len(want), want)
	}
	for i := range want {
		if gotIDs[i] != want[i] {
			t.Fatalf("message %d: got id %q, want %q (full: %v)", i, gotIDs[i], want[i], gotIDs)
		}
	}
}

func TestRead_ReturnsAscendingRegardlessOfAppendOrder(t *testing.T) {
	t.Parallel()
	s := openStore(t)

	appendOrder := []struct {
		id string
		ts time.Time
	}{
		{"c", baseTime.Add(3 * time.Second)},
		{"a", baseTime.Add(1 * time.Second)},
		{"b", baseTime.Add(2 * time.Second)},
	}
	for _, m := range appendOrder {
		if err := s.Append("sess", message(m.id, m.id, m.ts)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	page, err := s.Read("sess", ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	assertIDs(t, page.Messages, "a", "b", "c")
}

func TestAppend_DuplicateIDIsIgnored(t *testing.T) {
	t.Parallel()
	s := openStore(t)

	first := message("dup", "original", baseTime)
	second := message("dup", "replacement", baseTime.Add(time.Minute))
	if err := s.Append("sess", first); err != nil {
		t.Fatalf("Append first: %v", err)
	}
	if err := s.Append("sess", second); err != nil {
		t.Fatalf("Append duplicate: %v", err)
	}

	page, err := s.Read("sess", ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("got total %d, want 1", page.Total)
	}
	if page.Messages[0].Content != "original" {
		t.Errorf("got content %q, want the first write to win", page.Messages[0].Content)
	}
}

func TestAppend_SameIDDifferentSessions(t *testing.T) {
	t.Parallel()
	s := openStore(t)

	if err := s.Append("one", message("shared", "first", baseTime)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append("two", message("shared", "second", baseTime)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	for _, sessionID := range []string{"one", "two"} {
		stats, err := s.Stats(sessionID)
		if err != nil {
			t.Fatalf("Stats(%s): %v", sessionID, err)
		}
		if stats.MessageCount != 1 {
			t.Errorf("session %s: got %d messages, want 1", sessionID, stats.MessageCount)
		}
	}
}

func TestRead_OffsetPagination(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	seedMessages(t, s, "sess", 5)

	page, err := s.Read("sess", ReadOptions{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	assertIDs(t, page.Messages, "m3", "m4")
	if !page.HasMore {
		t.Error("got HasMore=false, want true with m5 remaining")
	}
	if page.Total != 5 {
		t.Errorf("got total %d, want 5", page.Total)
	}
	if page.PrevCursor != "m3" || page.NextCursor != "m4" {
		t.Errorf("got cursors prev=%q next=%q, want m3/m4", page.PrevCursor, page.NextCursor)
	}

	last, err := s.Read("sess", ReadOptions{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("Read last page: %v", err)
	}
	assertIDs(t, last.Messages, "m5")
	if last.HasMore {
		t.Error("got HasMore=true on final page, want false")
	}
}

func TestRead_AfterCursor(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	seedMessages(t, s, "sess", 5)

	page, err := s.Read("sess", ReadOptions{Limit: 2, After: "m2"})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	assertIDs(t, page.Messages, "m3", "m4")
	if !page.HasMore {
		t.Error("got HasMore=false, want true with m5 past the window")
	}

	tail, err := s.Read("sess", ReadOptions{Limit: 2, After: "m4"})
	if err != nil {
		t.Fatalf("Read tail: %v", err)
	}
	assertIDs(t, tail.Messages, "m5")
	if tail.HasMore {
		t.Error("got HasMore=true past the last message, want false")
	}

	empty, err := s.Read("sess", ReadOptions{Limit: 2, After: "m5"})
	if err != nil {
		t.Fatalf("Read past end: %v", err)
	}
	assertIDs(t, empty.Messages)
	if empty.HasMore {
		t.Error("got HasMore=true on empty page, want false")
	}
	if empty.NextCursor != "" || empty.PrevCursor != "" {
		t.Errorf("got cursors %q/%q on empty page, want empty", empty.PrevCursor, empty.NextCursor)
	}
}

func TestRead_BeforeCursor(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	seedMessages(t, s, "sess", 5)

	// The window immediately preceding the cursor, still ascending.
	page, err := s.Read("sess", ReadOptions{Limit: 2, Before: "m4"})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	assertIDs(t, page.Messages, "m2", "m3")
	if !page.HasMore {
		t.Error("got HasMore=false, want true with m1 before the window")
	}

	head, err := s.Read("sess", ReadOptions{Limit: 5, Before: "m2"})
	if err != nil {
		t.Fatalf("Read head: %v", err)
	}
	assertIDs(t, head.Messages, "m1")
	if head.HasMore {
		t.Error("got HasMore=true before the first message, want false")
	}
}

func TestRead_UnknownCursorFallsBackToStart(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	seedMessages(t, s, "sess", 3)

	for _, opts := range []ReadOptions{
		{Limit: 2, After: "never-stored"},
		{Limit: 2, Before: "never-stored"},
	} {
		page, err := s.Read("sess", opts)
		if err != nil {
			t.Fatalf("Read %+v: %v", opts, err)
		}
		assertIDs(t, page.Messages, "m1", "m2")
		if !page.HasMore {
			t.Errorf("opts %+v: got HasMore=false, want true", opts)
		}
	}
}

func TestRead_RejectsMixedPaginationModes(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	seedMessages(t, s, "sess", 2)

	if _, err := s.Read("sess", ReadOptions{After: "m1", Before: "m2"}); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("got %v for after+before, want ErrInvalidOptions", err)
	}
	if _, err := s.Read("sess", ReadOptions{After: "m1", Offset: 1}); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("got %v for after+offset, want ErrInvalidOptions", err)
	}
}

func TestRead_DefaultLimit(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	seedMessages(t, s, "sess", 3)

	page, err := s.Read("sess", ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	assertIDs(t, page.Messages, "m1", "m2", "m3")
	if page.HasMore {
		t.Error("got HasMore=true, want false when everything fit")
	}
}

func TestRead_EqualTimestampsKeepAppendOrder(t *testing.T) {
	t.Parallel()
	s := openStore(t)

	ts := baseTime
	for _, id := range []string{"first", "second", "third"} {
		if err := s.Append("sess", message(id, id, ts)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	page, err := s.Read("sess", ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	assertIDs(t, page.Messages, "first", "second", "third")

	after, err := s.Read("sess", ReadOptions{After: "first"})
	if err != nil {
		t.Fatalf("Read after: %v", err)
	}
	assertIDs(t, after.Messages, "second", "third")
}

func TestLatest(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	seedMessages(t, s, "sess", 5)

	latest, err := s.Latest("sess", 2)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	assertIDs(t, latest, "m4", "m5")

	all, err := s.Latest("sess", 10)
	if err != nil {
		t.Fatalf("Latest overshoot: %v", err)
	}
	assertIDs(t, all, "m1", "m2", "m3", "m4", "m5")

	none, err := s.Latest("sess", 0)
	if err != nil {
		t.Fatalf("Latest zero: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("got %d messages for count 0, want none", len(none))
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	seedMessages(t, s, "sess", 3)

	stats, err := s.Stats("sess")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.MessageCount != 3 {
		t.Errorf("got count %d, want 3", stats.MessageCount)
	}
	if stats.LastMessageTimestamp == nil {
		t.Fatal("got nil last timestamp, want the newest message time")
	}
	if want := baseTime.Add(3 * time.Second); !stats.LastMessageTimestamp.Equal(want) {
		t.Errorf("got last timestamp %v, want %v", stats.LastMessageTimestamp, want)
	}
}

func TestStats_UnknownSessionIsZeroValued(t *testing.T) {
	t.Parallel()
	s := openStore(t)

	stats, err := s.Stats("never-seen")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.MessageCount != 0 {
		t.Errorf("got count %d, want 0", stats.MessageCount)
	}
	if stats.LastMessageTimestamp != nil {
		t.Errorf("got last timestamp %v, want nil", stats.LastMessageTimestamp)
	}
}

func TestClear_IsIdempotent(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	seedMessages(t, s, "sess", 2)

	if err := s.Clear("sess"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := s.Clear("sess"); err != nil {
		t.Fatalf("Clear again: %v", err)
	}

	page, err := s.Read("sess", ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if page.Total != 0 || len(page.Messages) != 0 {
		t.Errorf("got %d messages (total %d) after clear, want none", len(page.Messages), page.Total)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	t.Parallel()
	s := openStore(t)

	msg := message("tool-1", "bash(command=ls)", baseTime)
	msg.Type = types.MessageTool
	msg.Metadata = map[string]any{
		types.MetaToolName: "bash",
		types.MetaFiles:    []string{"/tmp/a.go", "/tmp/b.go"},
	}
	if err := s.Append("sess", msg); err != nil {
		t.Fatalf("Append: %v", err)
	}

	page, err := s.Read("sess", ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	got := page.Messages[0]
	if got.Type != types.MessageTool {
		t.Errorf("got type %q, want %q", got.Type, types.MessageTool)
	}
	if got.Metadata[types.MetaToolName] != "bash" {
		t.Errorf("got toolName %v, want bash", got.Metadata[types.MetaToolName])
	}
	files, ok := got.Metadata[types.MetaFiles].([]any)
	if !ok || len(files) != 2 {
		t.Fatalf("got files %v, want two entries", got.Metadata[types.MetaFiles])
	}
	if files[0] != "/tmp/a.go" || files[1] != "/tmp/b.go" {
		t.Errorf("got files %v, want the stored paths", files)
	}
	if !got.Timestamp.Equal(baseTime) {
		t.Errorf("got timestamp %v, want %v", got.Timestamp, baseTime)
	}
}

func TestReopen_KeepsMessages(t *testing.T) {
	t.Parallel()
	dbPath := filepath.Join(t.TempDir(), "messages.db")

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	seedMessages(t, s, "sess", 2)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	page, err := reopened.Read("sess", ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	assertIDs(t, page.Messages, "m1", "m2")
}
