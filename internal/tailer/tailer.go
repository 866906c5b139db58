// Package tailer watches a single session log file and emits complete lines
// as they are appended. Change detection is dual: an fsnotify watch on the
// containing directory (debounced to coalesce bursty writes) plus a periodic
// poll that covers watch-mechanism gaps. Both paths converge on one
// read-new-content operation executed by the run loop goroutine, so at most
// one read is ever in flight per file.
package tailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"

	"tailfeed/internal/types"
)

// =============================================================================
// EVENTS
// =============================================================================

// EventType represents the kind of a tailer event.
type EventType int

const (
	EventLine   EventType = iota // a complete log line
	EventRotate                  // file shrank below the last offset; counters reset
	EventError                   // recoverable I/O failure; tailing continues
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EventLine:
		return "line"
	case EventRotate:
		return "rotate"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one tailer emission. Line is set for EventLine, Err for EventError.
type Event struct {
	Type EventType
	Line types.LogLine
	Err  error
}

// =============================================================================
// OPTIONS
// =============================================================================

// Options tune the tailer's timing and buffering. Zero values take defaults.
type Options struct {
	PollInterval   time.Duration // fallback read cadence, default 1s
	DebounceWindow time.Duration // write-burst coalescing window, default 100ms
	BufferSize     int           // events channel capacity, default 256
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 100 * time.Millisecond
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 256
	}
	return o
}

// =============================================================================
// TAILER
// =============================================================================

// Tailer produces a gap-free, duplicate-free sequence of LogLine values as
// the file at path grows, starting from byte 0 of existing content. A file
// that does not exist yet is not an error; the tailer waits for it to appear.
type Tailer struct {
	path string
	dir  string
	name string
	opts Options
	log  *slog.Logger

	events  chan Event
	trigger chan struct{} // coalesced read requests from watch events

	watcher *fsnotify.Watcher
	watched bool

	// Read state, owned by the run loop goroutine.
	offset  int64
	lineNum int
	partial []byte

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

// New creates a tailer for the given file path. Call Start to begin reading.
func New(path string, opts Options, logger *slog.Logger) *Tailer {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	return &Tailer{
		path:    path,
		dir:     filepath.Dir(path),
		name:    filepath.Base(path),
		opts:    opts,
		log:     logger.With("path", path),
		events:  make(chan Event, opts.BufferSize),
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start begins tailing. Existing content is read from byte 0 and emitted as
// complete lines before any live updates. If the watch mechanism cannot be
// set up the tailer still runs in poll-only mode.
func (t *Tailer) Start(ctx context.Context) {
	if t.started {
		return
	}
	t.started = true
	t.ctx, t.cancel = context.WithCancel(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.log.Warn("fsnotify unavailable, polling only", "error", err)
	} else {
		t.watcher = watcher
		t.ensureWatch()
	}

	go t.run()
}

// Events returns the tailer's emission channel. It is closed after Stop.
func (t *Tailer) Events() <-chan Event {
	return t.events
}

// Stop cancels the watch and all timers, waits for the run loop to exit, and
// closes the events channel. No emissions occur after Stop returns. Safe to
// call more than once.
func (t *Tailer) Stop() {
	t.stopOnce.Do(func() {
		if !t.started {
			t.started = true // a later Start must not resurrect the tailer
			close(t.events)
			close(t.done)
			return
		}
		t.cancel()
		<-t.done
	})
}

// =============================================================================
// RUN LOOP
// =============================================================================

func (t *Tailer) run() {
	defer close(t.done)
	defer close(t.events)
	if t.watcher != nil {
		defer t.watcher.Close()
	}

	// Initial read of whatever is already present.
	t.readNew()

	debounced := debounce.New(t.opts.DebounceWindow)
	poll := time.NewTicker(t.opts.PollInterval)
	defer poll.Stop()

	var watchEvents chan fsnotify.Event
	var watchErrors chan error
	if t.watcher != nil {
		watchEvents = t.watcher.Events
		watchErrors = t.watcher.Errors
	}

	for {
		select {
		case <-t.ctx.Done():
			return

		case event, ok := <-watchEvents:
			if !ok {
				watchEvents = nil
				continue
			}
			if filepath.Base(event.Name) != t.name {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				debounced(t.requestRead)
			}

		case err, ok := <-watchErrors:
			if !ok {
				watchErrors = nil
				continue
			}
			if !t.emit(Event{Type: EventError, Err: fmt.Errorf("watch %s: %w", t.path, err)}) {
				return
			}

		case <-t.trigger:
			t.readNew()

		case <-poll.C:
			t.ensureWatch()
			t.readNew()
		}
	}
}

// requestRead funnels a debounced watch notification into the run loop. The
// trigger channel has capacity 1, so pending requests coalesce.
func (t *Tailer) requestRead() {
	select {
	case t.trigger <- struct{}{}:
	default:
	}
}

// ensureWatch retries adding the directory watch until it succeeds; the
// directory may not exist when tailing starts.
func (t *Tailer) ensureWatch() {
	if t.watcher == nil || t.watched {
		return
	}
	if err := t.watcher.Add(t.dir); err != nil {
		t.log.Debug("watch not established yet", "dir", t.dir, "error", err)
		return
	}
	t.watched = true
}

// =============================================================================
// READING
// =============================================================================

// readNew reads everything appended since the last recorded offset and emits
// the complete lines found. Only the run loop goroutine calls this.
func (t *Tailer) readNew() {
	file, err := os.Open(t.path)
	if err != nil {
		// A file that does not exist yet is the expected starting state.
		if !errors.Is(err, fs.ErrNotExist) {
			t.emit(Event{Type: EventError, Err: fmt.Errorf("open %s: %w", t.path, err)})
		}
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		t.emit(Event{Type: EventError, Err: fmt.Errorf("stat %s: %w", t.path, err)})
		return
	}

	size := info.Size()
	if size < t.offset {
		// The file shrank: treat as rotation. Cannot distinguish a true
		// rotate from a shrink-and-regrow; logs here are append-only in
		// normal operation.
		t.log.Debug("rotation detected", "size", size, "offset", t.offset)
		t.offset = 0
		t.lineNum = 0
		t.partial = nil
		if !t.emit(Event{Type: EventRotate}) {
			return
		}
	}
	if size == t.offset {
		return
	}

	if _, err := file.Seek(t.offset, io.SeekStart); err != nil {
		t.emit(Event{Type: EventError, Err: fmt.Errorf("seek %s: %w", t.path, err)})
		return
	}

	// Read exactly the delta; bytes past the stat size may be mid-write.
	data, err := io.ReadAll(io.LimitReader(file, size-t.offset))
	t.offset += int64(len(data))
	if len(data) > 0 {
		t.splitLines(data)
	}
	if err != nil {
		t.emit(Event{Type: EventError, Err: fmt.Errorf("read %s: %w", t.path, err)})
	}
}

// splitLines appends data to the held partial and emits every complete
// newline-terminated line. The trailing remainder is held for the next read.
func (t *Tailer) splitLines(data []byte) {
	buf := append(t.partial, data...)
	t.partial = nil

	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSuffix(buf[:idx], []byte{'\r'})
		buf = buf[idx+1:]

		t.lineNum++
		emitted := t.emit(Event{Type: EventLine, Line: types.LogLine{
			Content:   string(line),
			Timestamp: time.Now(),
			Number:    t.lineNum,
		}})
		if !emitted {
			return
		}
	}

	if len(buf) > 0 {
		// Copy: buf may share its backing array with the caller's data.
		t.partial = append([]byte(nil), buf...)
	}
}

// emit delivers an event unless the tailer is stopping. Returns false when
// the context is done and the caller should abandon the current read.
func (t *Tailer) emit(event Event) bool {
	select {
	case t.events <- event:
		return true
	case <-t.ctx.Done():
		return false
	}
}
