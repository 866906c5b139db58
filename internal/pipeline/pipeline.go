// Package pipeline wires one session's tailer, decoder, reducer, and
// fanout into a running unit, and manages the set of live pipelines.
package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"tailfeed/internal/feed"
	"tailfeed/internal/reducer"
	"tailfeed/internal/tailer"
	"tailfeed/internal/types"
)

// Pipeline runs one session end to end: tailed lines are decoded into
// records, reduced to thread messages, and fanned out. All reducer access
// happens on the single run goroutine; Flush runs only after that
// goroutine has exited.
type Pipeline struct {
	sessionID string
	logPath   string
	tailer    *tailer.Tailer
	reducer   *reducer.Reducer
	fanout    *feed.Fanout
	log       *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
}

func newPipeline(sessionID, logPath string, opts tailer.Options, fanout *feed.Fanout, logger *slog.Logger) *Pipeline {
	log := logger.With("session", sessionID)
	return &Pipeline{
		sessionID: sessionID,
		logPath:   logPath,
		tailer:    tailer.New(logPath, opts, logger),
		reducer:   reducer.New(sessionID, logger),
		fanout:    fanout,
		log:       log,
		done:      make(chan struct{}),
	}
}

func (p *Pipeline) start(ctx context.Context) {
	p.tailer.Start(ctx)
	go p.run()
}

// run consumes tail events until the tailer's channel closes.
func (p *Pipeline) run() {
	defer close(p.done)
	for event := range p.tailer.Events() {
		switch event.Type {
		case tailer.EventLine:
			p.handleLine(event.Line)
		case tailer.EventRotate:
			p.log.Info("log rotated, conversation state reset")
			p.reducer.Reset()
		case tailer.EventError:
			p.log.Warn("tail error", "error", event.Err)
			p.fanout.Status(p.sessionID, feed.StatusError, event.Err.Error())
		}
	}
}

// handleLine decodes one line and emits whatever the reducer finalizes. A
// record that advances state without emitting (a snapshot arriving, for
// example) surfaces as a processing status so live clients see activity.
func (p *Pipeline) handleLine(line types.LogLine) {
	record, ok := types.DecodeLogLine(line.Content)
	if !ok {
		return
	}

	messages := p.reducer.Reduce(record)
	if len(messages) == 0 {
		if record.Event != nil {
			p.fanout.Status(p.sessionID, feed.StatusProcessing, record.Event.Kind.String())
		}
		return
	}
	p.fanout.EmitAll(p.sessionID, messages)
}

// stop halts tailing, waits for the run loop to drain, then flushes the
// reducer and emits anything it finalizes. Synchronous and idempotent.
func (p *Pipeline) stop() {
	p.stopOnce.Do(func() {
		p.tailer.Stop()
		<-p.done

		flushed := p.reducer.Flush()
		if len(flushed) > 0 {
			p.log.Info("conversation flushed", "messages", len(flushed))
			p.fanout.EmitAll(p.sessionID, flushed)
		}
	})
}
