// Package reducer maintains per-session conversation state and turns decoded
// log records into an ordered, deduplicated sequence of thread messages.
//
// The conversation grows two ways at once: full snapshots that supersede each
// other wholesale, and incremental message events emitted as they happen.
// Incremental events are emitted immediately; snapshots are held and replayed
// by Flush, with content-derived identity collapsing anything already emitted.
package reducer

import (
	"log/slog"
	"time"

	"tailfeed/internal/types"
)

// =============================================================================
// REDUCER
// =============================================================================

// Reducer consumes decoded log records for one session. It is not safe for
// concurrent use: the pipeline feeds it from a single goroutine in
// line-arrival order, which the non-commutative state transitions require.
type Reducer struct {
	sessionID string
	log       *slog.Logger

	latestSnapshot *types.ThreadSnapshot
	lastSnapshotAt time.Time
	flushed        bool
	seen           map[string]struct{}
	threadID       string
	threadTitle    string
}

// New creates a reducer with fresh state for one session.
func New(sessionID string, logger *slog.Logger) *Reducer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reducer{
		sessionID: sessionID,
		log:       logger.With("session", sessionID),
		seen:      make(map[string]struct{}),
	}
}

// ThreadID returns the conversation's log-level identity, when known.
func (r *Reducer) ThreadID() string {
	return r.threadID
}

// ThreadTitle returns the latest known conversation title.
func (r *Reducer) ThreadTitle() string {
	return r.threadTitle
}

// =============================================================================
// RECORD PROCESSING
// =============================================================================

// Reduce processes one decoded record and returns the messages it emits, in
// emission order. A single record may produce several emissions: its event,
// its piped input, and its raw output are processed independently, in that
// order.
func (r *Reducer) Reduce(record *types.LogRecord) []types.ThreadMessage {
	if record == nil {
		return nil
	}

	var out []types.ThreadMessage
	pipedConsumed := false

	if event := record.Event; event != nil {
		switch {
		case event.Kind.IsSnapshot():
			r.applySnapshot(event.Thread, record.Timestamp)

		case event.Kind == types.EventThreadTitle:
			r.threadTitle = event.Title

		case event.Kind == types.EventMessage:
			out = append(out, r.emitTurn(event.Message, record.Timestamp)...)

		case event.Kind == types.EventAcceptMessage:
			if record.PipedInput != "" {
				if msg := r.emit(types.MessageUser, record.PipedInput, record.Timestamp, nil); msg != nil {
					out = append(out, *msg)
				}
				pipedConsumed = true
			}
		}
	}

	if record.PipedInput != "" && !pipedConsumed {
		if msg := r.emit(types.MessageUser, record.PipedInput, record.Timestamp, nil); msg != nil {
			out = append(out, *msg)
		}
	}
	if record.Out != "" {
		if msg := r.emit(types.MessageAssistant, record.Out, record.Timestamp, nil); msg != nil {
			out = append(out, *msg)
		}
	}

	return out
}

// applySnapshot replaces the held snapshot wholesale. Snapshots are never
// merged: each one already contains the complete conversation-so-far.
func (r *Reducer) applySnapshot(snapshot *types.ThreadSnapshot, ts time.Time) {
	if snapshot == nil {
		return
	}
	r.latestSnapshot = snapshot
	r.lastSnapshotAt = ts
	r.flushed = false
	if snapshot.ID != "" {
		r.threadID = snapshot.ID
	}
	if snapshot.Title != "" {
		// An empty snapshot title does not erase one learned from a
		// thread-title event.
		r.threadTitle = snapshot.Title
	}
}

// =============================================================================
// TURN EMISSION
// =============================================================================

// emitTurn runs one conversational turn through the emission logic. For
// assistant turns the output order is fixed regardless of block order in the
// source: all thinking, then all tool uses, then all text.
func (r *Reducer) emitTurn(turn *types.TurnMessage, ts time.Time) []types.ThreadMessage {
	if turn == nil {
		return nil
	}

	var out []types.ThreadMessage
	appendMsg := func(msg *types.ThreadMessage) {
		if msg != nil {
			out = append(out, *msg)
		}
	}

	switch turn.Role {
	case types.RoleUser:
		for _, block := range turn.BlocksOfKind(types.BlockText) {
			appendMsg(r.emit(types.MessageUser, block.Text, ts, nil))
		}

	case types.RoleAssistant:
		for _, block := range turn.BlocksOfKind(types.BlockThinking) {
			appendMsg(r.emit(types.MessageAssistant, block.Thinking, ts, map[string]any{
				types.MetaThinking: true,
			}))
		}
		for _, block := range turn.BlocksOfKind(types.BlockToolUse) {
			appendMsg(r.emitToolUse(block, ts))
		}
		for _, block := range turn.BlocksOfKind(types.BlockText) {
			appendMsg(r.emit(types.MessageAssistant, block.Text, ts, nil))
		}

	case types.RoleSystem:
		for _, block := range turn.BlocksOfKind(types.BlockText) {
			appendMsg(r.emit(types.MessageSystem, block.Text, ts, nil))
		}
	}

	return out
}

// emitToolUse emits one tool_use block as a tool-typed message whose content
// is the rendered summary and whose metadata carries the structured call.
func (r *Reducer) emitToolUse(block types.ContentBlock, ts time.Time) *types.ThreadMessage {
	metadata := make(map[string]any)
	if block.Name != "" {
		metadata[types.MetaToolName] = block.Name
	}
	if block.ID != "" {
		metadata[types.MetaToolID] = block.ID
	}
	if block.Input != nil {
		metadata[types.MetaToolInput] = block.Input
	}
	if files := types.ToolFilePaths(block.Input); len(files) > 0 {
		metadata[types.MetaFiles] = files
	}
	if len(metadata) == 0 {
		metadata = nil
	}
	return r.emit(types.MessageTool, types.ToolSummary(block), ts, metadata)
}

// emit is the dedup gate every candidate passes through. Returns nil for
// empty content and for ids already seen this session.
func (r *Reducer) emit(msgType types.MessageType, content string, ts time.Time, metadata map[string]any) *types.ThreadMessage {
	if content == "" {
		return nil
	}
	id := types.MessageID(msgType, ts, content)
	if _, dup := r.seen[id]; dup {
		r.log.Debug("duplicate emission dropped", "id", id, "type", msgType)
		return nil
	}
	r.seen[id] = struct{}{}

	return &types.ThreadMessage{
		ID:        id,
		Type:      msgType,
		Content:   content,
		Timestamp: ts,
		Metadata:  metadata,
	}
}

// =============================================================================
// FLUSH AND RESET
// =============================================================================

// Flush finalizes the conversation: an optional system message carrying the
// thread title, then a replay of the latest snapshot through the same
// emission logic, naturally deduplicated against everything already emitted
// incrementally. No-op when already flushed; a newer snapshot re-arms it.
func (r *Reducer) Flush() []types.ThreadMessage {
	if r.flushed {
		return nil
	}
	r.flushed = true

	ts := r.lastSnapshotAt
	if ts.IsZero() {
		ts = time.Now()
	}

	var out []types.ThreadMessage
	if r.threadTitle != "" {
		metadata := map[string]any{types.MetaThreadTitle: r.threadTitle}
		if r.threadID != "" {
			metadata[types.MetaThreadID] = r.threadID
		}
		if msg := r.emit(types.MessageSystem, r.threadTitle, ts, metadata); msg != nil {
			out = append(out, *msg)
		}
	}
	if r.latestSnapshot != nil {
		for i := range r.latestSnapshot.Messages {
			out = append(out, r.emitTurn(&r.latestSnapshot.Messages[i], ts)...)
		}
	}
	return out
}

// Reset discards all conversation state. Invoked on file rotation: content
// before the rotation is a closed chapter.
func (r *Reducer) Reset() {
	r.latestSnapshot = nil
	r.lastSnapshotAt = time.Time{}
	r.flushed = false
	r.seen = make(map[string]struct{})
	r.threadID = ""
	r.threadTitle = ""
}
