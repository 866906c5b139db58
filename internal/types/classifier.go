// Package types provides log record decoding using the Discriminated Union
// pattern. The `type` field of the nested event object acts as the
// discriminator (tag) that determines which payload field is populated.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// AGENT EVENT CLASSIFIER
// =============================================================================

// AgentEventKind represents the classified kind of an embedded agent event.
type AgentEventKind int

const (
	EventUnknown AgentEventKind = iota
	EventThreadState
	EventThreadCreated
	EventThreadUpdated
	EventThreadTitle
	EventMessage
	EventAcceptMessage
)

// String returns a human-readable name for the event kind.
func (k AgentEventKind) String() string {
	switch k {
	case EventThreadState:
		return "thread-state"
	case EventThreadCreated:
		return "thread-created"
	case EventThreadUpdated:
		return "thread-updated"
	case EventThreadTitle:
		return "thread-title"
	case EventMessage:
		return "message"
	case EventAcceptMessage:
		return "accept-message"
	default:
		return "unknown"
	}
}

// IsSnapshot reports whether the kind carries a full conversation snapshot.
func (k AgentEventKind) IsSnapshot() bool {
	return k == EventThreadState || k == EventThreadCreated || k == EventThreadUpdated
}

// AgentEvent holds the parsed agent event with its classified kind.
// Only ONE of the payload pointers will be non-nil based on Kind.
type AgentEvent struct {
	Kind AgentEventKind
	Raw  json.RawMessage // Preserved for re-parsing if needed

	// Only ONE of these will be non-nil based on Kind
	Thread  *ThreadSnapshot // thread-state, thread-created, thread-updated
	Title   string          // thread-title
	Message *TurnMessage    // message
}

// ClassifyAgentEvent parses an embedded event object and returns a classified
// event. It uses two-pass parsing: first extracting the discriminator, then
// parsing into the correct concrete payload.
func ClassifyAgentEvent(raw json.RawMessage) (*AgentEvent, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty event")
	}

	// First pass: extract discriminator
	var discriminator struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &discriminator); err != nil {
		return nil, fmt.Errorf("failed to parse discriminator: %w", err)
	}

	result := &AgentEvent{
		Raw: raw,
	}

	// Second pass: parse into correct payload based on discriminator
	switch discriminator.Type {
	case "thread-state", "thread-created", "thread-updated":
		switch discriminator.Type {
		case "thread-created":
			result.Kind = EventThreadCreated
		case "thread-updated":
			result.Kind = EventThreadUpdated
		default:
			result.Kind = EventThreadState
		}
		var payload struct {
			Thread *ThreadSnapshot `json:"thread"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("failed to parse %s event: %w", discriminator.Type, err)
		}
		if payload.Thread == nil {
			return nil, fmt.Errorf("%s event missing thread payload", discriminator.Type)
		}
		result.Thread = payload.Thread

	case "thread-title":
		result.Kind = EventThreadTitle
		var payload struct {
			Title string `json:"title"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("failed to parse thread-title event: %w", err)
		}
		result.Title = payload.Title

	case "message":
		result.Kind = EventMessage
		var payload struct {
			Message *TurnMessage `json:"message"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("failed to parse message event: %w", err)
		}
		if payload.Message == nil {
			return nil, fmt.Errorf("message event missing message payload")
		}
		result.Message = payload.Message

	case "accept-message":
		// No payload of its own; the piped input rides on the enclosing
		// record.
		result.Kind = EventAcceptMessage

	default:
		result.Kind = EventUnknown
	}

	return result, nil
}

// =============================================================================
// LOG LINE DECODER
// =============================================================================

// DecodeLogLine decodes one raw log line into a LogRecord. The second return
// is false when the line should be skipped: not valid JSON, or missing any of
// the required timestamp/level/message fields. Skipping is the tolerance
// policy for this log format, not an error.
func DecodeLogLine(raw string) (*LogRecord, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed[0] != '{' {
		return nil, false
	}

	var envelope struct {
		Timestamp  json.RawMessage `json:"timestamp"`
		Level      *string         `json:"level"`
		Message    *string         `json:"message"`
		Event      json.RawMessage `json:"event,omitempty"`
		Out        *string         `json:"out,omitempty"`
		PipedInput *string         `json:"pipedInput,omitempty"`
	}
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		return nil, false
	}
	if len(envelope.Timestamp) == 0 || envelope.Level == nil || envelope.Message == nil {
		return nil, false
	}

	record := &LogRecord{
		Timestamp: ParseTimestamp(envelope.Timestamp),
		Level:     *envelope.Level,
		Message:   *envelope.Message,
	}
	if envelope.Out != nil {
		record.Out = *envelope.Out
	}
	if envelope.PipedInput != nil {
		record.PipedInput = *envelope.PipedInput
	}
	if len(envelope.Event) > 0 && string(envelope.Event) != "null" {
		// A malformed event does not invalidate the rest of the record;
		// out/pipedInput may still carry usable content.
		if event, err := ClassifyAgentEvent(envelope.Event); err == nil {
			record.Event = event
		}
	}

	return record, true
}

// timestampLayouts are tried in order by ParseTimestamp.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses a raw timestamp value permissively. String values are
// tried against the known layouts; numeric values are read as epoch seconds
// or milliseconds. On any failure it returns the current wall-clock time:
// timestamps here are best-effort ordering hints, not correctness-critical
// keys.
func ParseTimestamp(raw json.RawMessage) time.Time {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, asString); err == nil {
				return ts
			}
		}
		return time.Now()
	}

	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		// Heuristic: values past ~2001-09 in milliseconds are epoch millis.
		if asNumber > 1e12 {
			return time.UnixMilli(int64(asNumber))
		}
		return time.Unix(int64(asNumber), 0)
	}

	return time.Now()
}
