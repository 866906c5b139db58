// Package types provides shared type definitions for tailfeed.
// These types are used across the tailer, reducer, feed, and store packages.
package types

import "time"

// =============================================================================
// LOG LINE / LOG RECORD (from tailed JSONL)
// =============================================================================

// LogLine is one complete newline-terminated line captured from a session log.
// Produced once per append by the tailer, never mutated, consumed exactly once
// by the decoder.
type LogLine struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`  // capture time, not log time
	Number    int       `json:"lineNumber"` // 1-based, resets on rotation
}

// LogRecord is a decoded log line. Which of the optional fields are populated
// discriminates what the record describes; a single record may populate
// several of Event, Out, and PipedInput.
type LogRecord struct {
	Timestamp  time.Time   // parsed permissively, wall clock on failure
	Level      string      // info, warn, error, debug
	Message    string      // human-readable log text
	Event      *AgentEvent // structured agent event, nil when absent
	Out        string      // raw process output attributable to the assistant
	PipedInput string      // raw piped input attributable to the user
}

// =============================================================================
// CONVERSATION SNAPSHOT TYPES (event payloads)
// =============================================================================

// ThreadSnapshot is the full known state of a conversation at a point in time.
// Later snapshots supersede earlier ones wholesale; they are never merged.
type ThreadSnapshot struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Messages []TurnMessage `json:"messages"`
}

// TurnMessage is a single conversational turn inside a snapshot or an
// incremental message event. One turn may carry multiple content blocks of
// different kinds.
type TurnMessage struct {
	Role    string         `json:"role"` // user, assistant, system
	Content []ContentBlock `json:"content"`
}

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ContentBlock is a single content block within a turn.
// Field names align with the agent log schema for direct parsing.
type ContentBlock struct {
	Type string `json:"type"` // text, thinking, tool_use

	// Text block fields
	Text string `json:"text,omitempty"`

	// Thinking block fields (type: "thinking")
	Thinking string `json:"thinking,omitempty"`

	// Tool use block fields (type: "tool_use")
	ID    string `json:"id,omitempty"`    // Tool use ID
	Name  string `json:"name,omitempty"`  // Tool name (e.g., "read_file", "bash")
	Input any    `json:"input,omitempty"` // Tool input parameters
}

// Content block kinds.
const (
	BlockText     = "text"
	BlockThinking = "thinking"
	BlockToolUse  = "tool_use"
)

// =============================================================================
// THREAD MESSAGE (the emitted, externally visible unit)
// =============================================================================

// MessageType is the kind of an emitted ThreadMessage.
type MessageType string

const (
	MessageUser      MessageType = "user"
	MessageAssistant MessageType = "assistant"
	MessageSystem    MessageType = "system"
	MessageTool      MessageType = "tool"
)

// ThreadMessage is a deduplicated, typed unit of conversation output. Its ID
// is content-derived (see MessageID), so the same logical message surfacing
// in multiple snapshots collapses to one stored and delivered message.
type ThreadMessage struct {
	ID        string         `json:"id"`
	Type      MessageType    `json:"type"` // user, assistant, system, tool
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Metadata keys attached to emitted messages.
const (
	MetaThinking    = "thinking"    // bool, set on assistant thinking emissions
	MetaToolName    = "toolName"    // string
	MetaToolID      = "toolId"      // string
	MetaToolInput   = "toolInput"   // raw input value
	MetaFiles       = "files"       // []string, file paths referenced by a tool
	MetaThreadID    = "threadId"    // string
	MetaThreadTitle = "threadTitle" // string
)
