// Package types provides conversion helpers from content blocks to emitted
// message content. This is the single source of truth for block rendering,
// shared by the reducer's incremental and snapshot-replay paths.
package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// CONTENT BLOCK SELECTION
// =============================================================================

// BlocksOfKind returns the turn's content blocks of one kind, preserving
// their array order.
func (m *TurnMessage) BlocksOfKind(kind string) []ContentBlock {
	var blocks []ContentBlock
	for _, block := range m.Content {
		if block.Type == kind {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// =============================================================================
// TOOL USE RENDERING
// =============================================================================

// maxToolValueLen bounds a single rendered parameter value in a tool summary.
const maxToolValueLen = 80

// ToolSummary renders a one-line description of a tool_use block, e.g.
// `read_file(path=/src/main.go)`. Parameters are sorted by key so the
// rendering is deterministic; identity hashing depends on that.
func ToolSummary(block ContentBlock) string {
	name := block.Name
	if name == "" {
		name = "tool"
	}

	input, ok := block.Input.(map[string]any)
	if !ok || len(input) == 0 {
		return name + "()"
	}

	keys := make([]string, 0, len(input))
	for key := range input {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+renderToolValue(input[key]))
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(parts, ", "))
}

// renderToolValue formats a single tool input value for display, truncating
// long strings and collapsing structured values to compact JSON.
func renderToolValue(value any) string {
	var rendered string
	switch v := value.(type) {
	case string:
		rendered = v
	case nil:
		rendered = "null"
	case bool, float64:
		rendered = fmt.Sprintf("%v", v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			rendered = fmt.Sprintf("%v", v)
		} else {
			rendered = string(encoded)
		}
	}

	rendered = strings.ReplaceAll(rendered, "\n", " ")
	if len(rendered) > maxToolValueLen {
		rendered = rendered[:maxToolValueLen-3] + "..."
	}
	return rendered
}

// =============================================================================
// FILE PATH EXTRACTION
// =============================================================================

// filePathKeys are tool input fields that conventionally carry file paths.
var filePathKeys = []string{"file_path", "path", "notebook_path", "cwd"}

// ToolFilePaths extracts file-path-like fields from a tool input. Returns nil
// when the input is not an object or carries no recognized path fields.
func ToolFilePaths(input any) []string {
	inputMap, ok := input.(map[string]any)
	if !ok {
		return nil
	}

	var paths []string
	for _, key := range filePathKeys {
		if value := getString(inputMap, key); value != "" {
			paths = append(paths, value)
		}
	}
	return paths
}

// getString safely extracts a string value from a raw map.
func getString(m map[string]any, key string) string {
	value, _ := m[key].(string)
	return value
}
