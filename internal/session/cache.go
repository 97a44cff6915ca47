// Package session manages chat sessions: sliding-window message
// history, the per-session tool data cache, and the registry that
// tracks live sessions and expires idle ones.
package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ToolDataEntry is one structured tool result stored in the cache.
type ToolDataEntry struct {
	Timestamp time.Time `json:"timestamp"`
	ToolName  string    `json:"tool_name"`
	Data      any       `json:"data"`
}

// ToolDataCache is a bounded FIFO of structured tool results for one
// session. When full, the oldest entry (by insertion order) is evicted
// to make room. Not safe for concurrent use on its own; the owning
// session serializes access.
type ToolDataCache struct {
	mu       sync.Mutex
	capacity int
	entries  []ToolDataEntry
}

// NewToolDataCache creates a cache holding at most capacity entries.
func NewToolDataCache(capacity int) *ToolDataCache {
	if capacity <= 0 {
		capacity = 3
	}
	return &ToolDataCache{capacity: capacity}
}

// Add appends a tool result, evicting the oldest entry if the cache is full.
func (c *ToolDataCache) Add(toolName string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.capacity {
		c.entries = c.entries[1:]
	}
	c.entries = append(c.entries, ToolDataEntry{
		Timestamp: time.Now(),
		ToolName:  toolName,
		Data:      data,
	})
}

// Clear empties the cache.
func (c *ToolDataCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}

// Len returns the current entry count.
func (c *ToolDataCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Capacity returns the configured maximum entry count.
func (c *ToolDataCache) Capacity() int {
	return c.capacity
}

// Snapshot returns a copy of the current entries in insertion order.
// Diagnostics diff snapshots by timestamp: once the cache is full,
// eviction keeps the length constant, so length alone cannot tell
// whether a turn added anything.
func (c *ToolDataCache) Snapshot() []ToolDataEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ToolDataEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// ContextMessage renders the current entries as a text block for the
// model's prompt. Returns "" when the cache is empty. The rendering is
// recomputed on every call; entries change every turn so caching the
// string would only go stale.
func (c *ToolDataCache) ContextMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Recent tool results (most recent last):\n")
	for _, e := range c.entries {
		fmt.Fprintf(&b, "- %s: %s\n", e.ToolName, compactData(e.Data))
	}
	return b.String()
}

// compactData renders tool result data on a single line.
func compactData(data any) string {
	switch v := data.(type) {
	case nil:
		return "null"
	case string:
		return strings.ReplaceAll(v, "\n", " ")
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}
