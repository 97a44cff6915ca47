// Package turn serializes conversational turns. The capability
// registry's normalized tool-definition cache and its diagnostic hook
// slots are shared process-wide, so only one reasoning-loop invocation
// may be in flight at a time; the coordinator owns that lock and
// builds per-turn diagnostics while holding it.
package turn

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AbdulShahzeb/CAAL/internal/capability"
	"github.com/AbdulShahzeb/CAAL/internal/session"
)

// Runner is the narrow slice of the reasoning loop the coordinator
// drives. Each front end (HTTP API, MQTT satellite, CLI) goes through
// the same entry point with its own adapter around the result.
type Runner interface {
	Run(ctx context.Context, sess *session.Session, systemPrompt, userMessage string) (string, error)
}

// Backend bundles what a turn executes against: the reasoning loop,
// the capability registry it instruments, and the rendered system
// prompt. Reload builds a fresh bundle and swaps it in whole.
type Backend struct {
	Registry     *capability.Registry
	Runner       Runner
	SystemPrompt string
}

// ToolInvocation records one tool call made during a turn.
type ToolInvocation struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Diagnostics describes what happened during one verbose turn.
type Diagnostics struct {
	ToolCalls       []ToolInvocation        `json:"tool_calls,omitempty"`
	NewCacheEntries []session.ToolDataEntry `json:"new_cache_entries,omitempty"`
	InputTokens     int                     `json:"input_tokens"`
	ExactTokens     bool                    `json:"exact_tokens"`
	OutputTokens    int                     `json:"output_tokens,omitempty"`
	TurnIndex       int                     `json:"turn_index"`
	CacheEntries    int                     `json:"cache_entries"`
	CacheCapacity   int                     `json:"cache_capacity"`
	Duration        time.Duration           `json:"duration_ns"`
}

// Result is a completed turn.
type Result struct {
	Reply       string
	Diagnostics *Diagnostics // nil unless verbose was requested
}

// Coordinator owns the process-wide turn lock and the backend every
// turn runs against. The backend is only read under the lock, so a
// swap can never strand a running turn on a torn-down registry.
type Coordinator struct {
	mu      sync.Mutex
	backend *Backend
	logger  *slog.Logger
}

// NewCoordinator creates a coordinator over the given backend.
func NewCoordinator(backend *Backend, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{backend: backend, logger: logger}
}

// Swap installs a new backend and returns the previous one. It takes
// the turn lock, so by the time it returns no turn is running against
// the old backend and the caller may safely tear it down.
func (c *Coordinator) Swap(backend *Backend) *Backend {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.backend
	c.backend = backend
	return old
}

// Execute runs one turn under the global lock. Hooks are installed
// before the runner is invoked and removed after it returns, still
// under the lock, so a concurrent turn can never observe them.
func (c *Coordinator) Execute(ctx context.Context, sess *session.Session, userMessage string, verbose bool) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.backend
	start := time.Now()

	var (
		toolCalls    []ToolInvocation
		inputTokens  int
		outputTokens int
		exact        bool
	)
	before := sess.ToolCache.Snapshot()

	b.Registry.SetHooks(capability.Hooks{
		OnToolCall: func(name string, args map[string]any) {
			toolCalls = append(toolCalls, ToolInvocation{Name: name, Args: args})
		},
		OnUsage: func(in, out int) {
			inputTokens, outputTokens, exact = in, out, true
		},
	})
	defer b.Registry.ClearHooks()

	reply, err := b.Runner.Run(ctx, sess, b.SystemPrompt, userMessage)
	if err != nil {
		return nil, err
	}

	result := &Result{Reply: reply}
	if verbose {
		if !exact {
			inputTokens = estimateInput(ctx, b, sess)
		}
		result.Diagnostics = &Diagnostics{
			ToolCalls:       toolCalls,
			NewCacheEntries: newEntries(before, sess.ToolCache.Snapshot()),
			InputTokens:     inputTokens,
			ExactTokens:     exact,
			OutputTokens:    outputTokens,
			TurnIndex:       sess.MessageCount() / 2,
			CacheEntries:    sess.ToolCache.Len(),
			CacheCapacity:   sess.ToolCache.Capacity(),
			Duration:        time.Since(start),
		}
	}

	c.logger.Info("turn complete",
		"session_id", sess.ID,
		"tool_calls", len(toolCalls),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return result, nil
}

// newEntries returns the cache entries present in after but not in
// before, compared by timestamp. Eviction keeps the entry count
// constant once the cache is full, so length comparison cannot detect
// new writes.
func newEntries(before, after []session.ToolDataEntry) []session.ToolDataEntry {
	seen := make(map[time.Time]bool, len(before))
	for _, e := range before {
		seen[e.Timestamp] = true
	}

	var out []session.ToolDataEntry
	for _, e := range after {
		if !seen[e.Timestamp] {
			out = append(out, e)
		}
	}
	return out
}

// estimateInput approximates the prompt token count when the provider
// did not report one: word count of everything sent to the model,
// scaled by 1.3.
func estimateInput(ctx context.Context, b *Backend, sess *session.Session) int {
	var sb strings.Builder
	sb.WriteString(b.SystemPrompt)
	sb.WriteByte('\n')
	sb.WriteString(sess.ToolCache.ContextMessage())
	sb.WriteByte('\n')
	for _, m := range sess.Messages() {
		sb.WriteString(m.Content)
		sb.WriteByte('\n')
	}
	if defs := b.Registry.ToolDefinitions(ctx); len(defs) > 0 {
		if raw, err := json.Marshal(defs); err == nil {
			sb.Write(raw)
		}
	}
	return estimateTokens(sb.String())
}

// estimateTokens is the word-count heuristic: words x 1.3.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(float64(words) * 1.3)
}
