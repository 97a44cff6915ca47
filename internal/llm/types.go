// Package llm provides LLM client implementations.
package llm

import "time"

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall represents a tool call from the model.
type ToolCall struct {
	ID       string `json:"id,omitempty"` // Provider-assigned ID where supported
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

// ChatResponse is the unified response from any LLM provider.
// Wire format conversion happens at provider boundaries
// (ollama.go, openai.go); fields here use proper Go types.
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message
	Done      bool

	// Token usage, provider-neutral. InputTokens is the exact prompt
	// token count when the provider reports one (Ollama's
	// prompt_eval_count, OpenAI's usage.prompt_tokens); zero when the
	// provider stays silent, in which case callers fall back to an
	// estimate.
	InputTokens  int
	OutputTokens int
}

// Usage reports whether the provider supplied an exact prompt-token count.
func (r *ChatResponse) Usage() (inputTokens int, exact bool) {
	return r.InputTokens, r.InputTokens > 0
}
