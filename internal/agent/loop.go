// Package agent implements the reasoning loop: it feeds the session
// history and tool definitions to the LLM, executes the tool calls the
// model asks for, and iterates until the model produces a plain answer
// or the round budget runs out.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/AbdulShahzeb/CAAL/internal/capability"
	"github.com/AbdulShahzeb/CAAL/internal/llm"
	"github.com/AbdulShahzeb/CAAL/internal/session"
)

// Loop drives one conversational turn at a time.
type Loop struct {
	llm           llm.Client
	registry      *capability.Registry
	maxToolRounds int
	logger        *slog.Logger
}

// New creates a reasoning loop.
func New(client llm.Client, registry *capability.Registry, maxToolRounds int, logger *slog.Logger) *Loop {
	if maxToolRounds <= 0 {
		maxToolRounds = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		llm:           client,
		registry:      registry,
		maxToolRounds: maxToolRounds,
		logger:        logger,
	}
}

// Run executes one turn: append the user message, let the model call
// tools for up to maxToolRounds rounds, append and return the final
// reply. Structured tool results land in the session's tool cache;
// only the user and assistant text enter the sliding-window history.
func (l *Loop) Run(ctx context.Context, sess *session.Session, systemPrompt, userMessage string) (string, error) {
	l.registry.EnsureInitialized(ctx)

	sess.Append(llm.Message{Role: "user", Content: userMessage})

	tools := l.registry.ToolDefinitions(ctx)
	messages := l.buildMessages(sess, systemPrompt)

	for round := 0; round < l.maxToolRounds; round++ {
		resp, err := l.llm.Chat(ctx, messages, tools)
		if err != nil {
			return "", fmt.Errorf("chat round %d: %w", round+1, err)
		}
		if tokens, exact := resp.Usage(); exact {
			l.registry.ReportUsage(tokens, resp.OutputTokens)
		}

		if len(resp.Message.ToolCalls) == 0 {
			reply := resp.Message.Content
			sess.Append(llm.Message{Role: "assistant", Content: reply})
			return reply, nil
		}

		messages = append(messages, resp.Message)
		for _, call := range resp.Message.ToolCalls {
			messages = append(messages, l.executeTool(ctx, sess, call))
		}
	}

	// Round budget exhausted: one last call without tools forces a
	// plain answer out of the model.
	l.logger.Warn("tool round budget exhausted", "rounds", l.maxToolRounds)
	resp, err := l.llm.Chat(ctx, messages, nil)
	if err != nil {
		return "", fmt.Errorf("final chat: %w", err)
	}
	if tokens, exact := resp.Usage(); exact {
		l.registry.ReportUsage(tokens, resp.OutputTokens)
	}

	reply := resp.Message.Content
	sess.Append(llm.Message{Role: "assistant", Content: reply})
	return reply, nil
}

// executeTool dispatches one tool call and returns the tool message
// for the next round. Failures become the tool result text so the
// model can react instead of the turn crashing.
func (l *Loop) executeTool(ctx context.Context, sess *session.Session, call llm.ToolCall) llm.Message {
	name := call.Function.Name
	l.logger.Info("tool call", "tool", name, "args", call.Function.Arguments)

	result, err := l.registry.Dispatch(ctx, name, call.Function.Arguments)
	if err != nil {
		l.logger.Warn("tool call failed", "tool", name, "error", err)
		result = fmt.Sprintf("Tool %s failed: %v", name, err)
	} else {
		sess.ToolCache.Add(name, structured(result))
	}

	return llm.Message{
		Role:       "tool",
		Content:    result,
		ToolCallID: call.ID,
	}
}

// buildMessages assembles the prompt: system prompt, cached tool data
// as extra system context, then the history window.
func (l *Loop) buildMessages(sess *session.Session, systemPrompt string) []llm.Message {
	var messages []llm.Message
	if systemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	}
	if cacheCtx := sess.ToolCache.ContextMessage(); cacheCtx != "" {
		messages = append(messages, llm.Message{Role: "system", Content: cacheCtx})
	}
	return append(messages, sess.Messages()...)
}

// structured parses a tool result as JSON where possible so the cache
// holds data, not serialized text.
func structured(result string) any {
	var decoded any
	if err := json.Unmarshal([]byte(result), &decoded); err != nil {
		return result
	}
	return decoded
}
