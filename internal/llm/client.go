package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AbdulShahzeb/CAAL/internal/config"
)

// Client is the interface that all LLM providers implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	// tools is the normalized tool-definition list; nil disables tools.
	Chat(ctx context.Context, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Model returns the configured model name (for diagnostics).
	Model() string

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// FromConfig constructs the provider selected in cfg.
func FromConfig(cfg config.LLMConfig, logger *slog.Logger) (Client, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaClient(cfg.Ollama, logger), nil
	case "openai":
		return NewOpenAIClient(cfg.OpenAI, logger), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
