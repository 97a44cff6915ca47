// Package websearch provides the web_search tool: a pluggable search
// provider (SearXNG or Brave) whose results are condensed into a short
// spoken-style answer by the LLM.
package websearch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AbdulShahzeb/CAAL/internal/config"
	"github.com/AbdulShahzeb/CAAL/internal/llm"
)

// Fallback strings returned instead of errors. Search failures inside
// a tool call should degrade to something speakable, not crash a turn.
const (
	msgNoResults     = "I couldn't find any results for that."
	msgSearchFailed  = "The web search didn't work this time, sorry."
	msgSummaryFailed = "I found some results but couldn't summarize them in time."
)

// Result is one search hit.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// Provider performs the actual search.
type Provider interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
	Name() string
}

// Manager runs searches and summarizes the hits with the LLM.
type Manager struct {
	provider   Provider
	summarizer llm.Client
	maxResults int
	timeout    time.Duration
	logger     *slog.Logger
}

// NewManager builds the search manager from config. summarizer may be
// nil, in which case raw results are returned unsummarized.
func NewManager(cfg config.SearchConfig, summarizer llm.Client, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var provider Provider
	switch cfg.Provider {
	case "searxng":
		if cfg.SearXNG.URL == "" {
			return nil, fmt.Errorf("search.searxng.url is required for provider searxng")
		}
		provider = NewSearXNG(cfg.SearXNG.URL, logger)
	case "brave":
		if cfg.Brave.APIKey == "" {
			return nil, fmt.Errorf("search.brave.api_key is required for provider brave")
		}
		provider = NewBrave(cfg.Brave.APIKey, logger)
	default:
		return nil, fmt.Errorf("unknown search.provider %q (valid: searxng, brave)", cfg.Provider)
	}

	return &Manager{
		provider:   provider,
		summarizer: summarizer,
		maxResults: cfg.MaxResults,
		timeout:    time.Duration(cfg.TimeoutSec) * time.Second,
		logger:     logger,
	}, nil
}

// ToolDefinition is the normalized definition for the web_search tool.
func ToolDefinition() map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        "web_search",
			"description": "Search the web for current information: news, weather, facts, prices, events.",
			"parameters": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The search query",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

// Run executes a search and returns a speakable answer. Every failure
// path returns a fixed fallback string rather than an error.
func (m *Manager) Run(ctx context.Context, query string) string {
	searchCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	results, err := m.provider.Search(searchCtx, query, m.maxResults)
	if err != nil {
		m.logger.Warn("web search failed", "provider", m.provider.Name(), "query", query, "error", err)
		return msgSearchFailed
	}
	if len(results) == 0 {
		return msgNoResults
	}

	if m.summarizer == nil {
		return formatResults(results)
	}
	return m.summarize(ctx, query, results)
}

// summarize asks the LLM to condense the results. A timeout or
// provider error degrades to the fallback message; the raw results are
// already in the tool cache for the next round.
func (m *Manager) summarize(ctx context.Context, query string, results []Result) string {
	sumCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"Summarize these search results for the question %q in 2-3 conversational sentences. "+
			"Only use information from the results.\n\n%s",
		query, formatResults(results))

	resp, err := m.summarizer.Chat(sumCtx, []llm.Message{{Role: "user", Content: prompt}}, nil)
	if err != nil {
		m.logger.Warn("search summarization failed", "query", query, "error", err)
		return msgSummaryFailed
	}

	summary := strings.TrimSpace(resp.Message.Content)
	if summary == "" {
		return msgSummaryFailed
	}
	return summary
}

// formatResults renders the hits as numbered text.
func formatResults(results []Result) string {
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n%s\n%s\n\n", i+1, r.Title, r.Snippet, r.URL)
	}
	return strings.TrimSpace(b.String())
}
