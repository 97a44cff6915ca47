package websearch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AbdulShahzeb/CAAL/internal/config"
	"github.com/AbdulShahzeb/CAAL/internal/llm"
)

type fakeProvider struct {
	results []Result
	err     error
}

func (f *fakeProvider) Search(_ context.Context, _ string, _ int) ([]Result, error) {
	return f.results, f.err
}

func (f *fakeProvider) Name() string { return "fake" }

type fakeLLM struct {
	reply string
	err   error
}

func (f *fakeLLM) Chat(_ context.Context, _ []llm.Message, _ []map[string]any) (*llm.ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: f.reply}}, nil
}

func (f *fakeLLM) Model() string                { return "fake" }
func (f *fakeLLM) Ping(_ context.Context) error { return nil }

func TestRunSummarizes(t *testing.T) {
	m, _ := NewManager(config.SearchConfig{
		Provider:   "searxng",
		SearXNG:    config.SearXNGConfig{URL: "http://localhost"},
		MaxResults: 5,
		TimeoutSec: 10,
	}, &fakeLLM{reply: "It will be sunny tomorrow."}, nil)
	m.provider = &fakeProvider{results: []Result{{Title: "Weather", Snippet: "sunny", URL: "http://x"}}}

	got := m.Run(context.Background(), "weather tomorrow")
	if got != "It will be sunny tomorrow." {
		t.Errorf("Run = %q", got)
	}
}

func TestRunSearchFailureFallback(t *testing.T) {
	m, _ := NewManager(config.SearchConfig{
		Provider:   "searxng",
		SearXNG:    config.SearXNGConfig{URL: "http://localhost"},
		MaxResults: 5,
		TimeoutSec: 10,
	}, &fakeLLM{}, nil)
	m.provider = &fakeProvider{err: fmt.Errorf("connection refused")}

	if got := m.Run(context.Background(), "anything"); got != msgSearchFailed {
		t.Errorf("Run = %q, want fallback", got)
	}
}

func TestRunNoResults(t *testing.T) {
	m, _ := NewManager(config.SearchConfig{
		Provider:   "searxng",
		SearXNG:    config.SearXNGConfig{URL: "http://localhost"},
		MaxResults: 5,
		TimeoutSec: 10,
	}, &fakeLLM{}, nil)
	m.provider = &fakeProvider{}

	if got := m.Run(context.Background(), "obscure query"); got != msgNoResults {
		t.Errorf("Run = %q, want no-results fallback", got)
	}
}

func TestRunSummarizerFailureFallback(t *testing.T) {
	m, _ := NewManager(config.SearchConfig{
		Provider:   "searxng",
		SearXNG:    config.SearXNGConfig{URL: "http://localhost"},
		MaxResults: 5,
		TimeoutSec: 10,
	}, &fakeLLM{err: fmt.Errorf("model busy")}, nil)
	m.provider = &fakeProvider{results: []Result{{Title: "Hit"}}}

	if got := m.Run(context.Background(), "q"); got != msgSummaryFailed {
		t.Errorf("Run = %q, want summary fallback", got)
	}
}

func TestRunNilSummarizerReturnsRaw(t *testing.T) {
	m, _ := NewManager(config.SearchConfig{
		Provider:   "searxng",
		SearXNG:    config.SearXNGConfig{URL: "http://localhost"},
		MaxResults: 5,
		TimeoutSec: 10,
	}, nil, nil)
	m.provider = &fakeProvider{results: []Result{{Title: "Go 1.24 released", Snippet: "news", URL: "http://go.dev"}}}

	got := m.Run(context.Background(), "go release")
	if !strings.Contains(got, "Go 1.24 released") {
		t.Errorf("Run = %q, want raw results", got)
	}
}

func TestNewManagerValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.SearchConfig
	}{
		{"unknown provider", config.SearchConfig{Provider: "bing"}},
		{"searxng without url", config.SearchConfig{Provider: "searxng"}},
		{"brave without key", config.SearchConfig{Provider: "brave"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewManager(tt.cfg, nil, nil); err == nil {
				t.Error("NewManager succeeded, want error")
			}
		})
	}
}

func TestSearXNGSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("format") != "json" {
			t.Error("format != json")
		}
		w.Write([]byte(`{"results": [
			{"title": "A", "url": "http://a", "content": "aaa"},
			{"title": "B", "url": "http://b", "content": "bbb"},
			{"title": "C", "url": "http://c", "content": "ccc"}
		]}`))
	}))
	defer srv.Close()

	p := NewSearXNG(srv.URL, nil)
	results, err := p.Search(context.Background(), "query", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 (capped)", len(results))
	}
	if results[0].Title != "A" || results[0].Snippet != "aaa" {
		t.Errorf("result 0 = %+v", results[0])
	}
}

func TestBraveSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Subscription-Token"); got != "bsk-test" {
			t.Errorf("token = %q", got)
		}
		w.Write([]byte(`{"web": {"results": [
			{"title": "Hit", "url": "http://hit", "description": "desc"}
		]}}`))
	}))
	defer srv.Close()

	p := NewBrave("bsk-test", nil)
	p.endpoint = srv.URL
	results, err := p.Search(context.Background(), "query", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "Hit" {
		t.Errorf("results = %+v", results)
	}
}

func TestToolDefinition(t *testing.T) {
	def := ToolDefinition()
	fn := def["function"].(map[string]any)
	if fn["name"] != "web_search" {
		t.Errorf("name = %v", fn["name"])
	}
}
