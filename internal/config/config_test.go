package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: ollama
  ollama:
    model: qwen3:8b
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Listen.Port != 8889 {
		t.Errorf("Listen.Port = %d, want 8889", cfg.Listen.Port)
	}
	if cfg.LLM.Ollama.URL != "http://localhost:11434" {
		t.Errorf("Ollama.URL = %q", cfg.LLM.Ollama.URL)
	}
	if cfg.Chat.MaxTurns != 20 {
		t.Errorf("Chat.MaxTurns = %d, want 20", cfg.Chat.MaxTurns)
	}
	if cfg.Chat.ToolCacheSize != 3 {
		t.Errorf("Chat.ToolCacheSize = %d, want 3", cfg.Chat.ToolCacheSize)
	}
	if cfg.Chat.SessionTTLMinutes != 30 {
		t.Errorf("Chat.SessionTTLMinutes = %d, want 30", cfg.Chat.SessionTTLMinutes)
	}
	if cfg.Search.Provider != "searxng" {
		t.Errorf("Search.Provider = %q, want searxng", cfg.Search.Provider)
	}
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("TEST_N8N_TOKEN", "secret123")

	path := writeConfig(t, `
llm:
  provider: ollama
  ollama:
    model: qwen3:8b
mcp_servers:
  - name: n8n
    transport: http
    url: http://n8n.local:5678/mcp-server/http
    headers:
      Authorization: "Bearer ${TEST_N8N_TOKEN}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := cfg.MCP[0].Headers["Authorization"]; got != "Bearer secret123" {
		t.Errorf("Authorization = %q, want expanded token", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CAAL_OLLAMA_MODEL", "llama3.3:70b")
	t.Setenv("CAAL_TOOL_CACHE_SIZE", "5")

	path := writeConfig(t, `
llm:
  provider: ollama
  ollama:
    model: qwen3:8b
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LLM.Ollama.Model != "llama3.3:70b" {
		t.Errorf("Ollama.Model = %q, want env override", cfg.LLM.Ollama.Model)
	}
	if cfg.Chat.ToolCacheSize != 5 {
		t.Errorf("ToolCacheSize = %d, want 5", cfg.Chat.ToolCacheSize)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing ollama model",
			yaml: "llm:\n  provider: ollama\n",
		},
		{
			name: "unknown provider",
			yaml: "llm:\n  provider: bedrock\n",
		},
		{
			name: "http server without url",
			yaml: "llm:\n  provider: ollama\n  ollama:\n    model: m\nmcp_servers:\n  - name: n8n\n    transport: http\n",
		},
		{
			name: "stdio server without command",
			yaml: "llm:\n  provider: ollama\n  ollama:\n    model: m\nmcp_servers:\n  - name: files\n    transport: stdio\n",
		},
		{
			name: "duplicate server name",
			yaml: "llm:\n  provider: ollama\n  ollama:\n    model: m\nmcp_servers:\n  - name: a\n    url: http://x\n  - name: a\n    url: http://y\n",
		},
		{
			name: "mqtt enabled without broker",
			yaml: "llm:\n  provider: ollama\n  ollama:\n    model: m\nmqtt:\n  enabled: true\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.yaml)
			if _, err := Load(path); err == nil {
				t.Error("Load succeeded, want validation error")
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"trace", LevelTrace, false},
		{"debug", slog.LevelDebug, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{" debug ", slog.LevelDebug, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLogLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
