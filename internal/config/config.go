// Package config handles CAAL configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/caal/config.yaml, /etc/caal/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "caal", "config.yaml"))
	}

	paths = append(paths, "/etc/caal/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all CAAL configuration.
type Config struct {
	Listen   ListenConfig      `yaml:"listen"`
	LLM      LLMConfig         `yaml:"llm"`
	MCP      []MCPServerConfig `yaml:"mcp_servers"`
	Chat     ChatConfig        `yaml:"chat"`
	Search   SearchConfig      `yaml:"search"`
	MQTT     MQTTConfig        `yaml:"mqtt"`
	Prompt   PromptConfig      `yaml:"prompt"`
	LogLevel string            `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`    // Default: 8889
}

// LLMConfig selects and configures the chat provider.
type LLMConfig struct {
	Provider string       `yaml:"provider"` // ollama, openai
	Ollama   OllamaConfig `yaml:"ollama"`
	OpenAI   OpenAIConfig `yaml:"openai"`
}

// OllamaConfig defines the Ollama provider settings.
type OllamaConfig struct {
	URL         string  `yaml:"url"`   // Default: http://localhost:11434
	Model       string  `yaml:"model"` // e.g. qwen3:8b
	NumCtx      int     `yaml:"num_ctx"`
	Temperature float64 `yaml:"temperature"`
}

// OpenAIConfig defines an OpenAI-compatible provider (OpenAI, Groq,
// OpenRouter, vLLM, ...). BaseURL selects the endpoint.
type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// MCPServerConfig defines one MCP server connection. Transport selects
// between a remote HTTP endpoint and a local subprocess.
type MCPServerConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // http, stdio
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       []string          `yaml:"env"`
	// WebhookURL is the base URL for webhook-triggered workflow
	// execution (n8n only). Defaults to the scheme://host of URL.
	WebhookURL string `yaml:"webhook_url"`
}

// ChatConfig defines conversation limits shared by all front ends.
type ChatConfig struct {
	// MaxTurns is the sliding-window size in user+assistant pairs.
	MaxTurns int `yaml:"max_turns"`
	// ToolCacheSize is the per-session tool data cache capacity.
	ToolCacheSize int `yaml:"tool_cache_size"`
	// SessionTTLMinutes is the idle expiry for chat sessions.
	SessionTTLMinutes int `yaml:"session_ttl_minutes"`
	// MaxToolRounds bounds tool-calling rounds within one turn.
	MaxToolRounds int `yaml:"max_tool_rounds"`
}

// SearchConfig defines the web search tool settings.
type SearchConfig struct {
	Provider   string        `yaml:"provider"` // searxng, brave
	SearXNG    SearXNGConfig `yaml:"searxng"`
	Brave      BraveConfig   `yaml:"brave"`
	MaxResults int           `yaml:"max_results"`
	TimeoutSec int           `yaml:"timeout_sec"`
}

// SearXNGConfig holds the SearXNG instance URL.
type SearXNGConfig struct {
	URL string `yaml:"url"`
}

// BraveConfig holds the Brave Search API key.
type BraveConfig struct {
	APIKey string `yaml:"api_key"`
}

// MQTTConfig defines the satellite bridge settings. When enabled, CAAL
// subscribes to ask topics from ESP32 voice satellites and publishes
// replies over the same broker.
type MQTTConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Broker     string `yaml:"broker"` // e.g. mqtt://192.168.1.10:1883
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	DeviceName string `yaml:"device_name"` // Default: caal
}

// PromptConfig defines the system prompt source and its date/time context.
type PromptConfig struct {
	File            string `yaml:"file"`
	TimezoneID      string `yaml:"timezone_id"`      // IANA zone, e.g. America/Los_Angeles
	TimezoneDisplay string `yaml:"timezone_display"` // e.g. Pacific Time
	Language        string `yaml:"language"`         // Default: en
}

// envOverrides are applied on top of the YAML file. Names follow the
// CAAL_ prefix convention (e.g. CAAL_OLLAMA_MODEL). Secrets are the
// primary use case so they can stay out of the config file.
type envOverrides struct {
	LogLevel      string `envconfig:"LOG_LEVEL"`
	OllamaURL     string `envconfig:"OLLAMA_URL"`
	OllamaModel   string `envconfig:"OLLAMA_MODEL"`
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
	OpenAIModel   string `envconfig:"OPENAI_MODEL"`
	BraveAPIKey   string `envconfig:"BRAVE_API_KEY"`
	MQTTPassword  string `envconfig:"MQTT_PASSWORD"`
	MaxTurns      int    `envconfig:"MAX_TURNS"`
	ToolCacheSize int    `envconfig:"TOOL_CACHE_SIZE"`
}

// Load reads configuration from a YAML file, expands environment
// variables in the raw document, applies CAAL_* env overrides, and
// fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand ${VAR} references before parsing.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	var env envOverrides
	if err := envconfig.Process("caal", &env); err != nil {
		return nil, fmt.Errorf("process env overrides: %w", err)
	}
	cfg.applyEnv(env)

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv(env envOverrides) {
	if env.LogLevel != "" {
		c.LogLevel = env.LogLevel
	}
	if env.OllamaURL != "" {
		c.LLM.Ollama.URL = env.OllamaURL
	}
	if env.OllamaModel != "" {
		c.LLM.Ollama.Model = env.OllamaModel
	}
	if env.OpenAIAPIKey != "" {
		c.LLM.OpenAI.APIKey = env.OpenAIAPIKey
	}
	if env.OpenAIModel != "" {
		c.LLM.OpenAI.Model = env.OpenAIModel
	}
	if env.BraveAPIKey != "" {
		c.Search.Brave.APIKey = env.BraveAPIKey
	}
	if env.MQTTPassword != "" {
		c.MQTT.Password = env.MQTTPassword
	}
	if env.MaxTurns > 0 {
		c.Chat.MaxTurns = env.MaxTurns
	}
	if env.ToolCacheSize > 0 {
		c.Chat.ToolCacheSize = env.ToolCacheSize
	}
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8889
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "ollama"
	}
	if c.LLM.Ollama.URL == "" {
		c.LLM.Ollama.URL = "http://localhost:11434"
	}
	if c.Chat.MaxTurns == 0 {
		c.Chat.MaxTurns = 20
	}
	if c.Chat.ToolCacheSize == 0 {
		c.Chat.ToolCacheSize = 3
	}
	if c.Chat.SessionTTLMinutes == 0 {
		c.Chat.SessionTTLMinutes = 30
	}
	if c.Chat.MaxToolRounds == 0 {
		c.Chat.MaxToolRounds = 5
	}
	if c.Search.Provider == "" {
		c.Search.Provider = "searxng"
	}
	if c.Search.MaxResults == 0 {
		c.Search.MaxResults = 5
	}
	if c.Search.TimeoutSec == 0 {
		c.Search.TimeoutSec = 10
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "caal"
	}
	if c.Prompt.TimezoneID == "" {
		c.Prompt.TimezoneID = "America/Los_Angeles"
	}
	if c.Prompt.TimezoneDisplay == "" {
		c.Prompt.TimezoneDisplay = "Pacific Time"
	}
	if c.Prompt.Language == "" {
		c.Prompt.Language = "en"
	}
}

// Validate checks for configuration errors that would otherwise surface
// as confusing runtime failures.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "ollama":
		if c.LLM.Ollama.Model == "" {
			return fmt.Errorf("llm.ollama.model is required for provider ollama")
		}
	case "openai":
		if c.LLM.OpenAI.BaseURL == "" {
			return fmt.Errorf("llm.openai.base_url is required for provider openai")
		}
		if c.LLM.OpenAI.Model == "" {
			return fmt.Errorf("llm.openai.model is required for provider openai")
		}
	default:
		return fmt.Errorf("unknown llm.provider %q (valid: ollama, openai)", c.LLM.Provider)
	}

	seen := make(map[string]bool, len(c.MCP))
	for _, s := range c.MCP {
		if s.Name == "" {
			return fmt.Errorf("mcp_servers entry missing name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate mcp_servers name %q", s.Name)
		}
		seen[s.Name] = true

		switch s.Transport {
		case "http", "":
			if s.URL == "" {
				return fmt.Errorf("mcp_servers %q: url is required for http transport", s.Name)
			}
		case "stdio":
			if s.Command == "" {
				return fmt.Errorf("mcp_servers %q: command is required for stdio transport", s.Name)
			}
		default:
			return fmt.Errorf("mcp_servers %q: unknown transport %q (valid: http, stdio)", s.Name, s.Transport)
		}
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enabled is true")
	}

	return nil
}
