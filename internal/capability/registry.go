// Package capability aggregates every tool source CAAL can offer the
// model: n8n workflow tools, Home Assistant tools, web search, and any
// other configured MCP server. The registry initializes lazily on
// first use and hands the reasoning loop one normalized tool list plus
// a dispatcher that routes calls to the right backend.
package capability

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AbdulShahzeb/CAAL/internal/config"
	"github.com/AbdulShahzeb/CAAL/internal/mcp"
	"github.com/AbdulShahzeb/CAAL/internal/smarthome"
	"github.com/AbdulShahzeb/CAAL/internal/websearch"
	"github.com/AbdulShahzeb/CAAL/internal/workflow"
)

// initTimeout bounds the whole lazy initialization sequence.
const initTimeout = 30 * time.Second

// Hooks are per-turn diagnostic callbacks. The turn coordinator
// installs them under its lock before a turn and removes them after,
// so concurrent turns never see each other's hooks.
type Hooks struct {
	// OnToolCall fires for every dispatched tool invocation.
	OnToolCall func(name string, args map[string]any)
	// OnUsage fires when the provider reports exact prompt-token usage.
	OnUsage func(inputTokens, outputTokens int)
}

// Registry is the process-wide tool source aggregate.
type Registry struct {
	cfg    *config.Config
	search *websearch.Manager // nil when search is unconfigured
	logger *slog.Logger

	ready  atomic.Bool
	initMu sync.Mutex

	mu            sync.RWMutex
	servers       map[string]*mcp.Client
	serverByTool  map[string]string // generic MCP tool -> server name
	workflowTools []workflow.Tool
	workflowNames map[string]string // tool name -> original workflow name
	executor      *workflow.Executor
	homeTools     []smarthome.Tool
	homeCalls     map[string]smarthome.Callable
	defCache      []map[string]any

	hooks Hooks
}

// NewRegistry creates an uninitialized registry. Initialization is
// deferred to the first EnsureInitialized call.
func NewRegistry(cfg *config.Config, search *websearch.Manager, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:           cfg,
		search:        search,
		logger:        logger,
		servers:       make(map[string]*mcp.Client),
		serverByTool:  make(map[string]string),
		workflowNames: make(map[string]string),
		homeCalls:     make(map[string]smarthome.Callable),
	}
}

// EnsureInitialized runs the expensive setup exactly once, even when
// several turns race to trigger first use. Repeat callers take the
// unguarded fast path; losers of the race wait on the init lock and
// then observe the populated registry. Per-source failures are logged
// and skipped: one unreachable server never blocks the rest, and the
// registry always reaches ready state.
func (r *Registry) EnsureInitialized(ctx context.Context) {
	if r.ready.Load() {
		return
	}

	r.initMu.Lock()
	defer r.initMu.Unlock()
	if r.ready.Load() {
		return
	}

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()
	r.initialize(initCtx)

	r.ready.Store(true)
}

// initialize connects the configured MCP servers and builds tool
// sources from each. Caller holds initMu.
func (r *Registry) initialize(ctx context.Context) {
	start := time.Now()

	for _, sc := range r.cfg.MCP {
		client, err := connect(ctx, sc, r.logger)
		if err != nil {
			r.logger.Warn("MCP server unavailable, continuing without it",
				"server", sc.Name, "error", err)
			continue
		}

		r.mu.Lock()
		r.servers[sc.Name] = client
		r.mu.Unlock()

		switch {
		case isWorkflowServer(sc.Name):
			r.discoverWorkflows(ctx, sc, client)
		case isSmartHomeServer(sc.Name):
			r.buildSmartHome(ctx, client)
		default:
			r.indexServerTools(ctx, sc.Name, client)
		}
	}

	r.InvalidateDefinitions()

	r.mu.RLock()
	r.logger.Info("capability registry initialized",
		"servers", len(r.servers),
		"workflow_tools", len(r.workflowTools),
		"smarthome_tools", len(r.homeTools),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	r.mu.RUnlock()
}

func (r *Registry) discoverWorkflows(ctx context.Context, sc config.MCPServerConfig, client *mcp.Client) {
	tools, nameMap := workflow.NewDiscoverer(client, r.logger).Discover(ctx)

	base := sc.WebhookURL
	if base == "" {
		base = workflow.WebhookBaseFromURL(sc.URL)
	}

	r.mu.Lock()
	r.workflowTools = tools
	r.workflowNames = nameMap
	r.executor = workflow.NewExecutor(base, r.logger)
	r.mu.Unlock()
}

func (r *Registry) buildSmartHome(ctx context.Context, client *mcp.Client) {
	tools, callables, err := smarthome.Build(ctx, client, r.logger)
	if err != nil {
		r.logger.Warn("smart-home tools unavailable", "error", err)
		return
	}

	r.mu.Lock()
	r.homeTools = tools
	r.homeCalls = callables
	r.mu.Unlock()
}

func (r *Registry) indexServerTools(ctx context.Context, serverName string, client *mcp.Client) {
	defs, err := client.ListTools(ctx)
	if err != nil {
		r.logger.Warn("listing tools failed", "server", serverName, "error", err)
		return
	}

	r.mu.Lock()
	for _, def := range defs {
		if _, taken := r.serverByTool[def.Name]; taken {
			r.logger.Warn("duplicate tool name, keeping first",
				"tool", def.Name, "server", serverName)
			continue
		}
		r.serverByTool[def.Name] = serverName
	}
	r.mu.Unlock()
}

// connect builds the transport for one server config and performs the
// MCP handshake.
func connect(ctx context.Context, sc config.MCPServerConfig, logger *slog.Logger) (*mcp.Client, error) {
	var transport mcp.Transport
	switch sc.Transport {
	case "http", "":
		transport = mcp.NewHTTPTransport(mcp.HTTPConfig{
			URL:     sc.URL,
			Headers: sc.Headers,
			Logger:  logger,
		})
	case "stdio":
		transport = mcp.NewStdioTransport(sc.Command, sc.Args, sc.Env, logger)
	default:
		return nil, fmt.Errorf("unknown transport %q", sc.Transport)
	}

	client := mcp.NewClient(sc.Name, transport, logger)
	if err := client.Initialize(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// isWorkflowServer reports whether the server carries n8n workflows.
func isWorkflowServer(name string) bool {
	return strings.Contains(strings.ToLower(name), "n8n")
}

// isSmartHomeServer reports whether the server is Home Assistant.
func isSmartHomeServer(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "hass") || strings.Contains(n, "home")
}

// ToolDefinitions returns the normalized tool list for the model. The
// list is cached; InvalidateDefinitions forces a rebuild after any
// source changes.
func (r *Registry) ToolDefinitions(ctx context.Context) []map[string]any {
	r.mu.RLock()
	if r.defCache != nil {
		defer r.mu.RUnlock()
		return r.defCache
	}
	r.mu.RUnlock()

	defs := r.buildDefinitions(ctx)

	r.mu.Lock()
	r.defCache = defs
	r.mu.Unlock()
	return defs
}

// InvalidateDefinitions drops the normalized tool-definition cache.
func (r *Registry) InvalidateDefinitions() {
	r.mu.Lock()
	r.defCache = nil
	r.mu.Unlock()
}

func (r *Registry) buildDefinitions(ctx context.Context) []map[string]any {
	r.mu.RLock()
	workflowTools := r.workflowTools
	homeTools := r.homeTools
	serverByTool := make(map[string]string, len(r.serverByTool))
	for k, v := range r.serverByTool {
		serverByTool[k] = v
	}
	r.mu.RUnlock()

	var defs []map[string]any

	for _, t := range workflowTools {
		defs = append(defs, functionDef(t.Name, t.Description, t.Parameters))
	}
	for _, t := range homeTools {
		defs = append(defs, functionDef(t.Name, t.Description, t.Parameters))
	}
	if r.search != nil {
		defs = append(defs, websearch.ToolDefinition())
	}

	for toolName, serverName := range serverByTool {
		client := r.server(serverName)
		if client == nil {
			continue
		}
		serverDefs, err := client.ListTools(ctx)
		if err != nil {
			r.logger.Warn("listing tools failed", "server", serverName, "error", err)
			continue
		}
		for _, d := range serverDefs {
			if d.Name != toolName {
				continue
			}
			defs = append(defs, functionDef(d.Name, d.Description, d.InputSchema))
		}
	}

	return defs
}

func functionDef(name, description string, parameters map[string]any) map[string]any {
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        name,
			"description": description,
			"parameters":  parameters,
		},
	}
}

// Dispatch routes one tool call to its backend. Execution failures are
// returned to the caller: the reasoning loop must see a failed tool.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	hook := r.hooks.OnToolCall
	workflowName, isWorkflow := r.workflowNames[name]
	executor := r.executor
	callable, isHome := r.homeCalls[name]
	serverName, isGeneric := r.serverByTool[name]
	r.mu.RUnlock()

	if hook != nil {
		hook(name, args)
	}

	switch {
	case isWorkflow && executor != nil:
		return executor.Execute(ctx, workflowName, args)

	case isHome:
		return callable(ctx, args)

	case name == "web_search" && r.search != nil:
		query, _ := args["query"].(string)
		return r.search.Run(ctx, query), nil

	case isGeneric:
		client := r.server(serverName)
		if client == nil {
			return "", fmt.Errorf("server %s for tool %s is gone", serverName, name)
		}
		return client.CallTool(ctx, name, args)
	}

	return "", fmt.Errorf("unknown tool %q", name)
}

// ReportUsage forwards provider token usage to the installed hook.
func (r *Registry) ReportUsage(inputTokens, outputTokens int) {
	r.mu.RLock()
	hook := r.hooks.OnUsage
	r.mu.RUnlock()
	if hook != nil {
		hook(inputTokens, outputTokens)
	}
}

// SetHooks installs per-turn diagnostic callbacks.
func (r *Registry) SetHooks(h Hooks) {
	r.mu.Lock()
	r.hooks = h
	r.mu.Unlock()
}

// ClearHooks removes the per-turn callbacks.
func (r *Registry) ClearHooks() {
	r.mu.Lock()
	r.hooks = Hooks{}
	r.mu.Unlock()
}

// server returns the connected client by name, nil if absent.
func (r *Registry) server(name string) *mcp.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.servers[name]
}

// ToolCount returns the size of the normalized tool list.
func (r *Registry) ToolCount(ctx context.Context) int {
	return len(r.ToolDefinitions(ctx))
}

// Ready reports whether initialization has completed.
func (r *Registry) Ready() bool {
	return r.ready.Load()
}

// Close shuts down all MCP clients. The registry is unusable afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, client := range r.servers {
		if err := client.Close(); err != nil {
			r.logger.Warn("closing MCP client failed", "server", name, "error", err)
		}
	}
	r.servers = make(map[string]*mcp.Client)
}
