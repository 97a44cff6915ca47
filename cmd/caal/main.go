// CAAL is a self-hosted conversational agent for the home: it fronts a
// local (or OpenAI-compatible) LLM with tools discovered from n8n
// workflows, Home Assistant, and web search, and serves conversations
// over HTTP and MQTT voice satellites.
//
// Usage:
//
//	caal serve               Start the API server (and MQTT bridge if enabled)
//	caal ask <question>      Ask a single question from the terminal
//	caal version             Print version and build information
//	caal -o json version     Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/AbdulShahzeb/CAAL/internal/agent"
	"github.com/AbdulShahzeb/CAAL/internal/api"
	"github.com/AbdulShahzeb/CAAL/internal/buildinfo"
	"github.com/AbdulShahzeb/CAAL/internal/capability"
	"github.com/AbdulShahzeb/CAAL/internal/config"
	"github.com/AbdulShahzeb/CAAL/internal/llm"
	"github.com/AbdulShahzeb/CAAL/internal/prompts"
	"github.com/AbdulShahzeb/CAAL/internal/satellite"
	"github.com/AbdulShahzeb/CAAL/internal/session"
	"github.com/AbdulShahzeb/CAAL/internal/turn"
	"github.com/AbdulShahzeb/CAAL/internal/websearch"
)

// main constructs the OS-level environment and delegates to run, which
// keeps os.Exit and os.Args out of the application logic so the full
// lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run parses arguments by hand: the flag package's package-level state
// gets in the way of calling run concurrently from tests, and the
// argument surface is small.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var verbose bool
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case args[i] == "-v" || args[i] == "-verbose" || args[i] == "--verbose":
			verbose = true
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: caal ask <question>")
		}
		return runAsk(ctx, stdout, configPath, strings.Join(cmdArgs, " "), verbose)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// loadConfig locates and loads the YAML config.
func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// newLogger builds the process logger with the trace level rendered by
// name instead of "DEBUG-4".
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// buildBackend assembles the chat engine from configuration: LLM
// client, search manager, capability registry, reasoning loop, and the
// rendered system prompt. It is also the factory the reload endpoint
// uses to rebuild everything.
func buildBackend(cfg *config.Config, logger *slog.Logger) (*turn.Backend, error) {
	llmClient, err := llm.FromConfig(cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	var search *websearch.Manager
	if cfg.Search.SearXNG.URL != "" || cfg.Search.Brave.APIKey != "" {
		search, err = websearch.NewManager(cfg.Search, llmClient, logger)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Info("web search not configured, tool disabled")
	}

	registry := capability.NewRegistry(cfg, search, logger)
	loop := agent.New(llmClient, registry, cfg.Chat.MaxToolRounds, logger)

	prompt, err := prompts.Load(cfg.Prompt.File)
	if err != nil {
		return nil, err
	}
	systemPrompt := prompts.Render(prompt, cfg.Prompt.TimezoneID, cfg.Prompt.TimezoneDisplay, cfg.Prompt.Language)

	return &turn.Backend{
		Registry:     registry,
		Runner:       loop,
		SystemPrompt: systemPrompt,
	}, nil
}

// runServe starts the API server, the session sweep, and (when
// enabled) the MQTT satellite bridge, then blocks until SIGINT/SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, level)
	slog.SetDefault(logger)

	logger.Info("starting CAAL", "version", buildinfo.Version, "config", cfgPath)

	backend, err := buildBackend(cfg, logger)
	if err != nil {
		return err
	}

	sessions := session.NewRegistry(
		time.Duration(cfg.Chat.SessionTTLMinutes)*time.Minute,
		cfg.Chat.MaxTurns,
		cfg.Chat.ToolCacheSize,
		logger,
	)
	sessions.Start()
	defer sessions.Stop()

	server := api.NewServer(cfgPath, cfg, backend, sessions, buildBackend, logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var bridge *satellite.Bridge
	if cfg.MQTT.Enabled {
		bridge = satellite.NewBridge(cfg.MQTT, server.Ask, logger)
		go func() {
			if err := bridge.Start(ctx); err != nil {
				logger.Error("mqtt bridge failed", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if bridge != nil {
		if err := bridge.Stop(shutdownCtx); err != nil {
			logger.Warn("mqtt bridge shutdown", "error", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	backend.Registry.Close()
	return nil
}

// runAsk processes one question from the terminal without starting the
// server. Verbose mode prints the turn diagnostics in color.
func runAsk(ctx context.Context, stdout io.Writer, configPath, question string, verbose bool) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	logger := newLogger(stdout, level)

	backend, err := buildBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Registry.Close()

	sess := session.New("cli", cfg.Chat.MaxTurns, cfg.Chat.ToolCacheSize)
	coord := turn.NewCoordinator(backend, logger)

	color.New(color.FgCyan, color.Bold).Fprintf(stdout, "> %s\n", question)

	result, err := coord.Execute(ctx, sess, question, verbose)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, result.Reply)

	if d := result.Diagnostics; d != nil {
		dim := color.New(color.Faint)
		yellow := color.New(color.FgYellow)

		dim.Fprintln(stdout, "---")
		for _, call := range d.ToolCalls {
			args, _ := json.Marshal(call.Args)
			yellow.Fprintf(stdout, "tool: %s %s\n", call.Name, args)
		}
		tokenKind := "estimated"
		if d.ExactTokens {
			tokenKind = "exact"
		}
		dim.Fprintf(stdout, "input tokens: %d (%s)\n", d.InputTokens, tokenKind)
		dim.Fprintf(stdout, "turn: %d, cache: %d/%d, took %s\n",
			d.TurnIndex, d.CacheEntries, d.CacheCapacity, d.Duration.Round(time.Millisecond))
	}
	return nil
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "CAAL - Conversational Agent for the Local home")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: caal [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server and MQTT satellite bridge")
	fmt.Fprintln(w, "  ask          Ask a single question from the terminal")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -v, --verbose     Show turn diagnostics (ask)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/caal/config.yaml, /etc/caal/config.yaml")
	return nil
}
