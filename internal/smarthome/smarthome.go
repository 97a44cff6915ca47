// Package smarthome exposes Home Assistant capabilities as chat tools.
// Home Assistant publishes its intents through an MCP server with a
// vendor naming convention (HassTurnOn, HassLightSet, ...); this
// package probes for that prefix, renames the tools to snake_case
// identifiers the model handles better, and wraps each one in a
// callable bound to the underlying MCP tool.
package smarthome

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/AbdulShahzeb/CAAL/internal/mcp"
)

// Callable invokes one smart-home tool with model-supplied arguments.
type Callable func(ctx context.Context, args map[string]any) (string, error)

// Tool is a normalized smart-home tool definition.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// client is the slice of the MCP client this package needs.
type client interface {
	ListTools(ctx context.Context) ([]mcp.ToolDefinition, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Build lists the server's tools, probes for a shared vendor prefix,
// and returns normalized definitions plus a callable per tool. A
// listing failure is returned to the caller, who treats it as a soft
// per-source failure.
func Build(ctx context.Context, c client, logger *slog.Logger) ([]Tool, map[string]Callable, error) {
	if logger == nil {
		logger = slog.Default()
	}

	defs, err := c.ListTools(ctx)
	if err != nil {
		return nil, nil, err
	}

	prefix := probePrefix(defs)
	if prefix != "" {
		logger.Debug("smart-home tool prefix detected", "prefix", prefix)
	}

	tools := make([]Tool, 0, len(defs))
	callables := make(map[string]Callable, len(defs))

	for _, def := range defs {
		name := normalizeName(def.Name, prefix)
		if name == "" || callables[name] != nil {
			// Collision after renaming; keep the original name.
			name = strings.ToLower(def.Name)
		}

		params := def.InputSchema
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}

		tools = append(tools, Tool{
			Name:        name,
			Description: def.Description,
			Parameters:  params,
		})

		original := def.Name
		callables[name] = func(ctx context.Context, args map[string]any) (string, error) {
			return c.CallTool(ctx, original, args)
		}
	}

	logger.Info("smart-home tools built", "count", len(tools), "prefix", prefix)
	return tools, callables, nil
}

// probePrefix looks for a capitalized vendor prefix shared by most of
// the tool names (Home Assistant uses "Hass"). Returns "" when no
// convention is detected.
func probePrefix(defs []mcp.ToolDefinition) string {
	if len(defs) == 0 {
		return ""
	}

	candidate := leadingWord(defs[0].Name)
	if candidate == "" {
		return ""
	}

	matches := 0
	for _, def := range defs {
		if strings.HasPrefix(def.Name, candidate) {
			matches++
		}
	}
	// Majority convention, not unanimity: servers mix in odd tools.
	if matches*2 > len(defs) {
		return candidate
	}
	return ""
}

// leadingWord returns the first capitalized camel-case word of a name
// ("HassTurnOn" -> "Hass"). Names that are not camel case yield "".
func leadingWord(name string) string {
	if name == "" || !unicode.IsUpper(rune(name[0])) {
		return ""
	}
	for i, r := range name {
		if i > 0 && unicode.IsUpper(r) {
			return name[:i]
		}
	}
	return ""
}

// normalizeName strips the vendor prefix and converts camel case to
// snake case: "HassTurnOn" with prefix "Hass" -> "turn_on".
func normalizeName(name, prefix string) string {
	if prefix != "" {
		name = strings.TrimPrefix(name, prefix)
	}
	if name == "" {
		return ""
	}

	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
