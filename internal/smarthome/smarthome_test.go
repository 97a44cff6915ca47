package smarthome

import (
	"context"
	"fmt"
	"testing"

	"github.com/AbdulShahzeb/CAAL/internal/mcp"
)

type fakeClient struct {
	tools   []mcp.ToolDefinition
	listErr error
	called  []string
}

func (f *fakeClient) ListTools(_ context.Context) ([]mcp.ToolDefinition, error) {
	return f.tools, f.listErr
}

func (f *fakeClient) CallTool(_ context.Context, name string, _ map[string]any) (string, error) {
	f.called = append(f.called, name)
	return "ok", nil
}

func hassTools() []mcp.ToolDefinition {
	return []mcp.ToolDefinition{
		{Name: "HassTurnOn", Description: "Turn on a device", InputSchema: map[string]any{"type": "object"}},
		{Name: "HassTurnOff", Description: "Turn off a device", InputSchema: map[string]any{"type": "object"}},
		{Name: "HassLightSet", Description: "Set light attributes"},
	}
}

func TestBuildStripsPrefix(t *testing.T) {
	fc := &fakeClient{tools: hassTools()}

	tools, callables, err := Build(context.Background(), fc, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := []string{"turn_on", "turn_off", "light_set"}
	if len(tools) != len(want) {
		t.Fatalf("tools = %d, want %d", len(tools), len(want))
	}
	for i, w := range want {
		if tools[i].Name != w {
			t.Errorf("tool %d = %q, want %q", i, tools[i].Name, w)
		}
		if callables[w] == nil {
			t.Errorf("no callable for %q", w)
		}
	}
}

func TestCallableInvokesOriginalName(t *testing.T) {
	fc := &fakeClient{tools: hassTools()}

	_, callables, err := Build(context.Background(), fc, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if _, err := callables["turn_on"](context.Background(), map[string]any{"name": "kitchen light"}); err != nil {
		t.Fatalf("callable: %v", err)
	}
	if len(fc.called) != 1 || fc.called[0] != "HassTurnOn" {
		t.Errorf("called = %v, want [HassTurnOn]", fc.called)
	}
}

func TestBuildNoPrefixConvention(t *testing.T) {
	fc := &fakeClient{tools: []mcp.ToolDefinition{
		{Name: "HassTurnOn"},
		{Name: "get_state"},
		{Name: "restart"},
	}}

	tools, _, err := Build(context.Background(), fc, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// No majority prefix, so names keep their full (snake-cased) form.
	if tools[0].Name != "hass_turn_on" {
		t.Errorf("tool 0 = %q, want hass_turn_on", tools[0].Name)
	}
	if tools[1].Name != "get_state" {
		t.Errorf("tool 1 = %q, want get_state", tools[1].Name)
	}
}

func TestBuildListError(t *testing.T) {
	fc := &fakeClient{listErr: fmt.Errorf("server gone")}
	if _, _, err := Build(context.Background(), fc, nil); err == nil {
		t.Error("Build succeeded, want error")
	}
}

func TestBuildFillsMissingSchema(t *testing.T) {
	fc := &fakeClient{tools: []mcp.ToolDefinition{{Name: "HassTurnOn"}, {Name: "HassTurnOff"}}}

	tools, _, err := Build(context.Background(), fc, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if tools[0].Parameters == nil {
		t.Error("nil parameters, want open object schema")
	}
}

func TestProbePrefix(t *testing.T) {
	tests := []struct {
		name string
		in   []mcp.ToolDefinition
		want string
	}{
		{"empty", nil, ""},
		{"all hass", hassTools(), "Hass"},
		{"lowercase names", []mcp.ToolDefinition{{Name: "turn_on"}, {Name: "turn_off"}}, ""},
		{"single word", []mcp.ToolDefinition{{Name: "Restart"}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := probePrefix(tt.in); got != tt.want {
				t.Errorf("probePrefix = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name, prefix, want string
	}{
		{"HassTurnOn", "Hass", "turn_on"},
		{"HassLightSet", "Hass", "light_set"},
		{"HassTurnOn", "", "hass_turn_on"},
		{"already_snake", "", "already_snake"},
	}
	for _, tt := range tests {
		if got := normalizeName(tt.name, tt.prefix); got != tt.want {
			t.Errorf("normalizeName(%q, %q) = %q, want %q", tt.name, tt.prefix, got, tt.want)
		}
	}
}
