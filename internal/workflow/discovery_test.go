package workflow

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"
)

// fakeCatalog replays canned CallToolJSON results and records calls per tool.
type fakeCatalog struct {
	results  map[string]any
	errs     map[string]error
	calls    map[string]int
	lastArgs map[string]map[string]any
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		results:  make(map[string]any),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
		lastArgs: make(map[string]map[string]any),
	}
}

func (f *fakeCatalog) CallToolJSON(_ context.Context, name string, args map[string]any) (any, error) {
	f.calls[name]++
	f.lastArgs[name] = args
	if err, ok := f.errs[name]; ok {
		return nil, err
	}
	return f.results[name], nil
}

// workflowDetails mimics a get_workflow_details response: the workflow
// structure sits under a "workflow" key.
func workflowDetails(notes string) map[string]any {
	return map[string]any{
		"workflow": map[string]any{
			"nodes": []any{
				map[string]any{"type": "n8n-nodes-base.set", "notes": "not a trigger"},
				map[string]any{"type": "n8n-nodes-base.webhook", "notes": notes},
			},
		},
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Flight Tracker", "flight_tracker"},
		{"my-workflow", "my_workflow"},
		{"Already_Clean", "already_clean"},
		{"  Mixed - Name Here ", "mixed___name_here"},
	}
	for _, tt := range tests {
		got := SanitizeName(tt.in)
		if got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if again := SanitizeName(got); again != got {
			t.Errorf("SanitizeName not idempotent: %q -> %q", got, again)
		}
	}
}

func TestParseNotesWithSchema(t *testing.T) {
	notes := "Track flights\n\n---schema\n{\"action\":{\"type\":\"string\",\"required\":true}}"

	desc, params := parseNotes(notes)

	if desc != "Track flights" {
		t.Errorf("description = %q", desc)
	}
	required, _ := params["required"].([]string)
	if !slices.Contains(required, "action") {
		t.Errorf("required = %v, want [action]", params["required"])
	}

	props := params["properties"].(map[string]any)
	action := props["action"].(map[string]any)
	if _, ok := action["required"]; ok {
		t.Error("property kept internal 'required' key")
	}
	if _, ok := action["for"]; ok {
		t.Error("property kept internal 'for' key")
	}
	if action["type"] != "string" {
		t.Errorf("action type = %v", action["type"])
	}
}

func TestParseNotesStripsForHint(t *testing.T) {
	notes := `Manage lights
---schema
{"mode":{"type":"string","for":"dimming"},"level":{"type":"integer","required":true,"for":"dimming"}}`

	_, params := parseNotes(notes)
	props := params["properties"].(map[string]any)
	for name, p := range props {
		if _, ok := p.(map[string]any)["for"]; ok {
			t.Errorf("property %s kept 'for' hint", name)
		}
	}
	required, _ := params["required"].([]string)
	if len(required) != 1 || required[0] != "level" {
		t.Errorf("required = %v, want [level]", required)
	}
}

func TestParseNotesMalformedJSON(t *testing.T) {
	notes := "Track flights\n\n---schema\n{not valid json"

	desc, params := parseNotes(notes)

	if desc != notes {
		t.Errorf("malformed schema should fall back to full notes, got %q", desc)
	}
	if params["additionalProperties"] != true {
		t.Errorf("want open schema, got %v", params)
	}
}

func TestParseNotesNoMarker(t *testing.T) {
	desc, params := parseNotes("Just a plain description")

	if desc != "Just a plain description" {
		t.Errorf("description = %q", desc)
	}
	if params["additionalProperties"] != true {
		t.Errorf("want open schema, got %v", params)
	}
}

func TestDiscover(t *testing.T) {
	cat := newFakeCatalog()
	cat.results["search_workflows"] = map[string]any{
		"data": []any{
			map[string]any{"id": "w1", "name": "Flight Tracker"},
			map[string]any{"id": "w2", "name": "grocery-list"},
		},
	}
	cat.results["get_workflow_details"] = workflowDetails(
		"Track flights\n---schema\n{\"flight\":{\"type\":\"string\",\"required\":true}}")

	d := NewDiscoverer(cat, nil)
	tools, nameMap := d.Discover(context.Background())

	if len(tools) != 2 {
		t.Fatalf("tools = %d, want 2", len(tools))
	}
	if tools[0].Name != "flight_tracker" {
		t.Errorf("tool name = %q, want flight_tracker", tools[0].Name)
	}
	if nameMap["flight_tracker"] != "Flight Tracker" {
		t.Errorf("name map = %v", nameMap)
	}
	if nameMap["grocery_list"] != "grocery-list" {
		t.Errorf("name map = %v", nameMap)
	}
	if tools[0].Description != "Track flights" {
		t.Errorf("description = %q", tools[0].Description)
	}
	required, _ := tools[0].Parameters["required"].([]string)
	if !slices.Contains(required, "flight") {
		t.Errorf("required = %v, want [flight]", tools[0].Parameters["required"])
	}
}

func TestDiscoverFetchesDetailsByWorkflowId(t *testing.T) {
	cat := newFakeCatalog()
	cat.results["search_workflows"] = map[string]any{
		"data": []any{map[string]any{"id": "w1", "name": "Flight Tracker"}},
	}
	cat.results["get_workflow_details"] = workflowDetails("Track flights")

	d := NewDiscoverer(cat, nil)
	d.Discover(context.Background())

	args := cat.lastArgs["get_workflow_details"]
	if args["workflowId"] != "w1" {
		t.Errorf("details args = %v, want workflowId=w1", args)
	}
}

func TestDiscoverCatalogDescriptionFallback(t *testing.T) {
	cat := newFakeCatalog()
	cat.results["search_workflows"] = map[string]any{
		"data": []any{
			map[string]any{"id": "w1", "name": "Grocery List", "description": "Manage the shared grocery list"},
			map[string]any{"id": "w2", "name": "Bare Bones"},
		},
	}
	// Details without trigger notes for both workflows.
	cat.results["get_workflow_details"] = map[string]any{
		"workflow": map[string]any{"nodes": []any{}},
	}

	d := NewDiscoverer(cat, nil)
	tools, _ := d.Discover(context.Background())

	if len(tools) != 2 {
		t.Fatalf("tools = %d, want 2", len(tools))
	}
	if tools[0].Description != "Manage the shared grocery list" {
		t.Errorf("description = %q, want catalog description", tools[0].Description)
	}
	if tools[1].Description != "Execute bare_bones workflow" {
		t.Errorf("description = %q, want generic fallback", tools[1].Description)
	}
}

func TestDiscoverCatalogFailureIsSoft(t *testing.T) {
	cat := newFakeCatalog()
	cat.errs["search_workflows"] = fmt.Errorf("connection refused")

	d := NewDiscoverer(cat, nil)
	tools, nameMap := d.Discover(context.Background())

	if len(tools) != 0 {
		t.Errorf("tools = %d, want 0", len(tools))
	}
	if nameMap == nil {
		t.Error("name map is nil, want empty map")
	}
}

func TestDiscoverDetailsFailureYieldsOpenSchema(t *testing.T) {
	cat := newFakeCatalog()
	cat.results["search_workflows"] = map[string]any{
		"data": []any{map[string]any{"id": "w1", "name": "Broken"}},
	}
	cat.errs["get_workflow_details"] = fmt.Errorf("timeout")

	d := NewDiscoverer(cat, nil)
	tools, _ := d.Discover(context.Background())

	if len(tools) != 1 {
		t.Fatalf("tools = %d, want 1", len(tools))
	}
	if tools[0].Parameters["additionalProperties"] != true {
		t.Errorf("want open schema, got %v", tools[0].Parameters)
	}
}

func TestDiscoverMemoizesDetails(t *testing.T) {
	cat := newFakeCatalog()
	cat.results["search_workflows"] = map[string]any{
		"data": []any{map[string]any{"id": "w1", "name": "Cached"}},
	}
	cat.results["get_workflow_details"] = workflowDetails("Cached workflow")

	d := NewDiscoverer(cat, nil)
	d.Discover(context.Background())
	d.Discover(context.Background())

	if n := cat.calls["get_workflow_details"]; n != 1 {
		t.Errorf("details fetched %d times, want 1 (memoized)", n)
	}

	d.InvalidateDetails()
	d.Discover(context.Background())
	if n := cat.calls["get_workflow_details"]; n != 2 {
		t.Errorf("details fetched %d times after invalidate, want 2", n)
	}
}

func TestDetailsCacheWholesaleClear(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	c := newDetailsCache(time.Hour, clock)

	c.put("a", 1)
	c.put("b", 2)

	// Within TTL: nothing dropped.
	c.maybeClear()
	if c.len() != 2 {
		t.Fatalf("len = %d, want 2", c.len())
	}

	// Past TTL: everything dropped at once.
	now = now.Add(time.Hour + time.Second)
	c.maybeClear()
	if c.len() != 0 {
		t.Errorf("len after TTL = %d, want 0", c.len())
	}
}

func TestTriggerNotesFallback(t *testing.T) {
	tests := []struct {
		name    string
		details any
		want    string
	}{
		{
			"notes preferred",
			map[string]any{"nodes": []any{
				map[string]any{"type": "n8n-nodes-base.webhook", "notes": "from notes", "description": "from desc"},
			}},
			"from notes",
		},
		{
			"description fallback",
			map[string]any{"nodes": []any{
				map[string]any{"type": "n8n-nodes-base.webhook", "description": "from desc"},
			}},
			"from desc",
		},
		{
			"no trigger node",
			map[string]any{"nodes": []any{
				map[string]any{"type": "n8n-nodes-base.set", "notes": "irrelevant"},
			}},
			"",
		},
		{"nil details", nil, ""},
		{
			"nested under workflow",
			map[string]any{"workflow": map[string]any{"nodes": []any{
				map[string]any{"type": "n8n-nodes-base.webhook", "notes": "under workflow"},
			}}},
			"under workflow",
		},
		{
			"nested under data",
			map[string]any{"data": map[string]any{"nodes": []any{
				map[string]any{"type": "n8n-nodes-base.webhook", "notes": "nested"},
			}}},
			"nested",
		},
		{
			"bare nodes",
			map[string]any{"nodes": []any{
				map[string]any{"type": "n8n-nodes-base.webhook", "notes": "bare"},
			}},
			"bare",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := triggerNotes(tt.details); got != tt.want {
				t.Errorf("triggerNotes = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExecutorPostsWebhook(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	e := NewExecutor(srv.URL, nil)
	out, err := e.Execute(context.Background(), "Flight Tracker", map[string]any{"flight": "BA123"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if gotPath != "/webhook/Flight%20Tracker" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody != `{"flight":"BA123"}` {
		t.Errorf("body = %q", gotBody)
	}
	if out != `{"status":"ok"}` {
		t.Errorf("response = %q", out)
	}
}

func TestExecutorNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "workflow not active", http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewExecutor(srv.URL, nil)
	if _, err := e.Execute(context.Background(), "Missing", nil); err == nil {
		t.Error("Execute succeeded, want error for 404")
	}
}

func TestWebhookBaseFromURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://n8n.local:5678/mcp/abc123", "http://n8n.local:5678"},
		{"https://n8n.example.com/mcp", "https://n8n.example.com"},
		{"not a url", "not a url"},
	}
	for _, tt := range tests {
		if got := WebhookBaseFromURL(tt.in); got != tt.want {
			t.Errorf("WebhookBaseFromURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
