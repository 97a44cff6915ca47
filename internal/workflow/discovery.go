// Package workflow turns n8n workflows into callable tools. Workflows
// are discovered through the n8n MCP server's catalog tools; parameter
// schemas are reverse engineered from the webhook trigger node's notes,
// which may carry a fenced JSON schema block after a "---schema" marker.
package workflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"
)

// schemaMarker separates the prose description from the JSON schema
// block inside a workflow's trigger-node notes.
const schemaMarker = "---schema"

// Tool is a normalized tool definition derived from one workflow.
type Tool struct {
	Name         string         // sanitized tool identifier
	Description  string         // prose part of the trigger notes
	Parameters   map[string]any // JSON-Schema-like: type/properties/required
	WorkflowName string         // original n8n workflow name (webhook path)
}

// catalogClient is the slice of the MCP client that discovery needs.
type catalogClient interface {
	CallToolJSON(ctx context.Context, name string, args map[string]any) (any, error)
}

// Discoverer queries the n8n MCP server for workflows and builds tool
// definitions. Workflow details are memoized with a wholesale-clear
// TTL; a reload drops the whole cache at once rather than expiring
// entries piecemeal.
type Discoverer struct {
	client catalogClient
	logger *slog.Logger

	details *detailsCache
}

// NewDiscoverer creates a Discoverer backed by the given MCP client.
func NewDiscoverer(client catalogClient, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{
		client:  client,
		logger:  logger,
		details: newDetailsCache(detailsTTL, time.Now),
	}
}

// Discover lists workflows and builds one tool definition per
// workflow, plus a map from sanitized tool name back to the original
// workflow name (needed to build the webhook execution path). Catalog
// failure is soft: it is logged and an empty tool set is returned, so
// a down n8n never blocks startup.
func (d *Discoverer) Discover(ctx context.Context) ([]Tool, map[string]string) {
	raw, err := d.client.CallToolJSON(ctx, "search_workflows", map[string]any{})
	if err != nil {
		d.logger.Warn("workflow catalog unavailable", "error", err)
		return nil, map[string]string{}
	}

	entries := catalogEntries(raw)
	if len(entries) == 0 {
		d.logger.Info("no workflows found in catalog")
		return nil, map[string]string{}
	}

	d.details.maybeClear()

	tools := make([]Tool, 0, len(entries))
	nameMap := make(map[string]string, len(entries))

	for _, entry := range entries {
		if entry.name == "" {
			continue
		}

		toolName := SanitizeName(entry.name)

		details, err := d.workflowDetails(ctx, entry.id)
		if err != nil {
			d.logger.Warn("workflow details unavailable, using open schema",
				"workflow", entry.name, "error", err)
		}

		notes := triggerNotes(details)
		description, params := parseNotes(notes)
		if description == "" {
			// No usable trigger notes: the catalog entry's own
			// description is the next best source.
			description = entry.description
		}
		if description == "" {
			description = "Execute " + toolName + " workflow"
		}

		tools = append(tools, Tool{
			Name:         toolName,
			Description:  description,
			Parameters:   params,
			WorkflowName: entry.name,
		})
		nameMap[toolName] = entry.name
	}

	d.logger.Info("discovered workflow tools", "count", len(tools))
	return tools, nameMap
}

// InvalidateDetails drops the memoized workflow details so the next
// Discover refetches everything. Used by reload.
func (d *Discoverer) InvalidateDetails() {
	d.details.clear()
}

// workflowDetails fetches raw details for one workflow, memoized by id.
func (d *Discoverer) workflowDetails(ctx context.Context, id string) (any, error) {
	if id == "" {
		return nil, nil
	}
	if cached, ok := d.details.get(id); ok {
		return cached, nil
	}

	raw, err := d.client.CallToolJSON(ctx, "get_workflow_details", map[string]any{"workflowId": id})
	if err != nil {
		return nil, err
	}

	d.details.put(id, raw)
	return raw, nil
}

// catalogEntry is one workflow in the search_workflows result.
type catalogEntry struct {
	id          string
	name        string
	description string
}

// catalogEntries pulls the workflow list out of the catalog response.
// n8n wraps the list in a "data" field; a bare array also works.
func catalogEntries(raw any) []catalogEntry {
	var list []any
	switch v := raw.(type) {
	case map[string]any:
		list, _ = v["data"].([]any)
	case []any:
		list = v
	}

	out := make([]catalogEntry, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		entry := catalogEntry{
			name:        stringField(m, "name"),
			id:          stringField(m, "id"),
			description: stringField(m, "description"),
		}
		out = append(out, entry)
	}
	return out
}

// triggerNotes extracts the free-text notes from a workflow's webhook
// trigger node. The dedicated notes field wins; the node description
// (notesInFlow rendering aside, n8n stores it next to the type) is the
// fallback; missing both yields "".
func triggerNotes(details any) string {
	m, ok := details.(map[string]any)
	if !ok {
		return ""
	}
	// get_workflow_details nests the structure under "workflow"; some
	// server versions wrap it in "data" or return it bare.
	if inner, ok := m["workflow"].(map[string]any); ok {
		m = inner
	} else if inner, ok := m["data"].(map[string]any); ok {
		m = inner
	}

	nodes, _ := m["nodes"].([]any)
	for _, n := range nodes {
		node, ok := n.(map[string]any)
		if !ok {
			continue
		}
		nodeType := stringField(node, "type")
		if !strings.Contains(strings.ToLower(nodeType), "webhook") {
			continue
		}
		if notes := stringField(node, "notes"); notes != "" {
			return notes
		}
		return stringField(node, "description")
	}
	return ""
}

// parseNotes splits trigger notes into a description and a normalized
// parameter schema. Three outcomes:
//   - notes contain "---schema" followed by valid JSON: prose prefix
//     becomes the description, the JSON becomes a normalized schema
//   - marker present but JSON malformed: the full notes become the
//     description with an open schema (logged by the caller's level,
//     never an error)
//   - no marker: notes are the description, schema is open
func parseNotes(notes string) (description string, params map[string]any) {
	notes = strings.TrimSpace(notes)

	idx := strings.Index(notes, schemaMarker)
	if idx < 0 {
		return notes, openSchema()
	}

	prose := strings.TrimSpace(notes[:idx])
	rawSchema := strings.TrimSpace(notes[idx+len(schemaMarker):])

	var fields map[string]map[string]any
	if err := json.Unmarshal([]byte(rawSchema), &fields); err != nil {
		return notes, openSchema()
	}

	return prose, normalizeSchema(fields)
}

// normalizeSchema converts the annotation fields into a JSON-Schema
// object. The "required" flag inside each field moves to a top-level
// required list; the "for" hint is internal to the annotation format
// and is stripped entirely.
func normalizeSchema(fields map[string]map[string]any) map[string]any {
	properties := make(map[string]any, len(fields))
	var required []string

	for name, attrs := range fields {
		prop := make(map[string]any, len(attrs))
		for k, v := range attrs {
			switch k {
			case "required":
				if b, ok := v.(bool); ok && b {
					required = append(required, name)
				}
			case "for":
				// annotation-internal disambiguation hint
			default:
				prop[k] = v
			}
		}
		properties[name] = prop
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// openSchema is the accept-anything fallback when no structured
// annotation is available.
func openSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           map[string]any{},
		"additionalProperties": true,
	}
}

// SanitizeName derives a tool identifier from a workflow name:
// lowercase with spaces and hyphens replaced by underscores. The
// transform is idempotent.
func SanitizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
