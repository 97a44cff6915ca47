package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AbdulShahzeb/CAAL/internal/httpkit"
)

// Executor triggers workflows through their webhook endpoints.
type Executor struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewExecutor creates an Executor posting to {baseURL}/webhook/{name}.
func NewExecutor(baseURL string, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(60*time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// WebhookBaseFromURL derives a webhook base from an MCP endpoint URL
// by keeping only scheme and host. n8n serves its MCP endpoint and its
// webhooks from the same instance.
func WebhookBaseFromURL(mcpURL string) string {
	u, err := url.Parse(mcpURL)
	if err != nil || u.Host == "" {
		return strings.TrimRight(mcpURL, "/")
	}
	return u.Scheme + "://" + u.Host
}

// Execute POSTs args as JSON to the workflow's webhook and returns the
// response body. The webhook path uses the original workflow name, not
// the sanitized tool name. Non-2xx responses and transport errors are
// returned to the caller: the model needs to see that its tool call
// failed.
func (e *Executor) Execute(ctx context.Context, workflowName string, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	body, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("marshal workflow arguments: %w", err)
	}

	endpoint := e.baseURL + "/webhook/" + url.PathEscape(workflowName)
	e.logger.Debug("executing workflow", "workflow", workflowName, "url", endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("workflow %s: %w", workflowName, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		return "", fmt.Errorf("workflow %s returned %d: %s", workflowName, resp.StatusCode, errBody)
	}

	out, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read workflow response: %w", err)
	}
	return string(out), nil
}
