package mcp

import "context"

// Transport moves JSON-RPC frames between the client and one MCP
// server. Implementations own the medium: HTTP POST round trips, or a
// subprocess speaking newline-delimited JSON over stdio.
type Transport interface {
	// Call sends a request frame and waits for the matching response.
	Call(ctx context.Context, f Frame) (*Response, error)

	// Post sends a notification frame. Nothing comes back.
	Post(ctx context.Context, f Frame) error

	// Close releases the medium. Stdio transports stop the subprocess.
	Close() error
}
