package mcp

import (
	"encoding/json"
	"fmt"
)

// Frame is one outbound JSON-RPC 2.0 message. A call carries a nonzero
// ID and is answered by a Response with the same ID; a notification
// carries none and gets nothing back. The omitempty on ID lets the one
// struct serve both shapes on the wire.
type Frame struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// call builds a request frame. IDs start at 1; zero marks a
// notification.
func call(id uint64, method string, params any) Frame {
	return Frame{JSONRPC: "2.0", ID: id, Method: method, Params: params}
}

// note builds a notification frame.
func note(method string, params any) Frame {
	return Frame{JSONRPC: "2.0", Method: method, Params: params}
}

// Response is the server's answer to a call. Result stays raw until
// the caller knows which shape to decode it into.
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *WireError      `json:"error"`
}

// decode unmarshals the result payload into v.
func (r *Response) decode(v any) error {
	return json.Unmarshal(r.Result, v)
}

// answers reports whether this message is the reply to the call with
// the given ID. Servers may interleave their own notifications on the
// same stream; those carry no ID and never match.
func (r *Response) answers(id uint64) bool {
	return r.ID == id && (r.Result != nil || r.Error != nil)
}

// WireError is the JSON-RPC error object carried in a failed response.
type WireError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *WireError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// parseResponse decodes one wire message. Transports reading a shared
// stream treat a decode failure as a line to skip, not a fatal error.
func parseResponse(raw []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
