// Package mcp implements a Model Context Protocol (MCP) client over
// HTTP. It speaks JSON-RPC 2.0 to configured servers, retries
// transport failures with a fixed delay, and caches capability
// listings per server.
//
// The protocol follows the MCP specification (revision 2024-11-05).
package mcp

import (
	"encoding/json"
	"fmt"
)

// --- JSON-RPC 2.0 types ---

// request is an outgoing JSON-RPC 2.0 request.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int64  `json:"id"`
}

// response is an incoming JSON-RPC 2.0 response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is a JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
)

// protocolVersion is the MCP protocol version this client implements.
const protocolVersion = "2024-11-05"

// initializeParams is the client's initialize request payload.
type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      clientInfo     `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// initializeResult is the server's response to an initialize request.
type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
}

// --- errors ---

// ErrServerNotFound reports a call against an unconfigured server id.
type ErrServerNotFound struct {
	ID string
}

func (e *ErrServerNotFound) Error() string {
	return fmt.Sprintf("mcp server not found: %s", e.ID)
}

// ConnError reports a transport failure that survived all retries.
type ConnError struct {
	Server   string
	Attempts int
	Err      error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("mcp connection to %s failed after %d attempts: %v", e.Server, e.Attempts, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// ExecError reports a JSON-RPC error response. These are never
// retried.
type ExecError struct {
	Server  string
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("mcp call on %s failed: %d %s", e.Server, e.Code, e.Message)
}
