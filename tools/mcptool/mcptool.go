// Package mcptool provides the built-in "mcp" tool: invoke an action
// on a configured MCP server through the JSON-RPC client.
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"

	armada "github.com/armadahq/armada"
	"github.com/armadahq/armada/mcp"
)

// allowedActions is the standard MCP method set the tool will relay.
var allowedActions = map[string]bool{
	"ping":           true,
	"tools/list":     true,
	"tools/call":     true,
	"resources/list": true,
	"resources/read": true,
	"prompts/list":   true,
	"prompts/get":    true,
	"samples/list":   true,
	"samples/get":    true,
}

// Tool bridges agent tool calls to MCP servers.
type Tool struct {
	client *mcp.Client
}

var _ armada.Tool = (*Tool)(nil)

// New wraps an MCP client.
func New(client *mcp.Client) *Tool {
	return &Tool{client: client}
}

func (t *Tool) Name() string { return "mcp" }

func (t *Tool) Description() string {
	return "Invoke an action on a configured MCP server. action is a standard MCP method such as tools/call; params is a JSON object of method parameters."
}

func (t *Tool) Schema() map[string]armada.Field {
	return map[string]armada.Field{
		"server": {Required: true, Type: "string", MaxLength: 128},
		"action": {Required: true, Type: "string", MaxLength: 64},
		// params is the method's parameter object, serialized as JSON.
		// For tools/call this is {"name": ..., "arguments": {...}}.
		"params": {Type: "string", MaxLength: 8192},
	}
}

func (t *Tool) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	server, _ := input["server"].(string)
	action, _ := input["action"].(string)
	if !allowedActions[action] {
		return nil, fmt.Errorf("unsupported MCP action: %s", action)
	}

	var params map[string]any
	if raw, _ := input["params"].(string); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return nil, fmt.Errorf("params is not a JSON object: %w", err)
		}
	}

	var sendParams any
	if params != nil {
		sendParams = params
	}
	result, err := t.client.Execute(ctx, server, action, sendParams)
	if err != nil {
		return nil, err
	}

	var decoded any
	if err := json.Unmarshal(result, &decoded); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return map[string]any{"server": server, "action": action, "result": decoded}, nil
}
