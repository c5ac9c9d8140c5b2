package proxy

import (
	"encoding/json"

	"github.com/dagbolade/agency-guard/internal/policy"
)

type ToolCallRequest struct {
	AgentID   string           `json:"agent_id"`
	ToolName  string           `json:"tool_name"`
	Operation policy.Operation `json:"operation,omitempty"`
	Args      json.RawMessage  `json:"args"`
}

type ToolCallResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ProxyConfig is operator supplied. Callers never choose where a call goes.
type ProxyConfig struct {
	DefaultUpstream string
	// Upstreams routes individual tools to their own backends.
	Upstreams map[string]string
	Timeout   int // seconds
}

// UpstreamFor returns the backend for toolName, or DefaultUpstream when the
// tool has no route of its own.
func (c ProxyConfig) UpstreamFor(toolName string) string {
	if u, ok := c.Upstreams[toolName]; ok && u != "" {
		return u
	}
	return c.DefaultUpstream
}
