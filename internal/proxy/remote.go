package proxy

import (
	"context"
	"encoding/json"

	"github.com/dagbolade/agency-guard/internal/policy"
)

// RemoteTool is a tool served by an HTTP upstream. Its input is the JSON
// encoded argument object.
type RemoteTool struct {
	forwarder *Forwarder
	upstream  string
	agentID   string
	name      string
	op        policy.Operation
}

func NewRemoteTool(f *Forwarder, upstream, agentID, name string, op policy.Operation) *RemoteTool {
	return &RemoteTool{forwarder: f, upstream: upstream, agentID: agentID, name: name, op: op}
}

func (t *RemoteTool) Name() string { return t.name }

func (t *RemoteTool) Description() string { return "remote tool " + t.name + " at " + t.upstream }

// Operation returns the declared operation, or "" to let the caller infer it.
func (t *RemoteTool) Operation() policy.Operation { return t.op }

func (t *RemoteTool) Call(ctx context.Context, input string) (string, error) {
	result, err := t.forwarder.Forward(ctx, t.upstream, &ToolCallRequest{
		AgentID:   t.agentID,
		ToolName:  t.name,
		Operation: t.op,
		Args:      json.RawMessage(input),
	})
	if err != nil {
		return "", err
	}
	return string(result), nil
}
