package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dagbolade/agency-guard/internal/policy"
)

var ErrUpstream = errors.New("upstream call failed")

// maxResponseBytes caps what a single tool result may carry back.
const maxResponseBytes = 4 << 20

// upstreamCall is the body a tool backend receives for an admitted call.
type upstreamCall struct {
	AgentID   string           `json:"agent_id"`
	ToolName  string           `json:"tool_name"`
	Operation policy.Operation `json:"operation,omitempty"`
	Args      json.RawMessage  `json:"args"`
}

type Forwarder struct {
	client *http.Client
}

func NewForwarder(timeoutSec int) *Forwarder {
	return &Forwarder{
		client: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}
}

// Forward posts an admitted call to upstream and returns the raw result.
// Any non-2xx status or a body over maxResponseBytes is an ErrUpstream.
func (f *Forwarder) Forward(ctx context.Context, upstream string, req *ToolCallRequest) (json.RawMessage, error) {
	payload, err := f.buildPayload(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, upstream, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", ErrUpstream, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Agent-Id", req.AgentID)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUpstream, req.ToolName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %d", ErrUpstream, req.ToolName, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrUpstream, err)
	}
	if len(data) > maxResponseBytes {
		return nil, fmt.Errorf("%w: %s response exceeds %d bytes", ErrUpstream, req.ToolName, maxResponseBytes)
	}
	return resultJSON(data)
}

// resultJSON makes any upstream body safe to embed. An empty body is null
// and a body that is not JSON is carried as a JSON string.
func resultJSON(data []byte) (json.RawMessage, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage(`null`), nil
	}
	if json.Valid(data) {
		return json.RawMessage(data), nil
	}
	quoted, err := json.Marshal(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: encode response: %w", ErrUpstream, err)
	}
	return quoted, nil
}

func (f *Forwarder) buildPayload(req *ToolCallRequest) ([]byte, error) {
	call := upstreamCall{
		AgentID:   req.AgentID,
		ToolName:  req.ToolName,
		Operation: req.Operation,
		Args:      req.Args,
	}
	if len(call.Args) == 0 {
		call.Args = json.RawMessage(`{}`)
	}
	return json.Marshal(call)
}
