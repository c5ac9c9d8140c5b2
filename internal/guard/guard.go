// Package guard wraps callable tools so that every invocation is authorised
// by the permission engine before the tool runs.
package guard

import (
	"context"
	"fmt"
	"strings"

	"github.com/dagbolade/agency-guard/internal/permission"
	"github.com/dagbolade/agency-guard/internal/policy"
	"github.com/rs/zerolog/log"
)

// DeniedPrefix starts the output of every refused call.
const DeniedPrefix = "[PERMISSION DENIED] "

type Tool interface {
	Name() string
	Description() string
	Call(ctx context.Context, input string) (string, error)
}

// OperationDeclarer lets a tool state its operation instead of having it
// inferred from the name.
type OperationDeclarer interface {
	Operation() policy.Operation
}

// ToolFunc adapts a plain function to Tool.
type ToolFunc struct {
	ToolName string
	Desc     string
	Op       policy.Operation
	Fn       func(ctx context.Context, input string) (string, error)
}

func (t ToolFunc) Name() string        { return t.ToolName }
func (t ToolFunc) Description() string { return t.Desc }

func (t ToolFunc) Call(ctx context.Context, input string) (string, error) {
	return t.Fn(ctx, input)
}

// Operation returns Op, or the inferred operation when Op is empty.
func (t ToolFunc) Operation() policy.Operation {
	if t.Op != "" {
		return t.Op
	}
	return InferOperation(t.ToolName)
}

// Result is delivered by CallAsync.
type Result struct {
	Output   string
	Decision permission.Decision
	Err      error
}

// GuardedTool is itself a Tool, so guarded tools can be handed to any caller
// that accepts the original.
type GuardedTool struct {
	inner   Tool
	checker permission.Checker
	agentID string
	op      policy.Operation
}

// Wrap returns one GuardedTool per tool, bound to agentID.
func Wrap(checker permission.Checker, agentID string, tools []Tool) []*GuardedTool {
	out := make([]*GuardedTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, WrapTool(checker, agentID, t))
	}
	return out
}

func WrapTool(checker permission.Checker, agentID string, t Tool) *GuardedTool {
	op := InferOperation(t.Name())
	if d, ok := t.(OperationDeclarer); ok {
		if declared := d.Operation(); declared.Valid() {
			op = declared
		}
	}
	return &GuardedTool{inner: t, checker: checker, agentID: agentID, op: op}
}

func (g *GuardedTool) Name() string        { return g.inner.Name() }
func (g *GuardedTool) Description() string { return g.inner.Description() }

func (g *GuardedTool) Operation() policy.Operation { return g.op }

func (g *GuardedTool) AgentID() string { return g.agentID }

// Unwrap returns the guarded tool.
func (g *GuardedTool) Unwrap() Tool { return g.inner }

// Call authorises the call and, if allowed, runs the inner tool. A denial is
// returned as output prefixed with DeniedPrefix and a nil error. Errors are
// reserved for failures of the check itself and of the inner tool.
func (g *GuardedTool) Call(ctx context.Context, input string) (string, error) {
	out, _, err := g.invoke(ctx, input, "sync")
	return out, err
}

// CallAsync runs the same sequence as Call on a separate goroutine. The
// channel receives exactly one Result and is then closed.
func (g *GuardedTool) CallAsync(ctx context.Context, input string) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		out, d, err := g.invoke(ctx, input, "async")
		ch <- Result{Output: out, Decision: d, Err: err}
	}()
	return ch
}

// Authorize runs only the permission check for input.
func (g *GuardedTool) Authorize(ctx context.Context, input, mode string) (permission.Decision, error) {
	d, err := g.checker.CheckPermission(ctx, g.agentID, g.inner.Name(), g.op, map[string]any{
		"input": input,
		"mode":  mode,
	})
	if err != nil {
		return d, fmt.Errorf("authorize %s: %w", g.inner.Name(), err)
	}
	return d, nil
}

func (g *GuardedTool) invoke(ctx context.Context, input, mode string) (string, permission.Decision, error) {
	d, err := g.Authorize(ctx, input, mode)
	if err != nil {
		return "", d, err
	}
	if !d.Allowed {
		log.Debug().Str("agent", g.agentID).Str("tool", g.inner.Name()).Str("reason", d.Reason).Msg("tool call refused")
		return DeniedPrefix + d.Reason, d, nil
	}

	out, err := g.inner.Call(ctx, input)
	if err != nil {
		return "", d, fmt.Errorf("tool %s: %w", g.inner.Name(), err)
	}
	return out, d, nil
}

// IsDenied reports whether output came from a refused call.
func IsDenied(output string) bool {
	return strings.HasPrefix(output, DeniedPrefix)
}

// DenialReason strips DeniedPrefix from output.
func DenialReason(output string) (string, bool) {
	return strings.CutPrefix(output, DeniedPrefix)
}
