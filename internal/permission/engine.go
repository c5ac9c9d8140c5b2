// Package permission decides whether an agent may invoke a tool. Decisions
// combine the agent's policy, the session budget and the tool's approval
// level, and every decision is committed to the audit ledger before the
// caller sees it.
package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dagbolade/agency-guard/internal/audit"
	"github.com/dagbolade/agency-guard/internal/policy"
	"github.com/dagbolade/agency-guard/internal/ratelimit"
	"github.com/rs/zerolog/log"
)

var ErrInvalidRequest = errors.New("invalid permission request")

// Decision is the verdict for one tool call. Denials are values, not errors.
type Decision struct {
	Allowed       bool                 `json:"allowed"`
	Reason        string               `json:"reason"`
	ApprovalLevel policy.ApprovalLevel `json:"approval_level,omitempty"`
}

// Checker is the surface the tool wrapper and the HTTP layer depend on.
type Checker interface {
	CheckPermission(ctx context.Context, agentID, toolName string, op policy.Operation, callCtx map[string]any) (Decision, error)
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine owns no global state: the policy store, limiter and ledger are
// supplied by the caller and may be shared with the monitor.
type Engine struct {
	policies *policy.Store
	limiter  *ratelimit.Limiter
	ledger   *audit.Ledger
	now      func() time.Time
}

func NewEngine(policies *policy.Store, limiter *ratelimit.Limiter, ledger *audit.Ledger, opts ...Option) *Engine {
	e := &Engine{
		policies: policies,
		limiter:  limiter,
		ledger:   ledger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckPermission evaluates a call without waiting on anyone. Approval levels
// LOGGING, CONFIRMATION and HUMAN are recorded as approval requests but do
// not block; BLOCKED denies.
//
// The returned error is non-nil only for caller errors (ErrInvalidRequest) or
// when the decision could not be made durable (audit.ErrSinkWrite); in the
// latter case the tool must not be invoked.
func (e *Engine) CheckPermission(ctx context.Context, agentID, toolName string, op policy.Operation, callCtx map[string]any) (Decision, error) {
	return e.check(ctx, agentID, toolName, op, callCtx, nil)
}

func (e *Engine) check(ctx context.Context, agentID, toolName string, op policy.Operation, callCtx map[string]any, approver Approver) (Decision, error) {
	if err := validateRequest(agentID, op); err != nil {
		return Decision{}, err
	}

	// One clock reading serves the limiter and the audit timestamp.
	now := e.now()
	d := e.evaluate(agentID, toolName, op, now)
	requested := d.Allowed && d.ApprovalLevel.Signals()
	if requested && approver != nil && d.ApprovalLevel.NeedsApprover() {
		d = e.awaitApproval(ctx, approver, ApprovalRequest{
			AgentID:   agentID,
			ToolName:  toolName,
			Operation: op,
			Level:     d.ApprovalLevel,
			Context:   callCtx,
		}, d)
	}

	d, err := e.record(ctx, audit.Entry{
		Timestamp:         now,
		AgentID:           agentID,
		ToolName:          toolName,
		Operation:         op,
		Context:           callCtx,
		ApprovalRequested: requested,
	}, d)
	if requested {
		log.Info().
			Str("agent", agentID).
			Str("tool", toolName).
			Str("approval", string(d.ApprovalLevel)).
			Bool("allowed", d.Allowed).
			Msg("approval level recorded")
	}
	return d, err
}

// evaluate runs the decision stages in order; the first failing stage wins.
func (e *Engine) evaluate(agentID, toolName string, op policy.Operation, now time.Time) Decision {
	p, ok := e.policies.Get(agentID)
	if !ok {
		return deny("no policy for agent %s", agentID)
	}

	if !p.AllowsTool(toolName) {
		return deny("tool '%s' not in allowed tools [%s]", toolName, strings.Join(p.SortedTools(), " "))
	}

	if p.Forbids(op) {
		return deny("operation '%s' is forbidden for agent %s", op, agentID)
	}

	if !p.Allows(op) {
		return deny("operation '%s' not allowed for agent %s", op, agentID)
	}

	level := p.ApprovalFor(toolName)
	if level == policy.ApprovalBlocked {
		d := deny("tool '%s' is blocked by approval policy", toolName)
		d.ApprovalLevel = level
		return d
	}

	if res := e.limiter.Acquire(agentID, p.MaxToolCallsPerSession, p.RateLimit, now); !res.OK() {
		return deny("%s", res.Reason)
	}

	return Decision{
		Allowed:       true,
		Reason:        "permission granted",
		ApprovalLevel: level,
	}
}

// record appends the decision, completing entry with its result and reason.
// The approval flag travels in the same entry, so metrics never show the
// decision without it.
func (e *Engine) record(ctx context.Context, entry audit.Entry, d Decision) (Decision, error) {
	entry.Result = audit.ResultAllowed
	if !d.Allowed {
		entry.Result = audit.ResultDenied
		log.Debug().Str("agent", entry.AgentID).Str("tool", entry.ToolName).Str("operation", string(entry.Operation)).Str("reason", d.Reason).Msg("permission denied")
	}
	entry.Reason = d.Reason

	if _, err := e.ledger.Append(ctx, entry); err != nil {
		return d, fmt.Errorf("record decision: %w", err)
	}
	return d, nil
}

// ResetSession clears rate-limiter state for one agent, or for every agent
// when agentID is empty. Audit history and metrics are untouched.
func (e *Engine) ResetSession(agentID string) {
	if agentID == "" {
		e.limiter.ResetAll()
		log.Info().Msg("all sessions reset")
		return
	}
	e.limiter.Reset(agentID)
	log.Info().Str("agent", agentID).Msg("session reset")
}

// AddPolicy registers or replaces the policy for p.AgentID.
func (e *Engine) AddPolicy(p policy.Policy) error {
	return e.policies.Put(p)
}

func (e *Engine) GetPolicy(agentID string) (policy.Policy, bool) {
	return e.policies.Get(agentID)
}

func (e *Engine) ListPolicies() []policy.Policy {
	return e.policies.List()
}

func (e *Engine) GetAuditLog(f audit.Filter) []audit.Entry {
	return e.ledger.Query(f)
}

// VerifyAudit re-walks the retained audit hash chain.
func (e *Engine) VerifyAudit() error {
	return e.ledger.Verify()
}

func (e *Engine) GetMetrics() audit.Metrics {
	return e.ledger.Snapshot()
}

// PolicyCaps maps each governed agent to its session call cap.
func (e *Engine) PolicyCaps() map[string]int {
	return e.policies.Caps()
}

// Usage returns the current session state of every agent that has called.
func (e *Engine) Usage() map[string]ratelimit.State {
	return e.limiter.Usage()
}

func validateRequest(agentID string, op policy.Operation) error {
	if agentID == "" {
		return fmt.Errorf("%w: agent id is required", ErrInvalidRequest)
	}
	if !op.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidRequest, policy.ErrUnknownOperation, op)
	}
	return nil
}

func deny(format string, args ...any) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}
