package permission

import (
	"context"

	"github.com/dagbolade/agency-guard/internal/policy"
	"github.com/rs/zerolog/log"
)

// ApprovalRequest describes a call that waits for an external verdict.
type ApprovalRequest struct {
	AgentID   string               `json:"agent_id"`
	ToolName  string               `json:"tool_name"`
	Operation policy.Operation     `json:"operation"`
	Level     policy.ApprovalLevel `json:"level"`
	Context   map[string]any       `json:"context,omitempty"`
}

type ApprovalVerdict struct {
	Approved  bool   `json:"approved"`
	Reason    string `json:"reason"`
	DecidedBy string `json:"decided_by,omitempty"`
}

// Approver supplies verdicts for CONFIRMATION and HUMAN tools.
type Approver interface {
	Await(ctx context.Context, req ApprovalRequest) (ApprovalVerdict, error)
}

// CheckPermissionAwaitingApproval behaves like CheckPermission, except that an
// allowed call to a CONFIRMATION or HUMAN tool blocks until approver returns
// a verdict. A rejection, timeout or approver failure becomes a denial. The
// session budget consumed by the call is not refunded on rejection. A nil
// approver makes this identical to CheckPermission.
func (e *Engine) CheckPermissionAwaitingApproval(ctx context.Context, agentID, toolName string, op policy.Operation, callCtx map[string]any, approver Approver) (Decision, error) {
	return e.check(ctx, agentID, toolName, op, callCtx, approver)
}

func (e *Engine) awaitApproval(ctx context.Context, approver Approver, req ApprovalRequest, d Decision) Decision {
	verdict, err := approver.Await(ctx, req)
	if err != nil {
		log.Warn().Err(err).Str("agent", req.AgentID).Str("tool", req.ToolName).Msg("approval unavailable")
		return Decision{
			Allowed:       false,
			Reason:        "approval unavailable: " + err.Error(),
			ApprovalLevel: d.ApprovalLevel,
		}
	}

	if !verdict.Approved {
		reason := verdict.Reason
		if reason == "" {
			reason = "no reason given"
		}
		return Decision{
			Allowed:       false,
			Reason:        "approval rejected: " + reason,
			ApprovalLevel: d.ApprovalLevel,
		}
	}

	d.Reason = "permission granted after approval"
	if verdict.DecidedBy != "" {
		d.Reason += " by " + verdict.DecidedBy
	}
	return d
}

// WithApprover returns a Checker whose checks wait on a for CONFIRMATION and
// HUMAN tools.
func (e *Engine) WithApprover(a Approver) Checker {
	return approvingChecker{engine: e, approver: a}
}

type approvingChecker struct {
	engine   *Engine
	approver Approver
}

func (c approvingChecker) CheckPermission(ctx context.Context, agentID, toolName string, op policy.Operation, callCtx map[string]any) (Decision, error) {
	return c.engine.CheckPermissionAwaitingApproval(ctx, agentID, toolName, op, callCtx, c.approver)
}
