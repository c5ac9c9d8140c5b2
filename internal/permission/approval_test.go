package permission

import (
	"context"
	"errors"
	"testing"

	"github.com/dagbolade/agency-guard/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubApprover struct {
	verdict ApprovalVerdict
	err     error
	calls   []ApprovalRequest
}

func (s *stubApprover) Await(ctx context.Context, req ApprovalRequest) (ApprovalVerdict, error) {
	s.calls = append(s.calls, req)
	return s.verdict, s.err
}

func approvalPolicy() policy.Policy {
	return policy.Policy{
		AgentID:           "a",
		AllowedTools:      []string{"plain", "log", "confirm"},
		AllowedOperations: []policy.Operation{policy.OpRead},
		ApprovalRequirements: map[string]policy.ApprovalLevel{
			"log":     policy.ApprovalLogging,
			"confirm": policy.ApprovalConfirmation,
		},
		MaxToolCallsPerSession: 10,
	}
}

func TestAwaitingApprovalGranted(t *testing.T) {
	engine, _, _ := newTestEngine(t, approvalPolicy())
	approver := &stubApprover{verdict: ApprovalVerdict{Approved: true, DecidedBy: "ops"}}

	d, err := engine.CheckPermissionAwaitingApproval(context.Background(), "a", "confirm", policy.OpRead, map[string]any{"input": "x"}, approver)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, "permission granted after approval by ops", d.Reason)

	require.Len(t, approver.calls, 1)
	assert.Equal(t, policy.ApprovalConfirmation, approver.calls[0].Level)
	assert.Equal(t, "x", approver.calls[0].Context["input"])
	assert.Equal(t, 1, engine.GetMetrics().ApprovalRequests)
}

func TestAwaitingApprovalRejected(t *testing.T) {
	engine, _, _ := newTestEngine(t, approvalPolicy())
	approver := &stubApprover{verdict: ApprovalVerdict{Approved: false}}

	d, err := engine.CheckPermissionAwaitingApproval(context.Background(), "a", "confirm", policy.OpRead, nil, approver)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "approval rejected: no reason given", d.Reason)

	m := engine.GetMetrics()
	assert.Equal(t, 1, m.Denied)
	assert.Equal(t, 1, m.ViolationsByTool["confirm"])
	assert.Equal(t, 1, m.ApprovalRequests)
	assert.Equal(t, 1, engine.Usage()["a"].Count, "rejected calls keep their budget slot")
}

func TestAwaitingApprovalFailure(t *testing.T) {
	engine, _, _ := newTestEngine(t, approvalPolicy())
	approver := &stubApprover{err: errors.New("approval timeout")}

	d, err := engine.CheckPermissionAwaitingApproval(context.Background(), "a", "confirm", policy.OpRead, nil, approver)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "approval unavailable: approval timeout", d.Reason)
}

func TestAwaitingApprovalSkipsNonBlockingLevels(t *testing.T) {
	engine, _, _ := newTestEngine(t, approvalPolicy())
	approver := &stubApprover{verdict: ApprovalVerdict{Approved: false}}
	ctx := context.Background()

	for _, tool := range []string{"plain", "log"} {
		d, err := engine.CheckPermissionAwaitingApproval(ctx, "a", tool, policy.OpRead, nil, approver)
		require.NoError(t, err)
		assert.True(t, d.Allowed, tool)
	}
	assert.Empty(t, approver.calls)
	assert.Equal(t, 1, engine.GetMetrics().ApprovalRequests)
}

func TestAwaitingApprovalNotAskedForDenials(t *testing.T) {
	engine, _, _ := newTestEngine(t, approvalPolicy())
	approver := &stubApprover{verdict: ApprovalVerdict{Approved: true}}

	d, err := engine.CheckPermissionAwaitingApproval(context.Background(), "a", "confirm", policy.OpWrite, nil, approver)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Empty(t, approver.calls)
	assert.Equal(t, 0, engine.GetMetrics().ApprovalRequests)
}

func TestNilApproverMatchesCheckPermission(t *testing.T) {
	engine, _, _ := newTestEngine(t, approvalPolicy())

	d, err := engine.CheckPermissionAwaitingApproval(context.Background(), "a", "confirm", policy.OpRead, nil, nil)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, "permission granted", d.Reason)
	assert.Equal(t, policy.ApprovalConfirmation, d.ApprovalLevel)
}

func TestWithApproverChecker(t *testing.T) {
	engine, _, _ := newTestEngine(t, approvalPolicy())
	approver := &stubApprover{verdict: ApprovalVerdict{Approved: false, Reason: "nope"}}

	var checker Checker = engine.WithApprover(approver)
	d, err := checker.CheckPermission(context.Background(), "a", "confirm", policy.OpRead, nil)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "approval rejected: nope", d.Reason)
	assert.Len(t, approver.calls, 1)
}
