package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/dagbolade/agency-guard/internal/audit"
	"github.com/dagbolade/agency-guard/internal/permission"
	"github.com/dagbolade/agency-guard/internal/policy"
	"github.com/dagbolade/agency-guard/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callResult struct {
	status int
	body   map[string]any
}

func callAsync(env *TestEnvironment, tool string, op policy.Operation, args any) <-chan callResult {
	done := make(chan callResult, 1)
	go func() {
		status, body := env.CallTool(integrationAgent, tool, op, args)
		done <- callResult{status: status, body: body}
	}()
	return done
}

func awaitCall(t *testing.T, done <-chan callResult) callResult {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("tool call did not return")
		return callResult{}
	}
}

// TestApprovalFlowE2E holds a confirmation tool until a reviewer approves it
// over the API, then forwards the call upstream.
func TestApprovalFlowE2E(t *testing.T) {
	env := SetupTestEnvironment(t, EnvOptions{AwaitApproval: true})

	done := callAsync(env, "publish", policy.OpExternalAPI, map[string]any{"title": "release notes"})

	pending, err := env.WaitForApprovalQueue(1, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, integrationAgent, pending[0].AgentID)
	assert.Equal(t, "publish", pending[0].ToolName)
	assert.Equal(t, policy.ApprovalConfirmation, pending[0].Level)

	status, body := env.Do(http.MethodGet, "/approvals", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["total"])

	status, _ = env.Do(http.MethodPost, "/approvals/"+pending[0].ID, map[string]any{
		"approved":   true,
		"reason":     "looks fine",
		"decided_by": "alice",
	})
	require.Equal(t, http.StatusOK, status)

	res := awaitCall(t, done)
	require.Equal(t, http.StatusOK, res.status, res.body)
	assert.Equal(t, true, res.body["success"])
	result := res.body["result"].(map[string]any)
	echo := result["echo"].(map[string]any)
	assert.Equal(t, "publish", echo["tool_name"])

	entries, err := env.WaitForAuditEntries(1, 2*time.Second)
	require.NoError(t, err)
	entry := AssertAuditEntry(t, entries, audit.ResultAllowed, "publish")
	assert.Equal(t, "permission granted after approval by alice", entry.Reason)
	assert.Equal(t, "sync", entry.Context["mode"])
}

func TestApprovalRejectedE2E(t *testing.T) {
	env := SetupTestEnvironment(t, EnvOptions{AwaitApproval: true})

	done := callAsync(env, "publish", policy.OpExternalAPI, nil)

	pending, err := env.WaitForApprovalQueue(1, 2*time.Second)
	require.NoError(t, err)

	status, _ := env.Do(http.MethodPost, "/approvals/"+pending[0].ID, map[string]any{
		"approved": false,
		"reason":   "too risky",
	})
	require.Equal(t, http.StatusOK, status)

	res := awaitCall(t, done)
	assert.Equal(t, http.StatusForbidden, res.status)
	assert.Equal(t, "[PERMISSION DENIED] approval rejected: too risky", res.body["error"])

	entries, err := env.WaitForAuditEntries(1, 2*time.Second)
	require.NoError(t, err)
	AssertAuditEntry(t, entries, audit.ResultDenied, "publish")

	// The slot stays consumed.
	assert.Equal(t, 1, env.Engine.Usage()[integrationAgent].Count)
}

func TestApprovalTimeout(t *testing.T) {
	env := SetupTestEnvironment(t, EnvOptions{AwaitApproval: true, ApprovalTimeout: 100 * time.Millisecond})

	status, body := env.CallTool(integrationAgent, "publish", policy.OpExternalAPI, nil)

	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "[PERMISSION DENIED] approval rejected: approval timeout", body["error"])

	pending, err := env.ApprovalQueue.GetPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending, "timed out requests leave the queue")
}

func TestApprovalAdvisoryWithoutAwait(t *testing.T) {
	env := SetupTestEnvironment(t, EnvOptions{})

	status, body := env.CallTool(integrationAgent, "publish", policy.OpExternalAPI, nil)

	require.Equal(t, http.StatusOK, status, body)
	pending, err := env.ApprovalQueue.GetPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, 1, env.Engine.GetMetrics().ApprovalRequests)
}

func TestDecideUnknownApproval(t *testing.T) {
	env := SetupTestEnvironment(t, EnvOptions{AwaitApproval: true})

	status, _ := env.Do(http.MethodPost, "/approvals/does-not-exist", map[string]any{"approved": true})
	assert.Equal(t, http.StatusNotFound, status)
}

// TestAuditLogIntegrity restarts the ledger on the same database and checks
// that the durable chain continues instead of forking.
func TestAuditLogIntegrity(t *testing.T) {
	env := SetupTestEnvironment(t, EnvOptions{})

	for i := 0; i < 3; i++ {
		env.CallTool(integrationAgent, "lookup", policy.OpRead, map[string]any{"i": i})
	}
	env.CallTool(integrationAgent, "lookup", policy.OpDelete, nil)

	status, body := env.Do(http.MethodGet, "/audit/verify", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["valid"])

	restarted := audit.NewLedger(audit.WithSink(env.Sink))
	require.NoError(t, restarted.Resume(context.Background()))
	engine := permission.NewEngine(env.Store, ratelimit.New(), restarted)

	_, err := engine.CheckPermission(context.Background(), integrationAgent, "lookup", policy.OpSearch, nil)
	require.NoError(t, err)

	entries, err := env.Sink.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, int64(5), entries[0].Seq)
	assert.Equal(t, entries[1].Hash, entries[0].PrevHash)

	require.NoError(t, env.Sink.Verify(context.Background()))

	status, body = env.Do(http.MethodGet, "/audit?source=durable&result=denied", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["total"])
}
