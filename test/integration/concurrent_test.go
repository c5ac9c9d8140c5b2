package integration

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dagbolade/agency-guard/internal/approval"
	"github.com/dagbolade/agency-guard/internal/audit"
	"github.com/dagbolade/agency-guard/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConcurrentRequests fires more calls than the session cap allows and
// checks that exactly the cap gets through and every call is audited.
func TestConcurrentRequests(t *testing.T) {
	env := SetupTestEnvironment(t, EnvOptions{})

	numRequests := 50
	var wg sync.WaitGroup
	var successCount, deniedCount int32

	start := time.Now()

	for i := 0; i < numRequests; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			status, _ := env.CallTool(integrationAgent, "lookup", policy.OpRead, map[string]any{"id": id})
			switch status {
			case http.StatusOK:
				atomic.AddInt32(&successCount, 1)
			case http.StatusForbidden:
				atomic.AddInt32(&deniedCount, 1)
			}
		}(i)
	}

	wg.Wait()
	t.Logf("completed %d requests in %v", numRequests, time.Since(start))

	assert.Equal(t, int32(20), successCount)
	assert.Equal(t, int32(30), deniedCount)

	entries, err := env.WaitForAuditEntries(numRequests, 2*time.Second)
	require.NoError(t, err)
	assert.Len(t, entries, numRequests)
	require.NoError(t, env.Sink.Verify(context.Background()))

	m := env.Engine.GetMetrics()
	assert.Equal(t, numRequests, m.TotalChecks)
	assert.Equal(t, m.TotalChecks, m.Allowed+m.Denied)
	assert.Equal(t, 30, m.ViolationsByAgent[integrationAgent])
}

// TestConcurrentApprovals holds several confirmation calls at once and
// decides them from another goroutine.
func TestConcurrentApprovals(t *testing.T) {
	env := SetupTestEnvironment(t, EnvOptions{AwaitApproval: true})

	numRequests := 10
	results := make(chan int, numRequests)
	var wg sync.WaitGroup

	for i := 0; i < numRequests; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			status, _ := env.CallTool(integrationAgent, "publish", policy.OpExternalAPI, map[string]any{"id": id})
			results <- status
		}(i)
	}

	pending, err := env.WaitForApprovalQueue(numRequests, 3*time.Second)
	require.NoError(t, err)

	var decideWg sync.WaitGroup
	for i, req := range pending {
		decideWg.Add(1)
		go func(id string, approve bool) {
			defer decideWg.Done()
			env.ApprovalQueue.Decide(context.Background(), id, approval.Decision{
				Approved: approve,
				Reason:   "bulk",
			})
		}(req.ID, i%2 == 0)
	}
	decideWg.Wait()
	wg.Wait()
	close(results)

	var ok, denied int
	for status := range results {
		switch status {
		case http.StatusOK:
			ok++
		case http.StatusForbidden:
			denied++
		}
	}
	assert.Equal(t, numRequests/2, ok)
	assert.Equal(t, numRequests/2, denied)
	assert.Equal(t, numRequests, env.Engine.GetMetrics().ApprovalRequests)
}

// TestRaceConditionApprovalDecision decides the same request from many
// goroutines; exactly one decision wins.
func TestRaceConditionApprovalDecision(t *testing.T) {
	env := SetupTestEnvironment(t, EnvOptions{AwaitApproval: true})

	done := callAsync(env, "publish", policy.OpExternalAPI, nil)
	pending, err := env.WaitForApprovalQueue(1, 2*time.Second)
	require.NoError(t, err)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := env.ApprovalQueue.Decide(context.Background(), pending[0].ID, approval.Decision{Approved: true})
			if err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	res := awaitCall(t, done)
	assert.Equal(t, http.StatusOK, res.status)
}

// TestConcurrentPolicyUpdates replaces a policy while checks run against it.
func TestConcurrentPolicyUpdates(t *testing.T) {
	env := SetupTestEnvironment(t, EnvOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var checks int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				d, err := env.Engine.CheckPermission(ctx, "updated_agent", "lookup", policy.OpRead, nil)
				if err == nil && d.Reason != "" {
					atomic.AddInt32(&checks, 1)
				}
				time.Sleep(time.Millisecond)
			}
		}()
	}

	for i := 1; i <= 10; i++ {
		status, body := env.Do(http.MethodPut, "/policies", map[string]any{
			"agent_id":                   "updated_agent",
			"allowed_tools":              []string{"lookup"},
			"allowed_operations":         []string{"read"},
			"max_tool_calls_per_session": i * 10,
		})
		require.Equal(t, http.StatusOK, status, body)
	}
	cancel()
	wg.Wait()

	assert.Greater(t, atomic.LoadInt32(&checks), int32(0))
	p, ok := env.Engine.GetPolicy("updated_agent")
	require.True(t, ok)
	assert.Equal(t, 100, p.MaxToolCallsPerSession)
	require.NoError(t, env.Engine.VerifyAudit())
}

// TestDeadlockPrevention mixes every read endpoint with writes under load
// and requires the whole batch to finish.
func TestDeadlockPrevention(t *testing.T) {
	env := SetupTestEnvironment(t, EnvOptions{})

	paths := []string{"/metrics", "/audit?limit=5", "/anomalies", "/report", "/policies", "/audit/verify"}

	finished := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for i := 0; i < 30; i++ {
			wg.Add(2)
			go func(id int) {
				defer wg.Done()
				env.CallTool(integrationAgent, "lookup", policy.OpSearch, map[string]any{"id": id})
			}(i)
			go func(path string) {
				defer wg.Done()
				env.Do(http.MethodGet, path, nil)
			}(paths[i%len(paths)])
		}
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(10 * time.Second):
		t.Fatal("requests did not complete, possible deadlock")
	}

	entries, err := env.Sink.Query(context.Background(), audit.Filter{AgentID: integrationAgent})
	require.NoError(t, err)
	assert.Len(t, entries, 30)
	assert.Equal(t, 30, env.Engine.GetMetrics().TotalChecks)
}
