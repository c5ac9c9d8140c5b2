package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dagbolade/agency-guard/internal/approval"
	"github.com/dagbolade/agency-guard/internal/audit"
	"github.com/dagbolade/agency-guard/internal/auth"
	"github.com/dagbolade/agency-guard/internal/monitor"
	"github.com/dagbolade/agency-guard/internal/permission"
	"github.com/dagbolade/agency-guard/internal/policy"
	"github.com/dagbolade/agency-guard/internal/proxy"
	"github.com/dagbolade/agency-guard/internal/ratelimit"
	"github.com/dagbolade/agency-guard/internal/server"
	"github.com/stretchr/testify/require"
)

const integrationAgent = "integration_agent"

// basePolicies is written to the policy directory before the store loads it.
const basePolicies = `policies:
  - agent_id: integration_agent
    allowed_tools: [lookup, publish]
    allowed_operations: [read, search, external_api]
    forbidden_operations: [delete]
    approval_requirements:
      publish: confirmation
    max_tool_calls_per_session: 20
    rate_limit_seconds: 0
`

type EnvOptions struct {
	AwaitApproval   bool
	ApprovalTimeout time.Duration
}

// TestEnvironment is a complete stack served over a real HTTP listener.
type TestEnvironment struct {
	Engine        *permission.Engine
	Store         *policy.Store
	Sink          *audit.SQLiteSink
	ApprovalQueue *approval.InMemoryQueue
	UpstreamMock  *httptest.Server
	HTTPServer    *httptest.Server
	PolicyDir     string
	DBPath        string
	t             *testing.T
}

// SetupTestEnvironment creates a complete test environment with all components
func SetupTestEnvironment(t *testing.T, opts EnvOptions) *TestEnvironment {
	t.Helper()

	tmpDir := t.TempDir()
	policyDir := filepath.Join(tmpDir, "policies")
	dbPath := filepath.Join(tmpDir, "audit.db")
	require.NoError(t, os.MkdirAll(policyDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(policyDir, "agents.yaml"), []byte(basePolicies), 0644))

	store, err := policy.NewStore(policy.DefaultPolicies()...)
	require.NoError(t, err)
	_, err = policy.LoadInto(store, policyDir)
	require.NoError(t, err)

	watcher, err := policy.WatchStore(store, policyDir)
	require.NoError(t, err)

	sink, err := audit.NewSQLiteSink(dbPath)
	require.NoError(t, err)
	ledger := audit.NewLedger(audit.WithSink(sink))
	require.NoError(t, ledger.Resume(context.Background()))

	engine := permission.NewEngine(store, ratelimit.New(), ledger)

	timeout := opts.ApprovalTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	queue := approval.NewInMemoryQueue(timeout)

	upstream := CreateMockUpstream()

	cfg := server.Config{
		Port:            8080,
		ReadTimeout:     30,
		WriteTimeout:    30,
		ShutdownTimeout: 5,
		AwaitApproval:   opts.AwaitApproval,
		ProxyConfig: proxy.ProxyConfig{
			DefaultUpstream: upstream.URL,
			Timeout:         5,
		},
	}
	authManager := auth.NewManager(auth.Config{JWTSecret: "test-secret", TokenExpiration: time.Hour})
	srv := server.New(cfg, engine, monitor.New(engine), queue, authManager, server.WithDurableAudit(sink))

	env := &TestEnvironment{
		Engine:        engine,
		Store:         store,
		Sink:          sink,
		ApprovalQueue: queue,
		UpstreamMock:  upstream,
		HTTPServer:    httptest.NewServer(srv.Handler()),
		PolicyDir:     policyDir,
		DBPath:        dbPath,
		t:             t,
	}

	t.Cleanup(func() {
		env.HTTPServer.Close()
		queue.Close()
		watcher.Close()
		ledger.Close()
		upstream.Close()
	})

	return env
}

// CreateMockUpstream echoes the forwarded call back as its result.
func CreateMockUpstream() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"echo":    req,
			"message": "mock upstream processed request",
		})
	}))
}

// WritePolicy writes a YAML policy file to the watched directory.
func (e *TestEnvironment) WritePolicy(filename, content string) error {
	return os.WriteFile(filepath.Join(e.PolicyDir, filename), []byte(content), 0644)
}

func (e *TestEnvironment) BaseURL() string {
	return e.HTTPServer.URL
}

// Do sends a JSON request and decodes a JSON object response.
func (e *TestEnvironment) Do(method, path string, body any) (int, map[string]any) {
	e.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.BaseURL()+path, reader)
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

// CallTool posts a tool call through the proxy.
func (e *TestEnvironment) CallTool(agentID, tool string, op policy.Operation, args any) (int, map[string]any) {
	e.t.Helper()
	return e.Do(http.MethodPost, "/tool/call", map[string]any{
		"agent_id":  agentID,
		"tool_name": tool,
		"operation": op,
		"args":      args,
	})
}

// WaitForApprovalQueue waits for at least n requests to be pending.
func (e *TestEnvironment) WaitForApprovalQueue(n int, timeout time.Duration) ([]approval.Request, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for approval queue")
		case <-ticker.C:
			pending, err := e.ApprovalQueue.GetPending(context.Background())
			if err != nil {
				return nil, err
			}
			if len(pending) >= n {
				return pending, nil
			}
		}
	}
}

// WaitForAuditEntries waits until the durable trail holds at least minCount entries.
func (e *TestEnvironment) WaitForAuditEntries(minCount int, timeout time.Duration) ([]audit.Entry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for audit entries")
		case <-ticker.C:
			entries, err := e.Sink.Query(context.Background(), audit.Filter{})
			if err != nil {
				return nil, err
			}
			if len(entries) >= minCount {
				return entries, nil
			}
		}
	}
}

// AssertAuditEntry checks that an entry with the given tool and result was recorded.
func AssertAuditEntry(t *testing.T, entries []audit.Entry, expected audit.Result, toolName string) audit.Entry {
	t.Helper()

	for _, entry := range entries {
		if entry.ToolName == toolName && entry.Result == expected {
			return entry
		}
	}

	require.Failf(t, "audit entry not found", "tool=%s result=%s", toolName, expected)
	return audit.Entry{}
}
