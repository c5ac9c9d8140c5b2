package policy

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
policies:
  - agent_id: report_agent
    allowed_tools: [database_query, summarize]
    allowed_operations: [read, DATABASE_QUERY]
    forbidden_operations: [write]
    approval_requirements:
      database_query: logging
    max_tool_calls_per_session: 20
    rate_limit_seconds: 0.5
  - agent_id: scratch_agent
    allowed_tools: [scratchpad]
    allowed_operations: [read, write]
    max_tool_calls_per_session: 5
`

func TestLoaderFileDetection(t *testing.T) {
	tests := []struct {
		filename string
		expected bool
	}{
		{"policy.yaml", true},
		{"policy.YML", true},
		{"policy.json", false},
		{"policy.yaml.bak", false},
		{"yaml", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			if got := isPolicyFile(tt.filename); got != tt.expected {
				t.Errorf("isPolicyFile(%s) = %v, want %v", tt.filename, got, tt.expected)
			}
		})
	}
}

func TestParsePolicyList(t *testing.T) {
	policies, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("expected 2 policies, got %d", len(policies))
	}

	report := policies[0]
	if report.AgentID != "report_agent" {
		t.Errorf("unexpected agent %s", report.AgentID)
	}
	if report.RateLimit != 500*time.Millisecond {
		t.Errorf("expected 500ms interval, got %s", report.RateLimit)
	}
	if !report.Allows(OpDatabaseQuery) {
		t.Error("operation names must be case-insensitive in files")
	}
	if report.ApprovalFor("database_query") != ApprovalLogging {
		t.Errorf("unexpected approval %s", report.ApprovalFor("database_query"))
	}

	if policies[1].RateLimit != 0 {
		t.Errorf("expected disabled interval, got %s", policies[1].RateLimit)
	}
}

func TestParseSingleDocument(t *testing.T) {
	policies, err := Parse([]byte("agent_id: solo\nallowed_tools: [t]\nallowed_operations: [read]\nmax_tool_calls_per_session: 1\n"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(policies) != 1 || policies[0].AgentID != "solo" {
		t.Fatalf("unexpected result: %+v", policies)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown operation", "agent_id: x\nallowed_operations: [teleport]\n"},
		{"unknown approval", "agent_id: x\napproval_requirements: {t: eventually}\n"},
		{"negative interval", "agent_id: x\nrate_limit_seconds: -1\n"},
		{"overflowing interval", "agent_id: x\nrate_limit_seconds: 1e12\n"},
		{"empty", "foo: bar\n"},
		{"not yaml", "::: ["},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestRateLimitBounds(t *testing.T) {
	tests := []struct {
		name    string
		seconds float64
		wantErr string
	}{
		{"negative", -1, "non-negative"},
		{"overflows duration", 1e12, "must be below"},
		{"huge", 1e300, "must be below"},
		{"one year", 365 * 24 * 3600, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Document{AgentID: "x", RateLimitSeconds: tt.seconds}.Policy()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if p.RateLimit != time.Duration(tt.seconds)*time.Second {
					t.Errorf("unexpected interval %v", p.RateLimit)
				}
				return
			}
			if !errors.Is(err, ErrInvalidPolicy) || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected %q error, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	for _, p := range DefaultPolicies() {
		back, err := DocumentFrom(p).Policy()
		if err != nil {
			t.Fatalf("%s: %v", p.AgentID, err)
		}
		if back.RateLimit != p.RateLimit || back.MaxToolCallsPerSession != p.MaxToolCallsPerSession {
			t.Errorf("%s: caps changed: %+v", p.AgentID, back)
		}
	}
}

func TestLoaderEmptyDirectory(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadDir(dir); err == nil {
		t.Error("expected error when loading from empty directory")
	}
}

func TestLoaderSkipsInvalidFiles(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("agent_id: x\nallowed_operations: [nope]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "good.yml"), []byte(sampleYAML), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatal(err)
	}

	store, _ := NewStore()
	n, err := LoadInto(store, dir)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if n != 2 || store.Len() != 2 {
		t.Errorf("expected 2 policies, got n=%d len=%d", n, store.Len())
	}
}

func TestShippedPolicyDirLoads(t *testing.T) {
	store, err := NewStore(DefaultPolicies()...)
	if err != nil {
		t.Fatal(err)
	}

	n, err := LoadInto(store, filepath.Join("..", "..", "policies"))
	if err != nil {
		t.Fatalf("shipped policies do not load: %v", err)
	}
	if n != 2 || store.Len() != 4 {
		t.Fatalf("loaded %d policies, store holds %d", n, store.Len())
	}

	p, _ := store.Get("sandbox_agent")
	if p.ApprovalFor("code_runner") != ApprovalHuman {
		t.Errorf("expected human approval for code_runner, got %s", p.ApprovalFor("code_runner"))
	}
	if p.RateLimit != 10*time.Second {
		t.Errorf("unexpected rate limit %v", p.RateLimit)
	}
}
