package policy

import (
	"errors"
	"testing"
	"time"
)

func TestParseOperation(t *testing.T) {
	tests := []struct {
		input    string
		expected Operation
		wantErr  bool
	}{
		{"read", OpRead, false},
		{"READ", OpRead, false},
		{" external_api ", OpExternalAPI, false},
		{"DATABASE_WRITE", OpDatabaseWrite, false},
		{"search", OpSearch, false},
		{"admin", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			op, err := ParseOperation(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseOperation(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrUnknownOperation) {
				t.Errorf("expected ErrUnknownOperation, got %v", err)
			}
			if op != tt.expected {
				t.Errorf("ParseOperation(%q) = %s, want %s", tt.input, op, tt.expected)
			}
		})
	}
}

func TestOperationsClosedSet(t *testing.T) {
	if got := len(Operations()); got != 8 {
		t.Fatalf("expected 8 operations, got %d", got)
	}
	for _, op := range Operations() {
		if !op.Valid() {
			t.Errorf("operation %s reported invalid", op)
		}
	}
}

func TestParseApprovalLevel(t *testing.T) {
	for _, s := range []string{"none", "LOGGING", "confirmation", "Human", "blocked"} {
		if _, err := ParseApprovalLevel(s); err != nil {
			t.Errorf("ParseApprovalLevel(%q) failed: %v", s, err)
		}
	}
	if _, err := ParseApprovalLevel("maybe"); !errors.Is(err, ErrUnknownApprovalLevel) {
		t.Errorf("expected ErrUnknownApprovalLevel, got %v", err)
	}
}

func TestApprovalLevelSignals(t *testing.T) {
	tests := []struct {
		level   ApprovalLevel
		signals bool
		waits   bool
	}{
		{ApprovalNone, false, false},
		{ApprovalLogging, true, false},
		{ApprovalConfirmation, true, true},
		{ApprovalHuman, true, true},
		{ApprovalBlocked, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			if tt.level.Signals() != tt.signals {
				t.Errorf("Signals() = %v, want %v", tt.level.Signals(), tt.signals)
			}
			if tt.level.NeedsApprover() != tt.waits {
				t.Errorf("NeedsApprover() = %v, want %v", tt.level.NeedsApprover(), tt.waits)
			}
		})
	}
}

func TestPolicyLookups(t *testing.T) {
	p := Policy{
		AgentID:             "a",
		AllowedTools:        []string{"web_search", "Db"},
		AllowedOperations:   []Operation{OpRead, OpWrite},
		ForbiddenOperations: []Operation{OpWrite},
		ApprovalRequirements: map[string]ApprovalLevel{
			"web_search": ApprovalHuman,
		},
	}

	if !p.AllowsTool("web_search") {
		t.Error("expected web_search allowed")
	}
	if p.AllowsTool("db") {
		t.Error("tool match must be case-sensitive")
	}
	if !p.Forbids(OpWrite) || !p.Allows(OpWrite) {
		t.Error("expected write both allowed and forbidden")
	}
	if p.ApprovalFor("web_search") != ApprovalHuman {
		t.Errorf("unexpected approval level %s", p.ApprovalFor("web_search"))
	}
	if p.ApprovalFor("Db") != ApprovalNone {
		t.Errorf("expected default none, got %s", p.ApprovalFor("Db"))
	}
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"valid", Policy{AgentID: "a", AllowedOperations: []Operation{OpRead}}, false},
		{"zero rate is valid", Policy{AgentID: "a", MaxToolCallsPerSession: 3}, false},
		{"missing agent", Policy{}, true},
		{"negative cap", Policy{AgentID: "a", MaxToolCallsPerSession: -1}, true},
		{"negative rate", Policy{AgentID: "a", RateLimit: -time.Second}, true},
		{"bad operation", Policy{AgentID: "a", ForbiddenOperations: []Operation{"sudo"}}, true},
		{"bad approval", Policy{AgentID: "a", ApprovalRequirements: map[string]ApprovalLevel{"t": "later"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("expected ErrInvalidPolicy, got %v", err)
			}
		})
	}
}

func TestPolicyCloneIsDeep(t *testing.T) {
	p := Policy{
		AgentID:              "a",
		AllowedTools:         []string{"t"},
		ApprovalRequirements: map[string]ApprovalLevel{"t": ApprovalLogging},
	}
	c := p.Clone()
	c.AllowedTools[0] = "changed"
	c.ApprovalRequirements["t"] = ApprovalBlocked

	if p.AllowedTools[0] != "t" {
		t.Error("clone shares allowed tools slice")
	}
	if p.ApprovalRequirements["t"] != ApprovalLogging {
		t.Error("clone shares approval map")
	}
}
