package policy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrUnknownOperation     = errors.New("unknown operation")
	ErrUnknownApprovalLevel = errors.New("unknown approval level")
	ErrInvalidPolicy        = errors.New("invalid policy")
)

// Operation classifies what a tool call does, independent of the tool.
type Operation string

const (
	OpRead          Operation = "read"
	OpWrite         Operation = "write"
	OpDelete        Operation = "delete"
	OpExecute       Operation = "execute"
	OpExternalAPI   Operation = "external_api"
	OpDatabaseQuery Operation = "database_query"
	OpDatabaseWrite Operation = "database_write"
	OpSearch        Operation = "search"
)

var operations = []Operation{
	OpRead, OpWrite, OpDelete, OpExecute,
	OpExternalAPI, OpDatabaseQuery, OpDatabaseWrite, OpSearch,
}

// Operations returns every valid operation in declaration order.
func Operations() []Operation {
	out := make([]Operation, len(operations))
	copy(out, operations)
	return out
}

func (o Operation) Valid() bool {
	for _, op := range operations {
		if o == op {
			return true
		}
	}
	return false
}

// ParseOperation accepts the wire form of an operation in any case.
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(s)))
	if !op.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownOperation, s)
	}
	return op, nil
}

func (o *Operation) UnmarshalText(b []byte) error {
	op, err := ParseOperation(string(b))
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// ApprovalLevel is the escalation tier declared for a tool.
type ApprovalLevel string

const (
	ApprovalNone         ApprovalLevel = "none"
	ApprovalLogging      ApprovalLevel = "logging"
	ApprovalConfirmation ApprovalLevel = "confirmation"
	ApprovalHuman        ApprovalLevel = "human"
	ApprovalBlocked      ApprovalLevel = "blocked"
)

func (a ApprovalLevel) Valid() bool {
	switch a {
	case ApprovalNone, ApprovalLogging, ApprovalConfirmation, ApprovalHuman, ApprovalBlocked:
		return true
	}
	return false
}

// Signals reports whether the level is recorded as an approval request.
func (a ApprovalLevel) Signals() bool {
	return a == ApprovalLogging || a == ApprovalConfirmation || a == ApprovalHuman
}

// NeedsApprover reports whether a blocking check would wait for a verdict.
func (a ApprovalLevel) NeedsApprover() bool {
	return a == ApprovalConfirmation || a == ApprovalHuman
}

func ParseApprovalLevel(s string) (ApprovalLevel, error) {
	lvl := ApprovalLevel(strings.ToLower(strings.TrimSpace(s)))
	if !lvl.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownApprovalLevel, s)
	}
	return lvl, nil
}

func (a *ApprovalLevel) UnmarshalText(b []byte) error {
	lvl, err := ParseApprovalLevel(string(b))
	if err != nil {
		return err
	}
	*a = lvl
	return nil
}

// Policy governs the tool access of exactly one agent.
type Policy struct {
	AgentID                string                   `json:"agent_id"`
	AllowedTools           []string                 `json:"allowed_tools"`
	AllowedOperations      []Operation              `json:"allowed_operations"`
	ForbiddenOperations    []Operation              `json:"forbidden_operations"`
	ApprovalRequirements   map[string]ApprovalLevel `json:"approval_requirements,omitempty"`
	MaxToolCallsPerSession int                      `json:"max_tool_calls_per_session"`
	RateLimit              time.Duration            `json:"rate_limit"`
}

func (p Policy) AllowsTool(name string) bool {
	for _, t := range p.AllowedTools {
		if t == name {
			return true
		}
	}
	return false
}

func (p Policy) Forbids(op Operation) bool {
	return containsOp(p.ForbiddenOperations, op)
}

func (p Policy) Allows(op Operation) bool {
	return containsOp(p.AllowedOperations, op)
}

// ApprovalFor returns the level declared for a tool, ApprovalNone if unlisted.
func (p Policy) ApprovalFor(tool string) ApprovalLevel {
	if lvl, ok := p.ApprovalRequirements[tool]; ok {
		return lvl
	}
	return ApprovalNone
}

// SortedTools returns the allow-set in lexical order.
func (p Policy) SortedTools() []string {
	tools := append([]string(nil), p.AllowedTools...)
	sort.Strings(tools)
	return tools
}

func (p Policy) Validate() error {
	if p.AgentID == "" {
		return fmt.Errorf("%w: agent_id is required", ErrInvalidPolicy)
	}
	if p.MaxToolCallsPerSession < 0 {
		return fmt.Errorf("%w: max_tool_calls_per_session must not be negative", ErrInvalidPolicy)
	}
	if p.RateLimit < 0 {
		return fmt.Errorf("%w: rate limit must not be negative", ErrInvalidPolicy)
	}
	for _, op := range append(append([]Operation(nil), p.AllowedOperations...), p.ForbiddenOperations...) {
		if !op.Valid() {
			return fmt.Errorf("%w: %w: %q", ErrInvalidPolicy, ErrUnknownOperation, op)
		}
	}
	for tool, lvl := range p.ApprovalRequirements {
		if !lvl.Valid() {
			return fmt.Errorf("%w: tool %s: %w: %q", ErrInvalidPolicy, tool, ErrUnknownApprovalLevel, lvl)
		}
	}
	return nil
}

// Clone returns a deep copy so callers never share slices or maps with the store.
func (p Policy) Clone() Policy {
	c := p
	c.AllowedTools = append([]string(nil), p.AllowedTools...)
	c.AllowedOperations = append([]Operation(nil), p.AllowedOperations...)
	c.ForbiddenOperations = append([]Operation(nil), p.ForbiddenOperations...)
	if p.ApprovalRequirements != nil {
		c.ApprovalRequirements = make(map[string]ApprovalLevel, len(p.ApprovalRequirements))
		for k, v := range p.ApprovalRequirements {
			c.ApprovalRequirements[k] = v
		}
	}
	return c
}

func containsOp(ops []Operation, op Operation) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}
