package audit

import (
	"context"
	"errors"
	"time"

	"github.com/dagbolade/agency-guard/internal/policy"
)

var (
	ErrSinkWrite    = errors.New("audit sink write failed")
	ErrInvalidEntry = errors.New("invalid audit entry")
	ErrChainBroken  = errors.New("audit chain broken")
)

type Result string

const (
	ResultAllowed Result = "allowed"
	ResultDenied  Result = "denied"
)

func (r Result) Valid() bool {
	return r == ResultAllowed || r == ResultDenied
}

// Entry is one recorded permission decision. It is never modified after Append.
type Entry struct {
	Seq       int64            `json:"seq"`
	Timestamp time.Time        `json:"timestamp"`
	AgentID   string           `json:"agent_id"`
	ToolName  string           `json:"tool_name"`
	Operation policy.Operation `json:"operation"`
	Result    Result           `json:"result"`
	Reason    string           `json:"reason"`
	Context   map[string]any   `json:"context,omitempty"`
	// ApprovalRequested marks a call whose tool declared an approval level.
	ApprovalRequested bool   `json:"approval_requested,omitempty"`
	PrevHash          string `json:"prev_hash"`
	Hash              string `json:"hash"`
}

// Metrics aggregates the decision stream. Denied always equals the sum of
// ViolationsByAgent and the sum of ViolationsByTool.
type Metrics struct {
	TotalChecks       int            `json:"total_checks"`
	Allowed           int            `json:"allowed"`
	Denied            int            `json:"denied"`
	ViolationsByAgent map[string]int `json:"violations_by_agent"`
	ViolationsByTool  map[string]int `json:"violations_by_tool"`
	ApprovalRequests  int            `json:"approval_requests"`
}

func newMetrics() Metrics {
	return Metrics{
		ViolationsByAgent: make(map[string]int),
		ViolationsByTool:  make(map[string]int),
	}
}

func (m Metrics) clone() Metrics {
	c := m
	c.ViolationsByAgent = make(map[string]int, len(m.ViolationsByAgent))
	for k, v := range m.ViolationsByAgent {
		c.ViolationsByAgent[k] = v
	}
	c.ViolationsByTool = make(map[string]int, len(m.ViolationsByTool))
	for k, v := range m.ViolationsByTool {
		c.ViolationsByTool[k] = v
	}
	return c
}

// DenialRate is Denied/TotalChecks, zero before any check.
func (m Metrics) DenialRate() float64 {
	if m.TotalChecks == 0 {
		return 0
	}
	return float64(m.Denied) / float64(m.TotalChecks)
}

// Filter selects entries. Zero fields match everything; Limit keeps the most
// recent matches.
type Filter struct {
	AgentID string
	Result  Result
	Limit   int
}

func (f Filter) matches(e Entry) bool {
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if f.Result != "" && e.Result != f.Result {
		return false
	}
	return true
}

// Sink receives every entry after it is committed in memory.
type Sink interface {
	Write(ctx context.Context, e Entry) error
	Close() error
}
