package approval

import (
	"context"
	"errors"
	"time"

	"github.com/dagbolade/agency-guard/internal/permission"
	"github.com/dagbolade/agency-guard/internal/policy"
)

var (
	ErrNotFound = errors.New("approval request not found")
	ErrClosed   = errors.New("approval queue closed")
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusTimeout  Status = "timeout"
)

type Request struct {
	ID        string               `json:"id"`
	AgentID   string               `json:"agent_id"`
	ToolName  string               `json:"tool_name"`
	Operation policy.Operation     `json:"operation"`
	Level     policy.ApprovalLevel `json:"level"`
	Context   map[string]any       `json:"context,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	Status    Status               `json:"status"`

	resultCh chan permission.ApprovalVerdict
}

// Decision is what a reviewer submits for a pending request.
type Decision = permission.ApprovalVerdict

type Queue interface {
	permission.Approver
	GetPending(ctx context.Context) ([]Request, error)
	Decide(ctx context.Context, id string, decision Decision) error
	Close() error
}
