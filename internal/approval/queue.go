// Package approval holds CONFIRMATION and HUMAN tool calls until a reviewer
// decides them or they time out.
package approval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dagbolade/agency-guard/internal/permission"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type InMemoryQueue struct {
	mu      sync.RWMutex
	pending map[string]*Request
	timeout time.Duration
	closed  bool
}

func NewInMemoryQueue(timeout time.Duration) *InMemoryQueue {
	return &InMemoryQueue{
		pending: make(map[string]*Request),
		timeout: timeout,
	}
}

// Await enqueues req and blocks until it is decided, times out or ctx ends.
// A timeout is a rejection, not an error.
func (q *InMemoryQueue) Await(ctx context.Context, req permission.ApprovalRequest) (Decision, error) {
	reqID := uuid.New().String()
	resultCh := make(chan Decision, 1)

	pending := &Request{
		ID:        reqID,
		AgentID:   req.AgentID,
		ToolName:  req.ToolName,
		Operation: req.Operation,
		Level:     req.Level,
		Context:   req.Context,
		CreatedAt: time.Now().UTC(),
		Status:    StatusPending,
		resultCh:  resultCh,
	}

	if err := q.addPending(pending); err != nil {
		return Decision{}, err
	}

	log.Info().Str("id", reqID).Str("agent", req.AgentID).Str("tool", req.ToolName).Msg("approval request enqueued")

	return q.waitForDecision(ctx, reqID, resultCh)
}

// GetPending returns undecided requests, oldest first.
func (q *InMemoryQueue) GetPending(ctx context.Context) ([]Request, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	pending := make([]Request, 0, len(q.pending))
	for _, req := range q.pending {
		r := *req
		r.resultCh = nil
		pending = append(pending, r)
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	return pending, nil
}

func (q *InMemoryQueue) Decide(ctx context.Context, id string, decision Decision) error {
	q.mu.Lock()
	req, exists := q.pending[id]
	if !exists {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	delete(q.pending, id)
	q.mu.Unlock()

	req.Status = statusFromDecision(decision)

	select {
	case req.resultCh <- decision:
		log.Info().Str("id", id).Bool("approved", decision.Approved).Str("decided_by", decision.DecidedBy).Msg("approval decision made")
	default:
		log.Warn().Str("id", id).Msg("result channel full, decision dropped")
	}

	return nil
}

// Close rejects every pending request and refuses new ones.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	for id, req := range q.pending {
		close(req.resultCh)
		delete(q.pending, id)
	}
	return nil
}

func (q *InMemoryQueue) addPending(req *Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.pending[req.ID] = req
	return nil
}

func (q *InMemoryQueue) waitForDecision(ctx context.Context, id string, resultCh <-chan Decision) (Decision, error) {
	timer := time.NewTimer(q.timeout)
	defer timer.Stop()

	select {
	case decision, ok := <-resultCh:
		if !ok {
			return Decision{}, ErrClosed
		}
		return decision, nil
	case <-timer.C:
		q.handleTimeout(id)
		return Decision{Approved: false, Reason: "approval timeout"}, nil
	case <-ctx.Done():
		q.handleTimeout(id)
		return Decision{Approved: false, Reason: "request cancelled"}, ctx.Err()
	}
}

func (q *InMemoryQueue) handleTimeout(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if req, exists := q.pending[id]; exists {
		req.Status = StatusTimeout
		delete(q.pending, id)
		log.Warn().Str("id", id).Msg("approval request timeout")
	}
}

func statusFromDecision(d Decision) Status {
	if d.Approved {
		return StatusApproved
	}
	return StatusDenied
}
