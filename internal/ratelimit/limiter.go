// Package ratelimit tracks per-agent session budgets: a cap on calls per
// session and a minimum interval between consecutive admitted calls.
package ratelimit

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// State is the session counter for one agent.
type State struct {
	Count        int       `json:"count"`
	LastCall     time.Time `json:"last_call"`
	SessionStart time.Time `json:"session_start"`
}

// Verdict is why Acquire refused a call.
type Verdict int

const (
	Admitted Verdict = iota
	SessionLimit
	IntervalLimit
)

// Result is the outcome of one Acquire.
type Result struct {
	Verdict Verdict
	Reason  string
	Count   int
}

func (r Result) OK() bool {
	return r.Verdict == Admitted
}

type entry struct {
	mu    sync.Mutex
	state State
}

// Limiter holds lazily created per-agent state. Each agent entry has its own
// lock so check-then-increment is atomic per agent without serialising agents.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *Limiter {
	return &Limiter{entries: make(map[string]*entry)}
}

func (l *Limiter) entry(agentID string, now time.Time) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[agentID]
	if !ok {
		e = &entry{state: State{SessionStart: now}}
		l.entries[agentID] = e
	}
	return e
}

// Acquire admits a call when the session cap and interval allow it and
// consumes one unit of budget. The first call of a session skips the
// interval check, and a zero interval disables it.
func (l *Limiter) Acquire(agentID string, maxCalls int, interval time.Duration, now time.Time) Result {
	e := l.entry(agentID, now)

	e.mu.Lock()
	defer e.mu.Unlock()

	s := &e.state
	if s.Count >= maxCalls {
		return Result{
			Verdict: SessionLimit,
			Count:   s.Count,
			Reason:  fmt.Sprintf("session limit exceeded (%d/%d calls)", s.Count, maxCalls),
		}
	}

	if !s.LastCall.IsZero() {
		if elapsed := now.Sub(s.LastCall); elapsed < interval {
			return Result{
				Verdict: IntervalLimit,
				Count:   s.Count,
				Reason:  fmt.Sprintf("rate limit exceeded (%s since last call, minimum %s)", elapsed.Round(time.Millisecond), interval),
			}
		}
	}

	s.Count++
	s.LastCall = now
	return Result{Verdict: Admitted, Count: s.Count}
}

// Get returns a copy of the agent's state.
func (l *Limiter) Get(agentID string) (State, bool) {
	l.mu.Lock()
	e, ok := l.entries[agentID]
	l.mu.Unlock()
	if !ok {
		return State{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}

// Usage returns a copy of every agent's state.
func (l *Limiter) Usage() map[string]State {
	l.mu.Lock()
	entries := make(map[string]*entry, len(l.entries))
	for id, e := range l.entries {
		entries[id] = e
	}
	l.mu.Unlock()

	out := make(map[string]State, len(entries))
	for id, e := range entries {
		e.mu.Lock()
		out[id] = e.state
		e.mu.Unlock()
	}
	return out
}

// Agents returns tracked agent ids in lexical order.
func (l *Limiter) Agents() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reset drops the state of one agent; the next call starts a fresh session.
func (l *Limiter) Reset(agentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, agentID)
}

func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*entry)
}
