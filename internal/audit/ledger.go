// Package audit records every permission decision in a hash-chained,
// append-only ledger and maintains the aggregate metrics derived from it.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Option func(*Ledger)

// WithRetention bounds the in-memory log. The default keeps every entry.
func WithRetention(r Retention) Option {
	return func(l *Ledger) { l.retention = r }
}

// WithSink forwards committed entries to durable storage.
func WithSink(s Sink) Option {
	return func(l *Ledger) { l.sink = s }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Ledger is safe for concurrent use. The log and the metrics are updated
// under one lock, so a Snapshot never observes a half-applied entry. Sink
// writes happen outside that lock but strictly in seq order.
type Ledger struct {
	mu        sync.Mutex
	writeMu   sync.Mutex
	backlog   []Entry // committed but not yet stored; guarded by writeMu
	retention Retention
	sink      Sink
	now       func() time.Time
	metrics   Metrics
	seq       int64
	lastHash  string
	evicted   int64
}

func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		retention: &KeepAll{},
		now:       time.Now,
		metrics:   newMetrics(),
		lastHash:  GenesisHash,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append commits e in memory, updates metrics and then writes it to the sink.
// The committed entry is returned even when the sink fails; the error then
// wraps ErrSinkWrite. A failed write stays queued and is retried ahead of
// later entries, so the durable chain never has a gap; until it succeeds
// every Append reports ErrSinkWrite.
func (l *Ledger) Append(ctx context.Context, e Entry) (Entry, error) {
	if err := validateEntry(e); err != nil {
		return Entry{}, err
	}

	l.mu.Lock()
	committed, err := l.commit(e)
	if err != nil {
		l.mu.Unlock()
		return Entry{}, err
	}
	if l.sink == nil {
		l.mu.Unlock()
		return committed, nil
	}
	// writeMu is taken before mu is released, so writers reach the sink in
	// the order they committed.
	l.writeMu.Lock()
	l.mu.Unlock()
	defer l.writeMu.Unlock()

	l.backlog = append(l.backlog, committed)
	if err := l.flush(ctx); err != nil {
		log.Error().Err(err).Int64("seq", committed.Seq).Int("queued", len(l.backlog)).Str("agent", committed.AgentID).Msg("audit sink write failed")
		return committed, fmt.Errorf("%w: %w", ErrSinkWrite, err)
	}
	return committed, nil
}

// flush writes the backlog oldest first. Callers hold writeMu.
func (l *Ledger) flush(ctx context.Context) error {
	for len(l.backlog) > 0 {
		if err := l.sink.Write(ctx, l.backlog[0]); err != nil {
			return err
		}
		l.backlog[0] = Entry{}
		l.backlog = l.backlog[1:]
	}
	return nil
}

// Pending reports how many committed entries still wait for the sink.
func (l *Ledger) Pending() int {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return len(l.backlog)
}

// commit assigns seq and hash and applies e. Callers hold mu.
func (l *Ledger) commit(e Entry) (Entry, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	e.Timestamp = e.Timestamp.UTC()
	e.Seq = l.seq + 1
	e.PrevHash = l.lastHash

	normalized, err := normalizeContext(e.Context)
	if err != nil {
		// Context is opaque caller data; keep the decision and store it as text.
		normalized, err = normalizeContext(stringifyContext(e.Context))
		if err != nil {
			return Entry{}, fmt.Errorf("%w: %w", ErrInvalidEntry, err)
		}
	}
	e.Context = normalized

	hash, err := HashEntry(e)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrInvalidEntry, err)
	}
	e.Hash = hash

	l.seq = e.Seq
	l.lastHash = hash
	l.evicted += int64(l.retention.Add(e))
	l.apply(e)

	return e, nil
}

func (l *Ledger) apply(e Entry) {
	l.metrics.TotalChecks++
	if e.ApprovalRequested {
		l.metrics.ApprovalRequests++
	}
	switch e.Result {
	case ResultAllowed:
		l.metrics.Allowed++
	case ResultDenied:
		l.metrics.Denied++
		l.metrics.ViolationsByAgent[e.AgentID]++
		l.metrics.ViolationsByTool[e.ToolName]++
	}
}

// Tailer is implemented by sinks that can report their last stored entry.
type Tailer interface {
	Tail(ctx context.Context) (seq int64, hash string, err error)
}

// Resume continues the sequence and hash chain from the sink's last entry,
// so a restarted process appends to the durable chain instead of forking it.
func (l *Ledger) Resume(ctx context.Context) error {
	t, ok := l.sink.(Tailer)
	if !ok {
		return nil
	}
	seq, hash, err := t.Tail(ctx)
	if err != nil {
		return fmt.Errorf("resume ledger: %w", err)
	}
	if seq == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq = seq
	l.lastHash = hash
	// The in-memory chain now starts mid-way through the durable one.
	l.evicted = seq
	log.Info().Int64("seq", seq).Msg("audit ledger resumed from sink")
	return nil
}

// Query returns retained entries matching f, oldest first.
func (l *Ledger) Query(f Filter) []Entry {
	l.mu.Lock()
	entries := l.retention.Entries()
	l.mu.Unlock()

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// Snapshot returns a point-in-time copy of the metrics.
func (l *Ledger) Snapshot() Metrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.metrics.clone()
}

// Len reports how many entries are retained in memory.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.retention.Len()
}

// Verify re-walks the retained hash chain.
func (l *Ledger) Verify() error {
	l.mu.Lock()
	entries := l.retention.Entries()
	complete := l.evicted == 0
	l.mu.Unlock()

	return VerifyChain(entries, complete)
}

// Close makes a last attempt to store queued entries, then closes the sink.
func (l *Ledger) Close() error {
	if l.sink == nil {
		return nil
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.flush(context.Background()); err != nil {
		log.Error().Err(err).Int("queued", len(l.backlog)).Msg("audit entries lost on close")
	}
	return l.sink.Close()
}

// normalizeContext deep-copies the context through its JSON form so the
// stored value hashes identically after a round trip through the sink.
func normalizeContext(in map[string]any) (map[string]any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func stringifyContext(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
