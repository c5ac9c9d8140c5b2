package policy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Store holds one policy per agent. Policies are add-or-replace only;
// nothing is evicted during the process lifetime.
type Store struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

func NewStore(seed ...Policy) (*Store, error) {
	s := &Store{policies: make(map[string]Policy)}
	for _, p := range seed {
		if err := s.Put(p); err != nil {
			return nil, fmt.Errorf("seed policy: %w", err)
		}
	}
	return s, nil
}

// Put validates and stores p, replacing any policy for the same agent.
func (s *Store) Put(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	_, replaced := s.policies[p.AgentID]
	s.policies[p.AgentID] = p.Clone()
	s.mu.Unlock()

	log.Info().Str("agent", p.AgentID).Bool("replaced", replaced).Msg("policy registered")
	return nil
}

func (s *Store) Get(agentID string) (Policy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[agentID]
	if !ok {
		return Policy{}, false
	}
	return p.Clone(), true
}

// List returns all policies ordered by agent id.
func (s *Store) List() []Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Caps returns the session call cap of every registered agent.
func (s *Store) Caps() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	caps := make(map[string]int, len(s.policies))
	for id, p := range s.policies {
		caps[id] = p.MaxToolCallsPerSession
	}
	return caps
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.policies)
}
