package policy

import (
	"testing"
	"time"
)

func TestStoreSeedsDefaults(t *testing.T) {
	store, err := NewStore(DefaultPolicies()...)
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if store.Len() != 2 {
		t.Fatalf("expected 2 seeded policies, got %d", store.Len())
	}

	analysis, ok := store.Get(AnalysisAgent)
	if !ok {
		t.Fatal("analysis policy missing")
	}
	if analysis.Allows(OpWrite) || !analysis.Forbids(OpWrite) {
		t.Error("analysis profile must be read-only")
	}

	query, ok := store.Get(QueryAgent)
	if !ok {
		t.Fatal("query policy missing")
	}
	if !query.Allows(OpExternalAPI) {
		t.Error("query profile must allow external api")
	}
}

func TestStorePutReplaces(t *testing.T) {
	store, _ := NewStore()

	if err := store.Put(Policy{AgentID: "a", MaxToolCallsPerSession: 1}); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(Policy{AgentID: "a", MaxToolCallsPerSession: 9, RateLimit: time.Second}); err != nil {
		t.Fatal(err)
	}

	p, _ := store.Get("a")
	if p.MaxToolCallsPerSession != 9 {
		t.Errorf("expected replaced cap 9, got %d", p.MaxToolCallsPerSession)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 policy, got %d", store.Len())
	}
}

func TestStoreRejectsInvalid(t *testing.T) {
	store, _ := NewStore()
	if err := store.Put(Policy{}); err == nil {
		t.Error("expected error for policy without agent id")
	}
	if _, err := NewStore(Policy{AgentID: "x", MaxToolCallsPerSession: -2}); err == nil {
		t.Error("expected seed error")
	}
}

func TestStoreGetReturnsCopy(t *testing.T) {
	store, _ := NewStore(Policy{AgentID: "a", AllowedTools: []string{"t"}})

	p, _ := store.Get("a")
	p.AllowedTools[0] = "mutated"

	again, _ := store.Get("a")
	if again.AllowedTools[0] != "t" {
		t.Error("store leaked internal state")
	}
}

func TestStoreListAndCaps(t *testing.T) {
	store, _ := NewStore(
		Policy{AgentID: "b", MaxToolCallsPerSession: 2},
		Policy{AgentID: "a", MaxToolCallsPerSession: 5},
	)

	list := store.List()
	if len(list) != 2 || list[0].AgentID != "a" || list[1].AgentID != "b" {
		t.Fatalf("unexpected order: %+v", list)
	}

	caps := store.Caps()
	if caps["a"] != 5 || caps["b"] != 2 {
		t.Errorf("unexpected caps: %v", caps)
	}
}
