package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// GenesisHash is the PrevHash of the first entry of a ledger.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

type hashInput struct {
	Seq       int64          `json:"seq"`
	Timestamp string         `json:"timestamp"`
	AgentID   string         `json:"agent_id"`
	ToolName  string         `json:"tool_name"`
	Operation string         `json:"operation"`
	Result    string         `json:"result"`
	Reason    string         `json:"reason"`
	Context   map[string]any `json:"context,omitempty"`
	Approval  bool           `json:"approval_requested,omitempty"`
	PrevHash  string         `json:"prev_hash"`
}

// HashEntry returns "sha256:<hex>" over the entry's content and PrevHash.
// The Hash field itself is excluded.
func HashEntry(e Entry) (string, error) {
	line, err := json.Marshal(hashInput{
		Seq:       e.Seq,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		AgentID:   e.AgentID,
		ToolName:  e.ToolName,
		Operation: string(e.Operation),
		Result:    string(e.Result),
		Reason:    e.Reason,
		Context:   e.Context,
		Approval:  e.ApprovalRequested,
		PrevHash:  e.PrevHash,
	})
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}

// VerifyChain checks that every entry hashes to its Hash and links to its
// predecessor. When complete is true the first entry must link to GenesisHash.
func VerifyChain(entries []Entry, complete bool) error {
	for i, e := range entries {
		want, err := HashEntry(e)
		if err != nil {
			return fmt.Errorf("%w: seq %d: %w", ErrChainBroken, e.Seq, err)
		}
		if e.Hash != want {
			return fmt.Errorf("%w: seq %d: hash mismatch", ErrChainBroken, e.Seq)
		}

		switch {
		case i > 0 && e.PrevHash != entries[i-1].Hash:
			return fmt.Errorf("%w: seq %d: prev_hash does not match seq %d", ErrChainBroken, e.Seq, entries[i-1].Seq)
		case i == 0 && complete && e.PrevHash != GenesisHash:
			return fmt.Errorf("%w: seq %d: first entry does not start at genesis", ErrChainBroken, e.Seq)
		}
	}
	return nil
}
