package audit

import (
	"fmt"
)

func validateEntry(e Entry) error {
	if e.AgentID == "" {
		return fmt.Errorf("%w: agent_id cannot be empty", ErrInvalidEntry)
	}

	if !e.Result.Valid() {
		return fmt.Errorf("%w: invalid result: %s", ErrInvalidEntry, e.Result)
	}

	if e.Reason == "" {
		return fmt.Errorf("%w: reason cannot be empty", ErrInvalidEntry)
	}

	return nil
}
