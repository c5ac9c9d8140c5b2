package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/dagbolade/agency-guard/internal/approval"
	"github.com/dagbolade/agency-guard/internal/auth"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type ApprovalHandler struct {
	queue approval.Queue
}

func NewApprovalHandler(queue approval.Queue) *ApprovalHandler {
	return &ApprovalHandler{queue: queue}
}

// GetPending lists requests still waiting on a reviewer
func (h *ApprovalHandler) GetPending(c echo.Context) error {
	ctx := c.Request().Context()

	pending, err := h.queue.GetPending(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to get pending approvals")
		return errorJSON(c, http.StatusInternalServerError, "failed to retrieve pending approvals")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"total":     len(pending),
		"approvals": pending,
	})
}

// Decide handles POST /approvals/:id
func (h *ApprovalHandler) Decide(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req struct {
		Approved  bool   `json:"approved"`
		Reason    string `json:"reason"`
		DecidedBy string `json:"decided_by,omitempty"`
	}

	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	if !req.Approved && req.Reason == "" {
		return errorJSON(c, http.StatusBadRequest, "reason is required for denial")
	}

	if user := auth.GetUserFromContext(c); user != nil {
		req.DecidedBy = user.Email
	}

	decision := approval.Decision{
		Approved:  req.Approved,
		Reason:    req.Reason,
		DecidedBy: req.DecidedBy,
	}

	if err := h.queue.Decide(ctx, id, decision); err != nil {
		if errors.Is(err, approval.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, "approval request not found or already processed")
		}
		log.Error().Err(err).Str("id", id).Msg("failed to decide approval")
		return errorJSON(c, http.StatusInternalServerError, "failed to apply decision")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":    true,
		"id":         id,
		"decision":   decision,
		"decided_at": time.Now().UTC(),
	})
}
