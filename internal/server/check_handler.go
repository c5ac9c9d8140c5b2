package server

import (
	"errors"
	"net/http"

	"github.com/dagbolade/agency-guard/internal/permission"
	"github.com/dagbolade/agency-guard/internal/policy"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// CheckHandler serves permission decisions and session state.
type CheckHandler struct {
	engine  *permission.Engine
	checker permission.Checker
}

func NewCheckHandler(engine *permission.Engine, checker permission.Checker) *CheckHandler {
	return &CheckHandler{engine: engine, checker: checker}
}

type checkRequest struct {
	AgentID   string           `json:"agent_id"`
	ToolName  string           `json:"tool_name"`
	Operation policy.Operation `json:"operation"`
	Context   map[string]any   `json:"context,omitempty"`
}

type checkResponse struct {
	permission.Decision
	RequestID string `json:"request_id,omitempty"`
}

func (h *CheckHandler) Check(c echo.Context) error {
	var req checkRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	d, err := h.checker.CheckPermission(c.Request().Context(), req.AgentID, req.ToolName, req.Operation, req.Context)
	if err != nil {
		if errors.Is(err, permission.ErrInvalidRequest) {
			return errorJSON(c, http.StatusBadRequest, err.Error())
		}
		log.Error().Err(err).Str("agent", req.AgentID).Str("tool", req.ToolName).Msg("permission check failed")
		return errorJSON(c, http.StatusInternalServerError, "decision could not be recorded")
	}

	return c.JSON(http.StatusOK, checkResponse{
		Decision:  d,
		RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
	})
}

func (h *CheckHandler) Metrics(c echo.Context) error {
	m := h.engine.GetMetrics()
	return c.JSON(http.StatusOK, map[string]any{
		"metrics":     m,
		"denial_rate": m.DenialRate(),
		"usage":       h.engine.Usage(),
	})
}

// ResetSession clears the session of agent_id, or of every agent when it is
// omitted.
func (h *CheckHandler) ResetSession(c echo.Context) error {
	var req struct {
		AgentID string `json:"agent_id" query:"agent_id"`
	}
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	h.engine.ResetSession(req.AgentID)

	scope := req.AgentID
	if scope == "" {
		scope = "all"
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"reset":   scope,
	})
}
