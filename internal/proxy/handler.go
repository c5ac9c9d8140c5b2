package proxy

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dagbolade/agency-guard/internal/guard"
	"github.com/dagbolade/agency-guard/internal/permission"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// Handler forwards tool calls to an upstream once the permission check has
// been committed.
type Handler struct {
	config    ProxyConfig
	checker   permission.Checker
	forwarder *Forwarder
}

func NewHandler(cfg ProxyConfig, checker permission.Checker) *Handler {
	return &Handler{
		config:    cfg,
		checker:   checker,
		forwarder: NewForwarder(cfg.Timeout),
	}
}

func (h *Handler) HandleToolCall(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := h.parseRequest(c)
	if err != nil {
		return h.errorResponse(c, http.StatusBadRequest, err.Error())
	}

	upstream := h.config.UpstreamFor(req.ToolName)
	if upstream == "" {
		return h.errorResponse(c, http.StatusBadRequest, fmt.Sprintf("no upstream configured for %s", req.ToolName))
	}

	tool := guard.WrapTool(h.checker, req.AgentID,
		NewRemoteTool(h.forwarder, upstream, req.AgentID, req.ToolName, req.Operation))

	out, err := tool.Call(ctx, string(req.Args))
	if err != nil {
		return h.callError(c, req, upstream, err)
	}

	if guard.IsDenied(out) {
		return h.denyResponse(c, out)
	}

	return c.JSON(http.StatusOK, ToolCallResponse{
		Success: true,
		Result:  []byte(out),
	})
}

func (h *Handler) parseRequest(c echo.Context) (*ToolCallRequest, error) {
	var req ToolCallRequest
	if err := c.Bind(&req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}

	if req.AgentID == "" {
		return nil, fmt.Errorf("agent_id is required")
	}

	if req.ToolName == "" {
		return nil, fmt.Errorf("tool_name is required")
	}

	if req.Operation != "" && !req.Operation.Valid() {
		return nil, fmt.Errorf("unknown operation: %s", req.Operation)
	}

	if len(req.Args) == 0 {
		req.Args = []byte(`{}`)
	}

	return &req, nil
}

func (h *Handler) callError(c echo.Context, req *ToolCallRequest, upstream string, err error) error {
	switch {
	case errors.Is(err, permission.ErrInvalidRequest):
		return h.errorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUpstream):
		log.Error().Err(err).Str("upstream", upstream).Str("tool", req.ToolName).Msg("forward failed")
		return h.errorResponse(c, http.StatusBadGateway, "upstream request failed")
	default:
		log.Error().Err(err).Str("agent", req.AgentID).Str("tool", req.ToolName).Msg("permission check failed")
		return h.errorResponse(c, http.StatusInternalServerError, "permission check failed")
	}
}

func (h *Handler) denyResponse(c echo.Context, message string) error {
	return c.JSON(http.StatusForbidden, ToolCallResponse{
		Success: false,
		Error:   message,
	})
}

func (h *Handler) errorResponse(c echo.Context, status int, message string) error {
	return c.JSON(status, ToolCallResponse{
		Success: false,
		Error:   message,
	})
}
