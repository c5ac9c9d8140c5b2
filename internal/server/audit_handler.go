package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/dagbolade/agency-guard/internal/audit"
	"github.com/dagbolade/agency-guard/internal/permission"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// DurableAudit is the read side of a persistent audit sink.
type DurableAudit interface {
	Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
	Verify(ctx context.Context) error
}

type AuditHandler struct {
	engine  *permission.Engine
	durable DurableAudit
}

func NewAuditHandler(engine *permission.Engine, durable DurableAudit) *AuditHandler {
	return &AuditHandler{engine: engine, durable: durable}
}

// GetAuditLog lists entries. With source=durable the persistent store is
// queried (newest first) instead of the in-memory log (oldest first).
func (h *AuditHandler) GetAuditLog(c echo.Context) error {
	f, err := parseFilter(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	var entries []audit.Entry
	switch c.QueryParam("source") {
	case "", "memory":
		entries = h.engine.GetAuditLog(f)
	case "durable":
		if h.durable == nil {
			return errorJSON(c, http.StatusNotFound, "durable audit store not configured")
		}
		entries, err = h.durable.Query(c.Request().Context(), f)
		if err != nil {
			log.Error().Err(err).Str("remote_addr", c.Request().RemoteAddr).Msg("failed to retrieve audit log")
			return errorJSON(c, http.StatusInternalServerError, "failed to retrieve audit log")
		}
	default:
		return errorJSON(c, http.StatusBadRequest, "source must be memory or durable")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"total":   len(entries),
		"entries": entries,
	})
}

func (h *AuditHandler) Verify(c echo.Context) error {
	resp := map[string]any{"valid": true}

	if err := h.engine.VerifyAudit(); err != nil {
		resp["valid"] = false
		resp["memory_error"] = err.Error()
	}

	if h.durable != nil {
		if err := h.durable.Verify(c.Request().Context()); err != nil {
			resp["valid"] = false
			resp["durable_error"] = err.Error()
		}
	}

	status := http.StatusOK
	if resp["valid"] == false {
		log.Warn().Interface("result", resp).Msg("audit chain verification failed")
		status = http.StatusConflict
	}
	return c.JSON(status, resp)
}

func parseFilter(c echo.Context) (audit.Filter, error) {
	f := audit.Filter{AgentID: c.QueryParam("agent_id")}

	if r := c.QueryParam("result"); r != "" {
		f.Result = audit.Result(r)
		if !f.Result.Valid() {
			return f, errors.New("result must be allowed or denied")
		}
	}

	if l := c.QueryParam("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return f, errors.New("limit must be a non-negative integer")
		}
		f.Limit = n
	}

	return f, nil
}
