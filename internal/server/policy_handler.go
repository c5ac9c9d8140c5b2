package server

import (
	"net/http"

	"github.com/dagbolade/agency-guard/internal/auth"
	"github.com/dagbolade/agency-guard/internal/permission"
	"github.com/dagbolade/agency-guard/internal/policy"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type PolicyHandler struct {
	engine *permission.Engine
}

func NewPolicyHandler(engine *permission.Engine) *PolicyHandler {
	return &PolicyHandler{engine: engine}
}

func (h *PolicyHandler) List(c echo.Context) error {
	policies := h.engine.ListPolicies()
	docs := make([]policy.Document, 0, len(policies))
	for _, p := range policies {
		docs = append(docs, policy.DocumentFrom(p))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"total":    len(docs),
		"policies": docs,
	})
}

func (h *PolicyHandler) Get(c echo.Context) error {
	p, ok := h.engine.GetPolicy(c.Param("agent_id"))
	if !ok {
		return errorJSON(c, http.StatusNotFound, "no policy for agent "+c.Param("agent_id"))
	}
	return c.JSON(http.StatusOK, policy.DocumentFrom(p))
}

// Put registers or replaces one policy. Policies cannot be deleted.
func (h *PolicyHandler) Put(c echo.Context) error {
	var doc policy.Document
	if err := c.Bind(&doc); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid policy document")
	}

	p, err := doc.Policy()
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	if err := h.engine.AddPolicy(p); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	ev := log.Info().Str("agent", p.AgentID)
	if user := auth.GetUserFromContext(c); user != nil {
		ev = ev.Str("by", user.Email)
	}
	ev.Msg("policy updated via API")

	return c.JSON(http.StatusOK, policy.DocumentFrom(p))
}
