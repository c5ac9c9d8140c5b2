package server

import (
	"net/http"

	"github.com/dagbolade/agency-guard/internal/monitor"
	"github.com/labstack/echo/v4"
)

type MonitorHandler struct {
	monitor *monitor.Monitor
}

func NewMonitorHandler(m *monitor.Monitor) *MonitorHandler {
	return &MonitorHandler{monitor: m}
}

func (h *MonitorHandler) Anomalies(c echo.Context) error {
	anomalies := h.monitor.DetectAnomalies()
	if anomalies == nil {
		anomalies = []monitor.Anomaly{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"total":     len(anomalies),
		"anomalies": anomalies,
	})
}

func (h *MonitorHandler) Report(c echo.Context) error {
	return c.JSON(http.StatusOK, h.monitor.GenerateSecurityReport())
}
