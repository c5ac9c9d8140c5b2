package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dagbolade/agency-guard/internal/approval"
	"github.com/dagbolade/agency-guard/internal/auth"
	"github.com/dagbolade/agency-guard/internal/monitor"
	"github.com/dagbolade/agency-guard/internal/permission"
	"github.com/dagbolade/agency-guard/internal/proxy"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
)

type Server struct {
	echo   *echo.Echo
	config Config
}

type Config struct {
	Port            int
	ReadTimeout     int
	WriteTimeout    int
	ShutdownTimeout int
	// AwaitApproval makes /check and /tool/call block on the approval queue
	// for CONFIRMATION and HUMAN tools.
	AwaitApproval bool
	ProxyConfig   proxy.ProxyConfig
}

type Option func(*options)

type options struct {
	durable DurableAudit
}

// WithDurableAudit exposes the durable audit trail next to the in-memory one.
func WithDurableAudit(d DurableAudit) Option {
	return func(o *options) { o.durable = d }
}

// New wires the HTTP API. appr may be nil, in which case approval routes are
// not registered and approval levels stay advisory.
func New(cfg Config, engine *permission.Engine, mon *monitor.Monitor, appr approval.Queue, authManager *auth.Manager, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		echo:   e,
		config: cfg,
	}

	s.setupMiddleware()
	s.setupRoutes(engine, mon, appr, authManager, o)

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	log.Info().Int("port", s.config.Port).Msg("starting HTTP server")

	s.echo.Server.ReadTimeout = time.Duration(s.config.ReadTimeout) * time.Second
	s.echo.Server.WriteTimeout = time.Duration(s.config.WriteTimeout) * time.Second

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(s.config.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	return nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Str("request_id", v.RequestID).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	s.echo.Use(middleware.Recover())

	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))
}

func (s *Server) setupRoutes(engine *permission.Engine, mon *monitor.Monitor, appr approval.Queue, authManager *auth.Manager, o options) {
	var checker permission.Checker = engine
	if s.config.AwaitApproval && appr != nil {
		checker = engine.WithApprover(appr)
	}

	checkHandler := NewCheckHandler(engine, checker)
	proxyHandler := proxy.NewHandler(s.config.ProxyConfig, checker)
	auditHandler := NewAuditHandler(engine, o.durable)
	monitorHandler := NewMonitorHandler(mon)
	policyHandler := NewPolicyHandler(engine)
	authHandler := auth.NewHandler(authManager)
	admin := authManager.RequireRole(auth.RoleAdmin)

	// Public endpoints (no auth required)
	s.echo.GET("/health", s.handleHealth)
	s.echo.POST("/login", authHandler.Login)

	protected := s.echo.Group("")
	protected.Use(authManager.Middleware())

	protected.GET("/me", authHandler.Me)
	protected.POST("/check", checkHandler.Check)
	protected.POST("/tool/call", proxyHandler.HandleToolCall)
	protected.GET("/metrics", checkHandler.Metrics)
	protected.POST("/sessions/reset", checkHandler.ResetSession, admin)

	protected.GET("/audit", auditHandler.GetAuditLog)
	protected.GET("/audit/verify", auditHandler.Verify)

	protected.GET("/anomalies", monitorHandler.Anomalies)
	protected.GET("/report", monitorHandler.Report)

	protected.GET("/policies", policyHandler.List)
	protected.GET("/policies/:agent_id", policyHandler.Get)
	protected.PUT("/policies", policyHandler.Put, admin)

	if appr != nil {
		approvalHandler := NewApprovalHandler(appr)
		protected.GET("/approvals", approvalHandler.GetPending)
		protected.POST("/approvals/:id", approvalHandler.Decide, authManager.RequireRole(auth.RoleApprover))
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func errorJSON(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]string{"error": message})
}
