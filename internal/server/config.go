package server

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dagbolade/agency-guard/internal/auth"
	"github.com/dagbolade/agency-guard/internal/proxy"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// environment is the raw variable set. Durations are whole seconds (hours
// for the token lifetime) to keep the deployment files unchanged.
type environment struct {
	Port            int         `envconfig:"PORT" default:"8080"`
	ReadTimeout     int         `envconfig:"READ_TIMEOUT" default:"30"`
	WriteTimeout    int         `envconfig:"WRITE_TIMEOUT" default:"30"`
	ShutdownTimeout int         `envconfig:"SHUTDOWN_TIMEOUT" default:"10"`
	AwaitApproval   bool        `envconfig:"AWAIT_APPROVAL" default:"false"`
	ToolUpstream    string      `envconfig:"TOOL_UPSTREAM" default:"http://localhost:9000"`
	ToolUpstreams   upstreamMap `envconfig:"TOOL_UPSTREAMS"`
	UpstreamTimeout int         `envconfig:"UPSTREAM_TIMEOUT" default:"30"`

	LogLevel        string `envconfig:"LOG_LEVEL" default:"info"`
	DBPath          string `envconfig:"DB_PATH" default:"./db/audit.db"`
	PolicyDir       string `envconfig:"POLICY_DIR"`
	AuditRetention  int    `envconfig:"AUDIT_RETENTION" default:"0"`
	ApprovalTimeout int    `envconfig:"APPROVAL_TIMEOUT" default:"300"`
	MonitorInterval int    `envconfig:"MONITOR_INTERVAL" default:"60"`

	RequireAuth     bool   `envconfig:"REQUIRE_AUTH" default:"false"`
	JWTSecret       string `envconfig:"JWT_SECRET"`
	TokenExpiration int    `envconfig:"TOKEN_EXPIRATION_HOURS" default:"24"`
	AuthUsers       string `envconfig:"AUTH_USERS"`
}

// upstreamMap decodes "tool=url,tool2=url2". The built-in map decoder splits
// on ':' which every URL contains.
type upstreamMap map[string]string

func (m *upstreamMap) Decode(value string) error {
	routes := map[string]string{}
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		tool, target, ok := strings.Cut(pair, "=")
		tool, target = strings.TrimSpace(tool), strings.TrimSpace(target)
		if !ok || tool == "" || target == "" {
			return fmt.Errorf("invalid route %q, want tool=url", pair)
		}
		if u, err := url.Parse(target); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid upstream url for %s: %q", tool, target)
		}
		routes[tool] = target
	}
	*m = routes
	return nil
}

// Settings is everything the sidecar process reads from its environment.
type Settings struct {
	Server   Config
	Auth     auth.Config
	LogLevel string

	// DBPath is empty when the audit trail is kept in memory only.
	DBPath          string
	PolicyDir       string
	AuditRetention  int
	ApprovalTimeout time.Duration
	MonitorInterval time.Duration
}

// LoadSettings reads the process configuration. Values from .env.local and
// .env fill in variables the real environment leaves unset. DB_PATH set to
// an empty string disables the durable sink.
func LoadSettings() (Settings, error) {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	var env environment
	if err := envconfig.Process("", &env); err != nil {
		return Settings{}, fmt.Errorf("read environment: %w", err)
	}
	return env.settings(), nil
}

func (e environment) settings() Settings {
	return Settings{
		Server: Config{
			Port:            e.Port,
			ReadTimeout:     e.ReadTimeout,
			WriteTimeout:    e.WriteTimeout,
			ShutdownTimeout: e.ShutdownTimeout,
			AwaitApproval:   e.AwaitApproval,
			ProxyConfig: proxy.ProxyConfig{
				DefaultUpstream: e.ToolUpstream,
				Upstreams:       e.ToolUpstreams,
				Timeout:         e.UpstreamTimeout,
			},
		},
		Auth: auth.Config{
			JWTSecret:       e.JWTSecret,
			TokenExpiration: time.Duration(e.TokenExpiration) * time.Hour,
			RequireAuth:     e.RequireAuth,
			Users:           auth.ParseUsers(e.AuthUsers),
		},
		LogLevel:        e.LogLevel,
		DBPath:          e.DBPath,
		PolicyDir:       e.PolicyDir,
		AuditRetention:  e.AuditRetention,
		ApprovalTimeout: time.Duration(e.ApprovalTimeout) * time.Second,
		MonitorInterval: time.Duration(e.MonitorInterval) * time.Second,
	}
}
