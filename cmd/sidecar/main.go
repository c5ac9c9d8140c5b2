package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dagbolade/agency-guard/internal/approval"
	"github.com/dagbolade/agency-guard/internal/audit"
	"github.com/dagbolade/agency-guard/internal/auth"
	"github.com/dagbolade/agency-guard/internal/monitor"
	"github.com/dagbolade/agency-guard/internal/permission"
	"github.com/dagbolade/agency-guard/internal/policy"
	"github.com/dagbolade/agency-guard/internal/ratelimit"
	"github.com/dagbolade/agency-guard/internal/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	settings, err := server.LoadSettings()
	setupLogger(settings.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	log.Info().Msg("starting agency guard")

	ctx, cancel := setupSignalHandler()
	defer cancel()

	if err := run(ctx, settings); err != nil {
		log.Fatal().Err(err).Msg("application error")
	}

	log.Info().Msg("agency guard stopped successfully")
}

func run(ctx context.Context, settings server.Settings) error {
	sink, err := initAuditSink(settings.DBPath)
	if err != nil {
		return err
	}

	ledger, err := initLedger(ctx, sink, settings.AuditRetention)
	if err != nil {
		if sink != nil {
			sink.Close()
		}
		return err
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close audit ledger")
		}
	}()

	store, err := initPolicyStore(settings.PolicyDir)
	if err != nil {
		return err
	}

	if watcher := watchPolicies(store, settings.PolicyDir); watcher != nil {
		defer watcher.Close()
	}

	engine := permission.NewEngine(store, ratelimit.New(), ledger)

	approvalQueue := initApprovalQueue(settings.ApprovalTimeout)
	defer func() {
		if err := approvalQueue.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close approval queue")
		}
	}()

	mon := monitor.New(engine)
	go mon.Watch(ctx, settings.MonitorInterval)

	authManager := initAuthManager(settings.Auth)

	var opts []server.Option
	if sink != nil {
		opts = append(opts, server.WithDurableAudit(sink))
	}

	srv := server.New(settings.Server, engine, mon, approvalQueue, authManager, opts...)

	return runServer(ctx, srv)
}

func initAuthManager(cfg auth.Config) *auth.Manager {
	log.Info().Bool("required", cfg.RequireAuth).Int("users", len(cfg.Users)).Msg("initializing auth manager")
	return auth.NewManager(cfg)
}

func setupLogger(levelName string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	level, err := zerolog.ParseLevel(levelName)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	return ctx, cancel
}

// initAuditSink returns nil for an empty path, which keeps the audit log in
// memory only.
func initAuditSink(dbPath string) (*audit.SQLiteSink, error) {
	if dbPath == "" {
		log.Warn().Msg("DB_PATH empty, audit log is not persisted")
		return nil, nil
	}

	log.Info().Str("path", dbPath).Msg("initializing audit sink")

	sink, err := audit.NewSQLiteSink(dbPath)
	if err != nil {
		return nil, err
	}

	log.Info().Msg("audit sink initialized")
	return sink, nil
}

func initLedger(ctx context.Context, sink *audit.SQLiteSink, retention int) (*audit.Ledger, error) {
	opts := []audit.Option{audit.WithRetention(audit.RetentionFor(retention))}
	if sink != nil {
		opts = append(opts, audit.WithSink(sink))
	}

	ledger := audit.NewLedger(opts...)
	if err := ledger.Resume(ctx); err != nil {
		return nil, err
	}
	return ledger, nil
}

func initPolicyStore(policyDir string) (*policy.Store, error) {
	store, err := policy.NewStore(policy.DefaultPolicies()...)
	if err != nil {
		return nil, err
	}

	if policyDir == "" {
		log.Info().Int("count", store.Len()).Msg("using built-in policies")
		return store, nil
	}

	log.Info().Str("dir", policyDir).Msg("loading policies")

	n, err := policy.LoadInto(store, policyDir)
	if err != nil {
		return nil, err
	}

	log.Info().Int("loaded", n).Int("total", store.Len()).Msg("policy store initialized")
	return store, nil
}

func watchPolicies(store *policy.Store, policyDir string) *policy.FileWatcher {
	if policyDir == "" {
		return nil
	}

	watcher, err := policy.WatchStore(store, policyDir)
	if err != nil {
		log.Warn().Err(err).Str("dir", policyDir).Msg("policy hot reload disabled")
		return nil
	}
	return watcher
}

func initApprovalQueue(timeout time.Duration) approval.Queue {
	log.Info().Dur("timeout", timeout).Msg("initializing approval queue")
	return approval.NewInMemoryQueue(timeout)
}

func runServer(ctx context.Context, srv *server.Server) error {
	errChan := make(chan error, 1)

	go func() {
		if err := srv.Start(); err != nil {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}
