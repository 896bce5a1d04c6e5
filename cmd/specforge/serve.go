package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/specforge/internal/api"
	"github.com/p-blackswan/specforge/internal/auth"
	"github.com/p-blackswan/specforge/internal/config"
	"github.com/p-blackswan/specforge/internal/events"
	"github.com/p-blackswan/specforge/internal/gateway"
	"github.com/p-blackswan/specforge/internal/health"
	"github.com/p-blackswan/specforge/internal/ledger"
	"github.com/p-blackswan/specforge/internal/llm"
	"github.com/p-blackswan/specforge/internal/metrics"
	"github.com/p-blackswan/specforge/internal/orchestrator"
	"github.com/p-blackswan/specforge/internal/project"
	"github.com/p-blackswan/specforge/internal/review"
	"github.com/p-blackswan/specforge/internal/store"
	"github.com/p-blackswan/specforge/internal/tier"
)

const (
	dispatchTimeout = 30 * time.Second
	dbSizeInterval  = time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the task workers",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg)

	logger.Info().
		Str("environment", cfg.Environment).
		Str("addr", cfg.HTTPListenAddr).
		Str("db", cfg.DBPath).
		Str("llm_provider", cfg.LLMProvider).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Bool("webhook_enabled", cfg.WebhookEnabled()).
		Msg("starting specforge")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if n, err := st.FailStuckTasks(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to recover stuck tasks")
	} else if n > 0 {
		logger.Warn().Int64("tasks", n).Msg("marked tasks interrupted by restart as failed")
	}

	m := metrics.New()
	go trackDBSize(ctx, st, m, logger)

	var table tier.Table
	if cfg.TierTablePath != "" {
		table, err = tier.LoadTable(cfg.TierTablePath)
		if err != nil {
			return fmt.Errorf("load tier table: %w", err)
		}
		logger.Info().Str("path", cfg.TierTablePath).Msg("tier table loaded")
	}
	router := tier.NewRouter(table)

	gw := gateway.NewLLMGateway(newProvider(cfg, logger), logger)

	orch := orchestrator.New(orchestrator.Config{
		Timeout:      cfg.GenerationTimeout,
		ExcerptLimit: cfg.ContextExcerptLimit,
		Workers:      cfg.OrchestratorWorkers,
		QueueSize:    cfg.OrchestratorQueue,
	}, st, gw, router, m, logger)
	orch.Start(ctx)

	bus := events.NewBus()
	defer events.CountApprovals(bus, m)()

	publishers := []events.Publisher{events.NewLogPublisher(logger), bus}
	if cfg.WebhookEnabled() {
		publishers = append(publishers, events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookTimeout, cfg.WebhookRetries, logger))
	}
	if cfg.SlackEnabled() {
		publishers = append(publishers, events.NewSlackPublisher(cfg.SlackBotToken, cfg.SlackChannel, logger))
	}
	dispatcher := events.NewDispatcher(dispatchTimeout, m, logger, publishers...)
	logger.Info().Strs("publishers", dispatcher.Publishers()).Msg("change-approved publishers ready")

	resolver, err := auth.NewJWTResolver(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL, st)
	if err != nil {
		return err
	}

	checker := health.NewChecker(logger)
	checker.Register("store", health.PingCheck(st))

	srv := api.NewServer(api.ServerConfig{
		ListenAddr:  cfg.HTTPListenAddr,
		RateLimit:   api.RateLimitConfig{RPS: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst},
		CORSOrigins: strings.Join(cfg.CORSOriginList(), ","),
	}, api.Services{
		Projects:     project.NewService(st, m, logger),
		Ledger:       ledger.New(st, m, logger),
		Orchestrator: orch,
		Review:       review.New(st, orch, dispatcher, m, logger),
		Resolver:     resolver,
		Health:       checker,
		Metrics:      m,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err = <-errCh:
		logger.Error().Err(err).Msg("API server stopped")
	}

	if shutdownErr := srv.Shutdown(); shutdownErr != nil {
		logger.Error().Err(shutdownErr).Msg("API server shutdown error")
	}
	orch.Stop()
	dispatcher.Wait()

	logger.Info().Msg("specforge stopped")
	return err
}

// newProvider selects the LLM backend behind the generation gateway.
func newProvider(cfg *config.Config, logger zerolog.Logger) llm.Provider {
	opts := []llm.Option{llm.WithLogger(logger)}
	if strings.EqualFold(cfg.LLMProvider, "anthropic") {
		if cfg.LLMBaseURL != "" {
			opts = append(opts, llm.WithBaseURL(cfg.LLMBaseURL))
		}
		return llm.NewAnthropicProvider(cfg.AnthropicAPIKey, opts...)
	}
	return llm.NewChatProvider(cfg.LLMBaseURL, cfg.LLMAPIKey, opts...)
}

// trackDBSize refreshes the database size gauge until ctx ends.
func trackDBSize(ctx context.Context, st *store.Store, m *metrics.Metrics, logger zerolog.Logger) {
	ticker := time.NewTicker(dbSizeInterval)
	defer ticker.Stop()
	for {
		if n, err := st.DBSizeBytes(ctx); err == nil {
			m.SetDBSize(n)
		} else if ctx.Err() == nil {
			logger.Debug().Err(err).Msg("failed to read database size")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
