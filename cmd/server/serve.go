package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/sharegate/internal/analytics"
	"github.com/sharegate/internal/config"
	"github.com/sharegate/internal/cooldown"
	"github.com/sharegate/internal/db"
	"github.com/sharegate/internal/handler"
	"github.com/sharegate/internal/logger"
	"github.com/sharegate/internal/notify"
	"github.com/sharegate/internal/ratelimit"
	"github.com/sharegate/internal/router"
	"github.com/sharegate/internal/service"
	"github.com/sharegate/internal/spam"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// components 是进程内共享的有状态组件，由 serve 显式创建并持有。
type components struct {
	limiter   *ratelimit.Limiter
	cooldowns *cooldown.Store
	history   *spam.History
	analytics *analytics.Aggregator
	notifier  *notify.Dispatcher
	posts     *service.PostService
	shares    *service.ShareOrchestrator
}

func buildComponents(cfg config.AppConfig, log zerolog.Logger) components {
	c := components{
		limiter: ratelimit.New(ratelimit.Limits{
			PerMinute: cfg.RateLimits.SharesPerMinute,
			PerHour:   cfg.RateLimits.SharesPerHour,
			PerDay:    cfg.RateLimits.SharesPerDay,
		}, 0),
		cooldowns: cooldown.NewStore(0),
		history:   spam.NewHistory(0),
		analytics: analytics.New(cfg.AnalyticsRetention, cfg.AnalyticsMaxEvents),
		notifier:  notify.NewDispatcher(cfg.NotifyBuffer, log.With().Str("component", "notify").Logger()),
		posts:     service.NewPostService(db.DB),
	}

	executor := service.NewShareTransactionExecutor(db.DB, c.analytics).WithTimeout(cfg.TransactionTimeout)
	c.shares = service.NewShareOrchestrator(service.ShareOrchestratorDeps{
		Limiter:   c.limiter,
		Cooldowns: c.cooldowns,
		Scorer:    spam.NewScorer(),
		History:   c.history,
		Posts:     c.posts,
		Executor:  executor,
		Analytics: c.analytics,
		Notifier:  c.notifier,
		Logger:    log.With().Str("component", "orchestrator").Logger(),
	}).WithMessageLimits(cfg.MaxMessageRunes, cfg.MaxTargets)
	return c
}

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New("sharegate", cfg.LogLevel, cfg.LogFormat)

	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Error().Err(err).Str("path", cfg.DatabasePath).Msg("failed to initialize database")
		return err
	}
	if created, err := db.EnsureUser(db.DB, cfg.SuperRootUserName, cfg.SuperRootPassword); err != nil {
		log.Error().Err(err).Msg("failed to ensure super root user")
		return err
	} else if created {
		log.Info().Str("username", cfg.SuperRootUserName).Msg("super root user created")
	}

	gin.SetMode(cfg.GinMode)
	c := buildComponents(cfg, log)
	api := handler.NewAPI(db.DB, c.shares, c.posts, log.With().Str("component", "http").Logger())

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := service.NewSweeper(c.limiter, c.cooldowns, c.history, c.analytics, cfg.SweepInterval, cfg.IdleRetention, log.With().Str("component", "sweeper").Logger())
	go func() { _ = sweeper.Run(ctx) }()
	go func() { _ = c.notifier.Run(ctx) }()

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router.SetupRouter(api, cfg.SessionSecret),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
			return err
		}
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		return err
	}
	log.Info().Msg("Server exited")
	return nil
}
