package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ticketform/backend/internal/ai"
	"github.com/ticketform/backend/internal/cache"
	"github.com/ticketform/backend/internal/config"
	"github.com/ticketform/backend/internal/db"
	httpapi "github.com/ticketform/backend/internal/http"
	"github.com/ticketform/backend/internal/notify"
	"github.com/ticketform/backend/internal/service"
)

func newServeCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *envFile)
		},
	}
}

func runServe(ctx context.Context, envFile string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.LoadFile(envFile)
	if err != nil {
		return fmt.Errorf("serve: load config: %w", err)
	}
	logger := newLogger(cfg)

	store, err := db.Open(ctx, cfg.DatabaseURL, storeOptions(cfg, logger))
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect db")
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to migrate db")
		return err
	}

	intake, closeDeps := newIntakeService(ctx, cfg, store, logger)
	defer closeDeps()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpapi.Router(cfg, store, intake, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
	return nil
}

// newIntakeService wires the clarifier and the optional cache and notifier.
// The returned func releases whatever was opened.
func newIntakeService(ctx context.Context, cfg config.Config, store db.Store, logger zerolog.Logger) (*service.IntakeService, func()) {
	closers := []func(){}

	var clarifier ai.Clarifier
	if cfg.OpenAIAPIKey == "" {
		clarifier = ai.MockClarifier{}
		logger.Info().Msg("OPENAI_API_KEY not set, using mock clarifier")
	} else {
		clarifier = ai.NewOpenAIClarifier(ai.OpenAICompatAssistant{
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.OpenAIModel,
			APIKey:      cfg.OpenAIAPIKey,
			Temperature: cfg.AITemperature,
			Timeout:     cfg.AITimeout,
		})
	}

	intake := &service.IntakeService{
		Store:  store,
		AI:     clarifier,
		Gate:   service.NewGate(cfg.FollowupMinLength),
		Logger: logger,
	}

	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, recent tickets will not be cached")
		} else {
			intake.Cache = rc
			closers = append(closers, func() { _ = rc.Close() })
		}
	}

	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		intake.Notifier = notify.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackChannel)
		logger.Info().Str("channel", cfg.SlackChannel).Msg("slack notifications enabled")
	}

	return intake, func() {
		for _, c := range closers {
			c()
		}
	}
}
