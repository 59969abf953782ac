package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/genie-room/backend/internal/config"
	"github.com/zhouzirui/genie-room/backend/internal/handler"
	"github.com/zhouzirui/genie-room/backend/internal/logger"
	"github.com/zhouzirui/genie-room/backend/internal/service/conversation"
	"github.com/zhouzirui/genie-room/backend/internal/service/events"
	"github.com/zhouzirui/genie-room/backend/internal/service/genie"
	"github.com/zhouzirui/genie-room/backend/internal/service/orchestrator"
	"github.com/zhouzirui/genie-room/backend/internal/service/space"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to load .env file, continuing with system environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if _, err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatal().Err(err).Msg("failed to configure logger")
	}

	tokens, err := genie.NewTokenSource(cfg.Genie.Host, cfg.Genie.Token, cfg.Genie.ClientID, cfg.Genie.ClientSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure Databricks credentials")
	}

	client, err := genie.NewClient(genie.Config{
		Host:            cfg.Genie.Host,
		SpaceID:         cfg.Genie.SpaceID,
		WarehouseID:     cfg.Genie.WarehouseID,
		Timeout:         cfg.Genie.HTTPTimeout,
		ResultCacheSize: cfg.Genie.ResultCache,
	}, tokens)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create Genie client")
	}

	store := conversation.NewStore()
	broker := events.NewBroker(0)
	orch := orchestrator.New(store, client, broker, orchestrator.Options{
		SpaceID:         cfg.Genie.SpaceID,
		PollInterval:    cfg.Poll.Interval,
		PollMaxAttempts: cfg.Poll.MaxAttempts,
		Retry: orchestrator.RetryPolicy{
			Attempts:      cfg.Poll.RetryAttempts,
			InitialDelay:  cfg.Poll.RetryInitialDelay,
			MaxDelay:      cfg.Poll.RetryMaxDelay,
			BackoffFactor: 2,
			Jitter:        0.1,
		},
	})
	spaces := space.NewService(client, cfg.Genie.SpaceCacheTTL)

	router := handler.NewRouter(orch, store, broker, spaces)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().
		Str("addr", cfg.Server.Addr).
		Str("space_id", cfg.Genie.SpaceID).
		Dur("poll_interval", cfg.Poll.Interval).
		Int("poll_max_attempts", cfg.Poll.MaxAttempts).
		Msg("Genie Room backend listening")

	var eg errgroup.Group
	eg.Go(func() error {
		return runServer(ctx, srv)
	})
	eg.Go(func() error {
		// Warm the space cache so the first page load does not wait on Genie.
		if _, err := spaces.Get(ctx); err != nil {
			log.Warn().Err(err).Msg("could not load Genie space info at startup")
		}
		return nil
	})

	err = eg.Wait()
	orch.Close()
	if err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("server stopped")
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
