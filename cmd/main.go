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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"waflow/internal/config"
	"waflow/internal/infrastructure"
	httpapi "waflow/internal/interfaces/http"
	"waflow/internal/repository"
	"waflow/internal/usecases"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(cfg.LogLevel).
		With().Timestamp().Logger()

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("exited with error")
	}
	logger.Info().Msg("bye")
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pgClient, err := infrastructure.NewPostgresClient(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pgClient.Close()

	users := repository.NewUserRepository(pgClient.Pool)
	instances := repository.NewInstanceRepository(pgClient.Pool)
	flows := repository.NewFlowRepository(pgClient.Pool)
	chatbots := repository.NewChatbotRepository(pgClient.Pool)
	broadcasts := repository.NewBroadcastRepository(pgClient.Pool)
	chats := repository.NewChatRepository(pgClient.Pool)
	usage := repository.NewUsageRepository(pgClient.Pool)
	warmers := repository.NewWarmerRepository(pgClient.Pool)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := infrastructure.NewMetrics(registry)

	waManager := infrastructure.NewWhatsAppManager(cfg.DevicesDir, instances, logger, metrics)
	defer waManager.DisconnectAll()

	assistant := infrastructure.NewAssistantClient(cfg.AssistantURL, &http.Client{Timeout: usecases.DefaultHandoffTimeout})
	if cfg.AssistantURL == "" {
		logger.Warn().Msg("ASSISTANT_URL not set, AI nodes fall back to the flow")
	}
	composer := usecases.NewComposer(infrastructure.NewMediaLibrary(cfg.MediaDir))
	executor := usecases.NewExecutor(chatbots, assistant, composer, usecases.ExecutorConfig{MaxSteps: cfg.MaxFlowSteps}, logger, metrics)
	flowService := usecases.NewFlowService(usecases.FlowDeps{
		Instances: instances,
		Plans:     users,
		Chatbots:  chatbots,
		Flows:     flows,
		Sessions:  waManager,
		Chats:     chats,
		Usage:     usage,
		Assistant: assistant,
	}, executor, usecases.FlowConfig{
		ReplyDelay:       cfg.ReplyDelay,
		TransportTimeout: cfg.TransportTimeout,
	}, logger, metrics)
	waManager.OnMessage = flowService.HandleMessage

	if err := waManager.Restore(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to restore whatsapp sessions")
	}

	broadcastService := usecases.NewBroadcastService(broadcasts, waManager, composer, usecases.BroadcastConfig{
		TransportTimeout: cfg.TransportTimeout,
		IdleInterval:     cfg.BroadcastIdleInterval,
	}, logger, metrics)
	warmerService := usecases.NewWarmerService(usecases.WarmerDeps{
		Warmers:   warmers,
		Instances: instances,
		Plans:     users,
		Sessions:  waManager,
	}, cfg.WarmerInterval, logger, metrics)

	auth := usecases.NewAuthUsecase(users, cfg.JWTSecret)
	if cfg.AdminUsername != "" && cfg.AdminPassword != "" {
		if err := auth.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
			logger.Warn().Err(err).Msg("failed to ensure admin user")
		}
	}

	if cfg.LogLevel > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	handler := httpapi.NewHandler(httpapi.HandlerDeps{
		Auth:       auth,
		Chatbots:   chatbots,
		Flows:      flows,
		Broadcasts: broadcasts,
		Instances:  instances,
		Sessions:   waManager,
		Warmers:    warmers,
		Usage:      usage,
	}, logger)
	httpapi.SetupRoutes(router, handler, httpapi.NewMiddleware(cfg.JWTSecret),
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return usecases.Supervise(gctx, "broadcast", cfg.LoopRestartDelay, logger, metrics, broadcastService.Run)
	})
	g.Go(func() error {
		return usecases.Supervise(gctx, "warmer", cfg.LoopRestartDelay, logger, metrics, warmerService.Run)
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
