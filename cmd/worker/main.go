package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/restoku/backend-resto/internal/app"
	"github.com/restoku/backend-resto/internal/config"
	"github.com/restoku/backend-resto/internal/notify"
	"github.com/restoku/backend-resto/internal/obs"
	"github.com/restoku/backend-resto/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	concurrency := envInt("WORKER_CONCURRENCY", 4)
	srv, err := app.NewTaskServer(cfg, concurrency, map[string]int{
		notify.QueueName: 1,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise task server")
	}

	telegram := &notify.Telegram{
		Token:  cfg.TelegramBotToken,
		ChatID: cfg.TelegramChatID,
		HTTP:   resilience.NewOutboundClient(10*time.Second, 3),
	}

	mux := asynq.NewServeMux()
	mux.Handle(notify.TypeOrderNotification, notify.NewWorkerHandler(telegram))

	go func() {
		logger.Info().Int("concurrency", concurrency).Msg("worker starting")
		if err := srv.Run(mux); err != nil {
			logger.Fatal().Err(err).Msg("worker exited unexpectedly")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	srv.Shutdown()
	logger.Info().Msg("worker stopped")
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}
