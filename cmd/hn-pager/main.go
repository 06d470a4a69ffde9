package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/hn-pager/internal/config"
	"github.com/Sternrassler/hn-pager/pkg/client"
	"github.com/Sternrassler/hn-pager/pkg/logging"
	"github.com/Sternrassler/hn-pager/pkg/pagination"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load(os.Getenv("HN_PAGER_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Setup(cfg.Logging())
	logger := logging.NewLogger("server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis is optional: without it items are not cached and backoff is local.
	var redisClient *redis.Client
	if opts := cfg.RedisOptions(); opts != nil {
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", opts.Addr).Msg("Failed to connect to Redis")
		}
		logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	}

	hnClient, err := client.New(cfg.ClientConfig(redisClient))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create API client")
	}
	defer hnClient.Close()

	orch := pagination.New(hnClient, pagination.NewListingCache(), cfg.PaginationConfig())

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           newServer(orch, redisClient, logger).routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("user_agent", cfg.Client.UserAgent).
			Msg("Starting hn-pager server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
