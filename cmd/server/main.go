package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/washboard/backend/internal/ai"
	"github.com/washboard/backend/internal/cache"
	"github.com/washboard/backend/internal/config"
	"github.com/washboard/backend/internal/db"
	httpapi "github.com/washboard/backend/internal/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "washboard-backend").Logger()

	ctx := context.Background()
	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect db")
	}
	defer store.Close()

	var redisCache *cache.Cache
	if cfg.RedisURL != "" {
		redisCache, err = cache.New(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, running without cache")
			redisCache = nil
		} else {
			defer redisCache.Close()
		}
	}

	var analyzer ai.Analyzer
	var assistant ai.Assistant
	if cfg.AIBaseURL == "" {
		analyzer = ai.MockAnalyzer{ModelVersion: "mock-v1"}
		logger.Info().Msg("using mock transcript analyzer")
	} else {
		analyzer = ai.OpenAICompatAnalyzer{
			BaseURL: cfg.AIBaseURL,
			Model:   cfg.AIModel,
			APIKey:  cfg.AIAPIKey,
			Timeout: cfg.AITimeout,
		}
		assistant = &ai.OpenAICompatAssistant{
			BaseURL: cfg.AIBaseURL,
			Model:   cfg.AIModel,
			APIKey:  cfg.AIAPIKey,
			Timeout: cfg.AITimeout,
		}
	}

	router := httpapi.Router(cfg, store, analyzer, assistant, redisCache, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
