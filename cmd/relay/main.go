package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/viant/toolrelay/kv"
	"github.com/viant/toolrelay/relay"
	_ "go.uber.org/automaxprocs"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := loadConfig(logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}
	if cfg.LogFormat == "console" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	var store kv.Store
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to redis")
		}
		store = kv.NewRedisStore(rdb, cfg.KeyPrefix)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("using redis store")
	} else {
		store = kv.NewMemoryStore()
		logger.Warn().Msg("using in-memory store; sessions will not survive restarts")
	}

	options := []relay.Option{
		relay.WithLogger(logger),
		relay.WithSessionTTL(cfg.SessionTTL),
		relay.WithQueueTTL(cfg.QueueTTL),
		relay.WithStreamDeadline(cfg.StreamDeadline),
		relay.WithRateLimits(cfg.SessionRateLimit, cfg.RequestRateLimit, cfg.ResponseRateLimit),
	}
	if len(cfg.AllowedOriginDomains) > 0 {
		options = append(options, relay.WithAllowedOriginDomains(cfg.AllowedOriginDomains...))
	}

	mux := http.NewServeMux()
	if cfg.MetricsEnabled {
		registry := prometheus.NewRegistry()
		options = append(options, relay.WithMetrics(relay.NewMetrics(registry)))
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", relay.New(store, options...))

	server := &http.Server{Addr: cfg.Addr, Handler: mux}
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("relay listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown failed")
	}
}
