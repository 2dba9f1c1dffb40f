package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ihirwe-dev/backend-pos/internal/common"
	"github.com/ihirwe-dev/backend-pos/internal/config"
	"github.com/ihirwe-dev/backend-pos/internal/db"
	"github.com/ihirwe-dev/backend-pos/internal/exchange"
	"github.com/ihirwe-dev/backend-pos/internal/jobs"
	"github.com/ihirwe-dev/backend-pos/internal/obs"
	"github.com/ihirwe-dev/backend-pos/internal/reports"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := db.Connect(initCtx, cfg.DatabaseURL, "pos-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(initCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	reportsService := &reports.Service{
		Q:            reports.NewQuerier(pool),
		R:            redisClient,
		TTL:          cfg.ReportsCacheTTL,
		DefaultRange: cfg.ReportsRangeDays,
	}

	exchangeService, err := exchange.NewService(exchange.ServiceConfig{
		Store: exchange.NewStore(pool),
		Redis: redisClient,
		Fetcher: exchange.NewProvider(exchange.ProviderConfig{
			FeedURL:  cfg.ExchangeFeedURL,
			Currency: cfg.CurrencyCode,
		}),
		Logger:   logger,
		CacheTTL: cfg.ExchangeCacheTTL,
		Currency: cfg.CurrencyCode,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise exchange service")
	}

	handlers := &jobs.Handlers{
		Logger:     logger,
		Mail:       common.NopEmailSender{},
		AlertEmail: cfg.AlertEmail,
		Reports:    reportsService,
		Exchange:   exchangeService,
	}

	redisConn, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url for task queue")
	}

	srv := asynq.NewServer(redisConn, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Logger:      asynqLogger{logger: logger},
		Queues: map[string]int{
			"default": 1,
		},
	})
	mux := asynq.NewServeMux()
	handlers.Register(mux)

	scheduler := asynq.NewScheduler(redisConn, &asynq.SchedulerOpts{})
	if cfg.ExchangeFeedURL != "" {
		if _, err := scheduler.Register(envOrDefault("EXCHANGE_SYNC_CRON", "0 * * * *"), jobs.NewExchangeSyncTask()); err != nil {
			logger.Fatal().Err(err).Msg("register exchange sync schedule")
		}
	}
	warmTask, err := jobs.NewReportWarmTask(jobs.ReportWarmPayload{Report: "dashboard", Days: cfg.ReportsRangeDays})
	if err != nil {
		logger.Fatal().Err(err).Msg("build report warm task")
	}
	if _, err := scheduler.Register(envOrDefault("REPORT_WARM_CRON", "*/15 * * * *"), warmTask); err != nil {
		logger.Fatal().Err(err).Msg("register report warm schedule")
	}

	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Error().Err(err).Msg("scheduler stopped with error")
		}
	}()

	go func() {
		<-ctx.Done()
		scheduler.Shutdown()
		srv.Shutdown()
	}()

	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")
	if err := srv.Run(mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
		logger.Error().Err(err).Msg("worker stopped with error")
	} else {
		logger.Info().Msg("worker shutdown complete")
	}
}

// asynqLogger adapts zerolog to the asynq logging interface.
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
