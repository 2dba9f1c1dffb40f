package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterstdlib "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/ihirwe-dev/backend-pos/internal/auth"
	"github.com/ihirwe-dev/backend-pos/internal/catalog"
	"github.com/ihirwe-dev/backend-pos/internal/common"
	"github.com/ihirwe-dev/backend-pos/internal/config"
	"github.com/ihirwe-dev/backend-pos/internal/db"
	"github.com/ihirwe-dev/backend-pos/internal/exchange"
	"github.com/ihirwe-dev/backend-pos/internal/health"
	"github.com/ihirwe-dev/backend-pos/internal/inventory"
	"github.com/ihirwe-dev/backend-pos/internal/obs"
	"github.com/ihirwe-dev/backend-pos/internal/ratelimit"
	"github.com/ihirwe-dev/backend-pos/internal/reports"
	"github.com/ihirwe-dev/backend-pos/internal/sales"
	"github.com/ihirwe-dev/backend-pos/internal/security"
	"github.com/ihirwe-dev/backend-pos/internal/user"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "pos")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "pos-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx := context.Background()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL, "pos-api")
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
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	redisConn, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url for task queue")
	}
	taskClient := asynq.NewClient(redisConn)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	validate := validator.New()

	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Store:        catalog.NewStore(pool),
		Cache:        catalog.NewCache(redisClient, cfg.CatalogCacheTTL),
		Validate:     validate,
		DefaultLimit: cfg.CatalogDefaultLimit,
		MaxLimit:     cfg.CatalogMaxLimit,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise catalog service")
	}
	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{Service: catalogService})

	inventoryService, err := inventory.NewService(inventory.ServiceConfig{
		Store:             inventory.NewStore(pool),
		Validate:          validate,
		Enqueuer:          taskClient,
		Logger:            logger,
		LowStockThreshold: cfg.LowStockThreshold,
		DefaultLimit:      cfg.CatalogDefaultLimit,
		MaxLimit:          cfg.CatalogMaxLimit,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise inventory service")
	}
	inventoryHandler := inventory.NewHandler(inventory.HandlerConfig{Service: inventoryService})

	salesService, err := sales.NewService(sales.ServiceConfig{
		Store:        sales.NewStore(pool),
		Validate:     validate,
		Enqueuer:     taskClient,
		Logger:       logger,
		DefaultLimit: cfg.CatalogDefaultLimit,
		MaxLimit:     cfg.CatalogMaxLimit,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise sales service")
	}
	salesHandler := sales.NewHandler(sales.HandlerConfig{Service: salesService})

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
	exchangeHandler := exchange.NewHandler(exchange.HandlerConfig{Service: exchangeService})

	reportsService := &reports.Service{
		Q:            reports.NewQuerier(pool),
		R:            redisClient,
		TTL:          cfg.ReportsCacheTTL,
		DefaultRange: cfg.ReportsRangeDays,
	}
	reportsHandler := &reports.Handler{Svc: reportsService}

	authService, err := auth.NewService(auth.Config{
		Store:          auth.NewStore(pool),
		Secret:         cfg.JWTSecret,
		AccessTokenTTL: cfg.AccessTokenTTL,
		Issuer:         cfg.JWTIssuer,
		Audience:       cfg.JWTAudience,
		ClockSkew:      cfg.ClockSkew,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}
	authHandler := auth.NewHandler(auth.HandlerConfig{Service: authService})
	authMiddleware := auth.Middleware{Service: authService}

	userService, err := user.NewService(user.ServiceConfig{Store: user.NewStore(pool), Validate: validate})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise user service")
	}
	userHandler := user.NewHandler(user.HandlerConfig{Service: userService})

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	loginLimiter := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl:login:"},
		Config: ratelimit.Config{
			Key:    ratelimit.LoginKey,
			Window: cfg.LoginRateWindow,
			Max:    cfg.LoginRateMax,
		},
		OnError: func(err error) {
			logger.Error().Err(err).Msg("login rate limiter")
		},
	}

	globalRate, err := limiter.NewRateFromFormatted(cfg.GlobalRateLimit)
	if err != nil {
		logger.Fatal().Err(err).Str("limit", cfg.GlobalRateLimit).Msg("parse global rate limit")
	}
	limiterStore, err := limiterredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "limiter"})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise limiter store")
	}
	globalLimiter := limiterstdlib.NewMiddleware(limiter.New(limiterStore, globalRate))

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{EnableHSTS: cfg.EnableHSTS}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Total-Count"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", true) {
		pprofUser := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pprofPass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), pprofUser, pprofPass))
	}

	healthHandler := health.Handler{
		Checker:      health.Deps{Pool: pool, Redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(globalLimiter.Handler)

		v.Route("/auth", func(a chi.Router) {
			a.With(loginLimiter.Middleware).Post("/login", authHandler.Login)
			a.Group(func(protected chi.Router) {
				protected.Use(authMiddleware.RequireAuth)
				protected.Get("/me", authHandler.Me)
			})
		})

		v.Group(func(g chi.Router) {
			g.Use(authMiddleware.RequireAuth)

			g.Get("/products", catalogHandler.ListProducts)
			g.Get("/products/search", catalogHandler.SearchProducts)
			g.Get("/products/{id}", catalogHandler.GetProduct)
			g.Post("/products/scan", catalogHandler.ScanBarcode)
			g.Get("/categories", catalogHandler.ListCategories)

			g.Get("/stock-movements", inventoryHandler.ListMovements)
			g.Post("/stock-movements", inventoryHandler.CreateMovement)
			g.Get("/inventory", inventoryHandler.StockLevels)

			g.Post("/orders/quote", salesHandler.Quote)
			g.With(idem.Middleware).Post("/orders", salesHandler.CreateOrder)
			g.Get("/orders", salesHandler.ListOrders)
			g.Get("/orders/{id}", salesHandler.GetOrder)
			g.Post("/orders/{id}/cancel", salesHandler.CancelOrder)

			g.Get("/sales", salesHandler.ListSales)
			g.Put("/sales/{id}/payment", salesHandler.ConfirmPayment)
			g.Post("/sales/{id}/refund", salesHandler.RefundSale)

			g.Get("/exchange-rate", exchangeHandler.Current)
			g.Get("/exchange-rate/history", exchangeHandler.History)

			g.Group(func(admin chi.Router) {
				admin.Use(auth.RequireRole(auth.RoleAdmin))

				admin.Post("/products", catalogHandler.CreateProduct)
				admin.Put("/products/{id}", catalogHandler.UpdateProduct)
				admin.Delete("/products/{id}", catalogHandler.DeleteProduct)
				admin.Post("/categories", catalogHandler.CreateCategory)
				admin.Put("/categories/{id}", catalogHandler.UpdateCategory)
				admin.Delete("/categories/{id}", catalogHandler.DeleteCategory)

				admin.Put("/exchange-rate", exchangeHandler.Update)

				admin.Get("/reports/sales", reportsHandler.Sales)
				admin.Get("/reports/inventory", reportsHandler.Inventory)
				admin.Get("/reports/best-selling", reportsHandler.BestSelling)

				admin.Get("/users", userHandler.List)
				admin.Post("/users", userHandler.Create)
				admin.Get("/users/{id}", userHandler.Get)
				admin.Put("/users/{id}", userHandler.Update)
				admin.Put("/users/{id}/password", userHandler.ResetPassword)
				admin.Delete("/users/{id}", userHandler.Delete)
			})
		})
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		health.SetReady(false)
		drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(drainCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown server")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
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

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
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

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/block", pprof.Handler("block"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	mux.Handle("/threadcreate", pprof.Handler("threadcreate"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
