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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/equiplease/quote-api/internal/app"
	"github.com/equiplease/quote-api/internal/auth"
	"github.com/equiplease/quote-api/internal/catalog"
	"github.com/equiplease/quote-api/internal/config"
	"github.com/equiplease/quote-api/internal/events"
	"github.com/equiplease/quote-api/internal/health"
	"github.com/equiplease/quote-api/internal/lock"
	"github.com/equiplease/quote-api/internal/notify"
	"github.com/equiplease/quote-api/internal/obs"
	"github.com/equiplease/quote-api/internal/quote"
	"github.com/equiplease/quote-api/internal/quoting"
	"github.com/equiplease/quote-api/internal/resilience"
	"github.com/equiplease/quote-api/internal/save"
	"github.com/equiplease/quote-api/internal/shipping"
	"github.com/equiplease/quote-api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "quoteapi")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "quote-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "quote-api"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	// Redis is optional: without it the advisory save lock degrades to
	// in-process and catalog lookups skip the cache.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse redis url")
		}
		redisClient = redis.NewClient(redisOpts)
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
	}

	quoteStore := &store.PGStore{
		Pool:       pool,
		Advisory:   lock.Advisory{R: redisClient, TTL: 10 * time.Second},
		StaleAfter: cfg.LockStaleAfter,
		Logger:     logger.With().Str("component", "store").Logger(),
	}

	catalogSource := newCatalogSource(cfg, redisClient, &logger)
	advisor := shipping.Advisor{Mappings: catalogSource}

	taskClient, err := app.NewTaskClient(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise task queue client")
	}
	if taskClient != nil {
		defer func() {
			if err := taskClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close task queue client")
			}
		}()
	}
	enqueuer := notify.NewEnqueuer(taskClient,
		[]string{events.TopicQuoteStatusChanged, events.TopicQuoteCreated},
		logger.With().Str("component", "notify").Logger(),
	)
	bus := &events.Bus{Notifiers: []events.Notifier{enqueuer}}

	sessions := save.NewManager(quoteStore, cfg.SaveDebounce, logger.With().Str("component", "save").Logger())
	sessions.Hooks = saveMetricsHooks(bus, &logger)
	defer sessions.Shutdown()

	quoteSvc := &quoting.Service{
		Store:     quoteStore,
		Locks:     lock.Coordinator{StaleAfter: cfg.LockStaleAfter},
		Advisor:   advisor,
		Events:    bus,
		Validator: quoting.NewValidator(),
		Logger:    logger.With().Str("component", "quoting").Logger(),
	}
	quoteHandler := &quoting.Handler{
		Svc:      quoteSvc,
		Sessions: sessions,
		Logger:   logger.With().Str("component", "http").Logger(),
	}

	verifier := auth.TokenVerifier{
		Secret:    []byte(cfg.JWTSecret),
		Issuer:    cfg.JWTIssuer,
		Audience:  cfg.JWTAudience,
		ClockSkew: 30 * time.Second,
	}
	authMiddleware := auth.Middleware{Verifier: verifier}

	rateLimit, err := app.NewRateLimitMiddleware(redisClient, cfg.RateLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, nil, nil)
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
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      health.Probes{Pool: pool, Redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(rateLimit)
		v.Group(func(protected chi.Router) {
			protected.Use(authMiddleware.RequireAuth)
			protected.Group(quoteHandler.Routes)
		})
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-stopCtx.Done()

	health.SetReady(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("server stopped")
}

// newCatalogSource picks the price-service client or, without a base URL, a
// static development catalog.
func newCatalogSource(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) catalog.Source {
	if cfg.CatalogBaseURL == "" {
		logger.Warn().Msg("CATALOG_BASE_URL not set; using static development catalog")
		return devCatalog()
	}
	httpSource := &catalog.HTTPSource{
		BaseURL: cfg.CatalogBaseURL,
		Client: &resilience.HTTPClient{
			Client:      &http.Client{Timeout: 5 * time.Second},
			Breaker:     resilience.NewBreaker(10, 0.5, 30*time.Second).WithTarget("catalog", logger),
			BaseBackoff: 100 * time.Millisecond,
			MaxAttempts: 3,
			Jitter:      0.2,
		},
	}
	if redisClient == nil {
		return httpSource
	}
	return &catalog.CachedSource{
		Inner: httpSource,
		Cache: catalog.NewCache(redisClient, cfg.CatalogCacheTTL),
	}
}

func devCatalog() catalog.Source {
	return &catalog.StaticSource{
		Containers: map[string]catalog.ContainerMapping{
			"CBF": {FamilyCode: "CBF", UnitsPerContainer: 4, UnitCost: 3200},
			"RTF": {FamilyCode: "RTF", UnitsPerContainer: 2, UnitCost: 4100, Note: "open-top only"},
			"WHT": {FamilyCode: "WHT", UnitsPerContainer: 8, UnitCost: 2750},
		},
	}
}

// saveMetricsHooks records persistence outcomes and publishes conflict events
// so other sessions can react.
func saveMetricsHooks(bus *events.Bus, logger *zerolog.Logger) save.Hooks {
	outcome := func(result string) {
		if obs.QuoteSavesTotal != nil {
			obs.QuoteSavesTotal.WithLabelValues(result).Inc()
		}
	}
	return save.Hooks{
		OnSaved: func(q *quote.Quote, newVersion int64) {
			outcome("ok")
			if _, err := bus.Emit(context.Background(), events.TopicQuoteSaved, q.ID, q.LockedBy, map[string]int64{"version": newVersion}); err != nil {
				logger.Warn().Err(err).Msg("emit quote saved")
			}
		},
		OnLockConflict: func(q *quote.Quote) {
			outcome("lock_conflict")
			if _, err := bus.Emit(context.Background(), events.TopicQuoteSaveConflict, q.ID, q.LockedBy, map[string]string{"kind": "lock"}); err != nil {
				logger.Warn().Err(err).Msg("emit save conflict")
			}
		},
		OnVersionConflict: func(latest *quote.Quote) {
			outcome("version_conflict")
			if _, err := bus.Emit(context.Background(), events.TopicQuoteSaveConflict, latest.ID, "", map[string]string{"kind": "version"}); err != nil {
				logger.Warn().Err(err).Msg("emit save conflict")
			}
		},
		OnError: func(err error) {
			outcome("error")
			logger.Error().Err(err).Msg("quote save failed")
		},
	}
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
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
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
