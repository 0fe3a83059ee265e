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
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	limiterstdlib "github.com/ulule/limiter/v3/drivers/middleware/stdlib"

	"github.com/restoku/backend-resto/internal/app"
	"github.com/restoku/backend-resto/internal/auth"
	"github.com/restoku/backend-resto/internal/checkout"
	"github.com/restoku/backend-resto/internal/common"
	"github.com/restoku/backend-resto/internal/config"
	"github.com/restoku/backend-resto/internal/events"
	"github.com/restoku/backend-resto/internal/health"
	httpmw "github.com/restoku/backend-resto/internal/http/middleware"
	"github.com/restoku/backend-resto/internal/notify"
	"github.com/restoku/backend-resto/internal/obs"
	"github.com/restoku/backend-resto/internal/order"
	"github.com/restoku/backend-resto/internal/payment"
	"github.com/restoku/backend-resto/internal/ratelimit"
	"github.com/restoku/backend-resto/internal/resilience"
	"github.com/restoku/backend-resto/internal/security"
	"github.com/restoku/backend-resto/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "resto")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	registry := app.NewMetricsRegistry()
	obs.MustRegisterDomainMetrics(metricsNamespace, registry)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "resto-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
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

	if cfg.AutoMigrate {
		if err := app.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	pool, err := app.NewDatabase(ctx, cfg, "resto-api")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise database")
	}
	defer pool.Close()

	redisClient, err := app.NewRedis(ctx, cfg, metricsEnabled)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise redis")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	orders := store.Orders{Pool: pool}
	eventStore := store.Events{Pool: pool}

	taskClient, err := app.NewTaskClient(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise task client")
	}
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	bus := &events.Bus{
		Store: eventStore,
		Scheduler: notify.Enqueuer{
			Client:    taskClient,
			MaxRetry:  cfg.NotifyMaxRetry,
			Retention: cfg.NotifyRetention,
		},
	}

	providers := map[string]payment.Provider{
		"stripe": payment.Stripe{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			BaseURL:       cfg.StripeBaseURL,
			HTTP:          resilience.NewOutboundClient(10*time.Second, 3),
		},
		"mock": payment.NewMock(),
	}
	activeProvider := providers[cfg.PaymentProvider]
	if activeProvider == nil {
		activeProvider = providers["stripe"]
	}
	settlementSvc := &payment.Service{
		Provider:     activeProvider,
		ProviderName: cfg.PaymentProvider,
	}

	checkoutSvc := &checkout.Service{
		Provider:   activeProvider,
		Currency:   cfg.CurrencyCode,
		SuccessURL: cfg.CheckoutSuccessURL,
		CancelURL:  cfg.CheckoutCancelURL,
		Validate:   checkout.NewValidator(),
		Log:        logger,
	}
	checkoutHandler := &checkout.Handler{Svc: checkoutSvc, Settlement: settlementSvc}

	finalizer := &order.Finalizer{
		Store:       orders,
		Settlement:  settlementSvc,
		Guard:       common.FinalizeGuard{R: redisClient, TTL: cfg.FinalizeGuardTTL},
		Events:      bus,
		DedupWindow: cfg.FinalizeDedupWindow,
		Log:         logger,
	}
	orderHandler := &order.Handler{Finalizer: finalizer, Checkout: checkoutSvc, Query: orders}
	orderAdmin := &order.AdminHandler{Store: orders, Events: bus}

	webhookHandler := payment.Webhook{
		Orders:    orders,
		Providers: providers,
		Replay:    redisClient,
		ReplayTTL: cfg.WebhookReplayTTL,
		Events:    bus,
	}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	authMiddleware := auth.Middleware{
		Service: &auth.Service{
			Secret:    []byte(cfg.JWTSecret),
			Algorithm: jwa.HS256,
			Validator: auth.TokenValidator{
				Issuer:    cfg.JWTIssuer,
				Audience:  cfg.JWTAudience,
				ClockSkew: time.Minute,
				Algorithm: jwa.HS256,
			},
		},
	}

	globalLimiter, err := app.NewLimiter(redisClient, cfg.RateLimitWindow, cfg.RateLimitMax)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}
	globalLimit := limiterstdlib.NewMiddleware(globalLimiter)

	checkoutLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl:checkout:"},
		Config: ratelimit.Config{
			Key: func(r *http.Request) string {
				if id, ok := common.UserID(r.Context()); ok && id != "" {
					return "user:" + id
				}
				return "ip:" + common.ClientIP(r)
			},
			Window: cfg.RateLimitWindow,
			Max:    envInt("CHECKOUT_RATE_LIMIT_MAX", 10),
		},
		OnError: func(err error) {
			logger.Error().Err(err).Msg("checkout rate limit")
		},
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, registry)
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{
		Enable:                envBool("SECURE_HEADERS_ENABLED", true),
		EnableHSTS:            envBool("SECURE_HSTS_ENABLED", true),
		HSTSIncludeSubdomains: true,
	}.Middleware)
	r.Use(security.BodyLimit{Max: int64(envInt("SECURE_MAX_BODY_BYTES", 1<<20))}.Middleware)
	r.Use(globalLimit.Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Total-Count"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		// Breaker metrics self-register on the default registry; gather both.
		gatherers := prometheus.Gatherers{registry, prometheus.DefaultGatherer}
		r.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
	}
	if envBool("OBS_ENABLE_PPROF", true) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{pool: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	// Cookie-authenticated browsers need CSRF protection; bearer clients and
	// gateway webhooks pass through untouched.
	csrf := security.CSRF{}

	r.Route("/api/v1", func(v chi.Router) {
		v.Route("/checkout", func(c chi.Router) {
			c.Use(csrf.Middleware)
			c.Use(authMiddleware.RequireAuth)
			c.Use(checkoutLimit.Middleware)
			c.Post("/session", checkoutHandler.CreateSession)
			c.Post("/intent", checkoutHandler.CreateIntent)
			c.Get("/settlement/{kind}/{ref}", checkoutHandler.GetSettlement)
			c.With(idem.Middleware).Post("/finalize", orderHandler.Finalize)
		})

		v.Group(func(authed chi.Router) {
			authed.Use(authMiddleware.RequireAuth)
			authed.Get("/orders", orderHandler.List)
			authed.Get("/orders/{orderId}", orderHandler.Get)
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(csrf.Middleware)
			admin.Use(httpmw.RequireStaffToken(cfg.StaffTokenHash))
			admin.Patch("/orders/{orderId}/status", orderAdmin.UpdateStatus)
		})

		v.Post("/webhooks/payment/{provider}", webhookHandler.Handle)
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
		logger.Error().Err(err).Msg("graceful shutdown")
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.pool == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.pool.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
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
	return common.AtoiDefault(strings.TrimSpace(os.Getenv(key)), fallback)
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
