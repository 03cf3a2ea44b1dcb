package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/link-server-go/internal/config"
	"github.com/openclaw/link-server-go/internal/database"
	"github.com/openclaw/link-server-go/internal/handler"
	"github.com/openclaw/link-server-go/internal/jobs"
	"github.com/openclaw/link-server-go/internal/middleware"
	"github.com/openclaw/link-server-go/internal/redis"
	"github.com/openclaw/link-server-go/internal/repository"
	"github.com/openclaw/link-server-go/internal/repository/memory"
	"github.com/openclaw/link-server-go/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if isProduction {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	var store repository.Store
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		store = memory.NewStore()
		log.Warn().Msg("using in-memory store")
	default:
		connectCtx, cancelConnect := context.WithTimeout(context.Background(), config.DBConnectTimeout)
		db, err := database.Connect(connectCtx, cfg.DatabaseURL)
		cancelConnect()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		if err := db.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		cancel()

		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		log.Info().Msg("database connected")

		store = repository.NewPostgresStore(db)
	}

	clock := service.SystemClock{}

	var limiter service.Limiter
	var callerLimiter middleware.CallerLimiter
	if cfg.RedisURL != "" {
		redisClient, err := redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")

		limiter = service.NewRateLimiter(redisClient.Client)
		callerLimiter = middleware.NewRedisRateLimiter(redisClient.Client)
	} else {
		limiter = service.NewLocalRateLimiter(clock)
		callerLimiter = middleware.NewRateLimiter()
	}

	settings := service.SettingsFromConfig(cfg)
	relationshipService := service.NewRelationshipService(store, clock, settings)
	sessionService := service.NewAdminSessionService(store, relationshipService, clock, settings)
	pairingService := service.NewPairingService(
		store, relationshipService, service.NewCodeGenerator(), clock, limiter, settings,
	)
	controlService := service.NewControlService(sessionService, relationshipService, service.AcknowledgeInvoker{}, clock)

	authMiddleware := middleware.NewAuthMiddleware(cfg.IdentityJWTSecret, cfg.IdentityJWTIssuer)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(callerLimiter, cfg.RateLimitPerMin)
	validateLimitMiddleware := middleware.NewIPRateLimitMiddleware(limiter, config.ValidationLimit, config.ValidationWindow, "validate")
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	pairingHandler := handler.NewPairingHandler(pairingService, validateLimitMiddleware.Handler)
	relationshipHandler := handler.NewRelationshipHandler(relationshipService, sessionService)
	adminSessionHandler := handler.NewAdminSessionHandler(sessionService, controlService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"store":     cfg.StoreBackend,
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Mount("/pairing-codes", pairingHandler.Routes())
		r.Mount("/relationships", relationshipHandler.Routes())
		r.Mount("/admin-sessions", adminSessionHandler.Routes())
	})

	cleanupJob := jobs.NewCleanupJob(pairingService, sessionService, cfg.SweepInterval())
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("store", cfg.StoreBackend).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
