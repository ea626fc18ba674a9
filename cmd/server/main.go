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
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/casewire/collab-server-go/internal/audit"
	"github.com/casewire/collab-server-go/internal/collab"
	"github.com/casewire/collab-server-go/internal/config"
	"github.com/casewire/collab-server-go/internal/database"
	"github.com/casewire/collab-server-go/internal/handler"
	"github.com/casewire/collab-server-go/internal/jobs"
	"github.com/casewire/collab-server-go/internal/middleware"
	"github.com/casewire/collab-server-go/internal/ratelimit"
	"github.com/casewire/collab-server-go/internal/redis"
	"github.com/casewire/collab-server-go/internal/repository"
	"github.com/casewire/collab-server-go/internal/session"
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
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	// Postgres only backs the audit trail; without it events are log-only.
	var auditRepo repository.AuditRepository
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		if err := db.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		cancel()
		log.Info().Msg("database connected")

		auditRepo = repository.NewAuditRepository(db.DB)
	} else {
		log.Warn().Msg("DATABASE_URL not set, audit events are log-only")
	}

	// Redis shares case events between instances; without it the hub
	// delivers to local connections only.
	var redisClient *redis.Client
	var rawRedis *goredis.Client
	var fan *collab.Fanout
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")

		rawRedis = redisClient.Client
		fan = collab.NewFanout(redisClient)
		defer fan.Close()
	} else {
		log.Warn().Msg("REDIS_URL not set, running single-instance")
	}

	recorder := audit.NewRecorder(auditRepo)
	sessions := session.NewStore(cfg.SessionTTL())
	limiter := ratelimit.NewLimiter(config.MessageRateLimit, config.MessageRateWindow)
	hub := collab.NewHub(sessions, limiter, fan, recorder, cfg.Origins())

	internalAuthMiddleware := middleware.NewInternalAuthMiddleware(cfg.InternalAPISecret)
	internalRateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(rawRedis, config.InternalAPIRatePerMin)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	collabHandler := handler.NewCollabHandler(hub)
	sessionHandler := handler.NewSessionHandler(sessions, recorder)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"connections": hub.TotalConns(),
			"timestamp":   time.Now().UnixMilli(),
		})
	})

	// No timeout or body limit here: the connection is hijacked and
	// long-lived.
	r.Get("/ws/collaboration", collabHandler.ServeWS)

	r.Route("/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Use(securityHeadersMiddleware.Handler)
		r.Get("/cases/{caseID}/presence", collabHandler.Presence)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Use(bodyLimitMiddleware.Handler)
		r.Use(internalAuthMiddleware.Handler)
		r.Use(internalRateLimitMiddleware.Handler)

		r.Post("/cases/{caseID}/notify", collabHandler.Notify)
		r.Post("/sessions", sessionHandler.Create)
		r.Delete("/sessions/{token}", sessionHandler.Destroy)
		r.Delete("/users/{userID}/sessions", sessionHandler.DestroyAll)
	})

	cleanupJob := jobs.NewCleanupJob(sessions, limiter, hub, config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
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

	hub.Shutdown()

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
