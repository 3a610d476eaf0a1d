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

	"github.com/campusmatch/call-server-go/internal/config"
	"github.com/campusmatch/call-server-go/internal/database"
	"github.com/campusmatch/call-server-go/internal/handler"
	"github.com/campusmatch/call-server-go/internal/jobs"
	"github.com/campusmatch/call-server-go/internal/middleware"
	"github.com/campusmatch/call-server-go/internal/presence"
	"github.com/campusmatch/call-server-go/internal/redis"
	"github.com/campusmatch/call-server-go/internal/repository"
	"github.com/campusmatch/call-server-go/internal/rtctoken"
	"github.com/campusmatch/call-server-go/internal/service"
	"github.com/campusmatch/call-server-go/internal/sse"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("ENVIRONMENT") == "production"
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

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

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	sessionRepo := repository.NewCallSessionRepository(db.DB)
	matchRepo := repository.NewMatchRepository(db.DB)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	oracle := presence.NewOracle(redisClient, cfg.PresenceStaleness())

	minter, err := rtctoken.NewMinter(cfg.RTCAppID, cfg.RTCTokenSecret, cfg.RTCTokenTTL())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create credential minter")
	}

	supervisor := service.NewRingSupervisor(sessionRepo, broker, cfg.RingWindow())
	defer supervisor.Stop()

	callService := service.NewCallService(sessionRepo, matchRepo, oracle, minter, broker, supervisor)

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthJWTSecret)

	callHandler := handler.NewCallHandler(callService)
	presenceHandler := handler.NewPresenceHandler(oracle)
	eventsHandler := handler.NewEventsHandler(broker, callService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Get("/events", eventsHandler.ServeHTTP)
		r.Mount("/calls", callHandler.Routes())
		r.Mount("/presence", presenceHandler.Routes())
	})

	reaper := jobs.NewRingReaper(
		sessionRepo, broker,
		cfg.RingWindow(), config.RingReaperGrace, config.RingReaperInterval,
	)
	reaper.Start()
	defer reaper.Stop()

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
