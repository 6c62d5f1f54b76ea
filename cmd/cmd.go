package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pairchat-backend/internal/config"
	"pairchat-backend/internal/handlers"
	"pairchat-backend/internal/repository"
	"pairchat-backend/internal/services"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Run() {
	// Load configuration
	configPath := "config.yaml"
	if p := os.Getenv("PAIRCHAT_CONFIG"); p != "" {
		configPath = p
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	// Connect to database
	db, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Test database connection
	if err := db.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Database connection established")

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	loveNoteRepo := repository.NewLoveNoteRepository(db)
	streakRepo := repository.NewStreakRepository(db)

	// Connection registry
	registry, closeRegistry := newRegistry(cfg)
	defer closeRegistry()
	wsHub := services.NewWSHub(registry)

	// Initialize services
	userService := services.NewUserService(userRepo, cfg.JWT.Secret)
	streakService := services.NewStreakService(streakRepo, cfg.Streak.Location())
	loveNoteService := services.NewLoveNoteService(
		loveNoteRepo,
		services.NewRandomQuestions(cfg.LoveNote.Questions),
		wsHub,
	)

	var pusher services.Pusher
	if cfg.APNs.KeyPath != "" {
		apnsPusher, err := services.NewAPNsPusher(
			userRepo,
			cfg.APNs.KeyPath,
			cfg.APNs.KeyID,
			cfg.APNs.TeamID,
			cfg.APNs.Topic,
			cfg.APNs.Production,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create APNs pusher")
		}
		pusher = apnsPusher
		log.Info().Bool("production", cfg.APNs.Production).Msg("Push notifications enabled")
	}
	messageService := services.NewMessageService(messageRepo, streakService, wsHub, pusher)

	var attachmentHandler *handlers.AttachmentHandler
	if cfg.AWS.S3Bucket != "" {
		attachmentService, err := services.NewAttachmentService(
			context.Background(),
			cfg.AWS.Region,
			cfg.AWS.S3Bucket,
			cfg.AWS.AccessKey,
			cfg.AWS.SecretKey,
			cfg.AWS.Endpoint,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create attachment service")
		}
		attachmentHandler = handlers.NewAttachmentHandler(attachmentService)
	}

	wsHandler := handlers.NewWebSocketHandler(wsHub, userService, messageService, loveNoteService)

	// Setup router
	router := handlers.NewRouter(handlers.Router{
		Users:       handlers.NewUserHandler(userService),
		Messages:    handlers.NewMessageHandler(messageService),
		LoveNotes:   handlers.NewLoveNoteHandler(loveNoteService),
		Streaks:     handlers.NewStreakHandler(streakService),
		Attachments: attachmentHandler,
		WebSocket:   wsHandler,
		Auth:        userService,
		Ping:        db.Ping,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Str("registry", cfg.Registry.Mode).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Hijacked connections are not tracked by Shutdown
	if err := wsHandler.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("WebSocket handlers did not finish")
	}

	// Let streak updates and pushes finish before the pool closes
	messageService.Close()

	log.Info().Msg("Server exited")
}

// newRegistry builds the connection registry selected by registry.mode
func newRegistry(cfg *config.Config) (services.Registry, func()) {
	if cfg.Registry.Mode != "redis" {
		return services.NewMemoryRegistry(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to redis")
	}

	registry := services.NewRedisRegistry(client, cfg.Redis.NodeID)
	if err := registry.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start redis registry")
	}

	return registry, func() {
		if err := registry.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close redis registry")
		}
		client.Close()
	}
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

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
