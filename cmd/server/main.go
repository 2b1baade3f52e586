package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Rrens/vault-chat/internal/api"
	"github.com/Rrens/vault-chat/internal/api/handler"
	"github.com/Rrens/vault-chat/internal/config"
	"github.com/Rrens/vault-chat/internal/domain"
	"github.com/Rrens/vault-chat/internal/logger"
	"github.com/Rrens/vault-chat/internal/repository/postgres"
	"github.com/Rrens/vault-chat/internal/repository/redis"
	"github.com/Rrens/vault-chat/internal/repository/sqlite"
	"github.com/Rrens/vault-chat/internal/service"
	"github.com/Rrens/vault-chat/internal/transport"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// store bundles the repositories of one storage driver
type store struct {
	sessions domain.SessionRepository
	messages domain.MessageRepository
	pinger   handler.Pinger
	close    func() error
}

func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		if err := postgres.RunMigrations(cfg.Database.DSN(), cfg.Database.MigrationsURL); err != nil {
			return nil, err
		}
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return &store{
			sessions: postgres.NewSessionRepository(db.Pool),
			messages: postgres.NewMessageRepository(db.Pool),
			pinger:   db,
			close:    db.Close,
		}, nil
	case "sqlite", "":
		db, err := sqlite.Open(ctx, cfg.SQLite)
		if err != nil {
			return nil, err
		}
		return &store{
			sessions: sqlite.NewSessionRepository(db),
			messages: sqlite.NewMessageRepository(db),
			pinger:   db,
			close:    db.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func main() {
	// Load .env file - try multiple locations
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logCloser, err := logger.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Str("backend", cfg.Backend.WSURL).
		Msg("Starting vault-chat server")

	ctx := context.Background()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer st.close()

	deps := map[string]handler.Pinger{"database": st.pinger}

	var (
		historyCache service.HistoryCache
		limiter      service.TurnLimiter
	)
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()

		historyCache = redis.NewHistoryCache(redisClient)
		limiter = redis.NewRateLimiter(redisClient, cfg.Chat.TurnsPerMinute, cfg.Chat.TurnBurst)
		deps["redis"] = redisClient
	}

	chat := service.NewChatService(
		transport.NewDialer(cfg.Backend),
		st.sessions,
		st.messages,
		historyCache,
		limiter,
		cfg.Chat,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(cfg, chat, deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := chat.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Turns did not finish before shutdown timeout")
	}

	log.Info().Msg("Server stopped")
}
