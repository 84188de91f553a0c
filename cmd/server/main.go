package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"peer_chat/internal/broker"
	"peer_chat/internal/config"
	"peer_chat/internal/handler"
	"peer_chat/internal/middleware"
	"peer_chat/internal/repository"
	"peer_chat/internal/service"
	"peer_chat/pkg/logger"

	"github.com/dgraph-io/badger/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.New(cfg.Log.Level)

	var dbPool *pgxpool.Pool
	if cfg.Database.DSN != "" {
		dbPool, err = openPostgres(cfg)
		if err != nil {
			appLogger.Fatal("Failed to connect to database", "error", err)
		}
		defer dbPool.Close()
		appLogger.Info("Database connection established")

		if cfg.Database.EnsureSchema {
			if err := repository.EnsureSchema(context.Background(), dbPool); err != nil {
				appLogger.Fatal("Failed to prepare schema", "error", err)
			}
		}
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(context.Background()).Err(); err != nil {
			appLogger.Fatal("Failed to connect to Redis", "error", err)
		}
		appLogger.Info("Redis connection established")
	}

	chatRepo, closeStore, err := openChatStore(cfg, dbPool, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to open message store", "error", err, "backend", cfg.Store.Backend)
	}
	defer closeStore()
	appLogger.Info("Message store ready", "backend", cfg.Store.Backend)

	chatBroker := broker.New(cfg.Chat.SubscriberBuffer, appLogger)
	defer chatBroker.Close()

	repos := repository.NewRepositories(chatRepo, dbPool, rdb, cfg.Chat.IdentityCheck, appLogger)
	services := service.NewServices(repos, chatBroker, cfg, appLogger)

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Required, appLogger)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(services.RateLimit, cfg.RateLimit.RequestsPerMinute, appLogger)

	handlers := handler.NewHandlers(services, repos, cfg, appLogger)
	router := handler.NewRouter(handlers, authMiddleware, rateLimitMiddleware, cfg, appLogger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLogger.Info("Starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Live feeds end first so hijacked WebSocket connections do not hold up Shutdown.
	chatBroker.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}

	appLogger.Info("Server exited")
}

func openPostgres(cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
	poolCfg.MaxConnIdleTime = cfg.Database.MaxIdleTime
	poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime

	dbPool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, err
	}
	if err := dbPool.Ping(context.Background()); err != nil {
		dbPool.Close()
		return nil, err
	}
	return dbPool, nil
}

// openChatStore returns the configured message store and a function releasing it.
func openChatStore(cfg *config.Config, dbPool *pgxpool.Pool, log logger.Logger) (repository.ChatRepository, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		return repository.NewChatRepository(dbPool, log), func() {}, nil

	case config.StoreBackendBadger:
		opts := badger.DefaultOptions(cfg.Store.BadgerPath).WithLoggingLevel(badger.WARNING)
		db, err := badger.Open(opts)
		if err != nil {
			return nil, nil, err
		}
		repo, err := repository.NewBadgerChatRepository(db, log)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return repo, func() {
			if err := repo.Close(); err != nil {
				log.Warn("Failed to release message sequence", "error", err)
			}
			if err := db.Close(); err != nil {
				log.Error("Failed to close badger", "error", err)
			}
		}, nil

	default:
		log.Warn("Using in-memory message store, messages are lost on restart")
		return repository.NewMemoryChatRepository(), func() {}, nil
	}
}
