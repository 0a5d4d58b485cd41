package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/a2639443196/my-vue-web/backend/internal/broadcast"
	"github.com/a2639443196/my-vue-web/backend/internal/config"
	"github.com/a2639443196/my-vue-web/backend/internal/handler"
	"github.com/a2639443196/my-vue-web/backend/internal/logging"
	"github.com/a2639443196/my-vue-web/backend/internal/service/room"
	"github.com/a2639443196/my-vue-web/backend/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Info("no .env file loaded, using system environment variables only", zap.Error(envErr))
	}

	repo, closeRepo, err := openRepository(cfg.Storage, logger)
	if err != nil {
		logger.Fatal("failed to open storage", zap.Error(err))
	}
	defer closeRepo()

	rooms := room.NewService(repo, logger)
	relay := broadcast.NewRelay(logger)

	router := handler.NewRouter(handler.Deps{
		Rooms:          rooms,
		Relay:          relay,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	startServer(ctx, cfg.Server, router, logger)
}

// openRepository 打开 SQLite 存储，STORAGE_MEMORY 打开时使用内存仓库。
func openRepository(cfg config.StorageConfig, logger *zap.Logger) (room.Repository, func(), error) {
	if cfg.Memory || cfg.SQLitePath == "" {
		logger.Warn("room history is kept in memory only")
		return room.NewMemoryRepository(), func() {}, nil
	}

	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := storage.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("room history stored in sqlite", zap.String("path", cfg.SQLitePath))

	return db, func() {
		if err := db.Close(); err != nil {
			logger.Warn("failed to close sqlite", zap.Error(err))
		}
	}, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("Wellness Hub chat backend listening", zap.String("addr", addr))
	if err := runServer(ctx, srv, serverCfg.ShutdownTimeout); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func runServer(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
