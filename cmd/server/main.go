package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/npezzotti/campus-chat/internal/api"
	"github.com/npezzotti/campus-chat/internal/cache"
	"github.com/npezzotti/campus-chat/internal/config"
	"github.com/npezzotti/campus-chat/internal/database"
	"github.com/npezzotti/campus-chat/internal/jobs"
	"github.com/npezzotti/campus-chat/internal/logging"
	"github.com/npezzotti/campus-chat/internal/messaging"
	"github.com/npezzotti/campus-chat/internal/notify"
	"github.com/npezzotti/campus-chat/internal/server"
	"github.com/npezzotti/campus-chat/internal/stats"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	defer logger.Sync()

	repo, err := openRepository(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open repository", zap.Error(err))
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Error("failed to close repository", zap.Error(err))
		}
	}()

	convCache, err := openCache(cfg)
	if err != nil {
		logger.Fatal("failed to open cache", zap.Error(err))
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()

	chatServer := server.NewChatServer(logger, statsUpdater)
	go chatServer.Run()

	emitter := notify.NewEmitter(logger, repo, chatServer, statsUpdater, cfg.Notifications.QueueSize)
	go emitter.Run()

	svc := messaging.NewService(logger, repo, emitter, convCache, statsUpdater)

	scheduler, err := jobs.NewScheduler(logger, repo, cfg.Notifications.Retention, cfg.Notifications.PruneSchedule)
	if err != nil {
		logger.Fatal("failed to create scheduler", zap.Error(err))
	}
	scheduler.Start()

	app := api.NewChatApp(mux, logger, chatServer, repo, svc, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", zap.Stringer("signal", sig))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown", zap.Error(err))
	}

	if err := emitter.Stop(shutdownCtx); err != nil {
		logger.Error("notification emitter shutdown", zap.Error(err))
	}

	logger.Info("shutting down chat server")
	if err := chatServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("chat server shutdown", zap.Error(err))
	}

	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown", zap.Error(err))
	}

	statsUpdater.Stop()

	logger.Info("shutdown complete")
}

func openRepository(cfg *config.Config, logger *zap.Logger) (database.Repository, error) {
	if cfg.DatabaseDriver == config.DriverMemory {
		logger.Warn("using in-memory repository, data will not survive a restart")
		return database.NewMemoryRepository(), nil
	}

	repo, err := database.NewPgRepository(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if cfg.Migrate {
		if err := database.Migrate(repo.DB()); err != nil {
			repo.Close()
			return nil, err
		}
		logger.Info("database migrations applied")
	}

	return repo, nil
}

func openCache(cfg *config.Config) (messaging.ConversationCache, error) {
	switch cfg.Cache.Driver {
	case config.CacheMemory:
		return cache.NewMemoryConversationCache(cfg.Cache.TTL), nil
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return cache.NewRedisConversationCache(client, cfg.Cache.TTL), nil
	default:
		return nil, nil
	}
}
