package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/room4-2/voicelab/agent"
	"github.com/room4-2/voicelab/archive"
	"github.com/room4-2/voicelab/config"
	"github.com/room4-2/voicelab/gemini"
	"github.com/room4-2/voicelab/metrics"
	"github.com/room4-2/voicelab/server"
	"github.com/room4-2/voicelab/session"
	"github.com/room4-2/voicelab/simulate"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis is optional: agents and session metadata fall back to memory
	rdb := connectRedis(ctx, cfg, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	var store agent.Store = agent.NewMemoryStore()
	if rdb != nil {
		store = agent.NewRedisStore(rdb, agent.DefaultRedisKey)
	}
	catalog := agent.NewCatalog(store)
	seeds := agent.Defaults()
	if cfg.AgentsFile != "" {
		if seeds, err = agent.LoadFile(cfg.AgentsFile); err != nil {
			logger.Error("failed to load agents file", "path", cfg.AgentsFile, "error", err)
			os.Exit(1)
		}
	}
	if seeded, err := catalog.SeedWith(ctx, seeds); err != nil {
		logger.Warn("failed to seed agents", "error", err)
	} else if seeded {
		logger.Info("seeded agents", "count", len(seeds))
	}

	dialer, err := gemini.NewClientDialer(ctx, cfg.GeminiAPIKey)
	if err != nil {
		logger.Error("failed to create Gemini client", "error", err)
		os.Exit(1)
	}
	llm, err := simulate.NewGeminiLLM(ctx, cfg.GeminiAPIKey, cfg.TextModel)
	if err != nil {
		logger.Error("failed to create text model", "error", err)
		os.Exit(1)
	}

	var arch archive.Archive = archive.Noop{}
	if cfg.S3.Enabled() {
		s3Arch, err := archive.NewS3Archive(archive.S3Config{
			Bucket:          cfg.S3.Bucket,
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		}, logger)
		if err != nil {
			logger.Error("failed to configure call log archive", "error", err)
			os.Exit(1)
		}
		arch = s3Arch
		logger.Info("archiving call logs", "bucket", cfg.S3.Bucket)
	}

	m := metrics.New()
	manager := session.NewManager(session.ManagerConfig{
		MaxSessions:    cfg.MaxSessions,
		SessionTimeout: cfg.SessionTimeout,
	}, session.ClientConfig{
		Dialer:     dialer,
		Catalog:    catalog,
		Archive:    arch,
		Metrics:    m,
		Logger:     logger,
		Model:      cfg.LiveModel,
		Voice:      cfg.Voice,
		ListenOnly: cfg.ListenOnly,
		Greet:      cfg.Greet,
		KeepAlive:  cfg.KeepAlivePeriod,
	}, rdb)
	go manager.StartCleanupRoutine(ctx)

	srv := server.NewServer(cfg, manager, catalog, simulate.New(llm, logger, m), m, logger)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func connectRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, using in-memory storage", "addr", cfg.RedisURL, "error", err)
		rdb.Close()
		return nil
	}
	return rdb
}
