package main

import (
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/outclip/outclip/internal/httpapi"
	"github.com/outclip/outclip/internal/outclip"
)

func main() {
	// A missing .env file is fine; the environment wins either way.
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	addr := envOrDefault("OUTCLIP_ADDR", "127.0.0.1:8930")
	dataDir := envOrDefault("OUTCLIP_DATA_DIR", ".outclip")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		logger.Fatal("failed to create data directory", zap.String("dir", dataDir), zap.Error(err))
	}

	syncStoreDSN := envOrDefault("OUTCLIP_SYNC_STORE_DSN", filepath.Join(dataDir, "config.json"))
	cacheStoreDSN := envOrDefault("OUTCLIP_CACHE_STORE_DSN", filepath.Join(dataDir, "cache.json"))

	syncStore, err := outclip.BuildKVFromDSN(syncStoreDSN)
	if err != nil {
		logger.Fatal("failed to initialize configuration store", zap.String("dsn", syncStoreDSN), zap.Error(err))
	}
	cacheStore, err := outclip.BuildKVFromDSN(cacheStoreDSN)
	if err != nil {
		logger.Fatal("failed to initialize cache store", zap.String("dsn", cacheStoreDSN), zap.Error(err))
	}
	defer func() { _ = outclip.CloseKV(syncStore) }()
	defer func() { _ = outclip.CloseKV(cacheStore) }()

	coordinator := outclip.NewCoordinator(outclip.CoordinatorOptions{
		ConfigStore:   syncStore,
		CacheStore:    cacheStore,
		Logger:        logger,
		ActionTimeout: durationEnv("OUTCLIP_ACTION_TIMEOUT", 0),
		MaxAttempts:   intEnv("OUTCLIP_MAX_ATTEMPTS", 0),
		BaseDelay:     durationEnv("OUTCLIP_RETRY_BASE_DELAY", 0),
		MaxDelay:      durationEnv("OUTCLIP_RETRY_MAX_DELAY", 0),
	})

	// A file-backed configuration store gets a change watcher, so edits made
	// by the companion client are picked up without restarting.
	if fileStore, ok := syncStore.(*outclip.JSONFileKV); ok {
		watcher, err := outclip.NewConfigWatcher(fileStore.Path(), coordinator.Config(), logger)
		if err != nil {
			logger.Warn("configuration watcher unavailable", zap.String("path", fileStore.Path()), zap.Error(err))
		} else {
			defer func() { _ = watcher.Close() }()
		}
	}

	server, err := httpapi.NewServer(coordinator, httpapi.ServerConfig{
		AuthToken:    strings.TrimSpace(os.Getenv("OUTCLIP_API_TOKEN")),
		MaxBodyBytes: int64Env("OUTCLIP_MAX_BODY_BYTES", 0),
	}, logger)
	if err != nil {
		logger.Fatal("failed to initialize server", zap.Error(err))
	}

	logger.Info("outclip listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, server); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
