package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/seclyr/semfire/internal/analyzers"
	"github.com/seclyr/semfire/internal/api"
	"github.com/seclyr/semfire/internal/audit"
	"github.com/seclyr/semfire/internal/firewall"
	"github.com/seclyr/semfire/internal/metrics"
	"github.com/seclyr/semfire/internal/storage"
	"github.com/seclyr/semfire/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("SEMFIRE_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	httpPort := envOrDefault("SEMFIRE_HTTP_PORT", "8080")
	analyzerTimeoutMs := envOrDefaultInt("SEMFIRE_ANALYZER_TIMEOUT_MS", 150)
	threshold := envOrDefaultFloat("SEMFIRE_THRESHOLD", firewall.DefaultThreshold)
	rulePackPath := os.Getenv("SEMFIRE_RULEPACK_PATH")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	cacheTTL := envOrDefaultInt("SEMFIRE_AUTH_CACHE_TTL_S", 30)

	analyzerTimeout := time.Duration(analyzerTimeoutMs) * time.Millisecond

	logger.Info("starting semfire server",
		zap.String("http_port", httpPort),
		zap.Int("analyzer_timeout_ms", analyzerTimeoutMs),
		zap.Float64("threshold", threshold),
	)

	// Analyzers — wired up here to avoid import cycle
	ruleBased := analyzers.NewRuleBasedAnalyzer()
	if rulePackPath != "" {
		if err := ruleBased.LoadRulePack(rulePackPath); err != nil {
			logger.Fatal("failed to load rule pack", zap.String("path", rulePackPath), zap.Error(err))
		}
		stop, err := ruleBased.WatchRulePack(rulePackPath, logger)
		if err != nil {
			logger.Warn("rule pack watcher failed, hot reload disabled", zap.Error(err))
		} else {
			defer stop() //nolint:errcheck
			logger.Info("rule pack loaded", zap.String("path", rulePackPath))
		}
	}

	orch, err := firewall.NewOrchestrator([]firewall.Analyzer{
		ruleBased,
		analyzers.NewMLBasedAnalyzer(),
		analyzers.NewEchoChamberAnalyzer(),
		analyzers.NewInjectionAnalyzer(),
	}, analyzerTimeout, logger)
	if err != nil {
		logger.Fatal("failed to build orchestrator", zap.Error(err))
	}

	m := metrics.New()

	// Storage — ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	if clickhouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(clickhouseDSN, logger, m.EventsDropped.Inc)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// Postgres pool (required for HTTP API)
	var pgStore *store.Store
	if postgresDSN != "" {
		db, err := sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		pgStore = store.NewStore(db)
		logger.Info("postgres connected")
	} else {
		logger.Fatal("POSTGRES_DSN is required")
	}

	// ClickHouse reader (for decision audit HTTP endpoints)
	var chReader *audit.Reader
	if clickhouseDSN != "" {
		chReader, err = audit.NewReader(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
		} else {
			defer func() { _ = chReader.Close() }()
			logger.Info("clickhouse reader connected")
		}
	}

	// HTTP API server
	deps := &api.Dependencies{
		Store:            pgStore,
		Orchestrator:     orch,
		Writer:           writer,
		Reader:           chReader,
		Metrics:          m,
		Logger:           logger,
		DefaultThreshold: threshold,
		CacheTTL:         time.Duration(cacheTTL) * time.Second,
	}
	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("semfire server stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
