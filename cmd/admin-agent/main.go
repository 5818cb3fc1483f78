package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pmanko/med-agent-hub/internal/auth"
	"github.com/pmanko/med-agent-hub/internal/config"
	"github.com/pmanko/med-agent-hub/internal/llm"
	"github.com/pmanko/med-agent-hub/internal/router"
	"github.com/pmanko/med-agent-hub/internal/server"
	"github.com/pmanko/med-agent-hub/internal/storage"
	"github.com/pmanko/med-agent-hub/internal/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := mustBuildLogger(cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	logger.Info("starting admin agent",
		zap.String("port", cfg.Port),
		zap.String("llm_model", cfg.LLMModel),
	)

	oracle, err := llm.NewClient(llm.ClientConfig{
		BaseURL:     cfg.LLMBaseURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
	})
	if err != nil {
		logger.Fatal("failed to create llm client", zap.Error(err))
	}

	// The appointment tool serves sample data when no backend is configured.
	registry := tools.NewRegistry(logger)
	registry.Register(tools.NewAppointmentTool(tools.AppointmentConfig{
		BaseURL:  cfg.AppointmentRESTBaseURL,
		Username: cfg.AppointmentUsername,
		Password: cfg.AppointmentPassword,
	}, logger))
	defer registry.Close()

	skills := router.AdminSkills()

	var authenticator auth.Authenticator
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("pgx", cfg.PostgresDSN)
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
		authenticator = auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			DB:       db,
			CacheTTL: time.Duration(cfg.AuthCacheTTLS) * time.Second,
			Logger:   logger,
		})
		logger.Info("postgres auth enabled")
	} else {
		authenticator = auth.NewStaticAuthenticator()
		logger.Warn("no POSTGRES_DSN set, using static dev authenticator")
	}

	var writer storage.EventWriter
	if cfg.ClickHouseEventDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(cfg.ClickHouseEventDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer", zap.Error(err))
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse event writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_EVENTS_DSN set, using log writer")
	}
	defer writer.Close()

	rt := router.New(router.Config{
		Oracle:          oracle,
		Registry:        registry,
		Skills:          skills,
		KeywordFallback: router.AdminKeywordFallback,
		Logger:          logger,
	})

	srv := server.New(server.Config{
		AgentName:   "admin-agent",
		Description: "Administrative agent for appointment review and scheduling",
		Router:      rt,
		Skills:      skills,
		Auth:        authenticator,
		Writer:      writer,
		Logger:      logger,
	})

	e := srv.Echo()
	go func() {
		logger.Info("http server listening", zap.String("addr", ":"+cfg.Port))
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("admin agent stopped")
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
