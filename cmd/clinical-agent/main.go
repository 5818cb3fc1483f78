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
	"github.com/pmanko/med-agent-hub/internal/schema"
	"github.com/pmanko/med-agent-hub/internal/server"
	"github.com/pmanko/med-agent-hub/internal/storage"
	"github.com/pmanko/med-agent-hub/internal/tools"
	"github.com/pmanko/med-agent-hub/internal/warehouse"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := mustBuildLogger(cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	logger.Info("starting clinical agent",
		zap.String("port", cfg.Port),
		zap.String("llm_model", cfg.LLMModel),
		zap.String("schema_profile", cfg.SchemaProfile),
	)

	// Completion oracle
	oracle, err := llm.NewClient(llm.ClientConfig{
		BaseURL:     cfg.LLMBaseURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
	})
	if err != nil {
		logger.Fatal("failed to create llm client", zap.Error(err))
	}

	// Warehouse — optional; population and longitudinal tools need it
	var querier warehouse.Querier
	if cfg.WarehouseDSN != "" {
		ch, err := warehouse.Open(cfg.WarehouseDSN, logger)
		if err != nil {
			logger.Warn("warehouse connection failed, warehouse tools disabled", zap.Error(err))
		} else {
			defer func() { _ = ch.Close() }()
			querier = ch
			logger.Info("warehouse connected")
		}
	} else {
		logger.Info("no WAREHOUSE_DSN set, warehouse tools disabled")
	}

	// Schema profile
	profile, err := schema.LoadProfile(cfg.SchemaProfileDir, cfg.SchemaProfile, logger)
	if err != nil {
		logger.Fatal("failed to load schema profile", zap.Error(err))
	}
	if querier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		profile.ComputeCapabilities(ctx, querier)
		cancel()
	}

	// Tools
	registry := tools.NewRegistry(logger)
	if querier != nil {
		registry.Register(tools.NewPopulationAnalyticsTool(profile, querier, logger))
		registry.Register(tools.NewPatientLongitudinalTool(profile, querier, logger))
	}
	if cfg.FHIRBaseURL != "" {
		registry.Register(tools.NewFHIRSearchTool(tools.FHIRConfig{
			BaseURL:  cfg.FHIRBaseURL,
			Username: cfg.FHIRUsername,
			Password: cfg.FHIRPassword,
		}, logger))
	} else {
		logger.Info("no FHIR_BASE_URL set, fhir_search disabled")
	}
	registry.Register(tools.NewMedicalSearchTool())
	defer registry.Close()

	// Only advertise skills whose tool is actually registered.
	var skills []router.Skill
	for _, s := range router.ClinicalSkills() {
		if registry.Has(s.Tool) {
			skills = append(skills, s)
		} else {
			logger.Info("skill disabled, tool not registered",
				zap.String("skill", s.Name), zap.String("tool", s.Tool))
		}
	}

	// Auth — Postgres or static dev fallback
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

	// Task events — ClickHouse or log fallback
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
		Oracle:   oracle,
		Registry: registry,
		Skills:   skills,
		Logger:   logger,
	})

	srv := server.New(server.Config{
		AgentName:   "clinical-agent",
		Description: "Clinical data analysis agent for population analytics, patient records, and medical knowledge",
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

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("clinical agent stopped")
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
