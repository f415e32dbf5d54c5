// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// memoryd is the agent memory daemon: it stores embedded memories,
// answers recall queries, and runs the background reflection pipeline.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openclaw/memoryd/pkg/logging"
	"github.com/openclaw/memoryd/services/memoryd/conflict"
	"github.com/openclaw/memoryd/services/memoryd/config"
	"github.com/openclaw/memoryd/services/memoryd/core"
	"github.com/openclaw/memoryd/services/memoryd/embed"
	"github.com/openclaw/memoryd/services/memoryd/jobs"
	"github.com/openclaw/memoryd/services/memoryd/llmclient"
	"github.com/openclaw/memoryd/services/memoryd/pipeline"
	"github.com/openclaw/memoryd/services/memoryd/routes"
	"github.com/openclaw/memoryd/services/memoryd/scheduler"
	"github.com/openclaw/memoryd/services/memoryd/store"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// version is overridden at build time via -ldflags.
var version = "dev"

// initTracer wires the OTLP gRPC exporter. Config only enables tracing when
// OTEL_EXPORTER_OTLP_ENDPOINT is set, so the endpoint is always present here.
func initTracer(ctx context.Context) (func(context.Context), error) {
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("memoryd")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("Failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logWrapper := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("MEMORY_LOG_LEVEL")),
		LogDir:  os.Getenv("MEMORY_LOG_DIR"),
		Service: "memoryd",
		JSON:    true,
	})
	defer logWrapper.Close()
	logger := logWrapper.Slog()
	slog.SetDefault(logger)

	ctx := context.Background()

	if cfg.TracingEnabled {
		cleanup, err := initTracer(ctx)
		if err != nil {
			return fmt.Errorf("setting up OTLP tracer: %w", err)
		}
		defer cleanup(context.Background())
	}

	// Store: Mongo when configured, otherwise the in-process store for
	// local single-user runs.
	var st store.Store
	if cfg.MongoURI != "" {
		mongoStore, err := store.NewMongo(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return fmt.Errorf("connecting to store: %w", err)
		}
		st = mongoStore
		logger.Info("Connected to document store", "database", cfg.MongoDBName)
	} else {
		st = store.NewMemory()
		logger.Warn("MONGODB_URI not set, using in-process store; data will not survive restarts")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			logger.Error("Store close failed", "error", err)
		}
	}()

	var embedder embed.Embedder
	if cfg.MockEmbedder {
		embedder = embed.NewMock(embed.DefaultMockDimension)
		logger.Info("Using deterministic mock embedder")
	} else {
		voyageCfg := embed.DefaultVoyageConfig()
		voyageCfg.APIKey = cfg.VoyageAPIKey
		if cfg.VoyageModel != "" {
			voyageCfg.Model = cfg.VoyageModel
		}
		embedder = embed.NewVoyage(voyageCfg, logger)
		logger.Info("Using Voyage embedder", "model", voyageCfg.Model)
	}

	llmCfg := llmclient.DefaultConfig()
	llmCfg.Endpoint = cfg.LLMEndpoint
	llmCfg.APIKey = cfg.LLMAPIKey
	if cfg.LLMModel != "" {
		llmCfg.Model = cfg.LLMModel
	}
	explainer := llmclient.New(llmCfg, logger)
	if cfg.LLMEndpoint == "" {
		logger.Info("LLM_ENDPOINT not set, contradiction enhancement disabled")
	}

	queue := jobs.NewQueue(st)
	deps := pipeline.Deps{
		Store:    st,
		Embedder: embedder,
		Detector: conflict.NewHeuristic(st, logger),
		Logger:   logger,
	}
	exec := pipeline.NewExecutor(queue, pipeline.DefaultStages(deps), logger, pipeline.DefaultJobDeadline)

	schedCfg := scheduler.DefaultConfig()
	schedCfg.DecayHour = cfg.DecayHour
	schedCfg.DrainTimeout = cfg.ShutdownTimeout
	sched := scheduler.New(schedCfg, queue, st, exec, logger)
	sched.Start()

	svc := core.NewService(st, embedder, queue, explainer, version, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.TracingEnabled {
		router.Use(otelgin.Middleware("memoryd"))
	}
	routes.SetupRoutes(router, svc, cfg.APIKey)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Memory daemon listening", "port", cfg.Port, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		sched.Stop()
		return fmt.Errorf("http server: %w", err)
	case sig := <-stop:
		logger.Info("Shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown incomplete", "error", err)
	}
	sched.Stop()
	logger.Info("Memory daemon stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("Fatal", "error", err)
		os.Exit(1)
	}
}
