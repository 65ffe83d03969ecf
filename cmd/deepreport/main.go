// deepreport server: HTTP/SSE API for sessions, datasets and multi-agent
// report generation.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/codeready-toolchain/deepreport/pkg/agent"
	"github.com/codeready-toolchain/deepreport/pkg/agent/nl2sql"
	"github.com/codeready-toolchain/deepreport/pkg/agent/orchestrator"
	"github.com/codeready-toolchain/deepreport/pkg/agent/planner"
	"github.com/codeready-toolchain/deepreport/pkg/agent/prompt"
	"github.com/codeready-toolchain/deepreport/pkg/agent/researcher"
	"github.com/codeready-toolchain/deepreport/pkg/agent/section"
	"github.com/codeready-toolchain/deepreport/pkg/agent/summary"
	"github.com/codeready-toolchain/deepreport/pkg/api"
	"github.com/codeready-toolchain/deepreport/pkg/cleanup"
	"github.com/codeready-toolchain/deepreport/pkg/config"
	"github.com/codeready-toolchain/deepreport/pkg/database"
	"github.com/codeready-toolchain/deepreport/pkg/dataset"
	"github.com/codeready-toolchain/deepreport/pkg/events"
	"github.com/codeready-toolchain/deepreport/pkg/llm"
	"github.com/codeready-toolchain/deepreport/pkg/masking"
	"github.com/codeready-toolchain/deepreport/pkg/metrics"
	"github.com/codeready-toolchain/deepreport/pkg/sandbox"
	"github.com/codeready-toolchain/deepreport/pkg/services"
	"github.com/codeready-toolchain/deepreport/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	grpcHealthPort := getEnv("GRPC_HEALTH_PORT", "8081")

	slog.Info("Starting deepreport",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	if err := run(*configDir, httpPort, grpcHealthPort); err != nil {
		slog.Error("deepreport stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

func run(configDir, httpPort, grpcHealthPort string) error {
	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	// 2. Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load database config: %w", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	engine, err := sandbox.NewPgEngineFromDSN(ctx, dbConfig.DSN(), int32(cfg.Report.MaxConcurrentSections*2), cfg.Report.SandboxRole)
	if err != nil {
		return fmt.Errorf("failed to create query engine: %w", err)
	}
	defer engine.Close()

	// 3. Domain services
	sessionService := services.NewSessionService(dbClient)
	datasetService := services.NewDatasetService(dbClient)
	reportService := services.NewReportService(dbClient)
	eventService := services.NewEventService(dbClient)
	warningsService := services.NewSystemWarningsService()

	// Reports left generating by a previous process can never finish.
	if n, err := reportService.FailInterruptedReports(ctx); err != nil {
		slog.Error("Failed to mark interrupted reports", "error", err)
	} else if n > 0 {
		slog.Warn("Marked interrupted reports as failed", "count", n)
	}
	warnMissingCredentials(cfg, warningsService)

	// 4. Streaming infrastructure
	eventPublisher := events.NewEventPublisher(dbClient.DB())
	broker := events.NewBroker(events.NewEventServiceAdapter(eventService))
	notifyListener := events.NewNotifyListener(dbConfig.DSN(), broker)
	notifyListener.OnConnectionState(func(err error) {
		if err == nil {
			warningsService.Clear(services.WarningCategoryEventStream, "listener")
			return
		}
		warningsService.AddWarning(services.WarningCategoryEventStream, "listener",
			"LISTEN connection lost, reconnecting: "+err.Error())
	})
	if err := notifyListener.Start(ctx); err != nil {
		// Catch-up from the events table still works; only live delivery is lost.
		slog.Error("Failed to start NotifyListener", "error", err)
		warningsService.AddWarning(services.WarningCategoryEventStream, "listener",
			"live event delivery is unavailable: "+err.Error())
	} else {
		broker.SetListener(notifyListener)
		defer notifyListener.Stop(ctx)
	}
	slog.Info("Streaming infrastructure initialized")

	// 5. Agents
	m := metrics.New()
	gateway := llm.NewGateway(llm.NewEinoTransport(), cfg, llm.WithMetrics(m))
	prompts := prompt.NewStore(cfg.PromptsDir)
	telemetry := agent.NewTelemetry(eventPublisher, agent.WithMasker(masking.NewService()))
	rc := cfg.Report

	translator := nl2sql.New(gateway, prompts, telemetry, rc.SQLLimitCap)
	searcher := researcher.NewSearcher(sandbox.New(engine, rc.QueryTimeout, m), translator, rc.TranslationRetries, rc.SearchMaxRows)
	assembler := section.New(gateway, prompts, telemetry, rc.ChartMaxRows)
	datasets := dataset.NewCache(datasetService, rc.DatasetCacheTTL)

	gen := orchestrator.New(orchestrator.Deps{
		Planner:    planner.New(gateway, prompts, telemetry, rc.PlannerMaxIterations),
		Researcher: researcher.New(gateway, prompts, telemetry, searcher, assembler, rc.ResearcherMaxIterations, rc.MaxSearches),
		Summary:    summary.New(gateway, prompts, telemetry),
		Datasets:   datasets,
		Reports:    reportService,
		Events:     eventPublisher,
		Metrics:    m,
	}, rc)
	slog.Info("Report agents initialized", "prompts_dir", cfg.PromptsDir)

	// 6. Event retention
	cleanupService := cleanup.NewService(rc, eventService)
	cleanupService.Start(ctx)
	defer cleanupService.Stop()

	// 7. gRPC health service
	healthServer := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	lis, err := net.Listen("tcp", ":"+grpcHealthPort)
	if err != nil {
		return fmt.Errorf("failed to listen for gRPC health: %w", err)
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			slog.Error("gRPC health server error", "error", err)
		}
	}()
	defer grpcServer.GracefulStop()

	// 8. HTTP server
	httpServer := api.NewServer(cfg, dbClient, api.Deps{
		Sessions:  sessionService,
		Datasets:  datasetService,
		Reports:   reportService,
		Cache:     datasets,
		Generator: gen,
		Broker:    broker,
		Metrics:   m,
	})
	httpServer.SetWarningsService(warningsService)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	slog.Info("deepreport started successfully", "grpc_health_port", grpcHealthPort)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	var runErr error
	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
		runErr = err
	}

	// 10. Graceful shutdown: in-flight runs are cancelled and record status error.
	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	return runErr
}

// warnMissingCredentials surfaces providers without an API key on /health.
func warnMissingCredentials(cfg *config.Config, warnings *services.SystemWarningsService) {
	for name, p := range cfg.LLMProviderRegistry.GetAll() {
		if p.APIKey() == "" {
			warnings.AddWarning(services.WarningCategoryLLMProvider, name,
				fmt.Sprintf("environment variable %s is empty; agents using provider %s fail", p.APIKeyEnv, name))
		}
	}
}
