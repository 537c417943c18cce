// cortexd is a single-process cognitive scheduler: it serves the HTTP
// edge, runs the sensitive loop over an energy-regulated LLM, and manages
// apps and MCP servers.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cortexd/cortexd/pkg/api"
	"github.com/cortexd/cortexd/pkg/apps"
	"github.com/cortexd/cortexd/pkg/cleanup"
	"github.com/cortexd/cortexd/pkg/config"
	"github.com/cortexd/cortexd/pkg/database"
	"github.com/cortexd/cortexd/pkg/energy"
	"github.com/cortexd/cortexd/pkg/events"
	"github.com/cortexd/cortexd/pkg/llm"
	"github.com/cortexd/cortexd/pkg/loop"
	"github.com/cortexd/cortexd/pkg/mcp"
	"github.com/cortexd/cortexd/pkg/models"
	"github.com/cortexd/cortexd/pkg/services"
	"github.com/cortexd/cortexd/pkg/subagent"
	"github.com/cortexd/cortexd/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
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

	slog.Info("Starting cortexd",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database
	dbClient, err := database.NewClient(ctx, database.LoadConfigFromEnv(os.Getenv))
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()
	slog.Info("Database ready")

	// 3. Domain services
	db := dbClient.DB()
	conversationService := services.NewConversationService(db)
	appService := services.NewAppService(db)
	statsService := services.NewStatsService(db)
	eventService := services.NewEventService(db)
	slog.Info("Services initialized")

	// 4. Streaming infrastructure and event retention
	catchupQuerier := events.NewEventServiceAdapter(eventService)
	connManager := events.NewConnectionManager(catchupQuerier, 10*time.Second)
	bus := events.NewBus(eventService, connManager)

	retention := cleanup.NewService(eventService, cleanup.DefaultEventTTL, cleanup.DefaultInterval)
	retention.Start(ctx)
	defer retention.Stop()

	// 5. Energy regulator
	energyMin, energyMax := cfg.Scheduler.EnergyRange()
	regulator := energy.New(energyMin, energyMax, cfg.Scheduler.ReplenishRate)

	// 6. LLM client
	llmClient, err := llm.New(cfg.LLM, os.Getenv)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "provider", cfg.LLM.Provider, "error", err)
		os.Exit(1)
	}
	slog.Info("LLM client initialized",
		"provider", cfg.LLM.Provider,
		"large_model", cfg.LLM.LargeModel,
		"small_model", cfg.LLM.SmallModel)

	// 7. MCP client and tool catalog. Server failures are warnings, not
	// fatal: the sub-agent can repair or remove servers at runtime.
	mcpClient := mcp.NewClient(cfg.MCPServers)
	if err := mcpClient.Initialize(ctx); err != nil {
		slog.Warn("MCP initialization incomplete", "error", err)
	}
	for serverID, reason := range mcpClient.FailedServers() {
		slog.Warn("MCP server failed to connect", "server_id", serverID, "reason", reason)
	}
	defer func() {
		if err := mcpClient.Close(); err != nil {
			slog.Error("Error closing MCP client", "error", err)
		}
	}()

	catalog := mcp.NewCatalog(mcpClient)
	if err := catalog.Refresh(ctx); err != nil {
		slog.Warn("Tool catalog refresh failed", "error", err)
	}

	// 8. App registry: pre-install configured apps, register live instances.
	registry := apps.NewRegistry(appService)
	defer registry.Close()

	installApp(ctx, registry, models.AppConfig{
		AppID:   apps.ChatAppID,
		Type:    models.AppTypeInProcess,
		Name:    "Built-in chat",
		Enabled: true,
	})
	for _, appCfg := range cfg.Apps {
		installApp(ctx, registry, appCfg)
	}

	chatApp := apps.NewChatApp(conversationService, registry)
	if err := registry.RegisterApp(ctx, chatApp); err != nil {
		slog.Error("Failed to register chat app", "error", err)
		os.Exit(1)
	}
	registerConfiguredApps(ctx, cfg.Apps, registry, mcpClient)

	// 9. Sub-agent (optional; the loop degrades gracefully without it)
	var subAgent *subagent.SubAgent
	if cfg.MCPServers.SubAgentEnabled() {
		subAgent = subagent.New(cfg.MCPServers, mcpClient)
		subAgent.SetEnergyRate(cfg.Scheduler.SubAgentEnergyPerSecond)
		subAgent.Start(ctx)
		slog.Info("Sub-agent started")
	} else {
		slog.Info("Sub-agent disabled by servers file")
	}

	// 10. The sensitive loop
	schedLoop := loop.New(loop.Deps{
		Scheduler:     cfg.Scheduler,
		LLM:           cfg.LLM,
		Regulator:     regulator,
		Conversations: conversationService,
		Registry:      registry,
		SubAgent:      subAgent,
		Catalog:       catalog,
		Client:        llmClient,
		Bus:           bus,
		Stats:         statsService,
	})
	schedLoop.Start(ctx)

	// 11. HTTP server (non-blocking)
	httpServer := api.NewServer(api.Deps{
		DBClient:         dbClient,
		Conversations:    conversationService,
		Stats:            statsService,
		Registry:         registry,
		Regulator:        regulator,
		Bus:              bus,
		ConnManager:      connManager,
		Loop:             schedLoop,
		AllowedWSOrigins: cfg.AllowedWSOrigins,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(":" + httpPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("cortexd started successfully")

	// 12. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 13. Graceful shutdown: loop first so no new LLM or tool work
	// starts, then the sub-agent, then the HTTP edge.
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := schedLoop.Stop(shutdownCtx); err != nil {
		slog.Warn("Loop shutdown timed out", "error", err)
	}
	if subAgent != nil {
		if err := subAgent.Stop(shutdownCtx); err != nil {
			slog.Warn("Sub-agent shutdown timed out", "error", err)
		}
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// installApp installs an app record, tolerating reruns against an
// existing database.
func installApp(ctx context.Context, registry *apps.Registry, cfg models.AppConfig) {
	if err := registry.Install(ctx, cfg); err != nil {
		if errors.Is(err, services.ErrAlreadyExists) {
			return
		}
		slog.Error("Failed to install app", "app_id", cfg.AppID, "error", err)
		os.Exit(1)
	}
	slog.Info("Installed app", "app_id", cfg.AppID, "type", cfg.Type)
}

// registerConfiguredApps creates live instances for enabled http and mcp
// apps from the config file.
func registerConfiguredApps(ctx context.Context, appCfgs []models.AppConfig, registry *apps.Registry, mcpClient *mcp.Client) {
	for _, appCfg := range appCfgs {
		if !appCfg.Enabled {
			continue
		}

		var instance apps.AppInstance
		switch appCfg.Type {
		case models.AppTypeHTTP:
			instance = apps.NewHTTPApp(appCfg.AppID, appCfg.Endpoint)
		case models.AppTypeMCP:
			// For MCP apps the endpoint names the server that receives
			// routed messages.
			instance = apps.NewMCPApp(appCfg.AppID, appCfg.Endpoint, mcpClient)
		default:
			continue
		}

		if err := registry.RegisterApp(ctx, instance); err != nil {
			slog.Warn("Failed to register app instance", "app_id", appCfg.AppID, "error", err)
		}
	}
}
