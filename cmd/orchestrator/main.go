// Package main is the orchestrator server entrypoint: it wires every
// component from SPEC_FULL.md's package map and serves the HTTP/WebSocket
// API described in spec §6.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/stashsense/orchestrator/pkg/api"
	"github.com/stashsense/orchestrator/pkg/cleanup"
	"github.com/stashsense/orchestrator/pkg/config"
	"github.com/stashsense/orchestrator/pkg/database"
	"github.com/stashsense/orchestrator/pkg/events"
	"github.com/stashsense/orchestrator/pkg/interaction"
	"github.com/stashsense/orchestrator/pkg/plugin"
	"github.com/stashsense/orchestrator/pkg/registry"
	"github.com/stashsense/orchestrator/pkg/settings"
	"github.com/stashsense/orchestrator/pkg/stash"
	"github.com/stashsense/orchestrator/pkg/task"
	"github.com/stashsense/orchestrator/pkg/version"
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

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	log.Printf("Starting orchestrator %s", version.Full())
	log.Printf("Config Directory: %s", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}

	httpPort := getEnv("HTTP_PORT", strconv.Itoa(cfg.Server.Port))
	log.Printf("HTTP Port: %s", httpPort)

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbClient.Close()
	log.Println("✓ Connected to PostgreSQL database")

	pool := dbClient.DB()

	settingsStore := settings.New(pool)
	actions := registry.NewActionRegistry()
	services := registry.NewServiceRegistry(actions, nil)
	recommenders := registry.NewRecommenderRegistry()

	tasks := task.NewManager(cfg.TaskManager, cfg.Retention, actions, services, pool)

	pluginLoader := plugin.New(pool, cfg.Plugins.RootDir, version.Backend, actions, services, recommenders, settingsStore)
	if err := pluginLoader.Initialize(ctx); err != nil {
		log.Fatalf("Failed to initialize plugin loader: %v", err)
	}
	log.Println("✓ Plugins loaded")

	ingestor := interaction.NewIngestor(pool, cfg.Defaults)
	cleanupService := cleanup.NewService(cfg.Retention, ingestor)

	eventStore := events.NewPGEventStore(pool)
	connManager := events.NewConnectionManager(eventStore, 10*time.Second)
	publisher := events.NewEventPublisher(pool)
	tasks.PublishEventsTo(publisher)

	notifyListener := events.NewNotifyListener(dbConfig.DSN(), connManager)
	if err := notifyListener.Start(ctx); err != nil {
		log.Fatalf("Failed to start event listener: %v", err)
	}
	connManager.SetListener(notifyListener)
	defer notifyListener.Stop(context.Background())
	log.Println("✓ Event listener started")

	tasks.Start(ctx)
	defer tasks.Stop()

	cleanupService.Start(ctx)
	defer cleanupService.Stop()

	server := api.NewServer(cfg, dbClient, actions, services, recommenders, tasks, ingestor,
		pluginLoader, settingsStore, connManager, publisher,
		version.Backend, getEnv("FRONTEND_MIN_VERSION", ""), getEnv("DB_MIGRATION_HEAD", ""))

	if stashClient := buildStashClient(); stashClient != nil {
		server.SetStashClient(stashClient)
	}

	log.Printf("HTTP server listening on :%s", httpPort)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(":" + httpPort)
	}()

	select {
	case <-ctx.Done():
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error during server shutdown: %v", err)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}
}

// buildStashClient wires an HTTPGraphQLClient if the Stash GraphQL endpoint
// is configured, otherwise leaves the health check's external-catalog probe
// disabled (treated as always-healthy per spec §7).
func buildStashClient() stash.Client {
	endpoint := os.Getenv("STASH_GRAPHQL_ENDPOINT")
	if endpoint == "" {
		return nil
	}
	return stash.NewHTTPGraphQLClient(endpoint, os.Getenv("STASH_API_KEY"))
}
