package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/gorm/logger"

	"github.com/casebridge/casebridge/internal/config"
	"github.com/casebridge/casebridge/internal/database"
	"github.com/casebridge/casebridge/internal/handlers"
	"github.com/casebridge/casebridge/internal/jobs"
	"github.com/casebridge/casebridge/internal/middleware"
	"github.com/casebridge/casebridge/internal/notify"
	syncengine "github.com/casebridge/casebridge/internal/sync"
	"github.com/casebridge/casebridge/internal/sync/adapters"
)

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it (this is fine if using environment variables): %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting Casebridge sync engine...")

	// Initialize database connection
	if err := database.Connect(cfg.DatabaseURL, logger.Warn); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	db := database.GetDB()

	// Apply declarative integration seeds
	if cfg.IntegrationsFile != "" {
		seeds, err := config.LoadIntegrationsFile(cfg.IntegrationsFile)
		if err != nil {
			log.Fatalf("Failed to load integrations file: %v", err)
		}
		for _, seed := range seeds {
			_, err := database.EnsureIntegration(db, seed.Name,
				database.VendorKind(seed.Vendor), database.JSONB(seed.Settings), seed.IsEnabled())
			if err != nil {
				log.Fatalf("Failed to apply integration %s: %v", seed.Name, err)
			}
		}
		log.Printf("Applied %d integration seeds from %s", len(seeds), cfg.IntegrationsFile)
	}

	// Build the sync engine
	store := database.NewStore(db)
	tracker := syncengine.NewWatermarkTracker(store,
		time.Duration(cfg.DefaultLookbackHours)*time.Hour,
		time.Duration(cfg.SkewBufferMinutes)*time.Minute)

	orchestrator := syncengine.NewOrchestrator(store, tracker)
	orchestrator.RegisterAdapter(database.VendorKindOffense, func(settings map[string]interface{}) (syncengine.Adapter, error) {
		return adapters.NewOffenseAdapter(settings)
	})
	orchestrator.RegisterAdapter(database.VendorKindSearchJob, func(settings map[string]interface{}) (syncengine.Adapter, error) {
		return adapters.NewSearchJobAdapter(settings)
	})
	orchestrator.RegisterAdapter(database.VendorKindLogStore, func(settings map[string]interface{}) (syncengine.Adapter, error) {
		return adapters.NewLogStoreAdapter(settings)
	})
	log.Printf("Vendor adapters registered: offense, searchjob, logstore")

	// WebSocket feed for cycle results
	feedHandler := handlers.NewSyncFeedHandler()

	// Optional Slack notifications
	notifier := notify.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackChannel)
	if notifier != nil {
		log.Printf("Slack notifications enabled for channel %s", cfg.SlackChannel)
	}

	// Periodic sync scheduler
	scheduler := jobs.NewSyncScheduler(db, orchestrator, time.Duration(cfg.SyncIntervalMinutes)*time.Minute)
	scheduler.AddObserver(jobs.ObserverFunc(feedHandler.BroadcastCycle))
	scheduler.AddObserver(jobs.ObserverFunc(notifier.CycleFinished))

	stopCh := make(chan struct{})
	go scheduler.Start(stopCh)
	log.Printf("Sync scheduler started (every %d minutes)", cfg.SyncIntervalMinutes)

	// HTTP API
	apiHandler := handlers.NewAPIHandler(db, store, orchestrator)
	apiHandler.SetTriggerSync(func() {
		scheduler.RunAll(context.Background())
	})

	mux := http.NewServeMux()
	apiHandler.SetupRoutes(mux)
	feedHandler.SetupRoutes(mux)

	corsMiddleware := middleware.NewCORSMiddleware() // Allow all origins
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: corsMiddleware.Wrap(mux),
	}

	go func() {
		log.Printf("Starting HTTP server on port %d", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	log.Printf("Health check endpoint: http://localhost:%d/health", cfg.HTTPPort)
	log.Printf("API base URL: http://localhost:%d/api", cfg.HTTPPort)

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Received shutdown signal, cleaning up...")
	close(stopCh)

	if err := httpServer.Close(); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}
	if err := database.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}
	log.Println("Shutdown complete")
}
