package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"hookhub/internal/api"
	"hookhub/internal/audit"
	"hookhub/internal/auth"
	"hookhub/internal/config"
	"hookhub/internal/notify"
	"hookhub/internal/policy"
	"hookhub/internal/registry"
	"hookhub/internal/storage"
	"hookhub/internal/store"
	"hookhub/internal/watch"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, db: %s/%s)", cfg.Server.Port, cfg.Database.Driver, cfg.Database.Name)

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	// 3. Bootstrap system tables
	if err := db.Bootstrap(ctx); err != nil {
		log.Fatalf("Failed to bootstrap system tables: %v", err)
	}
	log.Println("System tables ready")

	// 4. Open the manifest source directory
	var files *storage.Local
	if cfg.Manifests.Dir != "" {
		files, err = storage.NewLocal(cfg.Manifests.Dir)
		if err != nil {
			log.Fatalf("Failed to open manifest directory: %v", err)
		}
	}

	// 5. Fill the registry from store and source directory
	reg := registry.NewRegistry()
	if err := registry.LoadAll(ctx, db, files, reg); err != nil {
		log.Fatalf("Failed to load manifests: %v", err)
	}

	// 6. Load policies
	policies := policy.NewEngine()
	if err := policies.Reload(ctx, db); err != nil {
		log.Printf("WARN: Failed to load policies: %v", err)
	}

	// 7. Webhook dispatcher and retry scheduler
	dispatcher := notify.NewDispatcher(db)
	webhookScheduler := notify.NewScheduler(db)
	webhookScheduler.Start()
	defer webhookScheduler.Stop()

	// 8. Audit trail
	var auditor api.Auditor
	if cfg.Audit.Enabled {
		buffer := audit.NewBuffer(db, cfg.Audit.BufferSize, cfg.Audit.FlushIntervalMs)
		defer buffer.Stop()
		auditor = buffer

		cleaner := audit.NewCleaner(db, cfg.Audit.RetentionDays)
		cleaner.Start()
		defer cleaner.Stop()
	}

	// 9. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: api.ErrorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	// 10. Auth routes (before middleware, no auth required)
	authHandler := auth.NewHandler(db, cfg.JWTSecret)
	auth.RegisterRoutes(app, authHandler)

	// 11. Manifest API (auth required, policies/webhooks admin only)
	handler := api.NewHandler(db, reg, policies, files, dispatcher, auditor)
	api.RegisterRoutes(app, handler, auth.Middleware(cfg.JWTSecret), auth.RequireAdmin())

	// 12. Watch the source directory for out-of-band edits
	if files != nil && cfg.Manifests.Watch {
		watcher, err := watch.New(files.Dir(), func(project string) {
			if err := registry.ReloadProject(context.Background(), db, files, reg, project); err != nil {
				log.Printf("WARN: reload manifest for %s: %v", project, err)
			}
		})
		if err != nil {
			log.Fatalf("Failed to watch manifest directory: %v", err)
		}
		watcher.Start()
		defer watcher.Stop()
	}

	// 13. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	log.Fatal(app.Listen(addr))
}
