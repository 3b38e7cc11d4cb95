package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"variantlab/internal/config"
	"variantlab/internal/database"
	"variantlab/internal/handlers"
	"variantlab/internal/jobs"
	"variantlab/internal/logging"
	"variantlab/internal/middleware"
	"variantlab/internal/posthog"
	"variantlab/internal/preflight"
	"variantlab/internal/services"
	"variantlab/pkg/auth"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting variantlab server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	log.Printf("📋 Configuration loaded (Port: %s, Backend: %s, Lookup: %s)", cfg.Port, cfg.RecordingBackend, cfg.LookupMode)

	rootCtx, stopRoot := context.WithCancel(context.Background())
	defer stopRoot()

	// MongoDB backs the mongo recording backend and the conversion archive
	var mongoDB *database.MongoDB
	if cfg.MongoURI != "" {
		log.Println("🔗 Connecting to MongoDB...")
		var err error
		mongoDB, err = database.NewMongoDB(cfg.MongoURI)
		if err != nil {
			if cfg.RecordingBackend == config.BackendMongo {
				log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
			}
			log.Printf("⚠️ Failed to connect to MongoDB: %v (conversion archive disabled)", err)
		} else {
			defer mongoDB.Close(context.Background())
			if err := mongoDB.Initialize(rootCtx); err != nil {
				log.Printf("⚠️ Failed to create MongoDB indexes: %v", err)
			}
			log.Println("✅ MongoDB connected successfully")
		}
	} else {
		log.Println("⚠️ MONGODB_URI not set - conversion archive disabled")
	}

	backend, fileBackend := openRecordingBackend(cfg, mongoDB)
	defer backend.Close()

	// Redis relays live updates between instances and shares ingest limits
	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		log.Println("🔗 Connecting to Redis...")
		var err error
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️ Failed to connect to Redis: %v (single-instance mode)", err)
			redisService = nil
		} else {
			defer redisService.Close()
			log.Println("✅ Redis connected successfully")
		}
	} else {
		log.Println("⚠️ REDIS_URL not set - live updates stay on this instance")
	}

	vendor := posthog.NewClient(posthog.Config{
		Host:           cfg.PostHogHost,
		APIKey:         cfg.PostHogAPIKey,
		PersonalAPIKey: cfg.PostHogPersonalAPIKey,
		ProjectID:      cfg.PostHogProjectID,
		Timeout:        cfg.VendorTimeout,
		RateLimit:      cfg.VendorRateLimit,
		MaxRetries:     cfg.VendorMaxRetries,
	})

	// Run preflight checks
	checker := preflight.NewChecker(backend, cfg, vendor)
	results := checker.RunAll(rootCtx)
	if preflight.HasFailures(results) {
		log.Println("❌ Pre-flight checks failed. Please fix the issues above before starting the server.")
		os.Exit(1)
	}
	log.Println("✅ All pre-flight checks passed")

	var variantSource services.VariantSource
	var capturer services.EventCapturer
	if vendor.Configured() {
		if err := vendor.Connect(rootCtx); err != nil {
			log.Printf("⚠️ PostHog unavailable: %v (every visitor resolves to control)", err)
		} else {
			defer vendor.Disconnect()
			variantSource = vendor
			capturer = vendor
		}
	}

	var archive services.ConversionArchive
	if mongoDB != nil {
		archive = services.NewMongoConversionArchive(mongoDB)
	}

	// Core services
	hub := services.NewLiveUpdateHub(64)
	services.InitMetrics(hub)

	recordingService := services.NewRecordingService(backend, hub)
	queryService := services.NewRecordingQueryService(backend, cfg.LookupMode)
	exportService := services.NewExportService(queryService)

	experimentService := services.NewExperimentService(variantSource, capturer, archive, services.ExperimentConfig{
		AssignmentTTL:  cfg.AssignmentTTL,
		QueueSize:      cfg.ConversionQueueSize,
		ResolveTimeout: cfg.VendorTimeout,
	})
	if catalog, err := config.LoadExperimentCatalog(cfg.ExperimentsFile); err == nil {
		experimentService.SetCatalog(catalog)
		log.Printf("✅ Loaded %d experiments from %s", len(catalog.Experiments), cfg.ExperimentsFile)
		go startExperimentsFileWatcher(rootCtx, cfg.ExperimentsFile, experimentService)
	}

	var pubsubService *services.PubSubService
	if redisService != nil {
		pubsubService = services.NewPubSubService(redisService, hub, uuid.New().String())
		if err := pubsubService.Start(); err != nil {
			log.Printf("⚠️ Failed to start live update relay: %v", err)
			pubsubService = nil
		} else {
			hub.SetRelay(pubsubService)
		}
	}

	if fileBackend != nil {
		err := fileBackend.Watch(rootCtx, func(key string) {
			hub.NotifyExternal(key, "watcher")
		})
		if err != nil {
			log.Printf("⚠️ Recording directory watcher disabled: %v", err)
		}
	}

	// Background jobs
	jobScheduler, err := jobs.NewJobScheduler()
	if err != nil {
		log.Printf("⚠️ Failed to create job scheduler: %v", err)
	} else {
		statsJob := jobs.NewRecordingStatsJob(queryService)
		if err := jobScheduler.Register("recording_stats", cfg.StatsSchedule, statsJob); err != nil {
			log.Printf("⚠️ Failed to register recording stats job: %v", err)
		}
		if fileBackend != nil {
			sweepJob := jobs.NewTempFileSweepJob(fileBackend, time.Hour)
			if err := jobScheduler.Register("temp_file_sweep", cfg.TempSweepSchedule, sweepJob); err != nil {
				log.Printf("⚠️ Failed to register temp file sweep job: %v", err)
			}
		}
		jobScheduler.Start()
		if err := jobScheduler.RunNow("recording_stats"); err != nil {
			log.Printf("⚠️ Initial recording stats failed: %v", err)
		}
	}

	// Dashboard auth
	var dashboardAuth *auth.DashboardAuth
	if cfg.DashboardJWTSecret != "" {
		dashboardAuth, err = auth.NewDashboardAuth(cfg.DashboardJWTSecret, 0)
		if err != nil {
			log.Fatalf("❌ Failed to initialize dashboard auth: %v", err)
		}
		log.Println("✅ Dashboard authentication enabled")
	} else if cfg.IsProduction() {
		log.Println("⚠️ DASHBOARD_JWT_SECRET not set - dashboard endpoints will return 503")
	} else {
		log.Println("⚠️ DASHBOARD_JWT_SECRET not set - dashboard endpoints are open (development mode)")
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "variantlab",
		Immutable:    true,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    64 * 1024 * 1024, // full recordings are re-posted on every checkpoint
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("variantlab")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	rateLimitConfig := middleware.LoadRateLimitConfig(cfg.Environment, cfg.IngestRateLimit)
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: Global=%d/min, Ingest=%d/min per session, WS=%d/min",
		rateLimitConfig.GlobalAPIMax,
		rateLimitConfig.IngestMax,
		rateLimitConfig.WebSocketMax,
	)

	allowCredentials := cfg.AllowedOrigins != "*"
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowCredentials,
	}))
	log.Printf("🔒 [SECURITY] CORS allowed origins: %s", cfg.AllowedOrigins)

	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))

	// Handlers
	healthHandler := handlers.NewHealthHandler(hub, backend, vendor)
	recordingHandler := handlers.NewRecordingHandler(recordingService, queryService, exportService)
	experimentHandler := handlers.NewExperimentHandler(experimentService)
	analyticsHandler := handlers.NewAnalyticsHandler(vendor)
	liveHandler := handlers.NewLiveUpdatesHandler(hub)

	dashboardOnly := middleware.DashboardAuthMiddleware(dashboardAuth, cfg.Environment)

	app.Get("/health", healthHandler.Handle)

	api := app.Group("/api")

	// Capture agents post full snapshots; dashboards read
	api.Post("/recordings", middleware.IngestRateLimiter(rateLimitConfig, redisService), recordingHandler.Upsert)
	api.Get("/recordings/export", dashboardOnly, recordingHandler.Export)
	api.Get("/recordings", dashboardOnly, recordingHandler.Get)

	// Visitor-facing experiment endpoints
	api.Get("/experiments", experimentHandler.Catalog)
	api.Get("/experiments/:flagKey/variant", experimentHandler.Variant)
	api.Post("/experiments/conversions", experimentHandler.TrackConversion)
	api.Post("/experiments/flow", experimentHandler.TrackFlow)

	// Vendor analytics pass-through
	analytics := api.Group("/analytics", dashboardOnly)
	analytics.Get("/heatmap", analyticsHandler.Heatmap)
	analytics.Get("/experiments/:id/results", analyticsHandler.ExperimentResults)
	analytics.Get("/cohorts", analyticsHandler.Cohorts)

	// Live dashboard updates
	app.Use("/ws/recordings", liveHandler.Upgrade)
	app.Use("/ws/recordings", middleware.WebSocketRateLimiter(rateLimitConfig))
	app.Use("/ws/recordings", dashboardOnly)
	app.Get("/ws/recordings", websocket.New(liveHandler.Handle, websocket.Config{
		Origins: cfg.Origins(),
	}))

	log.Printf("✅ Server ready on port %s", cfg.Port)
	log.Printf("🔗 Live updates: ws://localhost:%s/ws/recordings", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("🛑 Shutting down server...")

		if jobScheduler != nil {
			jobScheduler.Stop()
		}

		if pubsubService != nil {
			if err := pubsubService.Stop(); err != nil {
				log.Printf("⚠️ Error stopping PubSub: %v", err)
			}
		}

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}

		// Give queued conversions a chance to reach the vendor
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := experimentService.Shutdown(ctx); err != nil {
			log.Printf("⚠️ Conversions still queued at shutdown: %v", err)
		}

		stopRoot()
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}

// openRecordingBackend builds the configured backend. The file backend is also returned
// on its own because only it supports watching and temp file sweeps.
func openRecordingBackend(cfg *config.Config, mongoDB *database.MongoDB) (services.RecordingBackend, *services.FileRecordingBackend) {
	switch cfg.RecordingBackend {
	case config.BackendSQL:
		db, err := database.New(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("❌ Failed to connect to database: %v", err)
		}
		log.Printf("✅ Recording store: %s database", db.Dialect)
		return services.NewSQLRecordingBackend(db), nil
	case config.BackendMongo:
		if mongoDB == nil {
			log.Fatal("❌ RECORDING_BACKEND=mongo requires a reachable MONGODB_URI")
		}
		log.Printf("✅ Recording store: MongoDB database %s", mongoDB.Name())
		return services.NewMongoRecordingBackend(mongoDB), nil
	default:
		fileBackend := services.NewFileRecordingBackend(cfg.RecordingsDir)
		log.Printf("✅ Recording store: directory %s", cfg.RecordingsDir)
		return fileBackend, fileBackend
	}
}

// startExperimentsFileWatcher reloads the experiment catalog when its file changes
func startExperimentsFileWatcher(ctx context.Context, filePath string, experimentService *services.ExperimentService) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("⚠️  Failed to create file watcher: %v", err)
		return
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		log.Printf("⚠️  Failed to get absolute path for %s: %v", filePath, err)
		return
	}

	// Watch the directory; editors replace files rather than writing in place
	dir := filepath.Dir(absPath)
	filename := filepath.Base(absPath)

	if err := watcher.Add(dir); err != nil {
		log.Printf("⚠️  Failed to watch directory %s: %v", dir, err)
		return
	}

	log.Printf("👁️  Watching %s for changes (hot-reload enabled)", filePath)

	var debounceTimer *time.Timer
	debounceDuration := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != filename {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}

				debounceTimer = time.AfterFunc(debounceDuration, func() {
					catalog, err := config.LoadExperimentCatalog(filePath)
					if err != nil {
						log.Printf("❌ Failed to reload %s, keeping previous catalog: %v", filePath, err)
						return
					}
					experimentService.SetCatalog(catalog)
					log.Printf("🔄 Reloaded %d experiments from %s", len(catalog.Experiments), filePath)
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  File watcher error: %v", err)
		}
	}
}
