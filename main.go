package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"demark/config"
	"demark/filehost"
	"demark/handlers"
	"demark/logger"
	"demark/models"
	"demark/repository/sqlite"
	"demark/services/removal"
	"demark/validation"
	"demark/wavespeed"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/etag"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberLogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/google/uuid"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	appLog, err := logger.Init(cfg.LogDir, cfg.Debug)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	requestLogConfig, err := logger.NewRequestLogger(cfg.LogDir)
	if err != nil {
		log.Fatalf("Failed to initialize request logger: %v", err)
	}

	// Initialize database
	db, err := sqlite.InitDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	sqlite.ConfigureDB(db, cfg.Database.Path,
		cfg.Database.MaxConnections,
		cfg.Database.MaxIdleConnections,
		cfg.Database.ConnMaxLifetime,
	)

	// Initialize repository
	repo, err := sqlite.NewRepository(db)
	if err != nil {
		log.Fatalf("Failed to initialize repository: %v", err)
	}
	defer repo.Close()

	// Initialize WaveSpeed client
	client, err := wavespeed.NewClient(wavespeed.Config{
		APIKey:       cfg.WaveSpeed.APIKey,
		BaseURL:      cfg.WaveSpeed.BaseURL,
		PollInterval: cfg.WaveSpeed.PollInterval,
		PollTimeout:  cfg.WaveSpeed.PollTimeout,
		HTTPTimeout:  cfg.WaveSpeed.HTTPTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to initialize WaveSpeed client: %v", err)
	}

	// Initialize temporary file host
	host, err := filehost.New(cfg.FileHost, client)
	if err != nil {
		log.Fatalf("Failed to initialize file host: %v", err)
	}

	// Initialize validator
	validator := validation.NewValidator(cfg)

	// Initialize removal service
	tier := models.ParseTier(cfg.WaveSpeed.Tier)
	appLog.WithField("tier", tier).
		WithField("concurrency", tier.Concurrency()).
		Info("Starting removal service")

	removalService := removal.NewService(
		repo,
		client,
		host,
		validator,
		removal.Config{
			Tier:             tier,
			FileHostProvider: cfg.FileHost.Provider,
			TempDir:          cfg.TempDir,
			ResultsDir:       cfg.ResultsDir,
			ProcessTimeout:   cfg.WaveSpeed.PollTimeout + 5*time.Minute,
			SubmitPerMinute:  cfg.RateLimit.RequestsPerMinute,
			SubmitBurst:      cfg.RateLimit.BurstSize,
		},
		appLog,
	)
	defer removalService.Close()

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		IdleTimeout:           cfg.IdleTimeout,
		BodyLimit:             cfg.Upload.BodyLimit(),
		ErrorHandler:          handlers.ErrorHandler,
		DisableStartupMessage: !cfg.Debug,
		StrictRouting:         true,
		CaseSensitive:         true,
		AppName:               "demark " + cfg.Version,
	})

	// Setup middleware
	setupMiddleware(app, cfg, requestLogConfig)

	// Setup routes
	jobHandler := handlers.NewJobHandler(removalService)

	// API routes
	app.Post("/api/jobs", jobHandler.SubmitBatch)
	app.Get("/api/jobs", jobHandler.ListJobs)
	app.Get("/api/jobs/:id", jobHandler.GetJob)
	app.Get("/api/jobs/:id/download", jobHandler.DownloadResult)
	app.Delete("/api/jobs/:id", jobHandler.CancelJob)

	// Health check
	app.Get("/health", handlers.HealthCheck)

	// Static files
	app.Static("/static", cfg.StaticDir)
	app.Static("/", cfg.StaticDir)

	// Graceful shutdown setup
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownChan
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := app.ShutdownWithContext(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	serverAddr := ":" + cfg.ServerPort
	if cfg.Debug {
		log.Printf("Server starting on http://localhost%s", serverAddr)
	}

	if err := app.Listen(serverAddr); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}

func setupMiddleware(app *fiber.App, cfg *config.Config, logConfig *fiberLogger.Config) {
	if cfg.Middleware.EnableRecover {
		app.Use(recover.New(recover.Config{
			EnableStackTrace: cfg.Debug,
		}))
	}

	if cfg.Middleware.EnableRequestID {
		app.Use(requestid.New(requestid.Config{
			Header: "X-Request-ID",
			Generator: func() string {
				return uuid.New().String()
			},
		}))
	}

	if cfg.Middleware.EnableLogger {
		app.Use(fiberLogger.New(*logConfig))
	}

	if cfg.Middleware.EnableTimeout {
		app.Use(timeout.New(func(c *fiber.Ctx) error {
			return c.Next()
		}, cfg.RequestTimeout))
	}

	if cfg.Middleware.EnableCORS {
		app.Use(cors.New(cors.Config{
			AllowOrigins:     strings.Join(cfg.CORS.AllowedOrigins, ","),
			AllowMethods:     strings.Join(cfg.CORS.AllowedMethods, ","),
			AllowHeaders:     strings.Join(cfg.CORS.AllowedHeaders, ","),
			ExposeHeaders:    strings.Join(cfg.CORS.ExposedHeaders, ","),
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           cfg.CORS.MaxAge,
		}))
	}

	if cfg.Middleware.EnableRateLimit && cfg.RateLimit.Enabled {
		app.Use(limiter.New(limiter.Config{
			Max:        cfg.RateLimit.RequestsPerMinute,
			Expiration: time.Minute,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error": "Rate limit exceeded",
				})
			},
		}))
	}

	if cfg.Middleware.EnableCompress {
		app.Use(compress.New(compress.Config{
			Level: compress.LevelDefault,
		}))
	}

	if cfg.Middleware.EnableETag {
		app.Use(etag.New())
	}

	if cfg.Middleware.EnableDebugMode && cfg.Debug {
		app.Use(func(c *fiber.Ctx) error {
			c.Set("X-Debug-Mode", "true")
			return c.Next()
		})
	}
}
