package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"gitblog/docs"
	"gitblog/internal/config"
	handlers "gitblog/internal/http/handler"
	"gitblog/internal/http/middleware"
	"gitblog/internal/logging"
	"gitblog/internal/otel"
	"gitblog/internal/service"
	"gitblog/internal/storage"
)

// @title Git Blog API
// @version 1.0
// @description Blog editor backed by a Git repository's content API.
// @BasePath /
func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()
	cfg.BindFlags(pflag.CommandLine)
	pflag.Parse()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	loc := cfg.Location()
	logger := logging.New(os.Stdout, cfg.LogLevel, loc)
	ctx := context.Background()

	shutdownTracing, err := otel.Init(ctx, logger)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Remote content store, traced and counted
	backend, err := storage.Open(cfg, logger.Slog())
	if err != nil {
		log.Fatalf("failed to initialize content store: %v", err)
	}
	storeMetrics, err := storage.NewMetrics(reg)
	if err != nil {
		log.Fatalf("failed to register store metrics: %v", err)
	}
	store := storage.Instrument(backend, storeMetrics)

	// Services
	index := service.NewIndexMaintainer(store, storage.DefaultRetryPolicy, logger.With("component", "index"))
	posts, err := service.NewPostService(store, index, logger.With("component", "posts"), service.PostOptions{
		Timeout:         cfg.OperationTimeout(),
		ListConcurrency: cfg.ListConcurrency,
		CacheSize:       cfg.PostCacheSize,
	})
	if err != nil {
		log.Fatalf("failed to initialize post service: %v", err)
	}
	cleanupMetrics, err := service.NewCleanupMetrics(reg)
	if err != nil {
		log.Fatalf("failed to register cleanup metrics: %v", err)
	}
	cleaner := service.NewCleaner(store, logger.With("component", "cleanup"), cleanupMetrics, cfg.OperationTimeout())

	// Repository layout and templates; failures are reported and do not stop the server
	initCtx, cancelInit := context.WithTimeout(ctx, cfg.OperationTimeout())
	if _, err := service.NewInitializer(store, cfg.TemplatesDir, storage.DefaultRetryPolicy, logger.With("component", "init")).Initialize(initCtx); err != nil {
		logger.Error(ctx, "repository initialization failed", "error", err)
	}
	cancelInit()

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
		BodyLimit:    cfg.MaxBodyMB * 1024 * 1024,
	})

	promMiddleware, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		log.Fatalf("failed to register http metrics: %v", err)
	}

	// Register global middleware
	app.Use(otelfiber.Middleware())
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	// JSON Logger middleware for structured request logs
	app.Use(middleware.LoggerWithSlog(logger.Slog().With("component", "http")))
	app.Use(promMiddleware.Handler())

	handlers.RegisterRoutes(app, handlers.Dependencies{
		Store:    store,
		Posts:    posts,
		Cleaner:  cleaner,
		Log:      logger.With("component", "http"),
		Gatherer: reg,
	})

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		logger.Info(ctx, "shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Error(ctx, "shutdown failed", "error", err)
		}
	}()

	addr := ":" + cfg.Port
	logger.Info(ctx, "server starting", "addr", addr, "backend", cfg.Backend)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
