package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/animastudio/render-api/internal/bundle"
	"github.com/animastudio/render-api/internal/config"
	"github.com/animastudio/render-api/internal/engine"
	"github.com/animastudio/render-api/internal/handler"
	"github.com/animastudio/render-api/internal/job"
	"github.com/animastudio/render-api/internal/middleware"
	"github.com/animastudio/render-api/internal/render"
	ws "github.com/animastudio/render-api/internal/websocket"
	"github.com/animastudio/render-api/pkg/response"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Rendering engine adapter
	eng := engine.NewRemotion(cfg.Engine.Command, cfg.Engine.Script)
	if !eng.IsConfigured() {
		log.Printf("Warning: render helper %s not found, renders will fail until it is installed", cfg.Engine.Script)
	}

	// Bundle cache and render executor
	bundles := bundle.NewCache(eng, cfg.Render.EntryPoint)
	executor := render.NewExecutor(eng, bundles, cfg.Render.CompositionID, cfg.Engine.Port)

	// Initialize validator
	validate := validator.New()

	// WebSocket hub for progress streaming
	hub := ws.NewHub()
	go hub.Run()

	// Job store and orchestrator
	store := job.NewStore()
	orchestrator := job.NewOrchestrator(store, executor, hub, job.Config{
		OutputDir:     cfg.Render.OutputDir,
		Concurrency:   cfg.Render.Concurrency,
		Timeout:       cfg.Render.Timeout(),
		MemoryLimitMB: cfg.Render.MemoryLimitMB,
		ForceRebundle: cfg.Render.ForceRebundle,
		TTL:           cfg.Jobs.TTL(),
		SweepInterval: cfg.Jobs.SweepInterval(),
	})

	renderHandler := handler.NewRenderHandler(orchestrator, validate)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Finished videos
	app.Static("/output", cfg.Render.OutputDir)

	// Health check
	app.Get("/api/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"ok": true,
			"services": fiber.Map{
				"engine": eng.IsConfigured(),
				"auth":   cfg.Server.AuthSecret != "",
			},
		})
	})

	// API routes, bearer auth only when a secret is configured
	api := app.Group("/api")
	if cfg.Server.AuthSecret != "" {
		log.Println("Info: bearer auth enabled for /api routes")
		api.Use(middleware.NewAuthMiddleware(cfg.Server.AuthSecret).Authenticate())
	}

	createLimiter := limiter.New(limiter.Config{
		Max:        cfg.Server.CreateRatePerMin,
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return response.RateLimited(c)
		},
	})

	api.Post("/renders", createLimiter, renderHandler.Create)
	api.Get("/renders/:id", renderHandler.Get)
	api.Delete("/renders/:id", renderHandler.Cancel)

	// WebSocket progress stream
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/renders/:id", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("id"))
	}))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down render API...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := orchestrator.Shutdown(shutdownCtx); err != nil {
			log.Printf("Orchestrator shutdown error: %v", err)
		}

		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Render API listening on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}
