package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/resobot/api/internal/bot"
	"github.com/resobot/api/internal/client"
	"github.com/resobot/api/internal/config"
	"github.com/resobot/api/internal/fetch"
	"github.com/resobot/api/internal/handler"
	"github.com/resobot/api/internal/job"
	"github.com/resobot/api/internal/report"
	"github.com/resobot/api/internal/tempstore"
	"github.com/resobot/api/internal/transcode"
	ws "github.com/resobot/api/internal/websocket"
	"github.com/resobot/api/pkg/response"
)

const standardAPIBaseURL = "https://api.telegram.org"

func main() {
	// Local development convenience; missing .env is fine
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client (optional; quota is disabled without it)
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Printf("Warning: Redis not available, daily quota disabled: %v", err)
			redisClient = nil
		}
	}

	// Temp artifact store
	store, err := tempstore.New(cfg.Media.TempDir)
	if err != nil {
		log.Fatalf("Failed to initialize temp store: %v", err)
	}

	// Telegram API client
	botAPI, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		log.Fatalf("Failed to connect to Telegram: %v", err)
	}
	log.Printf("Authorized as @%s", botAPI.Self.UserName)

	// Fetch strategies: the standard Bot API download plus, when
	// configured, a self-hosted Bot API server without the size cap
	standard := client.NewFileClient(standardAPIBaseURL, cfg.Bot.Token)
	var large *client.FileClient
	if cfg.Bot.LargeAPIBaseURL != "" {
		large = client.NewFileClient(cfg.Bot.LargeAPIBaseURL, cfg.Bot.Token)
	}
	fetcher := fetch.New(store, standard, large, cfg.StandardMaxBytes())

	// Transcoding engine
	invoker := transcode.NewInvoker(store, cfg.Media.FFmpegPath)
	prober := transcode.NewProber(cfg.Media.FFprobePath)

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Outbound transport and progress reporting
	transport := bot.NewTransport(botAPI)
	reporter := report.NewReporter(transport)

	// Pipeline coordinator
	coord := job.New(job.Deps{
		Registry:     job.NewRegistry(),
		Quota:        job.NewQuota(redisClient, cfg.Limits.DailyMax),
		Fetcher:      fetcher,
		Converter:    invoker,
		Prober:       prober,
		Store:        store,
		Delivery:     transport,
		Events:       job.MultiSink(reporter, hub),
		ConvertLimit: time.Duration(cfg.Limits.ConvertTimeoutSec) * time.Second,
	})

	// Telegram update loop
	botCtx, stopBot := context.WithCancel(context.Background())
	b := bot.New(botAPI, coord, bot.Capabilities{
		StandardMax:    cfg.StandardMaxBytes(),
		LargeAvailable: fetcher.LargeAvailable(),
	})
	go b.Run(botCtx)

	// Initialize handlers
	jobHandler := handler.NewJobHandler(coord)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":        "ok",
			"activeJobs":    coord.Active(),
			"liveArtifacts": store.Count(),
			"largeFiles":    fetcher.LargeAvailable(),
			"quota":         redisClient != nil,
		})
	})

	// API routes
	api := app.Group("/api")
	api.Get("/jobs/:jobId", jobHandler.Status)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Uptime watchdog: some hosts recycle instances on a schedule, so a
	// clean self-shutdown ahead of the deadline avoids mid-job kills
	if cfg.Limits.MaxRuntimeMin > 0 {
		time.AfterFunc(time.Duration(cfg.Limits.MaxRuntimeMin)*time.Minute, func() {
			log.Printf("Max runtime of %d minutes reached, shutting down", cfg.Limits.MaxRuntimeMin)
			quit <- syscall.SIGTERM
		})
	}

	go func() {
		<-quit
		log.Println("Shutting down server...")
		stopBot()
		coord.Wait()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
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
