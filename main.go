package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"matchmaking-system/handlers"
	"matchmaking-system/middleware"
	"matchmaking-system/models"
	"matchmaking-system/services"
	"matchmaking-system/utils"
	"matchmaking-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024, // 50MB — evidence uploads
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	// Load allowed origins from environment variable
	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Session-Token, X-Service-Token, X-Device-ID, Last-Event-ID",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Party{},
		&models.PartyMember{},
		&models.QueueEntry{},
		&models.QueuedPlayer{},
		&models.Match{},
		&models.MatchPlayer{},
		&models.ResultSubmission{},
		&models.MatchTransition{},
		&models.PlayerEvent{},
		&models.LedgerEntry{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	cfg := services.LoadConfig()

	identityServiceURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityServiceURL == "" {
		log.Fatal("IDENTITY_SERVICE_URL environment variable not set")
	}
	matchServiceToken := os.Getenv("MATCH_SERVICE_TOKEN")
	if matchServiceToken == "" {
		log.Fatal("MATCH_SERVICE_TOKEN environment variable not set")
	}

	identityClient := services.NewIdentityClient(identityServiceURL, matchServiceToken)
	ledgerClient := workers.NewLedgerClient(db)
	roomClient := workers.NewRoomClient()

	eventService := services.NewEventService(db)
	queueService := services.NewQueueService(db, cfg, ledgerClient, eventService)
	pairingService := services.NewPairingService(db, cfg, eventService)
	lifecycleService := services.NewLifecycleService(db, cfg, roomClient, ledgerClient, eventService)
	arbitrationService := services.NewArbitrationService(db, cfg, lifecycleService)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Repair in-flight matches before the scheduler starts acting on them.
	if err := lifecycleService.RecoverInFlight(); err != nil {
		log.Fatal("failed to recover in-flight matches:", err)
	}

	sched, err := services.StartScheduler(ctx, cfg, queueService, pairingService, lifecycleService, arbitrationService)
	if err != nil {
		log.Fatal("failed to start scheduler:", err)
	}

	// ✅ Setup routes — enforced Gateway auth + consistent /s/ prefix
	handlers.SetupQueueRoutes(app, queueService)
	handlers.SetupMatchRoutes(app, lifecycleService, arbitrationService)
	handlers.SetupEventRoutes(app, eventService, identityClient)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Pairing, expiry and deadline sweeps running")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := sched.Shutdown(); err != nil {
		log.Printf("Scheduler shutdown error: %v", err)
	}
	if err := app.Shutdown(); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
