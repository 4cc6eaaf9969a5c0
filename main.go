package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"challenge-service/handlers"
	"challenge-service/middleware"
	"challenge-service/models"
	"challenge-service/services"
	"challenge-service/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{})

	// GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("ALLOWED_ORIGINS not set, using default: http://localhost:3000")
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
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-Business-ID, X-Business-Roles, X-Service-Token",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Challenge{},
		&models.ChallengeParticipant{},
		&models.LedgerEntry{},
		&models.XPAccount{},
		&models.ProcessedEvent{},
		&models.BusinessMirror{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	notifier := services.NewNotifierClient(os.Getenv("NOTIFY_SERVICE_URL"), os.Getenv("CHALLENGE_SERVICE_TOKEN"))

	store := services.NewChallengeStore(db)
	ledger := services.NewLedgerService(db)
	lifecycle := services.NewLifecycleService(db, store, ledger, notifier)
	progress := services.NewProgressService(db)
	settlement := services.NewSettlementService(db, store, ledger, notifier)

	directoryURL := os.Getenv("DIRECTORY_SERVICE_URL")
	if directoryURL == "" {
		log.Fatal("DIRECTORY_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("CHALLENGE_SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("CHALLENGE_SERVICE_TOKEN environment variable not set")
	}

	syncClient := workers.NewBusinessSyncClient(db, directoryURL, serviceToken)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go workers.PollBusinesses(ctx, syncClient, 30*time.Second)

	settlement.StartScheduler()

	handlers.SetupChallengeRoutes(app, lifecycle, progress, settlement, ledger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("Challenge service running on http://localhost:%s", port)
	log.Println("Settlement scheduler running (every 1m)")
	log.Println("Business directory polling running (every 30s)")

	<-ctx.Done()
	log.Println("Shutting down server...")
}
