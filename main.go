package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dare-settlement-system/chain"
	"dare-settlement-system/handlers"
	"dare-settlement-system/middleware"
	"dare-settlement-system/models"
	"dare-settlement-system/services"
	"dare-settlement-system/utils"
	"dare-settlement-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 512 * 1024 * 1024, // 512MB — proof videos
	})

	// 🔐 GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	// Process-local rate limiting. Swept, time-bounded, lost on restart —
	// load shedding only, never an authority for business invariants.
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
	}))

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
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-User-ID, X-User-Roles, X-Service-Token",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 proof archive:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Bounty{},
		&models.CampaignSlot{},
		&models.ScoutStats{},
		&models.ScoutCreatorBinding{},
		&models.ScoutProfile{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	escrowClient := chain.NewEscrowClientFromEnv(ctx)

	oracleURL := os.Getenv("ORACLE_SERVICE_URL")
	if oracleURL == "" {
		log.Fatal("ORACLE_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("DARE_SERVICE_TOKEN")

	notifier := services.NewNotifier()
	oracleClient := services.NewOracleClient(oracleURL, serviceToken)
	reputationService := services.NewReputationService(db)
	bountyService := services.NewBountyService(db, escrowClient, reputationService, notifier, oracleClient)

	// --- Profile mirror sync (profile service → scout_profiles) ---
	profileServiceURL := os.Getenv("PROFILE_SERVICE_URL")
	if profileServiceURL == "" {
		log.Fatal("PROFILE_SERVICE_URL environment variable not set")
	}
	syncWorker := workers.NewScoutSyncWorker(db, profileServiceURL, "/api/v1/public/profiles", serviceToken)
	syncWorker.Start(ctx)

	// --- Settlement reconciliation loop ---
	reconciler := workers.NewReconciliationWorker(db, bountyService, escrowClient)
	reconcilerSched, err := reconciler.Start(ctx)
	if err != nil {
		log.Fatal("failed to start reconciliation worker:", err)
	}

	handlers.SetupBountyRoutes(app, bountyService)
	handlers.SetupScoutRoutes(app, reputationService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Scout Profile Sync Worker running")
	log.Println("✅ Reconciliation worker running")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := reconcilerSched.Shutdown(); err != nil {
		log.Printf("Reconciliation scheduler shutdown error: %v", err)
	}
	if err := app.Shutdown(); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
}
