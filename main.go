package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/onurcolak/unified-inbox/environments"
	"github.com/onurcolak/unified-inbox/handlers"
	"github.com/onurcolak/unified-inbox/internal/domain"
	"github.com/onurcolak/unified-inbox/internal/middlewares"
	"github.com/onurcolak/unified-inbox/internal/repository"
	"github.com/onurcolak/unified-inbox/internal/routing"
	"github.com/onurcolak/unified-inbox/internal/scheduler"
	"github.com/onurcolak/unified-inbox/internal/service"
	"github.com/onurcolak/unified-inbox/internal/token"
	"github.com/onurcolak/unified-inbox/pkg/avito"
	"github.com/onurcolak/unified-inbox/pkg/bridge"
	"github.com/onurcolak/unified-inbox/pkg/database"
	"github.com/onurcolak/unified-inbox/pkg/logger"
	"github.com/onurcolak/unified-inbox/pkg/redis"
	"github.com/onurcolak/unified-inbox/pkg/validator"
	"github.com/onurcolak/unified-inbox/pkg/yclients"
	"github.com/onurcolak/unified-inbox/routes"

	_ "github.com/onurcolak/unified-inbox/docs" // swagger docs
)

// @title Unified Inbox API
// @version 1.0
// @description Unified inbox over classifieds and messenger chats, with booking notifications
// @termsOfService http://swagger.io/terms/

// @contact.name API Support

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /

// @schemes http https
func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := environments.Load()
	if err != nil {
		_ = logger.Init("info")
		logger.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.LogLevel); err != nil {
		panic("failed to initialise logger: " + err.Error())
	}
	defer logger.Sync()

	// Hard-fail if required secrets are missing
	if cfg.Auth.InboxAPIKey == "" {
		logger.Fatalf("AUTH_INBOX_API_KEY is required but not set")
	}
	if cfg.Auth.NotificationAPIKey == "" {
		logger.Fatalf("AUTH_NOTIFICATION_API_KEY is required but not set")
	}
	if cfg.Auth.SchedulerAPIKey == "" {
		logger.Fatalf("AUTH_SCHEDULER_API_KEY is required but not set")
	}
	if cfg.Avito.ClientID == "" || cfg.Avito.ClientSecret == "" {
		logger.Warnf("Avito credentials not set, classifieds chats will report credential errors")
	}

	logger.Infof("Starting Unified Inbox...")

	db, err := database.NewMySQLDB(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.RunMigrations(db); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	if inserted, err := database.SeedTemplates(db); err != nil {
		logger.Warnf("Failed to seed message templates: %v", err)
	} else if inserted > 0 {
		logger.Infof("Seeded %d message templates", inserted)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.Warnf("Redis not available, delivery cache and reconcile lease disabled: %v", err)
			redisClient = nil
		}
	}

	// Chat backends: the classifieds messenger owns unprefixed ids
	tokens := token.NewCache(avito.NewExchanger(cfg.Avito), cfg.Avito.TokenSafetyMargin)
	avitoClient := avito.NewClient(cfg.Avito, tokens)
	telegramClient := bridge.NewClient(domain.SourceTelegram, cfg.Telegram)
	whatsappClient := bridge.NewClient(domain.SourceWhatsApp, cfg.WhatsApp)
	logger.Infof("Bridges configured: telegram=%s whatsapp=%s", telegramClient.GetURL(), whatsappClient.GetURL())

	router := routing.New(avitoClient,
		routing.Route{Prefix: telegramClient.Prefix(), Adapter: telegramClient},
		routing.Route{Prefix: whatsappClient.Prefix(), Adapter: whatsappClient},
	)

	bookingClient := yclients.NewClient(cfg.YClients)
	if !bookingClient.IsConfigured() {
		logger.Warnf("YClients not configured, booking reconciliation disabled")
	}

	inboxService := service.NewInboxService(router, cfg.Notification.ChatLimit)

	deps := service.NotificationDeps{
		Repo:      repository.NewNotificationRepository(db),
		Ledger:    repository.NewLedgerRepository(db),
		Bookings:  bookingClient,
		Messenger: inboxService,
		Validator: validator.New(),
	}

	var (
		leases     scheduler.LeaseStore
		redisProbe handlers.RedisPinger
	)
	if redisClient != nil {
		deps.Cache = redisClient
		leases = redisClient
		redisProbe = redisClient
	}

	notificationService := service.NewNotificationService(deps, cfg.Notification)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.NewScheduler(notificationService, leases, cfg.Notification, cfg.Alert)

	healthHandler := handlers.NewHealthHandler(db, redisProbe, tokens, telegramClient, whatsappClient)
	inboxHandler := handlers.NewInboxHandler(inboxService)
	notificationHandler := handlers.NewNotificationHandler(notificationService)
	schedulerHandler := handlers.NewSchedulerHandler(sched, ctx)

	if cfg.Notification.AutoStart {
		logger.Infof("Auto-starting scheduler...")
		if err := sched.Start(ctx); err != nil {
			logger.Warnf("Failed to auto-start scheduler: %v", err)
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = validator.New()

	e.Use(middleware.Logger())
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			middlewares.APIKeyHeader,
		},
	}))

	routes.RegisterRoutes(e, healthHandler, inboxHandler, notificationHandler, schedulerHandler, cfg)

	go func() {
		addr := ":" + cfg.Server.Port
		logger.Infof("Server starting on http://localhost%s", addr)
		logger.Infof("Swagger docs available at http://localhost%s/swagger/index.html", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("Shutting down gracefully...")

	cancel()

	if sched.IsRunning() {
		logger.Infof("Stopping scheduler...")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()

		done := make(chan error, 1)
		go func() {
			done <- sched.Stop()
		}()

		select {
		case err := <-done:
			if err != nil {
				logger.Errorf("Error stopping scheduler: %v", err)
			} else {
				logger.Infof("Scheduler stopped successfully")
			}
		case <-stopCtx.Done():
			logger.Warnf("Scheduler stop timeout, forcing shutdown")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Infof("Shutting down HTTP server...")
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	} else {
		logger.Infof("HTTP server stopped successfully")
	}

	logger.Infof("Closing database connection...")
	if err := db.Close(); err != nil {
		logger.Errorf("Error closing database: %v", err)
	}

	if redisClient != nil {
		logger.Infof("Closing Redis connection...")
		if err := redisClient.Close(); err != nil {
			logger.Errorf("Error closing Redis: %v", err)
		}
	}

	logger.Infof("Graceful shutdown completed")
}
