package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	echoSwagger "github.com/swaggo/echo-swagger"

	"github.com/onurcolak/unified-inbox/environments"
	"github.com/onurcolak/unified-inbox/handlers"
	"github.com/onurcolak/unified-inbox/internal/middlewares"
)

// RegisterRoutes registers all API routes with middleware
func RegisterRoutes(
	e *echo.Echo,
	healthHandler *handlers.HealthHandler,
	inboxHandler *handlers.InboxHandler,
	notificationHandler *handlers.NotificationHandler,
	schedulerHandler *handlers.SchedulerHandler,
	cfg *environments.Config,
) {
	e.GET("/health", healthHandler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	v1 := e.Group("/api/v1")

	// Each group carries its own API key
	inbox := v1.Group("/inbox", middlewares.APIKeyAuth("inbox", cfg.Auth.InboxAPIKey))

	inbox.GET("/chats", inboxHandler.GetChats)
	inbox.GET("/chats/:id/messages", inboxHandler.GetMessages)
	inbox.POST("/chats/:id/messages", inboxHandler.SendMessage)
	inbox.POST("/chats/:id/read", inboxHandler.MarkRead)

	notifications := v1.Group("/notifications", middlewares.APIKeyAuth("notifications", cfg.Auth.NotificationAPIKey))

	notifications.POST("/notify", notificationHandler.Notify)
	notifications.POST("/schedule", notificationHandler.Schedule)
	notifications.GET("/cached", notificationHandler.GetCached)
	notifications.GET("/stats", notificationHandler.GetStats)

	schedulerGroup := v1.Group("/scheduler", middlewares.APIKeyAuth("scheduler", cfg.Auth.SchedulerAPIKey))

	schedulerGroup.POST("/start", schedulerHandler.StartScheduler)
	schedulerGroup.POST("/stop", schedulerHandler.StopScheduler)
	schedulerGroup.GET("/status", schedulerHandler.GetSchedulerStatus)
	schedulerGroup.POST("/sweep", schedulerHandler.TriggerSweep)
	schedulerGroup.POST("/reconcile", schedulerHandler.TriggerReconcile)
}
