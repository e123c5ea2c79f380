package handlers

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/unified-inbox/internal/domain"
	"github.com/onurcolak/unified-inbox/pkg/response"
	"github.com/onurcolak/unified-inbox/pkg/validator"
)

type notificationService interface {
	Notify(ctx context.Context, phone, templateType string, vars map[string]any) (*domain.DispatchResult, error)
	ScheduleDeferred(ctx context.Context, req domain.DeferredRequest) (*domain.ScheduledNotification, error)
	GetCachedDeliveries(ctx context.Context) (map[int64]*domain.DeliveryCache, error)
	GetStats(ctx context.Context) (*domain.NotificationStats, error)
}

type NotificationHandler struct {
	service notificationService
}

func NewNotificationHandler(service notificationService) *NotificationHandler {
	return &NotificationHandler{service: service}
}

type NotifyRequest struct {
	Phone        string         `json:"phone" validate:"required,phone"`
	TemplateType string         `json:"templateType" validate:"required"`
	Variables    map[string]any `json:"variables,omitempty"`
}

type ScheduleRequest struct {
	Phone        string         `json:"phone" validate:"required,phone"`
	DisplayName  string         `json:"displayName" validate:"max=255"`
	TemplateType string         `json:"templateType" validate:"required"`
	TargetTime   time.Time      `json:"targetTime" validate:"required"`
	Variables    map[string]any `json:"variables,omitempty"`
}

// Notify godoc
// @Summary Send a templated notification now
// @Description Renders the active template and sends it to the chat the phone resolves to
// @Tags notifications
// @Accept json
// @Produce json
// @Param x-inbox-auth-key header string true "API key for notifications"
// @Param request body NotifyRequest true "Notification"
// @Success 200 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 502 {object} response.ErrorResponse
// @Router /api/v1/notifications/notify [post]
func (h *NotificationHandler) Notify(c echo.Context) error {
	var req NotifyRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	result, err := h.service.Notify(c.Request().Context(), req.Phone, req.TemplateType, req.Variables)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OkWithMessage(c, "Notification sent", result)
}

// Schedule godoc
// @Summary Schedule a deferred notification
// @Description Renders the template now and stores it for delivery after the configured delay from targetTime
// @Tags notifications
// @Accept json
// @Produce json
// @Param x-inbox-auth-key header string true "API key for notifications"
// @Param request body ScheduleRequest true "Deferred notification"
// @Success 201 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Router /api/v1/notifications/schedule [post]
func (h *NotificationHandler) Schedule(c echo.Context) error {
	var req ScheduleRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	n, err := h.service.ScheduleDeferred(c.Request().Context(), domain.DeferredRequest{
		Phone:        req.Phone,
		DisplayName:  req.DisplayName,
		TemplateType: req.TemplateType,
		TargetTime:   req.TargetTime,
		Variables:    req.Variables,
	})
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Created(c, "Notification scheduled", n)
}

// GetCached godoc
// @Summary Get cached deliveries from Redis
// @Description Returns notification deliveries cached in Redis
// @Tags notifications
// @Accept json
// @Produce json
// @Param x-inbox-auth-key header string true "API key for notifications"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/notifications/cached [get]
func (h *NotificationHandler) GetCached(c echo.Context) error {
	cached, err := h.service.GetCachedDeliveries(c.Request().Context())
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, cached)
}

// GetStats godoc
// @Summary Get notification statistics
// @Description Returns scheduled notification counts by state and the number of processed bookings
// @Tags notifications
// @Accept json
// @Produce json
// @Param x-inbox-auth-key header string true "API key for notifications"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/notifications/stats [get]
func (h *NotificationHandler) GetStats(c echo.Context) error {
	stats, err := h.service.GetStats(c.Request().Context())
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, stats)
}
