package handlers

import (
	"context"
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/unified-inbox/internal/domain"
	"github.com/onurcolak/unified-inbox/internal/scheduler"
	"github.com/onurcolak/unified-inbox/pkg/response"
)

type schedulerControl interface {
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool
	GetStatus() scheduler.SchedulerStatus
	TriggerSweep(ctx context.Context) (*scheduler.SweepReport, error)
	TriggerReconcile(ctx context.Context) (*domain.ReconcileSummary, error)
}

type SchedulerHandler struct {
	scheduler schedulerControl
	ctx       context.Context
}

// NewSchedulerHandler keeps ctx as the lifetime of runs started over HTTP, so
// they stop with the process rather than with the request.
func NewSchedulerHandler(sched schedulerControl, ctx context.Context) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler: sched,
		ctx:       ctx,
	}
}

// StartScheduler godoc
// @Summary Start the notification scheduler
// @Description Starts the periodic sweep and booking reconciliation
// @Tags scheduler
// @Accept json
// @Produce json
// @Param x-inbox-auth-key header string true "API key for scheduler"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/scheduler/start [post]
func (h *SchedulerHandler) StartScheduler(c echo.Context) error {
	if h.scheduler.IsRunning() {
		return response.OkWithMessage(c, "Scheduler is already running", h.scheduler.GetStatus())
	}

	if err := h.scheduler.Start(h.ctx); err != nil {
		return response.InternalServerError(c, err)
	}

	return response.OkWithMessage(c, "Scheduler started successfully", h.scheduler.GetStatus())
}

// StopScheduler godoc
// @Summary Stop the notification scheduler
// @Description Stops the periodic jobs; manual triggers keep working
// @Tags scheduler
// @Accept json
// @Produce json
// @Param x-inbox-auth-key header string true "API key for scheduler"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/scheduler/stop [post]
func (h *SchedulerHandler) StopScheduler(c echo.Context) error {
	if !h.scheduler.IsRunning() {
		return response.OkWithMessage(c, "Scheduler is already stopped", h.scheduler.GetStatus())
	}

	if err := h.scheduler.Stop(); err != nil {
		return response.InternalServerError(c, err)
	}

	return response.OkWithMessage(c, "Scheduler stopped successfully", h.scheduler.GetStatus())
}

// GetSchedulerStatus godoc
// @Summary Get scheduler status
// @Description Returns the state and counters of the notification scheduler
// @Tags scheduler
// @Accept json
// @Produce json
// @Param x-inbox-auth-key header string true "API key for scheduler"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/scheduler/status [get]
func (h *SchedulerHandler) GetSchedulerStatus(c echo.Context) error {
	return response.Ok(c, h.scheduler.GetStatus())
}

// TriggerSweep godoc
// @Summary Deliver due notifications now
// @Tags scheduler
// @Accept json
// @Produce json
// @Param x-inbox-auth-key header string true "API key for scheduler"
// @Success 200 {object} response.SuccessResponse
// @Failure 429 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/scheduler/sweep [post]
func (h *SchedulerHandler) TriggerSweep(c echo.Context) error {
	report, err := h.scheduler.TriggerSweep(c.Request().Context())
	if err != nil {
		return triggerError(c, err)
	}

	return response.OkWithMessage(c, "Sweep completed", report)
}

// TriggerReconcile godoc
// @Summary Reconcile recent bookings now
// @Tags scheduler
// @Accept json
// @Produce json
// @Param x-inbox-auth-key header string true "API key for scheduler"
// @Success 200 {object} response.SuccessResponse
// @Failure 409 {object} response.ErrorResponse
// @Failure 429 {object} response.ErrorResponse
// @Failure 502 {object} response.ErrorResponse
// @Router /api/v1/scheduler/reconcile [post]
func (h *SchedulerHandler) TriggerReconcile(c echo.Context) error {
	summary, err := h.scheduler.TriggerReconcile(c.Request().Context())
	if err != nil {
		return triggerError(c, err)
	}

	return response.OkWithMessage(c, "Reconciliation completed", summary)
}

func triggerError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, scheduler.ErrTooSoon):
		return response.TooManyRequests(c, err.Error())
	case errors.Is(err, scheduler.ErrLeaseHeld):
		return response.Conflict(c, err.Error())
	default:
		return response.FromError(c, err)
	}
}
