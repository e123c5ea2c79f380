package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/unified-inbox/internal/domain"
	"github.com/onurcolak/unified-inbox/pkg/bridge"
)

type dbPinger interface {
	PingContext(ctx context.Context) error
}

// RedisPinger is satisfied by the redis client; nil disables the check.
type RedisPinger interface {
	Ping(ctx context.Context) error
}

type bridgeProbe interface {
	Source() domain.Source
	Status(ctx context.Context) (*bridge.Status, error)
}

type tokenProbe interface {
	ExpiresAt() time.Time
}

// HealthHandler handles health checks.
type HealthHandler struct {
	db           dbPinger
	redis        RedisPinger
	bridges      []bridgeProbe
	tokens       tokenProbe
	checkTimeout time.Duration
}

// NewHealthHandler takes nil for components that are not configured.
func NewHealthHandler(db dbPinger, redisClient RedisPinger, tokens tokenProbe, bridges ...bridgeProbe) *HealthHandler {
	return &HealthHandler{
		db:           db,
		redis:        redisClient,
		bridges:      bridges,
		tokens:       tokens,
		checkTimeout: 2 * time.Second,
	}
}

// Health returns overall status and per-component statuses.
// @Summary Health check
// @Description Returns overall status with DB, Redis and messenger bridge results
// @Tags health
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Router /health [get]
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.checkTimeout)
	defer cancel()

	overallStatus := "ok"
	degrade := func() {
		if overallStatus == "ok" {
			overallStatus = "degraded"
		}
	}

	dbStatus := "up"
	if h.db == nil {
		dbStatus = "down"
		overallStatus = "down"
	} else if err := h.db.PingContext(ctx); err != nil {
		dbStatus = "down"
		overallStatus = "down"
	}

	redisStatus := "disabled"
	if h.redis != nil {
		if err := h.redis.Ping(ctx); err != nil {
			redisStatus = "down"
			degrade()
		} else {
			redisStatus = "up"
		}
	}

	components := map[string]any{
		"database": map[string]any{"status": dbStatus},
		"redis":    map[string]any{"status": redisStatus},
	}

	for _, b := range h.bridges {
		component := map[string]any{"status": "up"}

		status, err := b.Status(ctx)
		switch {
		case err != nil:
			component["status"] = "down"
			component["error"] = err.Error()
			degrade()
		case !status.Ready:
			component["status"] = "not_ready"
			component["authenticating"] = status.Authenticating
			degrade()
		}

		components[string(b.Source())] = component
	}

	if h.tokens != nil {
		token := map[string]any{"status": "none"}
		if expiresAt := h.tokens.ExpiresAt(); !expiresAt.IsZero() {
			token["status"] = "cached"
			token["expiresAt"] = expiresAt.Format(time.RFC3339)
		}
		components[string(domain.SourceAvito)] = token
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":     overallStatus,
		"timestamp":  time.Now().Format(time.RFC3339),
		"components": components,
	})
}
