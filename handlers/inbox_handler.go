package handlers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/unified-inbox/internal/domain"
	"github.com/onurcolak/unified-inbox/pkg/response"
	"github.com/onurcolak/unified-inbox/pkg/validator"
)

type inboxService interface {
	ListAllChats(ctx context.Context) domain.ChatList
	ListMessages(ctx context.Context, chatID string, limit int) ([]domain.Message, error)
	Send(ctx context.Context, chatID, text string) error
	MarkRead(ctx context.Context, chatID string) error
}

type InboxHandler struct {
	service inboxService
}

func NewInboxHandler(service inboxService) *InboxHandler {
	return &InboxHandler{service: service}
}

type SendMessageRequest struct {
	Text string `json:"text" validate:"required,max=4096"`
}

const maxMessagesLimit = 200

// GetChats godoc
// @Summary List chats from every backend
// @Description Merges chats from all messengers, newest first. A failing backend is reported in errors and contributes no chats.
// @Tags inbox
// @Accept json
// @Produce json
// @Param x-inbox-auth-key header string true "API key for inbox"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/inbox/chats [get]
func (h *InboxHandler) GetChats(c echo.Context) error {
	return response.Ok(c, h.service.ListAllChats(c.Request().Context()))
}

// GetMessages godoc
// @Summary List messages of a chat
// @Description Returns the messages of one chat from the backend that owns its id
// @Tags inbox
// @Accept json
// @Produce json
// @Param x-inbox-auth-key header string true "API key for inbox"
// @Param id path string true "Chat ID"
// @Param limit query int false "Max messages (default: 50, max: 200)"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 502 {object} response.ErrorResponse
// @Router /api/v1/inbox/chats/{id}/messages [get]
func (h *InboxHandler) GetMessages(c echo.Context) error {
	chatID, err := chatIDParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxMessagesLimit {
			return response.BadRequest(c, fmt.Errorf("limit must be between 1 and %d", maxMessagesLimit))
		}
	}

	messages, err := h.service.ListMessages(c.Request().Context(), chatID, limit)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Ok(c, messages)
}

// SendMessage godoc
// @Summary Send a text message
// @Description Sends text to a chat through the backend that owns its id
// @Tags inbox
// @Accept json
// @Produce json
// @Param x-inbox-auth-key header string true "API key for inbox"
// @Param id path string true "Chat ID"
// @Param message body SendMessageRequest true "Message to send"
// @Success 201 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 502 {object} response.ErrorResponse
// @Router /api/v1/inbox/chats/{id}/messages [post]
func (h *InboxHandler) SendMessage(c echo.Context) error {
	chatID, err := chatIDParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	if err := h.service.Send(c.Request().Context(), chatID, req.Text); err != nil {
		return response.FromError(c, err)
	}

	return response.Created(c, "Message sent successfully", map[string]any{
		"chatId": chatID,
	})
}

// MarkRead godoc
// @Summary Mark a chat as read
// @Tags inbox
// @Accept json
// @Produce json
// @Param x-inbox-auth-key header string true "API key for inbox"
// @Param id path string true "Chat ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 502 {object} response.ErrorResponse
// @Router /api/v1/inbox/chats/{id}/read [post]
func (h *InboxHandler) MarkRead(c echo.Context) error {
	chatID, err := chatIDParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	if err := h.service.MarkRead(c.Request().Context(), chatID); err != nil {
		return response.FromError(c, err)
	}

	return response.OkWithMessage(c, "Chat marked as read", map[string]any{
		"chatId": chatID,
	})
}

func chatIDParam(c echo.Context) (string, error) {
	chatID, err := url.PathUnescape(c.Param("id"))
	if err != nil || chatID == "" {
		return "", fmt.Errorf("invalid chat id")
	}
	return chatID, nil
}
