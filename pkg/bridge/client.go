// Package bridge talks to a chat-network sidecar over its small HTTP protocol.
// One Client serves each bridged network; the network is told apart by its
// source and chat id prefix.
package bridge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/onurcolak/unified-inbox/environments"
	"github.com/onurcolak/unified-inbox/internal/apperrors"
	"github.com/onurcolak/unified-inbox/internal/domain"
	"github.com/onurcolak/unified-inbox/internal/metrics"
	"github.com/onurcolak/unified-inbox/pkg/logger"
)

type Client struct {
	httpClient *resty.Client
	source     domain.Source
	prefix     string
	baseURL    string
}

func NewClient(source domain.Source, cfg environments.BridgeConfig) *Client {
	baseURL := strings.TrimRight(cfg.URL, "/")

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		source:     source,
		prefix:     cfg.Prefix,
		baseURL:    baseURL,
	}
}

func (c *Client) Source() domain.Source {
	return c.source
}

func (c *Client) Prefix() string {
	return c.prefix
}

type lastMessagePayload struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Created int64  `json:"created"`
}

type chatPayload struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	UnreadCount int                 `json:"unread_count"`
	Updated     int64               `json:"updated"`
	LastMessage *lastMessagePayload `json:"last_message"`
}

type messagePayload struct {
	ID        string `json:"id"`
	Created   int64  `json:"created"`
	Text      string `json:"text"`
	Type      string `json:"type"`
	Direction string `json:"direction"`
}

type sendRequest struct {
	ChatID  string `json:"chat_id"`
	Message string `json:"message"`
}

type resolveResponse struct {
	ChatID string `json:"chat_id"`
}

// Status is what the sidecar reports about its own session.
type Status struct {
	Ready          bool `json:"ready"`
	Authenticating bool `json:"authenticating"`
}

func (c *Client) ListChats(ctx context.Context, limit int) ([]domain.Chat, error) {
	var body []chatPayload

	startTime := time.Now()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&body).
		Get("/chats")
	if err = c.check(resp, err); err != nil {
		return nil, c.observe("list_chats", err)
	}

	logger.Debugf("Bridge %s returned %d chats in %v", c.source, len(body), time.Since(startTime))

	chats := make([]domain.Chat, 0, len(body))
	for _, p := range body {
		chat := domain.Chat{
			ID:          c.withPrefix(p.ID),
			Source:      c.source,
			DisplayName: p.Name,
			UnreadCount: p.UnreadCount,
			UpdatedAt:   unix(p.Updated),
		}
		if p.LastMessage != nil {
			chat.LastMessage = p.LastMessage.Text
			if chat.UpdatedAt.IsZero() {
				chat.UpdatedAt = unix(p.LastMessage.Created)
			}
		}
		chats = append(chats, chat)
	}

	return chats, c.observe("list_chats", nil)
}

func (c *Client) ListMessages(ctx context.Context, chatID string, limit int) ([]domain.Message, error) {
	var body []messagePayload

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&body).
		Get("/chats/" + url.PathEscape(chatID) + "/messages")
	if err = c.check(resp, err); err != nil {
		return nil, c.observe("list_messages", err)
	}

	messages := make([]domain.Message, 0, len(body))
	for _, p := range body {
		direction := domain.DirectionIn
		if p.Direction == "out" {
			direction = domain.DirectionOut
		}
		messages = append(messages, domain.Message{
			ID:        c.withPrefix(p.ID),
			ChatID:    chatID,
			Direction: direction,
			CreatedAt: unix(p.Created),
			Kind:      kindOf(p.Type),
			Text:      p.Text,
		})
	}

	return messages, c.observe("list_messages", nil)
}

func (c *Client) Send(ctx context.Context, chatID, text string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(sendRequest{ChatID: chatID, Message: text}).
		Post("/messages/send")

	return c.observe("send", c.check(resp, err))
}

func (c *Client) MarkRead(ctx context.Context, chatID string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		Post("/chats/" + url.PathEscape(chatID) + "/read")

	return c.observe("mark_read", c.check(resp, err))
}

// ResolvePhone maps a normalized phone number to a chat id on this network.
func (c *Client) ResolvePhone(ctx context.Context, phone string) (string, error) {
	var body resolveResponse

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("phone", phone).
		SetResult(&body).
		Get("/contacts/resolve")
	if err == nil && resp.StatusCode() == http.StatusNotFound {
		metrics.ObserveAdapterCall(string(c.source), "resolve_phone", nil)
		return "", fmt.Errorf("%s: %w", c.source, apperrors.ErrDestinationUnresolved)
	}
	if err = c.check(resp, err); err != nil {
		return "", c.observe("resolve_phone", err)
	}

	if body.ChatID == "" {
		metrics.ObserveAdapterCall(string(c.source), "resolve_phone", nil)
		return "", fmt.Errorf("%s: %w", c.source, apperrors.ErrDestinationUnresolved)
	}

	return c.withPrefix(body.ChatID), c.observe("resolve_phone", nil)
}

func (c *Client) Status(ctx context.Context) (*Status, error) {
	var status Status

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&status).
		Get("/status")
	if err = c.check(resp, err); err != nil {
		return nil, c.observe("status", err)
	}

	return &status, nil
}

func (c *Client) GetURL() string {
	return c.baseURL
}

func (c *Client) check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *Client) observe(op string, err error) error {
	metrics.ObserveAdapterCall(string(c.source), op, err)
	if err != nil {
		return apperrors.NewAdapterError(c.source, op, err)
	}
	return nil
}

func (c *Client) withPrefix(id string) string {
	if id == "" || strings.HasPrefix(id, c.prefix) {
		return id
	}
	return c.prefix + id
}

func kindOf(t string) domain.MessageKind {
	switch t {
	case "image", "photo":
		return domain.KindPhoto
	case "video":
		return domain.KindVideo
	case "document", "file":
		return domain.KindDocument
	case "ptt", "audio", "voice":
		return domain.KindVoice
	default:
		return domain.KindText
	}
}

func unix(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
