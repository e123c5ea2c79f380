package avito

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/onurcolak/unified-inbox/internal/domain"
)

type userPayload struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type contentPayload struct {
	Text string `json:"text"`
}

type messagePayload struct {
	ID        string         `json:"id"`
	AuthorID  int64          `json:"author_id"`
	Created   int64          `json:"created"`
	Direction string         `json:"direction"`
	Type      string         `json:"type"`
	IsRead    bool           `json:"is_read"`
	Read      int64          `json:"read"`
	Content   contentPayload `json:"content"`
}

type chatPayload struct {
	ID      string        `json:"id"`
	Created int64         `json:"created"`
	Updated int64         `json:"updated"`
	Users   []userPayload `json:"users"`
	Context struct {
		Value struct {
			Title string `json:"title"`
		} `json:"value"`
	} `json:"context"`
	LastMessage *messagePayload `json:"last_message"`
}

type chatsResponse struct {
	Chats []chatPayload `json:"chats"`
}

type sendRequest struct {
	Message contentPayload `json:"message"`
	Type    string         `json:"type"`
}

func (c *Client) ListChats(ctx context.Context, limit int) ([]domain.Chat, error) {
	chats, err := c.listChats(ctx, limit)
	return chats, c.observe("list_chats", err)
}

func (c *Client) listChats(ctx context.Context, limit int) ([]domain.Chat, error) {
	accountID, err := c.account(ctx)
	if err != nil {
		return nil, err
	}

	var body chatsResponse
	path := fmt.Sprintf("/messenger/v2/accounts/%d/chats?limit=%d", accountID, limit)
	if err := c.do(ctx, resty.MethodGet, path, nil, &body); err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}

	chats := make([]domain.Chat, 0, len(body.Chats))
	for _, p := range body.Chats {
		chats = append(chats, toChat(p, accountID))
	}

	return chats, nil
}

func (c *Client) ListMessages(ctx context.Context, chatID string, limit int) ([]domain.Message, error) {
	messages, err := c.listMessages(ctx, chatID, limit)
	return messages, c.observe("list_messages", err)
}

func (c *Client) listMessages(ctx context.Context, chatID string, limit int) ([]domain.Message, error) {
	accountID, err := c.account(ctx)
	if err != nil {
		return nil, err
	}

	var body []messagePayload
	path := fmt.Sprintf("/messenger/v3/accounts/%d/chats/%s/messages/?limit=%d", accountID, url.PathEscape(chatID), limit)
	if err := c.do(ctx, resty.MethodGet, path, nil, &body); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	messages := make([]domain.Message, 0, len(body))
	for _, p := range body {
		messages = append(messages, toMessage(p, chatID, accountID))
	}

	return messages, nil
}

func (c *Client) Send(ctx context.Context, chatID, text string) error {
	return c.observe("send", c.send(ctx, chatID, text))
}

func (c *Client) send(ctx context.Context, chatID, text string) error {
	accountID, err := c.account(ctx)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/messenger/v1/accounts/%d/chats/%s/messages", accountID, url.PathEscape(chatID))
	payload := sendRequest{
		Message: contentPayload{Text: text},
		Type:    "text",
	}

	if err := c.do(ctx, resty.MethodPost, path, payload, nil); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	return nil
}

func (c *Client) MarkRead(ctx context.Context, chatID string) error {
	return c.observe("mark_read", c.markRead(ctx, chatID))
}

func (c *Client) markRead(ctx context.Context, chatID string) error {
	accountID, err := c.account(ctx)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/messenger/v1/accounts/%d/chats/%s/read", accountID, url.PathEscape(chatID))
	if err := c.do(ctx, resty.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("failed to mark chat read: %w", err)
	}

	return nil
}

func toChat(p chatPayload, accountID int64) domain.Chat {
	chat := domain.Chat{
		ID:          p.ID,
		Source:      domain.SourceAvito,
		DisplayName: displayName(p, accountID),
		UpdatedAt:   unix(p.Updated),
	}

	if p.LastMessage != nil {
		chat.LastMessage = preview(*p.LastMessage)
		if isInbound(*p.LastMessage, accountID) && !p.LastMessage.IsRead && p.LastMessage.Read == 0 {
			chat.UnreadCount = 1
		}
		if chat.UpdatedAt.IsZero() {
			chat.UpdatedAt = unix(p.LastMessage.Created)
		}
	}

	return chat
}

func displayName(p chatPayload, accountID int64) string {
	for _, u := range p.Users {
		if u.ID != accountID && u.Name != "" {
			return u.Name
		}
	}
	if p.Context.Value.Title != "" {
		return p.Context.Value.Title
	}
	return "Chat " + p.ID
}

func toMessage(p messagePayload, chatID string, accountID int64) domain.Message {
	direction := domain.DirectionOut
	if isInbound(p, accountID) {
		direction = domain.DirectionIn
	}

	return domain.Message{
		ID:        p.ID,
		ChatID:    chatID,
		Direction: direction,
		CreatedAt: unix(p.Created),
		Kind:      kindOf(p.Type),
		Text:      p.Content.Text,
	}
}

func isInbound(p messagePayload, accountID int64) bool {
	if p.Direction != "" {
		return p.Direction == "in"
	}
	return p.AuthorID != accountID
}

func kindOf(t string) domain.MessageKind {
	switch t {
	case "image":
		return domain.KindPhoto
	case "video":
		return domain.KindVideo
	case "file":
		return domain.KindDocument
	case "voice":
		return domain.KindVoice
	default:
		return domain.KindText
	}
}

func preview(p messagePayload) string {
	if p.Content.Text != "" {
		return p.Content.Text
	}
	if kind := kindOf(p.Type); kind != domain.KindText {
		return "[" + string(kind) + "]"
	}
	return ""
}

func unix(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

