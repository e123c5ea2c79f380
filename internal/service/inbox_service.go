package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/onurcolak/unified-inbox/internal/apperrors"
	"github.com/onurcolak/unified-inbox/internal/domain"
	"github.com/onurcolak/unified-inbox/internal/routing"
	"github.com/onurcolak/unified-inbox/pkg/logger"
)

type adapterRouter interface {
	Resolve(chatID string) routing.Adapter
	Adapters() []routing.Adapter
}

// InboxService fans out to every chat backend and routes per-chat operations
// to the backend that owns the chat id.
type InboxService struct {
	router    adapterRouter
	chatLimit int
}

func NewInboxService(router adapterRouter, chatLimit int) *InboxService {
	if chatLimit <= 0 {
		chatLimit = 50
	}

	return &InboxService{
		router:    router,
		chatLimit: chatLimit,
	}
}

type listResult struct {
	source domain.Source
	chats  []domain.Chat
	err    error
}

// ListAllChats queries every adapter concurrently. A failing or panicking
// adapter contributes no chats and an entry in Errors; it never fails the call.
func (s *InboxService) ListAllChats(ctx context.Context) domain.ChatList {
	adapters := s.router.Adapters()
	results := make([]listResult, len(adapters))

	var g errgroup.Group
	for i, adapter := range adapters {
		g.Go(func() error {
			results[i] = s.listChats(ctx, adapter)
			return nil
		})
	}
	_ = g.Wait()

	list := domain.ChatList{
		Chats:  make([]domain.Chat, 0),
		Counts: make(map[domain.Source]int, len(adapters)),
	}

	for _, r := range results {
		if r.err != nil {
			logger.Warnf("Failed to list %s chats: %v", r.source, r.err)
			if list.Errors == nil {
				list.Errors = make(map[domain.Source]string)
			}
			list.Errors[r.source] = r.err.Error()
			list.Counts[r.source] = 0
			continue
		}

		for j := range r.chats {
			r.chats[j].Source = r.source
		}
		list.Chats = append(list.Chats, r.chats...)
		list.Counts[r.source] = len(r.chats)
	}

	sort.SliceStable(list.Chats, func(a, b int) bool {
		return list.Chats[a].UpdatedAt.After(list.Chats[b].UpdatedAt)
	})

	return list
}

func (s *InboxService) listChats(ctx context.Context, adapter routing.Adapter) (res listResult) {
	res.source = adapter.Source()

	defer func() {
		if r := recover(); r != nil {
			res.chats = nil
			res.err = apperrors.NewAdapterError(res.source, "list_chats", fmt.Errorf("panic: %v", r))
		}
	}()

	res.chats, res.err = adapter.ListChats(ctx, s.chatLimit)
	return res
}

func (s *InboxService) ListMessages(ctx context.Context, chatID string, limit int) ([]domain.Message, error) {
	if chatID == "" {
		return nil, fmt.Errorf("chat id is required: %w", apperrors.ErrValidation)
	}
	if limit <= 0 {
		limit = s.chatLimit
	}

	return s.router.Resolve(chatID).ListMessages(ctx, chatID, limit)
}

func (s *InboxService) Send(ctx context.Context, chatID, text string) error {
	if chatID == "" {
		return fmt.Errorf("chat id is required: %w", apperrors.ErrValidation)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message text is required: %w", apperrors.ErrValidation)
	}

	return s.router.Resolve(chatID).Send(ctx, chatID, text)
}

func (s *InboxService) MarkRead(ctx context.Context, chatID string) error {
	if chatID == "" {
		return fmt.Errorf("chat id is required: %w", apperrors.ErrValidation)
	}

	return s.router.Resolve(chatID).MarkRead(ctx, chatID)
}

// ResolveDestination asks each adapter able to look up phone numbers, in
// routing order, and returns the first chat found.
func (s *InboxService) ResolveDestination(ctx context.Context, phone string) (string, domain.Source, error) {
	for _, adapter := range s.router.Adapters() {
		resolver, ok := adapter.(routing.PhoneResolver)
		if !ok {
			continue
		}

		chatID, err := resolver.ResolvePhone(ctx, phone)
		if err != nil {
			if !errors.Is(err, apperrors.ErrDestinationUnresolved) {
				logger.Warnf("Phone lookup on %s failed: %v", adapter.Source(), err)
			}
			continue
		}

		return chatID, adapter.Source(), nil
	}

	return "", "", fmt.Errorf("phone %s: %w", phone, apperrors.ErrDestinationUnresolved)
}
