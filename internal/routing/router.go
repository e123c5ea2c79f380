// Package routing maps namespaced chat ids to the adapter that owns them.
package routing

import (
	"context"
	"strings"

	"github.com/onurcolak/unified-inbox/internal/domain"
)

// Adapter is the contract every chat backend implements. Chat ids it returns
// already carry its namespace prefix, and it accepts them back unchanged.
type Adapter interface {
	Source() domain.Source
	ListChats(ctx context.Context, limit int) ([]domain.Chat, error)
	ListMessages(ctx context.Context, chatID string, limit int) ([]domain.Message, error)
	Send(ctx context.Context, chatID, text string) error
	MarkRead(ctx context.Context, chatID string) error
}

// PhoneResolver is implemented by adapters that can map a phone number to a chat id.
type PhoneResolver interface {
	ResolvePhone(ctx context.Context, phone string) (string, error)
}

type Route struct {
	Prefix  string
	Adapter Adapter
}

// Router is immutable after construction.
type Router struct {
	routes   []Route
	fallback Adapter
}

// New builds a router; routes are matched in the given order and the first
// prefix match wins. Ids that match no prefix go to the default adapter.
func New(defaultAdapter Adapter, routes ...Route) *Router {
	table := make([]Route, 0, len(routes))
	for _, r := range routes {
		if r.Prefix == "" || r.Adapter == nil {
			continue
		}
		table = append(table, r)
	}

	return &Router{
		routes:   table,
		fallback: defaultAdapter,
	}
}

func (r *Router) Resolve(chatID string) Adapter {
	for _, route := range r.routes {
		if strings.HasPrefix(chatID, route.Prefix) {
			return route.Adapter
		}
	}
	return r.fallback
}

// Adapters lists every adapter in table order followed by the default.
func (r *Router) Adapters() []Adapter {
	out := make([]Adapter, 0, len(r.routes)+1)
	for _, route := range r.routes {
		out = append(out, route.Adapter)
	}
	if r.fallback != nil {
		out = append(out, r.fallback)
	}
	return out
}

func (r *Router) Sources() []domain.Source {
	adapters := r.Adapters()
	out := make([]domain.Source, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, a.Source())
	}
	return out
}
