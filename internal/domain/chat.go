package domain

import "time"

// Source identifies the messaging backend a chat belongs to.
type Source string

const (
	SourceAvito    Source = "avito"
	SourceTelegram Source = "telegram"
	SourceWhatsApp Source = "whatsapp"
)

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

type MessageKind string

const (
	KindText     MessageKind = "text"
	KindPhoto    MessageKind = "photo"
	KindVideo    MessageKind = "video"
	KindDocument MessageKind = "document"
	KindVoice    MessageKind = "voice"
)

// Chat is the normalized conversation shape every adapter translates into.
// ID carries the owning adapter's namespace prefix (none for the default adapter).
type Chat struct {
	ID          string    `json:"id"`
	Source      Source    `json:"source"`
	DisplayName string    `json:"displayName"`
	UnreadCount int       `json:"unreadCount"`
	LastMessage string    `json:"lastMessage"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Message struct {
	ID        string      `json:"id"`
	ChatID    string      `json:"chatId"`
	Direction Direction   `json:"direction"`
	CreatedAt time.Time   `json:"createdAt"`
	Kind      MessageKind `json:"kind"`
	Text      string      `json:"text"`
}

// ChatList is the merged result of fanning out to every adapter.
type ChatList struct {
	Chats  []Chat            `json:"chats"`
	Counts map[Source]int    `json:"counts"`
	Errors map[Source]string `json:"errors,omitempty"`
}
