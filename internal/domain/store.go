package domain

import "context"

// ChatStore persists chats and their messages.
type ChatStore interface {
	// FindChat returns ErrNotFound when no chat exists for the pair.
	FindChat(ctx context.Context, businessID, userID string) (*Chat, error)
	// CreateChat returns ErrChatExists when another writer created the pair first.
	CreateChat(ctx context.Context, chat Chat) (*Chat, error)
	AddMessage(ctx context.Context, msg Message) (*Message, error)
	// RecentMessages returns up to limit messages, newest first.
	RecentMessages(ctx context.Context, chatID string, limit int) ([]Message, error)
	// RecentImages returns up to limit image messages sent by the user, newest first.
	RecentImages(ctx context.Context, chatID string, limit int) ([]Message, error)
}

type TicketStore interface {
	CreateTicket(ctx context.Context, t Ticket) (*Ticket, error)
	// OpenTickets returns open tickets, newest first.
	OpenTickets(ctx context.Context) ([]Ticket, error)
	UpdateTicket(ctx context.Context, id string, patch TicketPatch) (*Ticket, error)
}

// DeliveryLog remembers which platform message ids were already handled.
type DeliveryLog interface {
	// MarkProcessed records id and reports whether this was the first sighting.
	MarkProcessed(ctx context.Context, messageID string) (bool, error)
}

// Store is implemented by every persistence backend.
type Store interface {
	ChatStore
	TicketStore
	DeliveryLog
	Ping(ctx context.Context) error
	Close() error
}
