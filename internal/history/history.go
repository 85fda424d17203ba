// Package history reads and appends the per-chat message log and projects it
// into the turn list the agent consumes.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"hkbot/internal/domain"
)

// DefaultLimit is the number of messages handed to the agent when none is configured.
const DefaultLimit = 10

type Config struct {
	Store  domain.ChatStore
	Limit  int
	Logger *slog.Logger
}

type Store struct {
	chats  domain.ChatStore
	limit  int
	logger *slog.Logger
}

func New(cfg Config) *Store {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{chats: cfg.Store, limit: cfg.Limit, logger: cfg.Logger}
}

// Limit is the default window size.
func (s *Store) Limit() int { return s.limit }

// GetHistory returns up to limit of the most recent messages of the chat,
// oldest first. A chat that does not exist yet has an empty history.
func (s *Store) GetHistory(ctx context.Context, businessID, userID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = s.limit
	}
	chat, err := s.chats.FindChat(ctx, businessID, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return []domain.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find chat: %w", err)
	}

	msgs, err := s.chats.RecentMessages(ctx, chat.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	// Fetched newest-first so LIMIT keeps the latest; flip for chronological order.
	slices.Reverse(msgs)
	return msgs, nil
}

// Turns is GetHistory projected through FormatTurn.
func (s *Store) Turns(ctx context.Context, businessID, userID string, limit int) ([]domain.Turn, error) {
	msgs, err := s.GetHistory(ctx, businessID, userID, limit)
	if err != nil {
		return nil, err
	}
	turns := make([]domain.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, FormatTurn(m))
	}
	return turns, nil
}

// RecentImages returns up to limit image messages the user sent, newest first.
func (s *Store) RecentImages(ctx context.Context, businessID, userID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = s.limit
	}
	chat, err := s.chats.FindChat(ctx, businessID, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find chat: %w", err)
	}
	return s.chats.RecentImages(ctx, chat.ID, limit)
}

// Append stores msg in the chat for (businessID, userID), creating the chat
// on first contact.
func (s *Store) Append(ctx context.Context, businessID, userID string, msg domain.Message) (*domain.Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	chat, err := s.chatFor(ctx, businessID, userID)
	if err != nil {
		return nil, err
	}
	msg.ChatID = chat.ID
	saved, err := s.chats.AddMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}
	return saved, nil
}

func (s *Store) chatFor(ctx context.Context, businessID, userID string) (*domain.Chat, error) {
	chat, err := s.chats.FindChat(ctx, businessID, userID)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("find chat: %w", err)
	}

	chat, err = s.chats.CreateChat(ctx, domain.Chat{BusinessID: businessID, UserID: userID})
	if errors.Is(err, domain.ErrChatExists) {
		// Lost a creation race; the winner's row is the chat.
		chat, err = s.chats.FindChat(ctx, businessID, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	s.logger.Info("created chat", "chat", chat.ID, "business", businessID, "user", userID)
	return chat, nil
}

// FormatTurn renders a message the way the agent sees it. Image messages get a
// placeholder with the public URL appended after the text.
func FormatTurn(m domain.Message) domain.Turn {
	var parts []string
	if t := strings.TrimSpace(m.TextValue()); t != "" {
		parts = append(parts, t)
	}
	if m.HasImage() {
		parts = append(parts, ImagePlaceholder(m.ImageURLValue(), m.ImageDescriptionValue()))
	}
	return domain.Turn{
		Role:      m.Role(),
		Content:   strings.Join(parts, " "),
		Timestamp: m.CreatedAt,
	}
}

func ImagePlaceholder(url, description string) string {
	if description = strings.TrimSpace(description); description != "" {
		return fmt.Sprintf("[Image attached with %s. Image URL: %s]", description, url)
	}
	return fmt.Sprintf("[Image attached. Image URL: %s]", url)
}
