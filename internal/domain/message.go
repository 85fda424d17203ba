package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrChatExists       = errors.New("chat already exists")
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrNoFieldsToUpdate = errors.New("no fields provided to update")
	ErrEmptyMessage     = errors.New("message needs text or an image url")
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Chat is the conversation between one business number and one sender.
type Chat struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	UserID     string    `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Message is one persisted utterance. At least one of Text or ImageURL is set.
type Message struct {
	ID               int64     `json:"id"`
	ChatID           string    `json:"chat_id"`
	Text             *string   `json:"text,omitempty"`
	ImageURL         *string   `json:"image_url,omitempty"`
	ImageDescription *string   `json:"image_description,omitempty"`
	IsUser           bool      `json:"is_user"`
	CreatedAt        time.Time `json:"created_at"`
}

func (m Message) Validate() error {
	if m.TextValue() == "" && m.ImageURLValue() == "" {
		return ErrEmptyMessage
	}
	return nil
}

func (m Message) TextValue() string             { return deref(m.Text) }
func (m Message) ImageURLValue() string         { return deref(m.ImageURL) }
func (m Message) ImageDescriptionValue() string { return deref(m.ImageDescription) }

func (m Message) HasImage() bool { return m.ImageURLValue() != "" }

// Role maps the is_user flag onto the conversation role.
func (m Message) Role() string {
	if m.IsUser {
		return RoleUser
	}
	return RoleAssistant
}

// Turn is a message projected into the shape the agent consumes.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// OptionalString returns nil for blank input so that empty strings are stored as NULL.
func OptionalString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
