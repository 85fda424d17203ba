package domain

import "time"

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageAudio MessageType = "audio"
	MessageImage MessageType = "image"
)

// InboundMessage is a single webhook message after envelope validation.
type InboundMessage struct {
	ID         string      `json:"id"`
	Type       MessageType `json:"type"`
	From       string      `json:"from"`
	WaID       string      `json:"wa_id"`
	SenderName string      `json:"sender_name"`
	Timestamp  time.Time   `json:"timestamp"`
	Text       string      `json:"text,omitempty"`
	Media      *MediaRef   `json:"media,omitempty"`
}

// MediaRef points at an attachment hosted by the messaging platform.
type MediaRef struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// UserID is the stable sender identity; falls back to the phone number when
// the contact block carries no wa_id.
func (m InboundMessage) UserID() string {
	if m.WaID != "" {
		return m.WaID
	}
	return m.From
}
