// Package pipeline runs webhook deliveries through normalization, the agent
// and the reply dispatcher.
package pipeline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"hkbot/internal/domain"
	"hkbot/internal/whatsapp"
)

var (
	ErrInvalidEnvelope = errors.New("invalid webhook envelope")
	// ErrNoMessages marks a well-formed delivery that carries no messages,
	// such as a status update.
	ErrNoMessages = fmt.Errorf("%w: no messages", ErrInvalidEnvelope)
)

// Inbound is one message of a delivery with the business it was sent to.
type Inbound struct {
	BusinessID string
	Message    domain.InboundMessage
}

// Key identifies the chat the message belongs to.
func (in Inbound) Key() string {
	return in.BusinessID + ":" + in.Message.UserID()
}

type Delivery struct {
	Messages []Inbound
}

// ValidateDelivery checks the envelope shape and flattens every message in
// it. The business id comes from the change metadata, falling back to
// defaultBusinessID.
func ValidateDelivery(p *whatsapp.Payload, defaultBusinessID string) (*Delivery, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidEnvelope)
	}
	if p.Object != whatsapp.ObjectBusinessAccount {
		return nil, fmt.Errorf("%w: object %q", ErrInvalidEnvelope, p.Object)
	}
	if len(p.Entry) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrInvalidEnvelope)
	}

	d := &Delivery{}
	for _, e := range p.Entry {
		for _, c := range e.Changes {
			biz := c.Value.Metadata.PhoneNumberID
			if biz == "" {
				biz = defaultBusinessID
			}
			for _, m := range c.Value.Messages {
				d.Messages = append(d.Messages, Inbound{
					BusinessID: biz,
					Message:    toInbound(m, c.Value.Contacts),
				})
			}
		}
	}
	if len(d.Messages) == 0 {
		return nil, ErrNoMessages
	}
	return d, nil
}

func toInbound(m whatsapp.Message, contacts []whatsapp.Contact) domain.InboundMessage {
	in := domain.InboundMessage{
		ID:   m.ID,
		Type: domain.MessageType(m.Type),
		From: m.From,
	}
	if c, ok := contactFor(m.From, contacts); ok {
		in.WaID = c.WaID
		in.SenderName = c.Profile.Name
	}
	if secs, err := strconv.ParseInt(strings.TrimSpace(m.Timestamp), 10, 64); err == nil {
		in.Timestamp = time.Unix(secs, 0).UTC()
	}

	switch in.Type {
	case domain.MessageText:
		if m.Text != nil {
			in.Text = m.Text.Body
		}
	case domain.MessageAudio:
		if m.Audio != nil {
			in.Media = &domain.MediaRef{ID: m.Audio.ID, MimeType: m.Audio.MimeType}
		}
	case domain.MessageImage:
		if m.Image != nil {
			in.Media = &domain.MediaRef{ID: m.Image.ID, MimeType: m.Image.MimeType, Caption: m.Image.Caption}
		}
	}
	return in
}

// contactFor prefers the contact whose wa_id matches the sender and falls
// back to the first one.
func contactFor(from string, contacts []whatsapp.Contact) (whatsapp.Contact, bool) {
	for _, c := range contacts {
		if c.WaID == from {
			return c, true
		}
	}
	if len(contacts) > 0 {
		return contacts[0], true
	}
	return whatsapp.Contact{}, false
}
