package pipeline

import (
	"context"
	"log/slog"

	"hkbot/internal/domain"
	"hkbot/internal/metrics"
)

// Appender persists a message into the chat of a (business, user) pair.
type Appender interface {
	Append(ctx context.Context, businessID, userID string, msg domain.Message) (*domain.Message, error)
}

type DispatcherConfig struct {
	Sender        domain.Sender
	History       Appender
	FallbackReply string
	Metrics       *metrics.Pipeline
	Logger        *slog.Logger
}

// Dispatcher sends replies and records them in the chat history.
type Dispatcher struct {
	sender   domain.Sender
	history  Appender
	fallback string
	metrics  *metrics.Pipeline
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher with a default logger when none is set.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		sender:   cfg.Sender,
		history:  cfg.History,
		fallback: cfg.FallbackReply,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
}

// Deliver sends text to senderPhone and stores it as an assistant message
// whether or not the send succeeded. It reports the send result; failed
// sends are not retried.
func (d *Dispatcher) Deliver(ctx context.Context, senderPhone, senderUserID, businessID, text string) bool {
	sent := true
	if err := d.sender.SendText(ctx, senderPhone, text); err != nil {
		sent = false
		d.logger.Error("reply send failed", "to", senderPhone, "err", err)
	}
	d.metrics.Send("reply", sent)

	if _, err := d.history.Append(ctx, businessID, senderUserID, domain.Message{
		Text:   &text,
		IsUser: false,
	}); err != nil {
		d.logger.Error("reply persist failed", "user", senderUserID, "err", err)
	}
	if sent {
		d.logger.Info("reply sent", "to", senderPhone, "chars", len(text))
	}
	return sent
}

// DeliverFallback delivers the fixed error reply.
func (d *Dispatcher) DeliverFallback(ctx context.Context, senderPhone, senderUserID, businessID string) bool {
	return d.Deliver(ctx, senderPhone, senderUserID, businessID, d.fallback)
}
