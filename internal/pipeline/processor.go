package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"hkbot/internal/agent"
	"hkbot/internal/domain"
	"hkbot/internal/media"
	"hkbot/internal/metrics"
	"hkbot/internal/tracing"
)

// Normalizer turns a raw inbound message into agent input.
type Normalizer interface {
	Normalize(ctx context.Context, in domain.InboundMessage) (*media.Normalized, error)
}

// ProcessorConfig wires the stages of the per-message pipeline.
type ProcessorConfig struct {
	Dedup        domain.DeliveryLog // optional
	Normalizer   Normalizer
	History      Appender
	Orchestrator *agent.Orchestrator
	Dispatcher   *Dispatcher
	Metrics      *metrics.Pipeline
	Logger       *slog.Logger
}

// Processor handles webhook deliveries message by message.
type Processor struct {
	dedup      domain.DeliveryLog
	normalizer Normalizer
	history    Appender
	orch       *agent.Orchestrator
	dispatcher *Dispatcher
	metrics    *metrics.Pipeline
	logger     *slog.Logger
}

// NewProcessor creates a Processor. Dedup and Metrics may be nil.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Processor{
		dedup:      cfg.Dedup,
		normalizer: cfg.Normalizer,
		history:    cfg.History,
		orch:       cfg.Orchestrator,
		dispatcher: cfg.Dispatcher,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
}

// ProcessDelivery handles the messages of d in order. A failing message is
// logged and does not stop the ones after it.
func (p *Processor) ProcessDelivery(ctx context.Context, d *Delivery) {
	ctx, span := tracing.Tracer().Start(ctx, "pipeline.delivery")
	defer span.End()
	span.SetAttributes(attribute.Int("messages", len(d.Messages)))

	for _, in := range d.Messages {
		if err := p.ProcessMessage(ctx, in); err != nil {
			p.logger.Error("message processing failed", "id", in.Message.ID, "err", err)
		}
	}
}

// ProcessMessage runs one message through normalize, history, agent and
// reply. Every message that reaches the agent gets exactly one reply, the
// fallback when the agent fails.
func (p *Processor) ProcessMessage(ctx context.Context, in Inbound) error {
	msg := in.Message
	ctx, span := tracing.Tracer().Start(ctx, "pipeline.message")
	defer span.End()
	span.SetAttributes(attribute.String("type", string(msg.Type)), attribute.String("id", msg.ID))

	if p.dedup != nil && msg.ID != "" {
		first, err := p.dedup.MarkProcessed(ctx, msg.ID)
		switch {
		case err != nil:
			p.logger.Warn("dedup check failed, processing anyway", "id", msg.ID, "err", err)
		case !first:
			p.logger.Info("duplicate message skipped", "id", msg.ID)
			p.metrics.Duplicate()
			return nil
		}
	}

	p.logger.Info("processing message", "id", msg.ID, "from", msg.From, "type", msg.Type)
	norm, err := p.normalizer.Normalize(ctx, msg)
	if err != nil {
		p.metrics.Message(string(msg.Type), "error")
		tracing.Fail(span, err)
		return fmt.Errorf("normalize %s: %w", msg.ID, err)
	}
	if norm == nil {
		p.metrics.Message(string(msg.Type), "skipped")
		return nil
	}

	userID := msg.UserID()
	var run *agent.Run
	if norm.RunAgent {
		run = p.orch.Begin(ctx, agent.Request{
			BusinessID:  in.BusinessID,
			UserID:      userID,
			SenderPhone: msg.From,
			SenderName:  msg.SenderName,
			Input:       norm.Text,
			Received:    received(msg),
		})
	}

	stored := domain.Message{Text: domain.OptionalString(norm.Text), IsUser: true}
	if norm.Attachment != nil {
		stored.ImageURL = domain.OptionalString(norm.Attachment.PublicURL)
		stored.ImageDescription = domain.OptionalString(norm.Description)
	}
	if _, err := p.history.Append(ctx, in.BusinessID, userID, stored); err != nil {
		p.logger.Error("inbound persist failed", "id", msg.ID, "err", err)
	}

	if run == nil {
		p.metrics.Message(string(msg.Type), "stored")
		return nil
	}

	out := run.Execute(ctx)
	if out.Completed() {
		p.dispatcher.Deliver(ctx, msg.From, userID, in.BusinessID, out.FinalOutput)
		p.metrics.Message(string(msg.Type), "answered")
		return nil
	}
	tracing.Fail(span, out.Err)
	p.dispatcher.DeliverFallback(ctx, msg.From, userID, in.BusinessID)
	p.metrics.Message(string(msg.Type), "fallback")
	return nil
}

func received(m domain.InboundMessage) time.Time {
	if m.Timestamp.IsZero() {
		return time.Now()
	}
	return m.Timestamp
}
