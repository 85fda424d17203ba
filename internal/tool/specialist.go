package tool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"hkbot/internal/domain"
)

// ImageSelector picks the images from the current conversation that belong
// with an outgoing message.
type ImageSelector interface {
	Select(ctx context.Context, conv Conversation, message string) ([]domain.Message, error)
}

// SendToSpecialistTool forwards a message, and optionally the requester's
// recent photos, to a specialist.
type SendToSpecialistTool struct {
	sender domain.Sender
	images ImageSelector
	logger *slog.Logger
}

func NewSendToSpecialistTool(sender domain.Sender, images ImageSelector, logger *slog.Logger) *SendToSpecialistTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &SendToSpecialistTool{sender: sender, images: images, logger: logger}
}

func (t *SendToSpecialistTool) Name() string { return "send_message_to_specialist" }

func (t *SendToSpecialistTool) Description() string {
	return "Send a WhatsApp message to a specialist. Set include_recent_images to forward the " +
		"photos the requester sent that show the problem."
}

func (t *SendToSpecialistTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"phone_number":          {Type: "string", Description: "Specialist phone number, digits with country code"},
		"message":               {Type: "string", Description: "Text to send"},
		"include_recent_images": {Type: "boolean", Description: "Also forward relevant recent photos from this conversation"},
	}, []string{"phone_number", "message"})
}

func (t *SendToSpecialistTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	phone := domain.NormalizePhone(ArgsString(args, "phone_number"))
	message := strings.TrimSpace(ArgsString(args, "message"))
	if phone == "" || message == "" {
		return Fail("phone_number and message are required", "Provide both the phone number and the message", nil).String(), nil
	}
	withImages, err := ArgsBool(args, "include_recent_images")
	if err != nil {
		return Fail(err.Error(), "include_recent_images must be true or false", nil).String(), nil
	}

	if err := t.sender.SendText(ctx, phone, message); err != nil {
		t.logger.Warn("send to specialist failed", "to", phone, "err", err)
		return Fail(err.Error(), fmt.Sprintf("Failed to send message to %s", phone), nil).String(), nil
	}

	sent := 0
	if withImages != nil && *withImages && t.images != nil {
		sent = t.forwardImages(ctx, phone, message)
	}
	return OK(fmt.Sprintf("Message sent to %s", phone), map[string]any{"images_sent": sent}).String(), nil
}

// forwardImages sends the selected images; failures are logged and skipped.
func (t *SendToSpecialistTool) forwardImages(ctx context.Context, phone, message string) int {
	conv, ok := ConversationFromContext(ctx)
	if !ok {
		t.logger.Warn("no conversation in context, images not forwarded")
		return 0
	}
	imgs, err := t.images.Select(ctx, conv, message)
	if err != nil {
		t.logger.Warn("image selection failed", "err", err)
		return 0
	}

	sent := 0
	for _, img := range imgs {
		link := img.ImageURLValue()
		if !strings.HasPrefix(link, "https://") && !strings.HasPrefix(link, "http://") {
			t.logger.Warn("image has no public url, not forwarded", "image", img.ID)
			continue
		}
		if err := t.sender.SendImage(ctx, phone, link, img.TextValue()); err != nil {
			t.logger.Warn("forward image failed", "to", phone, "image", img.ID, "err", err)
			continue
		}
		sent++
	}
	return sent
}
