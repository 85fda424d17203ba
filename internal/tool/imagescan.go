package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"hkbot/internal/domain"
)

// ImageSource returns the requester's recent image messages, newest first.
type ImageSource interface {
	RecentImages(ctx context.Context, businessID, userID string, limit int) ([]domain.Message, error)
}

type ImageScannerConfig struct {
	Images   ImageSource
	Provider domain.Provider // nil forwards every candidate
	Model    string
	Limit    int
	Logger   *slog.Logger
}

// ImageScanner asks the model which recent images relate to a message.
// Selection is best effort: when the model cannot be asked or answers
// garbage, every candidate is returned.
type ImageScanner struct {
	images   ImageSource
	provider domain.Provider
	model    string
	limit    int
	logger   *slog.Logger
}

func NewImageScanner(cfg ImageScannerConfig) *ImageScanner {
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ImageScanner{
		images:   cfg.Images,
		provider: cfg.Provider,
		model:    cfg.Model,
		limit:    cfg.Limit,
		logger:   cfg.Logger,
	}
}

const imageSelectPrompt = `You decide which photos from a maintenance chat belong with a message sent to a technician.
Answer with JSON only: {"images": [<numbers of the relevant photos>]}. Use an empty list when none apply.`

type imageSelection struct {
	Images []int `json:"images"`
}

func (s *ImageScanner) Select(ctx context.Context, conv Conversation, message string) ([]domain.Message, error) {
	candidates, err := s.images.RecentImages(ctx, conv.BusinessID, conv.UserID, s.limit)
	if err != nil {
		return nil, fmt.Errorf("recent images: %w", err)
	}
	if len(candidates) == 0 || s.provider == nil {
		return candidates, nil
	}

	var list strings.Builder
	for i, img := range candidates {
		fmt.Fprintf(&list, "%d. sent %s", i+1, img.CreatedAt.Format("2006-01-02 15:04"))
		if c := img.TextValue(); c != "" {
			fmt.Fprintf(&list, ", caption: %q", c)
		}
		if d := img.ImageDescriptionValue(); d != "" {
			fmt.Fprintf(&list, ", description: %q", d)
		}
		list.WriteString("\n")
	}

	resp, err := s.provider.Chat(ctx, domain.ChatRequest{
		Model:      s.model,
		JSONOutput: true,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: imageSelectPrompt},
			{Role: domain.RoleUser, Content: fmt.Sprintf("Message: %s\n\nPhotos:\n%s", message, list.String())},
		},
	})
	if err != nil {
		s.logger.Warn("image selection call failed, forwarding all candidates", "err", err)
		return candidates, nil
	}

	var sel imageSelection
	if err := json.Unmarshal([]byte(resp.Content), &sel); err != nil {
		s.logger.Warn("image selection answer not understood, forwarding all candidates", "err", err)
		return candidates, nil
	}

	picked := make([]domain.Message, 0, len(sel.Images))
	seen := make(map[int]bool, len(sel.Images))
	for _, n := range sel.Images {
		if n < 1 || n > len(candidates) || seen[n] {
			continue
		}
		seen[n] = true
		picked = append(picked, candidates[n-1])
	}
	s.logger.Debug("images selected", "candidates", len(candidates), "picked", len(picked))
	return picked, nil
}
