// Package media turns raw inbound messages into agent input.
package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"

	"hkbot/internal/domain"
)

// AudioFailedText replaces the transcript when audio cannot be turned into text.
const AudioFailedText = "[Audio transcription failed]"

// Attachment is an image kept on disk. PublicURL is empty when the upload
// to object storage did not succeed.
type Attachment struct {
	LocalPath string
	MimeType  string
	PublicURL string
}

// Normalized is the single text task derived from one inbound message.
type Normalized struct {
	Text        string
	Attachment  *Attachment
	Description string
	// RunAgent is false for input that is stored but not answered, such as
	// an image sent without a caption.
	RunAgent bool
}

// Config holds the collaborators of a Normalizer. Transcriber and Objects
// are optional.
type Config struct {
	Fetcher      domain.MediaFetcher
	Transcriber  domain.Transcriber
	Objects      domain.ObjectStore
	DownloadDir  string
	MaxDimension int
	Now          func() time.Time
	Logger       *slog.Logger
}

type Normalizer struct {
	fetcher     domain.MediaFetcher
	transcriber domain.Transcriber
	objects     domain.ObjectStore
	dir         string
	maxDim      int
	now         func() time.Time
	logger      *slog.Logger
}

// New creates a Normalizer that writes downloads under cfg.DownloadDir.
func New(cfg Config) *Normalizer {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = os.TempDir()
	}
	return &Normalizer{
		fetcher:     cfg.Fetcher,
		transcriber: cfg.Transcriber,
		objects:     cfg.Objects,
		dir:         cfg.DownloadDir,
		maxDim:      cfg.MaxDimension,
		now:         cfg.Now,
		logger:      cfg.Logger,
	}
}

// Normalize returns nil when the message should be dropped. Audio problems
// never fail the call; image download problems drop the message.
func (n *Normalizer) Normalize(ctx context.Context, in domain.InboundMessage) (*Normalized, error) {
	switch in.Type {
	case domain.MessageText:
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return nil, nil
		}
		return &Normalized{Text: text, RunAgent: true}, nil
	case domain.MessageAudio:
		return &Normalized{Text: n.transcribe(ctx, in), RunAgent: true}, nil
	case domain.MessageImage:
		return n.image(ctx, in)
	default:
		n.logger.Info("unsupported message type dropped", "type", in.Type, "id", in.ID)
		return nil, nil
	}
}

func (n *Normalizer) transcribe(ctx context.Context, in domain.InboundMessage) string {
	if in.Media == nil || in.Media.ID == "" {
		n.logger.Warn("audio message without media id", "id", in.ID)
		return AudioFailedText
	}
	if n.transcriber == nil {
		n.logger.Warn("no transcriber configured", "id", in.ID)
		return AudioFailedText
	}
	media, err := n.fetcher.FetchMedia(ctx, in.Media.ID)
	if err != nil {
		n.logger.Warn("audio download failed", "media", in.Media.ID, "err", err)
		return AudioFailedText
	}

	name := fmt.Sprintf("audio_%s_%d%s", in.Media.ID, n.now().UnixMilli(), extension(firstNonEmpty(media.MimeType, in.Media.MimeType), ".ogg"))
	path := filepath.Join(n.dir, name)
	if err := n.write(path, media.Data); err != nil {
		n.logger.Warn("audio save failed", "path", path, "err", err)
		return AudioFailedText
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			n.logger.Debug("audio cleanup failed", "path", path, "err", err)
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		n.logger.Warn("audio open failed", "path", path, "err", err)
		return AudioFailedText
	}
	defer f.Close()

	tr, err := n.transcriber.Transcribe(ctx, f, name)
	if err != nil {
		n.logger.Warn("audio transcription failed", "media", in.Media.ID, "err", err)
		return AudioFailedText
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return AudioFailedText
	}
	n.logger.Info("audio transcribed", "media", in.Media.ID, "chars", len(text), "lang", tr.Language)
	return text
}

func (n *Normalizer) image(ctx context.Context, in domain.InboundMessage) (*Normalized, error) {
	if in.Media == nil || in.Media.ID == "" {
		n.logger.Warn("image message without media id", "id", in.ID)
		return nil, nil
	}
	media, err := n.fetcher.FetchMedia(ctx, in.Media.ID)
	if err != nil {
		n.logger.Warn("image download failed", "media", in.Media.ID, "err", err)
		return nil, nil
	}

	mime := firstNonEmpty(media.MimeType, in.Media.MimeType, "image/jpeg")
	ext := extension(mime, ".jpg")
	data := n.downscale(media.Data, ext)

	name := fmt.Sprintf("image_%s_%d%s", in.Media.ID, n.now().UnixMilli(), ext)
	path := filepath.Join(n.dir, name)
	if err := n.write(path, data); err != nil {
		n.logger.Warn("image save failed", "path", path, "err", err)
		return nil, nil
	}

	att := &Attachment{LocalPath: path, MimeType: mime}
	if n.objects == nil {
		n.logger.Warn("no object storage, image has no public url", "path", path)
	} else if url, err := n.objects.Put(ctx, "images/"+name, data, mime); err != nil {
		n.logger.Warn("image upload failed, image has no public url", "path", path, "err", err)
	} else {
		att.PublicURL = url
	}

	caption := strings.TrimSpace(in.Media.Caption)
	n.logger.Info("image stored", "media", in.Media.ID, "size", humanize.Bytes(uint64(len(data))), "caption", caption != "")
	return &Normalized{
		Text:        caption,
		Attachment:  att,
		Description: caption,
		RunAgent:    caption != "",
	}, nil
}

// downscale fits the image inside maxDim; the original bytes are kept when
// the image is small enough or cannot be decoded.
func (n *Normalizer) downscale(data []byte, ext string) []byte {
	if n.maxDim <= 0 {
		return data
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		n.logger.Debug("image decode failed, keeping original", "err", err)
		return data
	}
	b := img.Bounds()
	if b.Dx() <= n.maxDim && b.Dy() <= n.maxDim {
		return data
	}
	format, err := imaging.FormatFromExtension(ext)
	if err != nil {
		format = imaging.JPEG
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.Fit(img, n.maxDim, n.maxDim, imaging.Lanczos), format); err != nil {
		n.logger.Debug("image encode failed, keeping original", "err", err)
		return data
	}
	n.logger.Debug("image downscaled", "from", fmt.Sprintf("%dx%d", b.Dx(), b.Dy()),
		"before", humanize.Bytes(uint64(len(data))), "after", humanize.Bytes(uint64(buf.Len())))
	return buf.Bytes()
}

func (n *Normalizer) write(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"audio/ogg":  ".ogg",
	"audio/mpeg": ".mp3",
	"audio/mp4":  ".m4a",
	"audio/aac":  ".aac",
	"audio/amr":  ".amr",
	"audio/wav":  ".wav",
}

// extension maps a MIME type, parameters ignored, to a file extension.
func extension(mime, fallback string) string {
	base, _, _ := strings.Cut(mime, ";")
	if ext, ok := extensions[strings.TrimSpace(strings.ToLower(base))]; ok {
		return ext
	}
	return fallback
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
