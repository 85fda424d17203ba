package domain

import (
	"context"
	"io"
	"time"
)

// Sender delivers outbound messages on the messaging platform.
type Sender interface {
	SendText(ctx context.Context, to, text string) error
	SendImage(ctx context.Context, to, imageURL, caption string) error
}

type Media struct {
	Data     []byte
	MimeType string
	SHA256   string
}

type MediaFetcher interface {
	FetchMedia(ctx context.Context, mediaID string) (*Media, error)
}

type Transcription struct {
	Text     string
	Language string
	Duration time.Duration
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (*Transcription, error)
}

// ObjectStore persists a blob and returns a URL the messaging platform can fetch.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}
