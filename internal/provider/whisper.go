package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"hkbot/internal/domain"
)

type WhisperConfig struct {
	APIBase    string // OpenAI-compatible base, e.g. "https://api.openai.com/v1"
	APIKey     string
	Model      string // e.g. "whisper-1"
	Language   string // optional ISO-639-1 hint
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Whisper implements domain.Transcriber over the audio/transcriptions endpoint.
type Whisper struct {
	apiBase  string
	apiKey   string
	model    string
	language string
	client   *http.Client
	retry    retryPolicy
	logger   *slog.Logger
}

func NewWhisper(cfg WhisperConfig) *Whisper {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(120 * time.Second)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Whisper{
		apiBase:  strings.TrimRight(cfg.APIBase, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		language: cfg.Language,
		client:   cfg.HTTPClient,
		retry:    defaultRetry,
		logger:   cfg.Logger,
	}
}

type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Transcribe uploads the audio as multipart form data. filename must carry
// the extension, the API infers the codec from it.
func (w *Whisper) Transcribe(ctx context.Context, audio io.Reader, filename string) (*domain.Transcription, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}
	form.WriteField("model", w.model)
	form.WriteField("response_format", "json")
	if w.language != "" {
		form.WriteField("language", w.language)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}
	payload := body.Bytes()

	resp, err := doWithRetry(ctx, w.client, w.retry, func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, w.apiBase+"/audio/transcriptions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", form.FormDataContentType())
		r.Header.Set("Authorization", "Bearer "+w.apiKey)
		return r, nil
	}, w.logger)
	if err != nil {
		return nil, fmt.Errorf("whisper API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("whisper API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode whisper response: %w", err)
	}

	w.logger.Info("transcription complete",
		"text_len", len(result.Text),
		"language", result.Language,
	)
	return &domain.Transcription{
		Text:     strings.TrimSpace(result.Text),
		Language: result.Language,
		Duration: time.Duration(result.Duration * float64(time.Second)),
	}, nil
}
